// Command credb is an interactive/scriptable CLI over the client SDK,
// grounded on the teacher's cmd/warren per-resource subcommand style
// (create/list/inspect/delete) with a persistent --server connection flag.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/txn"
	"github.com/kaimast/credb/pkg/client"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "credb",
	Short: "credb is a command-line client for a credb enclave",
}

func init() {
	rootCmd.PersistentFlags().String("server", "127.0.0.1:5042", "Address of the credb client port")
	rootCmd.PersistentFlags().String("server-name", "credb", "Server name expected during the attested handshake")
	rootCmd.PersistentFlags().String("client-name", "credb-cli", "Client name presented during the attested handshake")
	rootCmd.PersistentFlags().Uint32("task", 0, "Transaction task id (0 starts an implicit single-op transaction)")
	rootCmd.PersistentFlags().Bool("unsafe", false, "Connect without session encryption; must match the server's own unsafe setting")

	rootCmd.AddCommand(putCmd, getCmd, findCmd, historyCmd, commitCmd, peersCmd, statsCmd)
}

func connect(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	serverName, _ := cmd.Flags().GetString("server-name")
	clientName, _ := cmd.Flags().GetString("client-name")

	unsafe, _ := cmd.Flags().GetBool("unsafe")

	id, err := cryptoutil.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session identity: %w", err)
	}
	return client.DialUnsafe(addr, id, clientName, serverName, unsafe)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

var putCmd = &cobra.Command{
	Use:   "put COLLECTION KEY DOCUMENT_JSON",
	Short: "Insert or overwrite a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var doc map[string]any
		if err := json.Unmarshal([]byte(args[2]), &doc); err != nil {
			return fmt.Errorf("failed to parse document JSON: %w", err)
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		taskID, _ := cmd.Flags().GetUint32("task")
		key, err := c.Put(taskID, args[0], args[1], doc, txn.ReadCommitted)
		if err != nil {
			return err
		}
		if taskID == 0 {
			if _, err := c.CommitTransaction(taskID, false); err != nil {
				return err
			}
		}
		fmt.Printf("put %s/%s\n", args[0], key)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get COLLECTION KEY [PATH]",
	Short: "Read a document or a field within it",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 3 {
			path = args[2]
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		taskID, _ := cmd.Flags().GetUint32("task")
		doc, err := c.Get(taskID, args[0], args[1], path, txn.ReadCommitted)
		if err != nil {
			return err
		}
		return printJSON(doc)
	},
}

var findCmd = &cobra.Command{
	Use:   "find COLLECTION PREDICATE_JSON",
	Short: "Find documents matching a predicate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var predicate map[string]any
		if err := json.Unmarshal([]byte(args[1]), &predicate); err != nil {
			return fmt.Errorf("failed to parse predicate JSON: %w", err)
		}

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		taskID, _ := cmd.Flags().GetUint32("task")
		rows, err := c.Find(taskID, args[0], predicate, nil, -1, txn.ReadCommitted)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history COLLECTION KEY",
	Short: "Show every past value stored under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		history, err := c.History(args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(history)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the transaction identified by --task",
	RunE: func(cmd *cobra.Command, args []string) error {
		witness, _ := cmd.Flags().GetBool("witness")
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		taskID, _ := cmd.Flags().GetUint32("task")
		result, err := c.CommitTransaction(taskID, witness)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("commit rejected: %s", result.Error)
		}
		fmt.Println("committed")
		if result.Witness != "" {
			fmt.Println(result.Witness)
		}
		return nil
	},
}

func init() {
	commitCmd.Flags().Bool("witness", false, "Assemble and print a signed witness over the commit")
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the server's downstream/upstream peer catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		peers, err := c.ListPeers()
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Println("No peers registered")
			return nil
		}
		fmt.Printf("%-20s %-25s %s\n", "ID", "ADDRESS", "DOWNSTREAM")
		fmt.Println(strings.Repeat("-", 60))
		for _, p := range peers {
			fmt.Printf("%-20s %-25s %v\n", p.ID, p.Address, p.Downstream)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the server's operational counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.GetStatistics()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}
