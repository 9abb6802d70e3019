// Command credb-witness verifies a signed witness offline, independent of
// any running enclave, per spec §4.D's design goal that a witness be
// checkable by a third party holding only the enclave's public key.
package main

import (
	"fmt"
	"os"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "credb-witness WITNESS_FILE PUBLIC_KEY_FILE",
	Short: "Verify a credb witness and print the events it covers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		armored, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read witness file: %w", err)
		}
		w, err := ledger.Parse(armored)
		if err != nil {
			return fmt.Errorf("failed to parse witness: %w", err)
		}

		pub, err := cryptoutil.LoadPublicKeyFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to load public key: %w", err)
		}

		if !ledger.Verify(pub, w) {
			return fmt.Errorf("witness signature does not verify under %s", args[1])
		}

		doc, err := w.Decode()
		if err != nil {
			return fmt.Errorf("failed to decode witness document: %w", err)
		}

		fmt.Println("signature OK")
		fmt.Printf("%-6s %-6s %-6s %-20s %-8s %s\n", "shard", "block", "index", "key", "version", "op")
		for _, op := range doc.Ops {
			fmt.Printf("%-6d %-6d %-6d %-20s %-8d %s\n", op.Shard, op.Block, op.Index, op.Key, op.Version, op.Op)
		}
		return nil
	},
}
