// Command credb-server runs one enclave instance: it serves the attested
// client protocol on the client port, forwards commits to downstream peers
// on the peer port, and exposes Prometheus metrics over HTTP, grounded on
// the teacher's cmd/warren/main.go cobra-root-plus-subcommands layout.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kaimast/credb/internal/buffer"
	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/config"
	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/ioenc"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/logx"
	"github.com/kaimast/credb/internal/metrics"
	"github.com/kaimast/credb/internal/replication"
	"github.com/kaimast/credb/internal/session"
	"github.com/kaimast/credb/internal/store"
	"github.com/kaimast/credb/internal/trigger"
	"github.com/kaimast/credb/internal/txn"
	"github.com/kaimast/credb/pkg/api"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "credb-server",
	Short: "credb-server runs one credb enclave instance",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides config")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics HTTP endpoint")
	serveCmd.Flags().String("passphrase", "", "Passphrase sealing the on-disk page key (CREDB_PASSPHRASE overrides)")
	serveCmd.Flags().Bool("unsafe", false, "Skip session encryption (TLS-free unsafe mode, for local testing only)")
	rootCmd.AddCommand(serveCmd)

	keygenCmd.Flags().String("data-dir", "", "Where to write identity.pem (defaults to the config's data_dir)")
	rootCmd.AddCommand(keygenCmd)
}

var loadedConfig config.Config

func initLogging() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg = config.ApplyEnv(cfg)
	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if json, _ := rootCmd.PersistentFlags().GetBool("log-json"); json {
		cfg.LogJSON = true
	}
	loadedConfig = cfg

	logx.Init(logx.Config{Level: logx.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate this enclave's signing identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if dataDir == "" {
			dataDir = loadedConfig.DataDir
		}
		path := filepath.Join(dataDir, "identity.pem")
		if cryptoutil.IdentityExists(path) {
			return fmt.Errorf("identity already exists at %s", path)
		}

		id, err := cryptoutil.GenerateIdentity()
		if err != nil {
			return fmt.Errorf("failed to generate identity: %w", err)
		}
		if err := cryptoutil.SaveIdentityFile(path, id); err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		pubPath := filepath.Join(dataDir, "identity.pub")
		if err := cryptoutil.SavePublicKeyFile(pubPath, id.PublicKey()); err != nil {
			return fmt.Errorf("failed to save public key: %w", err)
		}
		fmt.Printf("Wrote identity to %s\n", path)
		fmt.Printf("Wrote public key to %s (distribute this to witness verifiers)\n", pubPath)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enclave's client and peer listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadedConfig
		passphrase, _ := cmd.Flags().GetString("passphrase")
		if v := os.Getenv("CREDB_PASSPHRASE"); v != "" {
			passphrase = v
		}
		if unsafe, _ := cmd.Flags().GetBool("unsafe"); unsafe {
			cfg.Unsafe = true
		}

		s, engine, identity, managers, err := openEnclave(cfg, passphrase)
		if err != nil {
			return err
		}

		cat, err := catalog.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		defer cat.Close()

		if err := rebuildIndexes(s, cat); err != nil {
			return err
		}
		for _, p := range cfg.Peers {
			if err := cat.PutPeer(catalog.Peer{ID: p.ID, Address: p.Address, Downstream: true}); err != nil {
				return fmt.Errorf("failed to register configured peer %s: %w", p.ID, err)
			}
		}

		triggers := trigger.NewRegistry()
		stats := metrics.NewStats(cfg.Shards)
		forwarder := replication.NewForwarder(cat, peerDialer(identity, cfg.ServerName, cfg.Unsafe))
		defer forwarder.Close()

		h := session.NewHandler(s, engine, triggers)
		h.Catalog = cat
		h.Stats = stats
		h.Replication = forwarder

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go serveMetrics(metricsAddr, s, cat)

		clientLis, err := net.Listen("tcp", cfg.ClientAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on client address %s: %w", cfg.ClientAddr, err)
		}
		defer clientLis.Close()

		peerLis, err := net.Listen("tcp", cfg.PeerAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on peer address %s: %w", cfg.PeerAddr, err)
		}
		defer peerLis.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go acceptClients(ctx, clientLis, identity, cfg.ServerName, cfg.Unsafe, h)
		go acceptPeers(ctx, peerLis, identity, cfg.ServerName, cfg.Unsafe)
		go watchBufferUsage(ctx, stats, managers)

		logx.Logger.Info().
			Str("client_addr", cfg.ClientAddr).
			Str("peer_addr", cfg.PeerAddr).
			Str("metrics_addr", metricsAddr).
			Bool("unsafe", cfg.Unsafe).
			Msg("credb-server listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logx.Info("shutting down")
		return nil
	},
}

// openEnclave derives the on-disk page key, opens the block store, replays
// each shard's log to rebuild its in-memory version chains, and loads (or
// refuses to run without) the enclave's signing identity. It returns the
// per-shard buffer managers alongside the store so the caller can publish
// their combined resident-byte usage to metrics.
func openEnclave(cfg config.Config, passphrase string) (*store.Store, *txn.Engine, *cryptoutil.Identity, []*buffer.Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	saltPath := filepath.Join(cfg.DataDir, "salt")
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt, err = cryptoutil.NewSalt()
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to generate disk key salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to persist disk key salt: %w", err)
		}
	} else if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to read disk key salt: %w", err)
	}
	diskKey := cryptoutil.DeriveDiskKey(passphrase, salt)

	// Each shard gets its own page-number space under its own subdirectory.
	// Sharing one ioenc.IO (and therefore one page-number space) across
	// shards would make two shards' buffer managers allocate the same
	// "N.page" filename independently and stomp on each other.
	pagesDir := filepath.Join(cfg.DataDir, "pages")
	managers := make([]*buffer.Manager, cfg.Shards)
	for i := uint32(0); i < cfg.Shards; i++ {
		shardDir := filepath.Join(pagesDir, fmt.Sprintf("shard-%d", i))
		shardIO, err := ioenc.NewLocalIO(shardDir, diskKey)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to open page storage for shard %d: %w", i, err)
		}
		managers[i] = buffer.NewManager(shardIO, ledger.BlockCodec{}, buffer.NewLRU(), cfg.BufferBudgetBytes)
	}

	s := store.NewStore(cfg.Shards, func(shardID uint32) *ledger.Log {
		// buffer.NewManager above already resumed page numbering past
		// whatever shardDir held on disk; NewLog resumes block numbering
		// and the blockPages index to match.
		return ledger.NewLog(shardID, managers[shardID], 0)
	})
	if err := s.Replay(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to replay log: %w", err)
	}

	identityPath := filepath.Join(cfg.DataDir, "identity.pem")
	if !cryptoutil.IdentityExists(identityPath) {
		return nil, nil, nil, nil, fmt.Errorf("no identity at %s; run 'credb-server keygen' first", identityPath)
	}
	identity, err := cryptoutil.LoadIdentityFile(identityPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load identity: %w", err)
	}

	engine := txn.NewEngine(s, identity.Private)
	return s, engine, identity, managers, nil
}

// watchBufferUsage periodically sums resident bytes across every shard's
// buffer manager and publishes the total to stats, keeping the
// credb_resident_page_bytes gauge and GetStatistics's ResidentPageBytes
// field live instead of permanently zero.
func watchBufferUsage(ctx context.Context, stats *metrics.Stats, managers []*buffer.Manager) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	report := func() {
		var total int64
		for _, mgr := range managers {
			total += mgr.ResidentBytes()
		}
		stats.SetResidentPageBytes(uint64(total))
	}

	report()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report()
		}
	}
}

// rebuildIndexes recreates every secondary index the catalog remembers, so
// a restart doesn't silently drop index-accelerated Find/Count calls.
func rebuildIndexes(s *store.Store, cat *catalog.Catalog) error {
	entries, err := cat.ListIndexes()
	if err != nil {
		return fmt.Errorf("failed to list persisted indexes: %w", err)
	}
	for _, e := range entries {
		if err := s.CreateIndex(store.CollectionName(e.Collection), e.Paths); err != nil {
			return fmt.Errorf("failed to rebuild index on %s: %w", e.Collection, err)
		}
	}
	return nil
}

// serveMetrics runs the admin HTTP server: Prometheus metrics alongside the
// /health and /ready endpoints a cluster orchestrator polls.
func serveMetrics(addr string, s *store.Store, cat *catalog.Catalog) {
	health := api.NewHealthServer(s, cat)
	mux := health.GetHandler().(*http.ServeMux)
	mux.Handle("/metrics", metrics.Handler())

	logx.Logger.Info().Str("addr", addr).Msg("admin endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Errorf("admin server stopped", err)
	}
}

func acceptClients(ctx context.Context, lis net.Listener, identity *cryptoutil.Identity, serverName string, unsafe bool, h *session.Handler) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Errorf("client accept failed", err)
			continue
		}
		go func() {
			c := session.NewConn(conn, unsafe)
			if err := session.ServerHandshake(c, identity, 1, serverName); err != nil {
				logx.Errorf("client handshake failed", err)
				return
			}
			if err := session.Serve(ctx, c, h); err != nil {
				logx.Logger.Debug().Err(err).Msg("client session ended")
			}
		}()
	}
}

// acceptPeers accepts upstream connections from other enclaves that have
// registered us as one of their downstream peers and drains (but does not
// yet apply) the Replicate batches they send; applying a remote entry into
// a local shard without re-deriving its own sequence number is future work.
func acceptPeers(ctx context.Context, lis net.Listener, identity *cryptoutil.Identity, serverName string, unsafe bool) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Errorf("peer accept failed", err)
			continue
		}
		go func() {
			c := session.NewConn(conn, unsafe)
			if err := session.ServerHandshake(c, identity, 1, serverName); err != nil {
				logx.Errorf("peer handshake failed", err)
				return
			}
			link := session.NewPeerLink(c)
			defer link.Close()
			for {
				entries, err := link.Recv()
				if err != nil {
					return
				}
				logx.Logger.Debug().Int("entries", len(entries)).Msg("received replication batch")
			}
		}()
	}
}

// peerDialer builds the replication.Dialer that opens an attested
// PeerLink to a downstream replica's peer port.
func peerDialer(identity *cryptoutil.Identity, serverName string, unsafe bool) replication.Dialer {
	return func(address string) (replication.Sender, error) {
		conn, err := net.Dial("tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to dial peer %s: %w", address, err)
		}
		c := session.NewConn(conn, unsafe)
		if err := session.ClientHandshake(c, identity, serverName, serverName); err != nil {
			return nil, fmt.Errorf("handshake with peer %s failed: %w", address, err)
		}
		return &peerSender{link: session.NewPeerLink(c)}, nil
	}
}

// peerSender adapts a session.PeerLink to replication.Sender; ctx isn't
// honored since PeerLink.Send is a single synchronous write, not an
// operation awaiting a correlated response.
type peerSender struct {
	link *session.PeerLink
}

func (p *peerSender) Send(_ context.Context, entries []ledger.Entry) error {
	return p.link.Send(entries)
}

func (p *peerSender) Close() error {
	return p.link.Close()
}
