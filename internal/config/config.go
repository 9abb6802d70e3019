// Package config loads the server's startup configuration from a YAML
// file, with flags and environment variables able to override individual
// fields. Grounded on the teacher's use of gopkg.in/yaml.v3 for resource
// manifests (cmd/warren/apply.go) and its flat cobra-flags-with-defaults
// style for server parameters (cmd/warren/main.go), unified here into one
// loadable struct since a standalone enclave process has no cluster
// manager to hand it live configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Peer is one statically-configured downstream replica to dial at startup,
// in addition to whatever internal/catalog has persisted from prior Peer
// operations.
type Peer struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Config is the complete set of parameters a credb-server process needs
// to start: where its state lives, what it listens on, and how it logs.
type Config struct {
	DataDir           string `yaml:"data_dir"`
	ClientAddr        string `yaml:"client_addr"`
	PeerAddr          string `yaml:"peer_addr"`
	Shards            uint32 `yaml:"shards"`
	ServerName        string `yaml:"server_name"`
	GroupID           uint32 `yaml:"group_id"`
	LogLevel          string `yaml:"log_level"`
	LogJSON           bool   `yaml:"log_json"`
	BufferBudgetBytes int64  `yaml:"buffer_budget_bytes"`
	Unsafe            bool   `yaml:"unsafe"`
	Peers             []Peer `yaml:"peers"`
}

// DefaultBufferBudgetBytes is the per-shard resident-page byte budget B
// (spec §4.B) a fresh server starts with absent an explicit override.
const DefaultBufferBudgetBytes int64 = 64 << 20 // 64 MiB

// Default returns the configuration a fresh server starts with absent any
// file or flag overrides, matching spec.md §6's default ports.
func Default() Config {
	return Config{
		DataDir:           "./credb-data",
		ClientAddr:        ":5042",
		PeerAddr:          ":5043",
		Shards:            16,
		ServerName:        "credb",
		GroupID:           1,
		LogLevel:          "info",
		BufferBudgetBytes: DefaultBufferBudgetBytes,
		Unsafe:            false,
	}
}

// Load reads and parses a YAML config file, applying its fields on top of
// Default(). A missing path is not an error: the defaults, plus whatever
// the caller applies with ApplyEnv afterward, are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg's fields from CREDB_-prefixed environment
// variables, taking precedence over both the defaults and the config
// file, matching the corpus's convention of env vars as the last word over
// a static manifest.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("CREDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CREDB_CLIENT_ADDR"); v != "" {
		cfg.ClientAddr = v
	}
	if v := os.Getenv("CREDB_PEER_ADDR"); v != "" {
		cfg.PeerAddr = v
	}
	if v := os.Getenv("CREDB_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("CREDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CREDB_BUFFER_BUDGET_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BufferBudgetBytes = n
		}
	}
	if v := os.Getenv("CREDB_UNSAFE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Unsafe = b
		}
	}
	return cfg
}
