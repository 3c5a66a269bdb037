// Package config loads the YAML configuration for the vector-index lifecycle
// and snapshot subsystem, applying documented defaults for every field left
// unset in the file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS-specific configuration for the transport server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ServerConfig holds the gRPC transport server's listen configuration.
type ServerConfig struct {
	GRPCPort            int       `yaml:"grpc_port"`
	HealthCheckInterval string    `yaml:"health_check_interval"`
	TLS                 TLSConfig `yaml:"tls"`
}

// IndexConfig controls vector index build, rebuild and replay behavior.
type IndexConfig struct {
	// LoadConcurrency bounds how many regions Init loads or builds in parallel.
	LoadConcurrency int `yaml:"load_concurrency"`
	// BuildBatchSize is the number of records accumulated before a batch is
	// flushed into the kernel during a full scan build.
	BuildBatchSize int `yaml:"build_batch_size"`
	// WalReplayBatchSize is the number of pending upserts accumulated before
	// flushing to the kernel during WAL replay.
	WalReplayBatchSize int `yaml:"wal_replay_batch_size"`
	// RebuildQuiescePollInterval is how often Rebuild polls for a handle to
	// leave a transient state before it can start a new transition.
	RebuildQuiescePollInterval string `yaml:"rebuild_quiesce_poll_interval"`
	// EnableFollowerHoldIndex, when false, causes AsyncRebuild to delete the
	// rebuilt handle on non-leader peers once the rebuild completes.
	EnableFollowerHoldIndex bool `yaml:"enable_follower_hold_index"`
}

// SnapshotConfig controls on-disk snapshot layout and payload handling.
type SnapshotConfig struct {
	// RootDir is the filesystem root under which per-index snapshot
	// directories are created.
	RootDir string `yaml:"root_dir"`
	// Compression names the codec applied to serialized kernel payloads
	// ("zstd", "snappy", "lz4", "none").
	Compression string `yaml:"compression"`
	// MaxErrorPayloadBytes bounds the length-prefixed error payload captured
	// when a kernel Save fails partway through serialization.
	MaxErrorPayloadBytes int `yaml:"max_error_payload_bytes"`
}

// TransportConfig controls the snapshot transfer gRPC service.
type TransportConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// ChunkSize is the maximum number of bytes returned per GetFile RPC.
	ChunkSize int `yaml:"chunk_size"`
	DialTimeout string `yaml:"dial_timeout"`
	// ReaderIdleTimeout is how long an unclaimed file reader registration
	// lives before CleanFileReader would have been expected.
	ReaderIdleTimeout string `yaml:"reader_idle_timeout"`
	// ChunkCacheEntries bounds the number of (file, offset, size) chunk reads
	// kept in the in-memory LRU cache in front of disk, worthwhile because a
	// published snapshot's files never change after Publish and are commonly
	// fanned out to several followers reading the same chunks in parallel.
	ChunkCacheEntries int `yaml:"chunk_cache_entries"`
}

// ScrubConfig controls the periodic sweep that decides whether an index
// needs a rebuild or a save based on how far it has fallen behind its last
// snapshot.
type ScrubConfig struct {
	Interval               string `yaml:"interval"`
	SaveBehindThreshold    uint64 `yaml:"save_behind_threshold"`
	RebuildBehindThreshold uint64 `yaml:"rebuild_behind_threshold"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"`
}

// DebugConfig holds debugging-related configuration.
type DebugConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddress  string `yaml:"listen_address"`
	PProfEnabled   bool   `yaml:"pprof_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Transport TransportConfig `yaml:"transport"`
	Scrub     ScrubConfig     `yaml:"scrub"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ParseDuration parses a duration string, returning defaultDuration if the
// string is empty or invalid. Logs a warning if the string is invalid but
// not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns a Config populated with documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:            50061,
			HealthCheckInterval: "5s",
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "certs/server.crt",
				KeyFile:  "certs/server.key",
			},
		},
		Index: IndexConfig{
			LoadConcurrency:            4,
			BuildBatchSize:             1024,
			WalReplayBatchSize:         10000,
			RebuildQuiescePollInterval: "2s",
			EnableFollowerHoldIndex:    true,
		},
		Snapshot: SnapshotConfig{
			RootDir:              "./data/vector_snapshots",
			Compression:          "zstd",
			MaxErrorPayloadBytes: 64 * 1024,
		},
		Transport: TransportConfig{
			ListenAddress:     ":50062",
			ChunkSize:         4 << 20,
			DialTimeout:       "5s",
			ReaderIdleTimeout: "5m",
		},
		Scrub: ScrubConfig{
			Interval:               "60s",
			SaveBehindThreshold:    50000,
			RebuildBehindThreshold: 500000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "vectord.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:        false,
			ListenAddress:  "0.0.0.0:6060",
			PProfEnabled:   false,
			MetricsEnabled: true,
		},
	}
}

// Load reads configuration from an io.Reader, starting from Default() and
// overwriting with whatever the YAML document specifies.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file is
// not an error; it yields Default().
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
