// Package config handles configuration loading and defaults for gra
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for gra
type Config struct {
	Network  NetworkConfig  `toml:"network"`
	DHT      DHTConfig      `toml:"dht"`
	Storage  StorageConfig  `toml:"storage"`
	Protocol ProtocolConfig `toml:"protocol"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Logging  LoggingConfig  `toml:"logging"`
}

// NetworkConfig holds network-related settings
type NetworkConfig struct {
	ListenAddrs        []string `toml:"listen_addrs"`
	BootstrapPeers     []string `toml:"bootstrap_peers"`
	MaxConnections     int      `toml:"max_connections"`
	EnableMDNS         bool     `toml:"enable_mdns"`
	EnableNAT          bool     `toml:"enable_nat"`
	EnableRelay        bool     `toml:"enable_relay"`
	EnableRelayService bool     `toml:"enable_relay_service"`
	EnableHolePunching bool     `toml:"enable_hole_punching"`
	PeerAllowlist      []string `toml:"peer_allowlist"`
	PeerBlocklist      []string `toml:"peer_blocklist"`
	PublicAddrsOnly    bool     `toml:"public_addrs_only"`
	KeepaliveInterval  string   `toml:"keepalive_interval"`
}

// DHTConfig holds DHT-related settings
type DHTConfig struct {
	Mode             string `toml:"mode"`
	ProviderCount    int    `toml:"provider_count"`
	QueryTimeout     string `toml:"query_timeout"`
	DialTimeout      string `toml:"dial_timeout"`
	AdaptiveTimeouts bool   `toml:"adaptive_timeouts"`
	RefRecordTTL     string `toml:"ref_record_ttl"`
}

// StorageConfig holds local store settings
type StorageConfig struct {
	Tiers         []string `toml:"tiers"`
	Path          string   `toml:"path"`
	MemoryMaxSize string   `toml:"memory_max_size"`
	DiskMaxSize   string   `toml:"disk_max_size"`
	MinFreeSpace  string   `toml:"min_free_space"`
	Compress      bool     `toml:"compress"`
}

// ProtocolConfig holds block exchange settings
type ProtocolConfig struct {
	MaxMessageSize string  `toml:"max_message_size"`
	RequestTimeout string  `toml:"request_timeout"`
	MaxUploadRate  string  `toml:"max_upload_rate"`
	RequestRate    float64 `toml:"request_rate"`
	RequestBurst   int     `toml:"request_burst"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Network: NetworkConfig{
			ListenAddrs:        []string{"/ip4/0.0.0.0", "/ip6/::"},
			MaxConnections:     100,
			EnableMDNS:         true,
			EnableNAT:          true,
			EnableRelay:        true,
			EnableHolePunching: true,
			KeepaliveInterval:  "1m",
		},
		DHT: DHTConfig{
			Mode:             "auto",
			ProviderCount:    20,
			QueryTimeout:     "30s",
			DialTimeout:      "10s",
			AdaptiveTimeouts: true,
			RefRecordTTL:     "1h",
		},
		Storage: StorageConfig{
			Tiers:         []string{"memory", "disk"},
			Path:          filepath.Join(homeDir, ".local", "share", "gra"),
			MemoryMaxSize: "64MB",
			DiskMaxSize:   "10GB",
			MinFreeSpace:  "1GB",
			Compress:      true,
		},
		Protocol: ProtocolConfig{
			MaxMessageSize: "16MB",
			RequestTimeout: "30s",
			MaxUploadRate:  "0", // unlimited
			RequestRate:    50,
			RequestBurst:   100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Bind:    "127.0.0.1:9978",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads configuration from a file, merging with defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks every value that is parsed later.
func (c *Config) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("network.keepalive_interval", durationErr(c.Network.KeepaliveInterval))
	if c.Network.MaxConnections < 0 {
		check("network.max_connections", errors.New("must not be negative"))
	}

	switch c.DHT.Mode {
	case "", "auto", "server", "client":
	default:
		check("dht.mode", fmt.Errorf("unknown mode %q", c.DHT.Mode))
	}
	check("dht.query_timeout", durationErr(c.DHT.QueryTimeout))
	check("dht.dial_timeout", durationErr(c.DHT.DialTimeout))
	check("dht.ref_record_ttl", durationErr(c.DHT.RefRecordTTL))

	if len(c.Storage.Tiers) == 0 {
		check("storage.tiers", errors.New("at least one tier is required"))
	}
	for _, tier := range c.Storage.Tiers {
		switch strings.ToLower(tier) {
		case "memory", "disk":
		default:
			check("storage.tiers", fmt.Errorf("unknown tier %q", tier))
		}
	}
	check("storage.memory_max_size", sizeErr(c.Storage.MemoryMaxSize))
	check("storage.disk_max_size", sizeErr(c.Storage.DiskMaxSize))
	check("storage.min_free_space", sizeErr(c.Storage.MinFreeSpace))

	check("protocol.max_message_size", sizeErr(c.Protocol.MaxMessageSize))
	check("protocol.request_timeout", durationErr(c.Protocol.RequestTimeout))
	if _, err := ParseRate(c.Protocol.MaxUploadRate); err != nil {
		check("protocol.max_upload_rate", err)
	}
	if c.Protocol.RequestRate < 0 {
		check("protocol.request_rate", errors.New("must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		check("logging.level", fmt.Errorf("unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

func durationErr(s string) error {
	_, err := ParseDuration(s)
	return err
}

func sizeErr(s string) error {
	_, err := ParseSize(s)
	return err
}

// ParseDuration parses a duration string; empty means zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// KeepaliveDuration returns the keepalive interval, zero when unset or
// invalid.
func (n NetworkConfig) KeepaliveDuration() time.Duration {
	d, _ := ParseDuration(n.KeepaliveInterval)
	return d
}

// QueryTimeoutDuration returns the DHT query timeout.
func (d DHTConfig) QueryTimeoutDuration() time.Duration {
	v, _ := ParseDuration(d.QueryTimeout)
	return v
}

// DialTimeoutDuration returns the dial timeout.
func (d DHTConfig) DialTimeoutDuration() time.Duration {
	v, _ := ParseDuration(d.DialTimeout)
	return v
}

// RefRecordTTLDuration returns how long reference records live.
func (d DHTConfig) RefRecordTTLDuration() time.Duration {
	v, _ := ParseDuration(d.RefRecordTTL)
	return v
}

// RequestTimeoutDuration returns the block request timeout.
func (p ProtocolConfig) RequestTimeoutDuration() time.Duration {
	v, _ := ParseDuration(p.RequestTimeout)
	return v
}

// ParseSize parses a size string like "10GB" into bytes
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	size, err := strconv.ParseInt(s[:n], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	multiplier := int64(1)
	switch strings.ToUpper(strings.TrimSpace(s[n:])) {
	case "", "B":
	case "KB", "K":
		multiplier = 1024
	case "MB", "M":
		multiplier = 1024 * 1024
	case "GB", "G":
		multiplier = 1024 * 1024 * 1024
	case "TB", "T":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}

	return size * multiplier, nil
}

// ParseRate parses a rate string like "10MB/s" or "100KB" into bytes per second
// Returns 0 for unlimited (empty string, "0", or "unlimited")
func ParseRate(s string) (int64, error) {
	if s == "" || s == "0" || s == "unlimited" {
		return 0, nil
	}

	return ParseSize(strings.TrimSuffix(s, "/s"))
}
