package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Check network defaults
	if len(cfg.Network.ListenAddrs) != 2 {
		t.Errorf("ListenAddrs = %v, want two wildcard hosts", cfg.Network.ListenAddrs)
	}
	if cfg.Network.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want 100", cfg.Network.MaxConnections)
	}
	if !cfg.Network.EnableMDNS {
		t.Error("EnableMDNS should be true by default")
	}
	if cfg.Network.KeepaliveDuration() != time.Minute {
		t.Errorf("Keepalive = %v, want 1m", cfg.Network.KeepaliveDuration())
	}

	// Check DHT defaults
	if cfg.DHT.Mode != "auto" {
		t.Errorf("DHT.Mode = %s, want auto", cfg.DHT.Mode)
	}
	if cfg.DHT.QueryTimeoutDuration() != 30*time.Second {
		t.Errorf("QueryTimeout = %v, want 30s", cfg.DHT.QueryTimeoutDuration())
	}
	if cfg.DHT.RefRecordTTLDuration() != time.Hour {
		t.Errorf("RefRecordTTL = %v, want 1h", cfg.DHT.RefRecordTTLDuration())
	}

	// Check storage defaults
	if strings.Join(cfg.Storage.Tiers, ",") != "memory,disk" {
		t.Errorf("Storage.Tiers = %v, want [memory disk]", cfg.Storage.Tiers)
	}
	if cfg.Storage.DiskMaxSize != "10GB" {
		t.Errorf("Storage.DiskMaxSize = %s, want 10GB", cfg.Storage.DiskMaxSize)
	}

	// Check protocol defaults
	if cfg.Protocol.RequestTimeoutDuration() != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Protocol.RequestTimeoutDuration())
	}

	// Check logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load should not error for nonexistent file: %v", err)
	}

	// Should return defaults
	if cfg.Network.MaxConnections != 100 {
		t.Error("Should return default config for nonexistent file")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[network]
listen_addrs = ["/ip4/127.0.0.1/tcp/4001"]
max_connections = 50

[dht]
mode = "server"
query_timeout = "45s"

[storage]
tiers = ["disk"]
disk_max_size = "5GB"

[logging]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Network.ListenAddrs) != 1 || cfg.Network.ListenAddrs[0] != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("ListenAddrs = %v", cfg.Network.ListenAddrs)
	}
	if cfg.Network.MaxConnections != 50 {
		t.Errorf("MaxConnections = %d, want 50", cfg.Network.MaxConnections)
	}
	if cfg.DHT.Mode != "server" {
		t.Errorf("DHT.Mode = %s, want server", cfg.DHT.Mode)
	}
	if cfg.DHT.QueryTimeoutDuration() != 45*time.Second {
		t.Errorf("QueryTimeout = %v, want 45s", cfg.DHT.QueryTimeoutDuration())
	}
	if cfg.Storage.DiskMaxSize != "5GB" {
		t.Errorf("DiskMaxSize = %s, want 5GB", cfg.Storage.DiskMaxSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"warn\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %s, want warn", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults
	if cfg.Protocol.MaxMessageSize != "16MB" {
		t.Errorf("MaxMessageSize = %s, want 16MB", cfg.Protocol.MaxMessageSize)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("invalid toml [[["), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load should fail with invalid TOML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("[dht]\nmode = \"sideways\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "dht.mode") {
		t.Errorf("Load error = %v, want a dht.mode error", err)
	}
}

func TestConfig_Save(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.toml")

	cfg := DefaultConfig()
	cfg.Network.MaxConnections = 7
	cfg.Logging.Level = "warn"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Save did not create file")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.Network.MaxConnections != 7 {
		t.Errorf("MaxConnections = %d, want 7", loaded.Network.MaxConnections)
	}
	if loaded.Logging.Level != "warn" {
		t.Errorf("Level = %s, want warn", loaded.Logging.Level)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DHT.QueryTimeout = "soon"
	cfg.Storage.Tiers = []string{"tape"}
	cfg.Protocol.MaxMessageSize = "big"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, field := range []string{"dht.query_timeout", "storage.tiers", "protocol.max_message_size", "logging.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestValidate_NoTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Tiers = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should require a tier")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"", 0, false},
		{"100", 100, false},
		{"100B", 100, false},
		{"1KB", 1024, false},
		{"1K", 1024, false},
		{"16MB", 16 * 1024 * 1024, false},
		{"10GB", 10 * 1024 * 1024 * 1024, false},
		{"2TB", 2 * 1024 * 1024 * 1024 * 1024, false},
		{"5 gb", 5 * 1024 * 1024 * 1024, false},
		{"GB", 0, true},
		{"10XB", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"0", 0},
		{"unlimited", 0},
		{"1MB/s", 1024 * 1024},
		{"100KB", 100 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRate(tt.input)
			if err != nil {
				t.Fatalf("ParseRate(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseRate(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration(""); err != nil || d != 0 {
		t.Errorf("ParseDuration(\"\") = %v, %v", d, err)
	}
	if d, err := ParseDuration("90s"); err != nil || d != 90*time.Second {
		t.Errorf("ParseDuration(90s) = %v, %v", d, err)
	}
	if _, err := ParseDuration("-1s"); err == nil {
		t.Error("negative durations should be rejected")
	}
	if _, err := ParseDuration("later"); err == nil {
		t.Error("garbage should be rejected")
	}
}
