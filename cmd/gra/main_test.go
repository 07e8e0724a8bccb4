package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gra-p2p/gra/internal/p2p"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// diskConfig writes a config with a single disk tier under dir.
func diskConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
[storage]
tiers = ["disk"]
path = %q
min_free_space = "0"

[network]
enable_mdns = false

[logging]
level = "error"
`, filepath.Join(dir, "data"))
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return cfgPath
}

func TestRootCommand_Help(t *testing.T) {
	output, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("root --help failed: %v", err)
	}

	for _, want := range []string{"gra", "daemon", "add", "get", "store", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(output, "gra version dev") {
		t.Errorf("unexpected version output %q", output)
	}
	if !strings.Contains(output, p2p.ProtocolBlock) {
		t.Errorf("version output should list %s", p2p.ProtocolBlock)
	}
}

func TestConfigInitCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "test-config.toml")

	if _, err := execute(t, "--config", cfgPath, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	output, err := execute(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(output, "[storage]") {
		t.Errorf("config show output missing [storage]: %q", output)
	}
}

func TestConfigShow_InvalidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(cfgPath, []byte("[dht]\nmode = \"sideways\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", cfgPath, "config", "show"); err == nil {
		t.Error("config show should reject an invalid config")
	}
}

func TestAddStoreGet_Offline(t *testing.T) {
	dir := t.TempDir()
	cfgPath := diskConfig(t, dir)

	file := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(file, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "--config", cfgPath, "add", file)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	fields := strings.Fields(output)
	if len(fields) < 2 || fields[1] != file {
		t.Fatalf("unexpected add output %q", output)
	}
	key := fields[0]

	listed, err := execute(t, "--config", cfgPath, "store", "list")
	if err != nil {
		t.Fatalf("store list failed: %v", err)
	}
	if !strings.Contains(listed, key) || !strings.Contains(listed, "1 blocks") {
		t.Errorf("store list output %q does not contain %s", listed, key)
	}

	entries, err := execute(t, "--config", cfgPath, "store", "list", "--entries")
	if err != nil {
		t.Fatalf("store list --entries failed: %v", err)
	}
	if !strings.Contains(entries, "-> "+key) {
		t.Errorf("entries output %q does not point at %s", entries, key)
	}

	shown, err := execute(t, "--config", cfgPath, "store", "show", key)
	if err != nil {
		t.Fatalf("store show failed: %v", err)
	}
	if !strings.Contains(shown, "Chunks:      1") {
		t.Errorf("unexpected store show output %q", shown)
	}

	data, err := execute(t, "--config", cfgPath, "get", "--offline", key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.HasPrefix(data, "hello world") {
		t.Errorf("get returned %q", data[:min(len(data), 32)])
	}
	if strings.Trim(data[len("hello world"):], "\x00") != "" {
		t.Error("data after the content should be zero padding")
	}
}

func TestGet_OfflineMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := diskConfig(t, dir)

	output, err := execute(t, "--config", cfgPath, "add", writeTemp(t, dir, "other"))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	key := strings.Fields(output)[0]

	other := diskConfig(t, t.TempDir())
	if _, err := execute(t, "--config", other, "get", "--offline", key); err == nil {
		t.Error("get --offline should fail for a block that is not stored")
	}
}

func TestGet_InvalidKey(t *testing.T) {
	if _, err := execute(t, "get", "not-hex"); err == nil {
		t.Error("get should reject an invalid key")
	}
}

func TestIdentityShow_Seed(t *testing.T) {
	output, err := execute(t, "--seed", "alice", "identity", "show")
	if err != nil {
		t.Fatalf("identity show failed: %v", err)
	}

	key, err := p2p.IdentityFromSeed([]byte("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(output, p2p.IdentityFingerprint(key)) {
		t.Errorf("identity show output %q lacks the seeded peer ID", output)
	}
}

func TestIdentityRegenerate(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "none.toml")
	dataPath := filepath.Join(dir, "data")

	output, err := execute(t, "--config", cfgPath, "--data-dir", dataPath, "identity", "show")
	if err != nil {
		t.Fatalf("identity show failed: %v", err)
	}
	if !strings.Contains(output, "No persistent identity") {
		t.Errorf("unexpected output %q", output)
	}

	if _, err := execute(t, "--config", cfgPath, "--data-dir", dataPath, "identity", "regenerate"); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataPath, p2p.IdentityKeyFile)); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	if _, err := execute(t, "--config", cfgPath, "--data-dir", dataPath, "identity", "regenerate"); err == nil {
		t.Error("regenerate without --force should refuse to replace the key")
	}
	if _, err := execute(t, "--config", cfgPath, "--data-dir", dataPath, "identity", "regenerate", "--force"); err != nil {
		t.Errorf("regenerate --force failed: %v", err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{16 * 1024 * 1024, "16.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeTemp(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
