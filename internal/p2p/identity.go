package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/gra-p2p/gra/internal/hash"
)

const (
	// IdentityKeyFile is the default filename for the identity key
	IdentityKeyFile = "identity.key"

	// identityHeader is the file format header
	identityHeader = "/gra/identity/1.0.0/ed25519/\n"
)

// LoadOrCreateIdentity loads the identity key in dataDir, creating and
// saving a new one if none exists.
func LoadOrCreateIdentity(dataDir string) (crypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, IdentityKeyFile)

	// Try to load existing key
	if _, err := os.Stat(keyPath); err == nil {
		return LoadIdentity(keyPath)
	}

	// Generate new key
	privKey, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	// Save the new key
	if err := SaveIdentity(privKey, keyPath); err != nil {
		return nil, err
	}
	return privKey, nil
}

// GenerateIdentity creates a new random Ed25519 identity key
func GenerateIdentity() (crypto.PrivKey, error) {
	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return privKey, nil
}

// IdentityFromSeed derives a deterministic Ed25519 key whose secret is the
// BLAKE3 hash of seed. The same seed always yields the same peer ID.
func IdentityFromSeed(seed []byte) (crypto.PrivKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("identity seed is empty")
	}
	// The digest is exactly an Ed25519 seed
	digest := hash.New(seed, nil).Digest()
	privKey, err := crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(digest[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity key: %w", err)
	}
	return privKey, nil
}

// LoadIdentity loads an identity key from a file
func LoadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	// Check header
	keyHex, ok := strings.CutPrefix(string(data), identityHeader)
	if !ok {
		return nil, fmt.Errorf("invalid identity file: wrong header")
	}

	// Decode hex key, ignoring the trailing newline
	keyBytes, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid identity file: bad hex encoding: %w", err)
	}

	// MarshalPrivateKey output carries the key type, so use the generic unmarshal
	privKey, err := crypto.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid identity file: bad key data: %w", err)
	}
	return privKey, nil
}

// SaveIdentity writes privKey to path, readable by the owner only
func SaveIdentity(privKey crypto.PrivKey, path string) error {
	// Marshal the key
	keyBytes, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return fmt.Errorf("failed to marshal identity key: %w", err)
	}

	// Format: header + hex-encoded key
	content := identityHeader + hex.EncodeToString(keyBytes) + "\n"

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// IdentityFingerprint returns the peer ID of privKey, or "unknown"
func IdentityFingerprint(privKey crypto.PrivKey) string {
	id, err := peer.IDFromPrivateKey(privKey)
	if err != nil {
		return "unknown"
	}
	return id.String()
}
