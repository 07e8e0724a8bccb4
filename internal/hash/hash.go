// Package hash implements the BLAKE3 content hashes that name every block.
//
// A Hash is a 32-byte digest plus an optional scope. A scoped hash was
// produced with keyed BLAKE3 using the scope's digest as the key, so the same
// bytes hashed under two scopes yield unrelated digests. The scope is part of
// the identity: a scoped and an unscoped hash are never equal, even when
// their digests happen to match.
package hash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"

	"github.com/gra-p2p/gra/internal/cbor"
)

const (
	// Size is the digest width in bytes.
	Size = 32

	// MaxScopeDepth bounds the scope chain accepted when decoding.
	MaxScopeDepth = 8

	// array header + byte string header + digest
	encodedLevelSize = 1 + 2 + Size
	maxEncodedSize   = encodedLevelSize*(MaxScopeDepth+1) + 1
)

// ErrDigestLength is returned when a raw digest is not exactly Size bytes.
var ErrDigestLength = errors.New("hash: digest must be 32 bytes")

// DecodeError reports a malformed binary hash.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hash: decode: %s: %v", e.Reason, e.Err)
	}
	return "hash: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Hash is an immutable content hash. The zero value is the unscoped all-zero
// digest and is not produced by hashing anything in practice.
type Hash struct {
	digest [Size]byte
	scope  *Hash
}

// Opts selects keyed hashing. A nil Opts or nil Key means unkeyed.
type Opts struct {
	Key *Hash
}

func (o *Opts) key() *Hash {
	if o == nil {
		return nil
	}
	return o.Key
}

// New hashes data. With a key, keyed BLAKE3 is used and the key becomes the
// scope of the result.
func New(data []byte, opts *Opts) Hash {
	h := NewHasher(opts)
	_, _ = h.Write(data)
	return h.Sum()
}

// FromBytes wraps an existing digest, attaching opts.Key as scope when set.
func FromBytes(raw []byte, opts *Opts) (Hash, error) {
	if len(raw) != Size {
		return Hash{}, fmt.Errorf("%w: got %d", ErrDigestLength, len(raw))
	}
	var h Hash
	copy(h.digest[:], raw)
	h.scope = opts.key()
	return h, nil
}

// FromDigest builds a hash from a digest and scope.
func FromDigest(digest [Size]byte, scope *Hash) Hash {
	return Hash{digest: digest, scope: scope}
}

// Hasher computes a Hash incrementally.
type Hasher struct {
	h     *blake3.Hasher
	scope *Hash
}

// NewHasher returns a hasher using the same keying rule as New.
func NewHasher(opts *Opts) *Hasher {
	key := opts.key()
	if key == nil {
		return &Hasher{h: blake3.New(Size, nil)}
	}
	return &Hasher{h: blake3.New(Size, key.digest[:]), scope: key}
}

// Write never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the hash of everything written so far.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out.digest[:], h.h.Sum(nil))
	out.scope = h.scope
	return out
}

// Digest returns the raw digest.
func (h Hash) Digest() [Size]byte { return h.digest }

// Scope returns the scope, or nil for an unscoped hash.
func (h Hash) Scope() *Hash { return h.scope }

// IsScoped reports whether the hash carries a scope.
func (h Hash) IsScoped() bool { return h.scope != nil }

// Equal compares digest and scope.
func (h Hash) Equal(other Hash) bool {
	return h.Compare(other) == 0
}

// Compare orders hashes by digest bytes, then by scope. An unscoped hash
// sorts before any scoped hash with the same digest.
func (h Hash) Compare(other Hash) int {
	if c := bytes.Compare(h.digest[:], other.digest[:]); c != 0 {
		return c
	}
	switch {
	case h.scope == nil && other.scope == nil:
		return 0
	case h.scope == nil:
		return -1
	case other.scope == nil:
		return 1
	}
	return h.scope.Compare(*other.scope)
}

// Hex returns the lowercase hex digest without the scope.
func (h Hash) Hex() string {
	return hex.EncodeToString(h.digest[:])
}

// String renders "scope|digest" for scoped hashes and "digest" otherwise.
// It is for display only and is not parsed back.
func (h Hash) String() string {
	if h.scope == nil {
		return h.Hex()
	}
	return h.scope.String() + "|" + h.Hex()
}

// Depth is the length of the scope chain.
func (h Hash) Depth() int {
	n := 0
	for s := h.scope; s != nil; s = s.scope {
		n++
	}
	return n
}

type wire struct {
	cbor.StructAsArray
	Digest []byte
	Scope  *Hash
}

// MarshalCBOR encodes the hash as [digest, scope-or-null].
func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Encode(wire{Digest: h.digest[:], Scope: h.scope})
}

// UnmarshalCBOR decodes [digest, scope-or-null].
func (h *Hash) UnmarshalCBOR(data []byte) error {
	if len(data) > maxEncodedSize {
		return &DecodeError{Reason: fmt.Sprintf("encoded hash too large (%d bytes)", len(data))}
	}
	var w wire
	if err := cbor.Decode(data, &w); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return de
		}
		return &DecodeError{Reason: "malformed", Err: err}
	}
	if len(w.Digest) != Size {
		return &DecodeError{Reason: "bad digest width", Err: ErrDigestLength}
	}
	var out Hash
	copy(out.digest[:], w.Digest)
	out.scope = w.Scope
	if out.Depth() > MaxScopeDepth {
		return &DecodeError{Reason: "scope chain too deep"}
	}
	*h = out
	return nil
}

// MarshalBinary returns the canonical binary form.
func (h Hash) MarshalBinary() ([]byte, error) {
	return h.MarshalCBOR()
}

// UnmarshalBinary parses the canonical binary form.
func (h *Hash) UnmarshalBinary(data []byte) error {
	return h.UnmarshalCBOR(data)
}

// Bytes returns the canonical binary form.
func (h Hash) Bytes() []byte {
	// encoding a byte slice and a nested hash cannot fail
	b, _ := h.MarshalBinary()
	return b
}

// Key returns the binary form as a string, suitable as a map or record key.
func (h Hash) Key() string {
	return string(h.Bytes())
}

// ParseKey parses the hex encoding of the binary form.
func ParseKey(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, &DecodeError{Reason: "invalid hex", Err: err}
	}
	var h Hash
	if err := h.UnmarshalBinary(raw); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// KeyHex is the inverse of ParseKey.
func (h Hash) KeyHex() string {
	return hex.EncodeToString(h.Bytes())
}

// CID returns the DHT provider key for the hash. Unscoped hashes map
// directly to a BLAKE3 multihash of the digest; scoped hashes use the BLAKE3
// of the binary form so that scope participates in the key.
func (h Hash) CID() cid.Cid {
	digest := h.digest
	if h.scope != nil {
		digest = blake3.Sum256(h.Bytes())
	}
	// BLAKE3 accepts any digest length, 32 bytes cannot fail
	buf, _ := mh.Encode(digest[:], mh.BLAKE3)
	return cid.NewCidV1(cid.Raw, mh.Multihash(buf))
}
