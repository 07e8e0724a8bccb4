package models

import (
	"github.com/gra-p2p/gra/internal/cbor"
	"github.com/gra-p2p/gra/internal/hash"
)

// Entry names a block: key is a hash of some name (a path, for instance)
// and value is the content hash of the block it points at.
type Entry struct {
	key   hash.Hash
	value hash.Hash
}

// NewEntry binds key to the content hash of b.
func NewEntry(key hash.Hash, b Block) Entry {
	return Entry{key: key, value: b.Hash()}
}

// Key returns the entry key.
func (e Entry) Key() hash.Hash { return e.key }

// Value returns the content hash of the named block.
func (e Entry) Value() hash.Hash { return e.value }

// Equal compares key and value.
func (e Entry) Equal(other Entry) bool {
	return e.key.Equal(other.key) && e.value.Equal(other.value)
}

type entryWire struct {
	cbor.StructAsArray
	Key   hash.Hash
	Value hash.Hash
}

// MarshalBinary encodes the entry as [key, value].
func (e Entry) MarshalBinary() ([]byte, error) {
	return cbor.Encode(entryWire{Key: e.key, Value: e.value})
}

// UnmarshalBinary decodes [key, value].
func (e *Entry) UnmarshalBinary(data []byte) error {
	var w entryWire
	if err := cbor.Decode(data, &w); err != nil {
		return &DecodeError{Reason: "entry", Err: err}
	}
	e.key, e.value = w.Key, w.Value
	return nil
}
