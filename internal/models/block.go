// Package models defines the content-addressed data model: blocks, the
// entries that name them, and their conversion to DHT records.
package models

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/gra-p2p/gra/internal/hash"
)

// BlockSize is the width of one chunk of a Bytes block.
const BlockSize = 32

// Kind identifies a block variant on the wire.
type Kind uint8

const (
	KindBytes     Kind = 1
	KindRef       Kind = 2
	KindComposite Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindRef:
		return "ref"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Block is one of *Bytes, *Ref or *Composite. Blocks are immutable once
// built; their identity is Hash().
type Block interface {
	Kind() Kind
	Hash() hash.Hash
	isBlock()
}

// Chunk is a fixed-width piece of a Bytes block.
type Chunk [BlockSize]byte

// Bytes is raw data split into zero padded chunks.
type Bytes struct {
	Chunks []Chunk
}

// NewBytes splits data into ceil(len/BlockSize) chunks, zero padding the last
// one. Empty input yields a block with no chunks.
//
// Padding is not recorded, so inputs that differ only by trailing zero bytes
// within the last chunk produce the same block.
func NewBytes(data []byte) *Bytes {
	n := (len(data) + BlockSize - 1) / BlockSize
	b := &Bytes{Chunks: make([]Chunk, n)}
	for i := range b.Chunks {
		copy(b.Chunks[i][:], data[i*BlockSize:])
	}
	return b
}

// ReadBytes builds a Bytes block from r one chunk at a time.
func ReadBytes(r io.Reader) (*Bytes, error) {
	b := &Bytes{}
	for {
		var c Chunk
		n, err := io.ReadFull(r, c[:])
		if n > 0 {
			b.Chunks = append(b.Chunks, c)
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return b, nil
		default:
			return nil, err
		}
	}
}

func (*Bytes) Kind() Kind { return KindBytes }
func (*Bytes) isBlock()   {}

// Len returns the number of chunks.
func (b *Bytes) Len() int { return len(b.Chunks) }

// Data reassembles the chunks, padding included.
func (b *Bytes) Data() []byte {
	out := make([]byte, 0, len(b.Chunks)*BlockSize)
	for i := range b.Chunks {
		out = append(out, b.Chunks[i][:]...)
	}
	return out
}

// Hash is the unkeyed BLAKE3 of the concatenated chunks.
func (b *Bytes) Hash() hash.Hash {
	h := hash.NewHasher(nil)
	for i := range b.Chunks {
		_, _ = h.Write(b.Chunks[i][:])
	}
	return h.Sum()
}

// Ref points at another block by hash.
type Ref struct {
	Target hash.Hash
}

// NewRef returns a reference to target.
func NewRef(target hash.Hash) *Ref {
	return &Ref{Target: target}
}

func (*Ref) Kind() Kind { return KindRef }
func (*Ref) isBlock()   {}

// Hash of a reference is the referenced hash itself, so a Ref and the block
// it points at share an identity.
func (r *Ref) Hash() hash.Hash { return r.Target }

// Composite carries data plus metadata and child blocks.
type Composite struct {
	Timestamp  time.Time
	Confidence uint64
	Scope      *hash.Hash
	Data       Block
	Children   []Block
}

// NewComposite wraps data in a composite block. The timestamp is stored in
// UTC without its monotonic reading; an empty children slice is stored as
// absent. Encode rejects timestamps outside years 0000-9999.
func NewComposite(timestamp time.Time, confidence uint64, scope *hash.Hash, data []byte, children []Block) *Composite {
	if len(children) == 0 {
		children = nil
	}
	return &Composite{
		Timestamp:  normalizeTime(timestamp),
		Confidence: confidence,
		Scope:      scope,
		Data:       NewBytes(data),
		Children:   children,
	}
}

func (*Composite) Kind() Kind { return KindComposite }
func (*Composite) isBlock()   {}

// Hash covers timestamp, confidence, encoded data and encoded children, keyed
// by the scope when there is one. The result carries the scope.
func (c *Composite) Hash() hash.Hash {
	h := hash.NewHasher(&hash.Opts{Key: c.Scope})
	_, _ = h.Write([]byte(c.Timestamp.UTC().Format(time.RFC3339Nano)))

	var conf [8]byte
	binary.LittleEndian.PutUint64(conf[:], c.Confidence)
	_, _ = h.Write(conf[:])

	if c.Data != nil {
		// blocks built through this package always encode
		data, _ := Encode(c.Data)
		_, _ = h.Write(data)
	}
	for _, child := range c.Children {
		data, _ := Encode(child)
		_, _ = h.Write(data)
	}
	return h.Sum()
}

func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}

// New builds a composite block. It is the constructor used when adding data
// with metadata.
func New(timestamp time.Time, confidence uint64, scope *hash.Hash, data []byte, children []Block) Block {
	return NewComposite(timestamp, confidence, scope, data, children)
}
