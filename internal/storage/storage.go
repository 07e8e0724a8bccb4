// Package storage provides tiered key/value storage for blocks and entries.
//
// A Tier stores opaque bytes under string keys. A Model layers a typed codec
// and a key namespace over an ordered list of tiers: reads fall through the
// tiers in order, writes land in the first tier with room.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/metrics"
	"github.com/gra-p2p/gra/internal/models"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrFull        = errors.New("storage: tier full")
	ErrReadOnly    = errors.New("storage: tier is read-only")
	ErrNoTiers     = errors.New("storage: no tiers configured")
	ErrUnknownTier = errors.New("storage: unknown tier")
	ErrInvalidKey  = errors.New("storage: invalid key")
	ErrClosed      = errors.New("storage: closed")
)

// Key namespaces.
const (
	BlockPrefix = "/blocks/"
	EntryPrefix = "/entries/"
)

// Tier is one storage backend.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Model is a typed view over ordered tiers.
type Model[T any] struct {
	prefix  string
	tiers   []Tier
	encode  func(T) ([]byte, error)
	decode  func([]byte) (T, error)
	metrics *metrics.Metrics
}

// NewModel creates a typed view. It fails when tiers is empty.
func NewModel[T any](prefix string, tiers []Tier, encode func(T) ([]byte, error), decode func([]byte) (T, error)) (*Model[T], error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	return &Model[T]{prefix: prefix, tiers: tiers, encode: encode, decode: decode}, nil
}

func (m *Model[T]) key(id string) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return m.prefix + id, nil
}

// Read returns the value stored under id in the first tier that has it.
func (m *Model[T]) Read(ctx context.Context, id string) (T, error) {
	var zero T
	key, err := m.key(id)
	if err != nil {
		return zero, err
	}

	var errs error
	for _, t := range m.tiers {
		data, err := t.Get(ctx, key)
		m.observe(t, "get", err)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		v, err := m.decode(data)
		if err != nil {
			return zero, fmt.Errorf("%s: %w", t.Name(), err)
		}
		return v, nil
	}
	if errs != nil {
		return zero, errs
	}
	return zero, ErrNotFound
}

// Write stores v in the first tier that accepts it. Full or read-only tiers
// are skipped.
func (m *Model[T]) Write(ctx context.Context, id string, v T) error {
	key, err := m.key(id)
	if err != nil {
		return err
	}
	data, err := m.encode(v)
	if err != nil {
		return err
	}

	for _, t := range m.tiers {
		err := t.Put(ctx, key, data)
		m.observe(t, "put", err)
		if errors.Is(err, ErrFull) || errors.Is(err, ErrReadOnly) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
		return nil
	}
	return ErrFull
}

// Delete removes id from every writable tier.
func (m *Model[T]) Delete(ctx context.Context, id string) error {
	key, err := m.key(id)
	if err != nil {
		return err
	}

	var errs error
	for _, t := range m.tiers {
		err := t.Delete(ctx, key)
		m.observe(t, "delete", err)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrReadOnly) {
			continue
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}
	return errs
}

// List returns the ids present in any tier, sorted and de-duplicated.
func (m *Model[T]) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, t := range m.tiers {
		keys, err := t.List(ctx, m.prefix)
		m.observe(t, "list", err)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, m.prefix)] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Model[T]) observe(t Tier, op string, err error) {
	if m.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "miss"
	case errors.Is(err, ErrFull):
		result = "full"
	case err != nil:
		result = "error"
	}
	m.metrics.StorageOps.WithLabelValues(t.Name(), op, result).Inc()
}

// Models groups the typed views the node stores.
type Models struct {
	Blocks  *Model[models.Block]
	Entries *Model[models.Entry]

	tiers []Tier
}

// NewModels builds the block and entry views over tiers.
func NewModels(tiers ...Tier) (*Models, error) {
	blocks, err := NewModel(BlockPrefix, tiers, models.Encode, models.Decode)
	if err != nil {
		return nil, err
	}
	entries, err := NewModel(EntryPrefix, tiers,
		func(e models.Entry) ([]byte, error) { return e.MarshalBinary() },
		func(data []byte) (models.Entry, error) {
			var e models.Entry
			err := e.UnmarshalBinary(data)
			return e, err
		})
	if err != nil {
		return nil, err
	}
	return &Models{Blocks: blocks, Entries: entries, tiers: tiers}, nil
}

// Instrument records per-tier operation counts in m.
func (s *Models) Instrument(m *metrics.Metrics) {
	s.Blocks.metrics = m
	s.Entries.metrics = m
}

// BlockID returns the storage id of the block with content hash h.
func BlockID(h hash.Hash) string { return h.KeyHex() }

// ParseBlockKey extracts the content hash from a full block key.
func ParseBlockKey(key string) (hash.Hash, error) {
	id, ok := strings.CutPrefix(key, BlockPrefix)
	if !ok {
		return hash.Hash{}, fmt.Errorf("%w: %q is not a block key", ErrInvalidKey, key)
	}
	return hash.ParseKey(id)
}

// PutBlock stores b under its content hash.
func (s *Models) PutBlock(ctx context.Context, b models.Block) (hash.Hash, error) {
	h := b.Hash()
	return h, s.Blocks.Write(ctx, BlockID(h), b)
}

// GetBlock returns the block with content hash h.
func (s *Models) GetBlock(ctx context.Context, h hash.Hash) (models.Block, error) {
	return s.Blocks.Read(ctx, BlockID(h))
}

// PutEntry stores e under its key.
func (s *Models) PutEntry(ctx context.Context, e models.Entry) error {
	return s.Entries.Write(ctx, e.Key().KeyHex(), e)
}

// GetEntry returns the entry stored under key.
func (s *Models) GetEntry(ctx context.Context, key hash.Hash) (models.Entry, error) {
	return s.Entries.Read(ctx, key.KeyHex())
}

// Tiers returns the configured tier names in order.
func (s *Models) Tiers() []string {
	names := make([]string, len(s.tiers))
	for i, t := range s.tiers {
		names[i] = t.Name()
	}
	return names
}

// Close closes every tier.
func (s *Models) Close() error {
	var errs error
	for _, t := range s.tiers {
		errs = multierr.Append(errs, t.Close())
	}
	return errs
}
