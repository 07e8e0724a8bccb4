package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
)

// Fetcher retrieves a block from the network by content hash.
type Fetcher interface {
	Fetch(ctx context.Context, h hash.Hash) (models.Block, error)
}

// Remote is a read-only tier that resolves block keys over the network.
// It must not be mounted in the store of the node whose client it fetches
// through: that node serves inbound requests from its store.
type Remote struct {
	fetcher Fetcher
}

// NewRemote creates a remote tier.
func NewRemote(f Fetcher) *Remote {
	return &Remote{fetcher: f}
}

func (r *Remote) Name() string { return "remote" }

// Get fetches block keys; other namespaces are never found remotely.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, error) {
	if !strings.HasPrefix(key, BlockPrefix) {
		return nil, ErrNotFound
	}
	h, err := ParseBlockKey(key)
	if err != nil {
		return nil, err
	}
	b, err := r.fetcher.Fetch(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return models.Encode(b)
}

func (r *Remote) Put(context.Context, string, []byte) error { return ErrReadOnly }
func (r *Remote) Delete(context.Context, string) error      { return ErrReadOnly }

// List returns nothing; the network cannot be enumerated.
func (r *Remote) List(context.Context, string) ([]string, error) { return nil, nil }

func (r *Remote) Close() error { return nil }
