package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/reader"
)

// Client sends commands to a Node and waits for their results. It is safe
// for concurrent use.
type Client struct {
	node *Node
}

// call sends cmd and waits on done.
func call[V any](ctx context.Context, c *Client, cmd command, done Completion[V]) (V, error) {
	select {
	case c.node.commands <- cmd:
	case <-c.node.done:
		var zero V
		return zero, ErrCancelled
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
	return done.Wait(ctx, c.node.done)
}

// StartListening listens on addr. A bare host address such as /ip4/0.0.0.0
// listens on both QUIC and TCP with system-assigned ports.
func (c *Client) StartListening(ctx context.Context, addr ma.Multiaddr) ([]ma.Multiaddr, error) {
	done := NewCompletion[[]ma.Multiaddr]()
	return call(ctx, c, startListeningCmd{addr: addr, done: done}, done)
}

// Dial connects to p. Only one dial per peer may be in flight.
func (c *Client) Dial(ctx context.Context, p peer.ID, addrs ...ma.Multiaddr) error {
	done := NewCompletion[struct{}]()
	_, err := call(ctx, c, dialCmd{peer: p, addrs: addrs, done: done}, done)
	return err
}

// StartProviding announces that this node serves h.
func (c *Client) StartProviding(ctx context.Context, h hash.Hash) error {
	done := NewCompletion[struct{}]()
	_, err := call(ctx, c, startProvidingCmd{hash: h, done: done}, done)
	return err
}

// GetProviders returns the peers that announced h, excluding this node.
func (c *Client) GetProviders(ctx context.Context, h hash.Hash) ([]peer.ID, error) {
	done := NewCompletion[[]peer.ID]()
	return call(ctx, c, getProvidersCmd{hash: h, done: done}, done)
}

// GetPeers returns the peers closest to p in the DHT keyspace.
func (c *Client) GetPeers(ctx context.Context, p peer.ID) ([]peer.ID, error) {
	done := NewCompletion[[]peer.ID]()
	return call(ctx, c, getPeersCmd{peer: p, done: done}, done)
}

// PutRecord publishes b as a DHT record.
func (c *Client) PutRecord(ctx context.Context, b models.Block) error {
	done := NewCompletion[struct{}]()
	_, err := call(ctx, c, putRecordCmd{block: b, done: done}, done)
	return err
}

// RespondBlock answers an inbound request with b, or rejects it when b is
// nil. It returns once the response has been written to the peer.
func (c *Client) RespondBlock(ctx context.Context, ch p2p.ResponseChannel, b models.Block) error {
	done := NewCompletion[struct{}]()
	if _, err := call(ctx, c, respondBlockCmd{block: b, channel: ch, done: done}, done); err != nil {
		return err
	}

	// The write runs outside the node loop.
	select {
	case err := <-ch.Written():
		return opError(PhaseRespond, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StoreItem writes a block and its entry to the local store.
func (c *Client) StoreItem(ctx context.Context, e models.Entry, b models.Block) (hash.Hash, error) {
	done := NewCompletion[hash.Hash]()
	return call(ctx, c, storeItemCmd{entry: e, block: b, done: done}, done)
}

// GetLocal reads a block from the local store.
func (c *Client) GetLocal(ctx context.Context, h hash.Hash) (models.Block, error) {
	done := NewCompletion[models.Block]()
	return call(ctx, c, getLocalCmd{hash: h, done: done}, done)
}

// Status returns a snapshot of the node.
func (c *Client) Status(ctx context.Context) (Status, error) {
	done := NewCompletion[Status]()
	return call(ctx, c, statusCmd{done: done}, done)
}

func (c *Client) requestFrom(ctx context.Context, h hash.Hash, p peer.ID) (models.Block, error) {
	done := NewCompletion[models.Block]()
	return call(ctx, c, requestBlockCmd{hash: h, peer: p, done: done}, done)
}

// RequestBlock fetches h. With no peers given, the providers of h are
// looked up first. Every peer is asked concurrently. A peer answering with
// a Ref is treated as not having the block; among the verified blocks the
// smallest encoding wins.
func (c *Client) RequestBlock(ctx context.Context, h hash.Hash, peers []peer.ID) (models.Block, error) {
	if len(peers) == 0 {
		found, err := c.GetProviders(ctx, h)
		if err != nil {
			return nil, err
		}
		peers = found
	}

	self := c.node.LocalPeer()
	candidates := make([]peer.ID, 0, len(peers))
	seen := make(map[peer.ID]bool, len(peers))
	for _, p := range peers {
		if p != self && !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, &OpError{Phase: PhaseLookup, Kind: p2p.KindNoRoute, Err: fmt.Errorf("%w for %s", errNoProviders, h)}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		blocks []models.Block
		errs   error
	)
	for _, p := range candidates {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()
			b, err := c.requestFrom(ctx, h, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", p, err))
				return
			}
			blocks = append(blocks, b)
		}(p)
	}
	wg.Wait()

	if b := selectBlock(blocks); b != nil {
		return b, nil
	}
	if errors.Is(errs, ErrCancelled) || ctx.Err() != nil {
		return nil, opError(PhaseFetch, errs)
	}
	return nil, &OpError{Phase: PhaseFetch, Kind: p2p.Classify(errs), Err: errors.Join(ErrNotFound, errs)}
}

// selectBlock picks one block deterministically, or nil if there is none.
func selectBlock(blocks []models.Block) models.Block {
	type candidate struct {
		block   models.Block
		isRef   bool
		encoded []byte
	}
	var cands []candidate
	for _, b := range blocks {
		enc, err := models.Encode(b)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{block: b, isRef: b.Kind() == models.KindRef, encoded: enc})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].isRef != cands[j].isRef {
			return !cands[i].isRef
		}
		return bytes.Compare(cands[i].encoded, cands[j].encoded) < 0
	})
	return cands[0].block
}

// AddPath reads path into blocks and entries, stores them and announces
// every block.
func (c *Client) AddPath(ctx context.Context, path string, scope *hash.Hash) ([]reader.Item, error) {
	items, err := reader.AddPath(path, scope)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		h, err := c.StoreItem(ctx, item.Entry, item.Block)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", item.Path, err)
		}
		if err := c.StartProviding(ctx, h); err != nil {
			return nil, fmt.Errorf("failed to provide %s: %w", item.Path, err)
		}
	}
	return items, nil
}

// Fetch returns h from the local store, or from the network when it is not
// stored locally.
func (c *Client) Fetch(ctx context.Context, h hash.Hash) (models.Block, error) {
	b, err := c.GetLocal(ctx, h)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoStore):
		return c.RequestBlock(ctx, h, nil)
	default:
		return nil, err
	}
}
