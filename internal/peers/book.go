// Package peers keeps a bare per-peer confidence counter.
package peers

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/gra-p2p/gra/internal/models"
)

// Book counts, per peer, the blocks that peer delivered and that verified.
// It does not rank or evict peers.
type Book struct {
	mu     sync.RWMutex
	counts map[peer.ID]uint64
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{counts: make(map[peer.ID]uint64)}
}

// Credit increments p's confidence and returns the new value.
func (b *Book) Credit(p peer.ID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[p]++
	return b.counts[p]
}

// Confidence returns p's counter; unknown peers have 0.
func (b *Book) Confidence(p peer.ID) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[p]
}

// Forget drops p.
func (b *Book) Forget(p peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, p)
}

// Len returns the number of known peers.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.counts)
}

// List returns every known peer ordered by peer ID.
func (b *Book) List() []models.Peer {
	b.mu.RLock()
	out := make([]models.Peer, 0, len(b.counts))
	for id, c := range b.counts {
		out = append(out, models.Peer{ID: id, Confidence: c})
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
