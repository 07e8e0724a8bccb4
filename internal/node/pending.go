package node

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
)

// Result is the terminal outcome delivered on a Completion.
type Result[V any] struct {
	Value V
	Err   error
}

// Completion is a single-use result channel. It is buffered so the actor
// never blocks completing it, even when the waiter has gone away.
type Completion[V any] chan Result[V]

// NewCompletion creates an empty completion.
func NewCompletion[V any]() Completion[V] {
	return make(Completion[V], 1)
}

// Complete delivers the outcome. Only the first call has any effect.
func (c Completion[V]) Complete(v V, err error) bool {
	select {
	case c <- Result[V]{Value: v, Err: err}:
		return true
	default:
		return false
	}
}

// Wait blocks until c is completed, ctx is done or stopped is closed.
func (c Completion[V]) Wait(ctx context.Context, stopped <-chan struct{}) (V, error) {
	select {
	case r := <-c:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case <-stopped:
		// The actor fails everything it holds before closing stopped.
		select {
		case r := <-c:
			return r.Value, r.Err
		default:
			var zero V
			return zero, ErrCancelled
		}
	}
}

// Table maps outstanding correlation ids of one operation kind to their
// completions. It is owned by the actor and not safe for concurrent use.
type Table[K comparable, V any] struct {
	name    string
	entries map[K]Completion[V]
}

// NewTable creates an empty table.
func NewTable[K comparable, V any](name string) *Table[K, V] {
	return &Table[K, V]{name: name, entries: make(map[K]Completion[V])}
}

// Name labels the table in logs and metrics.
func (t *Table[K, V]) Name() string { return t.name }

// Insert registers c under id. Two operations never share an id.
func (t *Table[K, V]) Insert(id K, c Completion[V]) error {
	if _, ok := t.entries[id]; ok {
		return ErrDuplicateID
	}
	t.entries[id] = c
	return nil
}

// Has reports whether id is outstanding.
func (t *Table[K, V]) Has(id K) bool {
	_, ok := t.entries[id]
	return ok
}

// Resolve removes id and completes it. It returns false when id is not
// outstanding.
func (t *Table[K, V]) Resolve(id K, v V, err error) bool {
	c, ok := t.entries[id]
	if !ok {
		return false
	}
	delete(t.entries, id)
	c.Complete(v, err)
	return true
}

// FailAll completes every outstanding id with err and empties the table.
func (t *Table[K, V]) FailAll(err error) int {
	n := len(t.entries)
	var zero V
	for id, c := range t.entries {
		c.Complete(zero, err)
		delete(t.entries, id)
	}
	return n
}

// Len returns the number of outstanding ids.
func (t *Table[K, V]) Len() int { return len(t.entries) }

// pending holds one table per operation kind.
type pending struct {
	dial         *Table[peer.ID, struct{}]
	provide      *Table[p2p.QueryID, struct{}]
	providers    *Table[p2p.QueryID, []peer.ID]
	closestPeers *Table[p2p.QueryID, []peer.ID]
	putRecord    *Table[p2p.QueryID, struct{}]
	request      *Table[p2p.RequestID, models.Block]
}

func newPending() pending {
	return pending{
		dial:         NewTable[peer.ID, struct{}]("dial"),
		provide:      NewTable[p2p.QueryID, struct{}]("start_providing"),
		providers:    NewTable[p2p.QueryID, []peer.ID]("get_providers"),
		closestPeers: NewTable[p2p.QueryID, []peer.ID]("closest_peers"),
		putRecord:    NewTable[p2p.QueryID, struct{}]("put_record"),
		request:      NewTable[p2p.RequestID, models.Block]("request_block"),
	}
}

// sizes returns the outstanding count per table name.
func (p pending) sizes() map[string]int {
	return map[string]int{
		p.dial.Name():         p.dial.Len(),
		p.provide.Name():      p.provide.Len(),
		p.providers.Name():    p.providers.Len(),
		p.closestPeers.Name(): p.closestPeers.Len(),
		p.putRecord.Name():    p.putRecord.Len(),
		p.request.Name():      p.request.Len(),
	}
}

func (p pending) failAll(err error) int {
	return p.dial.FailAll(err) +
		p.provide.FailAll(err) +
		p.providers.FailAll(err) +
		p.closestPeers.FailAll(err) +
		p.putRecord.FailAll(err) +
		p.request.FailAll(err)
}
