// Package node runs the actor that owns a gra network session. Clients send
// it commands; it issues network operations, keeps one correlation table per
// operation kind and resolves callers as the session reports results.
package node

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/metrics"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/peers"
	"github.com/gra-p2p/gra/internal/ratelimit"
	"github.com/gra-p2p/gra/internal/storage"
)

// DefaultInboundBuffer is used when Config.InboundBuffer is zero.
const DefaultInboundBuffer = 64

// Session is the network the node drives. *p2p.Session implements it.
type Session interface {
	LocalPeer() peer.ID
	Events() <-chan p2p.Event

	Listen(addr ma.Multiaddr) ([]ma.Multiaddr, error)
	CloseListeners(addrs ...ma.Multiaddr)
	Dial(p peer.ID, addrs ...ma.Multiaddr) error

	StartProviding(h hash.Hash) p2p.QueryID
	GetProviders(h hash.Hash) p2p.QueryID
	GetClosestPeers(p peer.ID) p2p.QueryID
	PutRecord(rec models.Record) (p2p.QueryID, error)
	SendRequest(p peer.ID, h hash.Hash) p2p.RequestID

	AddExternalAddr(addr ma.Multiaddr)
	AddAddrs(p peer.ID, addrs []ma.Multiaddr)
	Status() p2p.Status
	Close() error
}

// Config holds node configuration
type Config struct {
	// Store serves inbound requests and local reads. Without one, inbound
	// requests are surfaced on Inbound.
	Store *storage.Models

	// Limiter bounds inbound requests per peer; nil means unlimited.
	Limiter *ratelimit.PeerLimiter

	RecordPolicy  models.RecordPolicy
	InboundBuffer int
	Metrics       *metrics.Metrics
}

// Status is a snapshot of the node.
type Status struct {
	Session p2p.Status
	Pending map[string]int
	Peers   []models.Peer
	Tiers   []string
}

// Node is the command actor. Only the goroutine running Run touches the
// session's mutating operations, the pending tables and the store.
type Node struct {
	session Session
	store   *storage.Models
	limiter *ratelimit.PeerLimiter
	book    *peers.Book
	policy  models.RecordPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	commands chan command
	inbound  chan p2p.InboundRequest
	done     chan struct{}
	running  atomic.Bool

	pending   pending
	requested map[p2p.RequestID]hash.Hash
}

// New creates a node driving session. Call Run to start it.
func New(session Session, cfg Config, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	policy := cfg.RecordPolicy
	if policy == (models.RecordPolicy{}) {
		policy = models.DefaultRecordPolicy()
	}
	buffer := cfg.InboundBuffer
	if buffer <= 0 {
		buffer = DefaultInboundBuffer
	}

	return &Node{
		session:   session,
		store:     cfg.Store,
		limiter:   cfg.Limiter,
		book:      peers.NewBook(),
		policy:    policy,
		logger:    logger.Named("node"),
		metrics:   m,
		now:       time.Now,
		commands:  make(chan command),
		inbound:   make(chan p2p.InboundRequest, buffer),
		done:      make(chan struct{}),
		pending:   newPending(),
		requested: make(map[p2p.RequestID]hash.Hash),
	}
}

// Client returns a handle for sending commands to n. Any number of clients
// may be used concurrently.
func (n *Node) Client() *Client {
	return &Client{node: n}
}

// LocalPeer returns the peer ID of the session.
func (n *Node) LocalPeer() peer.ID { return n.session.LocalPeer() }

// Done is closed once Run has returned and every caller was released.
func (n *Node) Done() <-chan struct{} { return n.done }

// Inbound delivers requests the node cannot serve itself. Answer each with
// Client.RespondBlock. The channel is closed when Run returns.
func (n *Node) Inbound() <-chan p2p.InboundRequest { return n.inbound }

// Run processes commands and session events one at a time until ctx is
// done or the session's event stream ends. It may be called once.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.New("node: already running")
	}
	defer n.shutdown()

	n.logger.Info("Node started", zap.Stringer("peer", n.session.LocalPeer()))
	events := n.session.Events()
	for {
		select {
		case cmd := <-n.commands:
			n.handleCommand(ctx, cmd)
		case ev, ok := <-events:
			if !ok {
				n.logger.Info("Session closed, stopping node")
				return nil
			}
			n.handleEvent(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
		n.updatePendingGauges()
	}
}

func (n *Node) shutdown() {
	failed := n.pending.failAll(ErrCancelled)
	clear(n.requested)
	n.updatePendingGauges()

	close(n.done)
	close(n.inbound)
	for req := range n.inbound {
		_ = req.Channel.Reject()
	}
	// Commands sent while the loop was exiting.
	for {
		select {
		case cmd := <-n.commands:
			cmd.fail(ErrCancelled)
			failed++
		default:
			n.logger.Info("Node stopped", zap.Int("cancelled", failed))
			return
		}
	}
}

func (n *Node) updatePendingGauges() {
	for table, size := range n.pending.sizes() {
		n.metrics.Pending.WithLabelValues(table).Set(float64(size))
	}
}

// anomaly records a network report the node cannot correlate.
func (n *Node) anomaly(msg string, fields ...zap.Field) {
	n.metrics.ProtocolAnomalies.Inc()
	n.logger.Debug(msg, fields...)
}
