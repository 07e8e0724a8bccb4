package node

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/storage"
)

// command is a request from a Client to the actor.
type command interface {
	name() string
	// fail completes the command with err without executing it.
	fail(err error)
}

type startListeningCmd struct {
	addr ma.Multiaddr
	done Completion[[]ma.Multiaddr]
}

type dialCmd struct {
	peer  peer.ID
	addrs []ma.Multiaddr
	done  Completion[struct{}]
}

type startProvidingCmd struct {
	hash hash.Hash
	done Completion[struct{}]
}

type getProvidersCmd struct {
	hash hash.Hash
	done Completion[[]peer.ID]
}

type requestBlockCmd struct {
	hash hash.Hash
	peer peer.ID
	done Completion[models.Block]
}

// respondBlockCmd answers an inbound request. A nil block rejects it.
type respondBlockCmd struct {
	block   models.Block
	channel p2p.ResponseChannel
	done    Completion[struct{}]
}

type getPeersCmd struct {
	peer peer.ID
	done Completion[[]peer.ID]
}

type putRecordCmd struct {
	block models.Block
	done  Completion[struct{}]
}

type storeItemCmd struct {
	entry models.Entry
	block models.Block
	done  Completion[hash.Hash]
}

type getLocalCmd struct {
	hash hash.Hash
	done Completion[models.Block]
}

type statusCmd struct {
	done Completion[Status]
}

func (startListeningCmd) name() string { return "start_listening" }
func (dialCmd) name() string           { return "dial" }
func (startProvidingCmd) name() string { return "start_providing" }
func (getProvidersCmd) name() string   { return "get_providers" }
func (requestBlockCmd) name() string   { return "request_block" }
func (respondBlockCmd) name() string   { return "respond_block" }
func (getPeersCmd) name() string       { return "get_peers" }
func (putRecordCmd) name() string      { return "put_record" }
func (storeItemCmd) name() string      { return "store_item" }
func (getLocalCmd) name() string       { return "get_local" }
func (statusCmd) name() string         { return "status" }

func (c startListeningCmd) fail(err error) { c.done.Complete(nil, err) }
func (c dialCmd) fail(err error)           { c.done.Complete(struct{}{}, err) }
func (c startProvidingCmd) fail(err error) { c.done.Complete(struct{}{}, err) }
func (c getProvidersCmd) fail(err error)   { c.done.Complete(nil, err) }
func (c requestBlockCmd) fail(err error)   { c.done.Complete(nil, err) }
func (c respondBlockCmd) fail(err error)   { c.done.Complete(struct{}{}, err) }
func (c getPeersCmd) fail(err error)       { c.done.Complete(nil, err) }
func (c putRecordCmd) fail(err error)      { c.done.Complete(struct{}{}, err) }
func (c storeItemCmd) fail(err error)      { c.done.Complete(hash.Hash{}, err) }
func (c getLocalCmd) fail(err error)       { c.done.Complete(nil, err) }
func (c statusCmd) fail(err error)         { c.done.Complete(Status{}, err) }

func (n *Node) handleCommand(ctx context.Context, cmd command) {
	n.metrics.Commands.WithLabelValues(cmd.name()).Inc()

	switch c := cmd.(type) {
	case startListeningCmd:
		addrs, err := n.startListening(c.addr)
		c.done.Complete(addrs, opError(PhaseListen, err))

	case dialCmd:
		n.dial(c)

	case startProvidingCmd:
		id := n.session.StartProviding(c.hash)
		if err := n.pending.provide.Insert(id, c.done); err != nil {
			c.fail(opError(PhaseProvide, err))
		}

	case getProvidersCmd:
		id := n.session.GetProviders(c.hash)
		if err := n.pending.providers.Insert(id, c.done); err != nil {
			c.fail(opError(PhaseLookup, err))
		}

	case requestBlockCmd:
		id := n.session.SendRequest(c.peer, c.hash)
		if err := n.pending.request.Insert(id, c.done); err != nil {
			c.fail(opError(PhaseFetch, err))
			return
		}
		n.requested[id] = c.hash

	case respondBlockCmd:
		var err error
		if c.block == nil {
			err = c.channel.Reject()
		} else {
			err = c.channel.Send(c.block)
		}
		c.done.Complete(struct{}{}, opError(PhaseRespond, err))

	case getPeersCmd:
		id := n.session.GetClosestPeers(c.peer)
		if err := n.pending.closestPeers.Insert(id, c.done); err != nil {
			c.fail(opError(PhaseClosestPeers, err))
		}

	case putRecordCmd:
		n.putRecord(c)

	case storeItemCmd:
		h, err := n.storeItem(ctx, c.entry, c.block)
		c.done.Complete(h, opError(PhaseStore, err))

	case getLocalCmd:
		b, err := n.getLocal(ctx, c.hash)
		c.done.Complete(b, err)

	case statusCmd:
		c.done.Complete(n.status(), nil)

	default:
		n.logger.Warn("Unhandled command", zap.String("command", cmd.name()))
		cmd.fail(errors.New("node: unhandled command"))
	}
}

// startListening opens every transport address addr expands to. On the
// first failure the listeners opened so far are closed again.
func (n *Node) startListening(addr ma.Multiaddr) ([]ma.Multiaddr, error) {
	var opened []ma.Multiaddr
	for _, a := range expandListenAddr(addr) {
		addrs, err := n.session.Listen(a)
		if err != nil {
			if len(opened) > 0 {
				n.session.CloseListeners(opened...)
			}
			n.logger.Warn("Failed to listen",
				zap.Stringer("addr", a),
				zap.Error(err))
			return nil, err
		}
		opened = append(opened, addrs...)
	}
	return opened, nil
}

// expandListenAddr turns a bare host address into one QUIC and one TCP
// listen address. Addresses that already name a transport pass through.
func expandListenAddr(addr ma.Multiaddr) []ma.Multiaddr {
	hasTransport := false
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_TCP, ma.P_UDP:
			hasTransport = true
			return false
		}
		return true
	})
	if hasTransport {
		return []ma.Multiaddr{addr}
	}
	return []ma.Multiaddr{
		addr.Encapsulate(ma.StringCast("/udp/0/quic-v1")),
		addr.Encapsulate(ma.StringCast("/tcp/0")),
	}
}

func (n *Node) dial(c dialCmd) {
	if n.pending.dial.Has(c.peer) {
		c.fail(opError(PhaseDial, ErrDialInProgress))
		return
	}
	if err := n.pending.dial.Insert(c.peer, c.done); err != nil {
		c.fail(opError(PhaseDial, err))
		return
	}
	if err := n.session.Dial(c.peer, c.addrs...); err != nil {
		n.pending.dial.Resolve(c.peer, struct{}{}, opError(PhaseDial, err))
	}
}

func (n *Node) putRecord(c putRecordCmd) {
	rec, err := models.ToRecord(c.block, n.session.LocalPeer(), n.policy, n.now())
	if err != nil {
		c.fail(opError(PhasePutRecord, err))
		return
	}
	id, err := n.session.PutRecord(rec)
	if err != nil {
		c.fail(opError(PhasePutRecord, err))
		return
	}
	if err := n.pending.putRecord.Insert(id, c.done); err != nil {
		c.fail(opError(PhasePutRecord, err))
	}
}

func (n *Node) storeItem(ctx context.Context, e models.Entry, b models.Block) (hash.Hash, error) {
	if n.store == nil {
		return hash.Hash{}, ErrNoStore
	}
	h, err := n.store.PutBlock(ctx, b)
	if err != nil {
		return hash.Hash{}, err
	}
	if err := n.store.PutEntry(ctx, e); err != nil {
		return hash.Hash{}, err
	}
	n.logger.Debug("Stored item",
		zap.Stringer("key", e.Key()),
		zap.Stringer("hash", h))
	return h, nil
}

func (n *Node) getLocal(ctx context.Context, h hash.Hash) (models.Block, error) {
	if n.store == nil {
		return nil, ErrNoStore
	}
	b, err := n.store.GetBlock(ctx, h)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Join(ErrNotFound, err)
	}
	return b, err
}

func (n *Node) status() Status {
	st := Status{
		Session: n.session.Status(),
		Pending: n.pending.sizes(),
		Peers:   n.book.List(),
	}
	if n.store != nil {
		st.Tiers = n.store.Tiers()
	}
	return st
}
