package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/sanitize"
)

func (n *Node) handleEvent(ctx context.Context, ev p2p.Event) {
	n.metrics.Events.WithLabelValues(p2p.EventName(ev)).Inc()

	switch e := ev.(type) {
	case p2p.ListenAddrAdded:
		n.logger.Info("Listening", zap.Stringer("addr", e.Addr))

	case p2p.ListenAddrClosed:
		n.logger.Info("Stopped listening", zap.Stringer("addr", e.Addr))

	case p2p.ConnectionEstablished:
		n.logger.Debug("Connection established",
			zap.Stringer("peer", e.Peer),
			zap.Bool("outbound", e.Outbound))
		if e.Outbound {
			// Connections we did not ask for (mDNS, DHT) have no dial pending.
			n.pending.dial.Resolve(e.Peer, struct{}{}, nil)
		}

	case p2p.ConnectionClosed:
		n.logger.Debug("Connection closed", zap.Stringer("peer", e.Peer))

	case p2p.OutgoingConnectionError:
		if !n.pending.dial.Resolve(e.Peer, struct{}{}, opError(PhaseDial, e.Err)) {
			n.logger.Debug("Outgoing connection failed",
				zap.Stringer("peer", e.Peer),
				zap.Error(e.Err))
		}

	case p2p.QueryProgressed:
		n.handleQuery(e)

	case p2p.InboundRequest:
		n.handleInboundRequest(ctx, e)

	case p2p.ResponseReceived:
		n.handleResponse(e)

	case p2p.OutboundFailure:
		n.handleOutboundFailure(e)

	case p2p.InboundFailure:
		n.metrics.InboundRequests.WithLabelValues("failed").Inc()
		n.logger.Debug("Inbound request failed",
			zap.Stringer("peer", e.Peer),
			zap.String("error", sanitize.Error(e.Err)))

	case p2p.ResponseSent:
		n.logger.Debug("Response sent", zap.Stringer("peer", e.Peer))

	case p2p.IdentifyReceived:
		if e.ObservedAddr != nil {
			n.session.AddExternalAddr(e.ObservedAddr)
		}
		if len(e.ListenAddrs) > 0 {
			n.session.AddAddrs(e.Peer, e.ListenAddrs)
		}
		n.logger.Debug("Identified peer",
			zap.Stringer("peer", e.Peer),
			zap.String("agent", sanitize.String(e.AgentVersion)),
			zap.String("observed", sanitize.Multiaddr(e.ObservedAddr)))

	case p2p.ReachabilityChanged:
		n.logger.Info("Reachability changed", zap.String("reachability", e.Reachability.String()))

	case p2p.HolePunch:
		if e.Success {
			n.logger.Debug("Hole punch succeeded", zap.Stringer("peer", e.Peer))
		} else {
			n.logger.Debug("Hole punch failed",
				zap.Stringer("peer", e.Peer),
				zap.String("error", sanitize.String(e.Err)))
		}

	case p2p.PeerDiscovered:
		n.session.AddAddrs(e.Info.ID, e.Info.Addrs)
		n.logger.Debug("Discovered peer", zap.Stringer("peer", e.Info.ID))

	default:
		n.logger.Warn("Unhandled event", zap.String("event", p2p.EventName(ev)))
	}
}
