package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/storage"
)

// handleInboundRequest serves a request from the store, or hands it to the
// owner of the node through Inbound.
func (n *Node) handleInboundRequest(ctx context.Context, e p2p.InboundRequest) {
	logger := n.logger.With(
		zap.Stringer("peer", e.Peer),
		zap.Stringer("hash", e.Request.Hash))

	if !n.limiter.Allow(e.Peer) {
		n.reject(e, "rate_limited")
		logger.Debug("Rejected request over rate limit")
		return
	}

	if n.store == nil {
		select {
		case n.inbound <- e:
			n.metrics.InboundRequests.WithLabelValues("forwarded").Inc()
		default:
			n.reject(e, "dropped")
			logger.Warn("Inbound queue full, rejected request")
		}
		return
	}

	b, err := n.store.GetBlock(ctx, e.Request.Hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			n.reject(e, "not_found")
			return
		}
		n.reject(e, "error")
		logger.Warn("Failed to read requested block", zap.Error(err))
		return
	}
	if err := e.Channel.Send(b); err != nil {
		n.metrics.InboundRequests.WithLabelValues("failed").Inc()
		logger.Debug("Failed to send block", zap.Error(err))
		return
	}
	n.metrics.InboundRequests.WithLabelValues("served").Inc()
}

func (n *Node) reject(e p2p.InboundRequest, result string) {
	n.metrics.InboundRequests.WithLabelValues(result).Inc()
	if err := e.Channel.Reject(); err != nil {
		n.logger.Debug("Failed to reject request",
			zap.Stringer("peer", e.Peer),
			zap.Error(err))
	}
}

func (n *Node) handleResponse(e p2p.ResponseReceived) {
	want, ok := n.requested[e.ID]
	if !ok {
		n.anomaly("Response for unknown request",
			zap.Stringer("peer", e.Peer),
			zap.Uint64("request", uint64(e.ID)))
		return
	}
	delete(n.requested, e.ID)

	// A Ref hashes to its target, so it would pass the check below while
	// carrying none of the requested content.
	if ref, ok := e.Block.(*models.Ref); ok {
		n.metrics.BlockRequests.WithLabelValues("ref").Inc()
		n.logger.Warn("Peer answered with a reference instead of the block",
			zap.Stringer("peer", e.Peer),
			zap.Stringer("want", want),
			zap.Stringer("target", ref.Target))
		n.pending.request.Resolve(e.ID, nil,
			opError(PhaseFetch, fmt.Errorf("%w: got a reference to %s", ErrHashMismatch, ref.Target)))
		return
	}

	if got := e.Block.Hash(); !got.Equal(want) {
		n.metrics.BlockRequests.WithLabelValues("mismatch").Inc()
		n.logger.Warn("Peer sent a block that does not match the request",
			zap.Stringer("peer", e.Peer),
			zap.Stringer("want", want),
			zap.Stringer("got", got))
		n.pending.request.Resolve(e.ID, nil, opError(PhaseFetch, ErrHashMismatch))
		return
	}

	n.metrics.BlockRequests.WithLabelValues("success").Inc()
	n.book.Credit(e.Peer)
	n.pending.request.Resolve(e.ID, e.Block, nil)
}

func (n *Node) handleOutboundFailure(e p2p.OutboundFailure) {
	if _, ok := n.requested[e.ID]; !ok {
		n.anomaly("Failure for unknown request",
			zap.Stringer("peer", e.Peer),
			zap.Uint64("request", uint64(e.ID)))
		return
	}
	delete(n.requested, e.ID)

	n.metrics.BlockRequests.WithLabelValues("failure").Inc()
	n.logger.Debug("Block request failed",
		zap.Stringer("peer", e.Peer),
		zap.Error(e.Err))
	n.pending.request.Resolve(e.ID, nil, opError(PhaseFetch, e.Err))
}
