package node

import (
	"errors"

	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/p2p"
)

func (n *Node) handleQuery(e p2p.QueryProgressed) {
	var resolved bool
	switch r := e.Result.(type) {
	case p2p.StartProvidingResult:
		resolved = n.pending.provide.Resolve(e.ID, struct{}{}, opError(PhaseProvide, r.Err))
		if resolved && r.Err == nil {
			n.logger.Debug("Providing", zap.Stringer("hash", r.Key))
		}

	case p2p.GetProvidersResult:
		var err error
		if len(r.Providers) == 0 && r.Err != nil {
			cause := r.Err
			if errors.Is(cause, p2p.ErrNoProvidersFound) {
				cause = errors.Join(ErrNotFound, cause)
			}
			err = opError(PhaseLookup, cause)
		}
		resolved = n.pending.providers.Resolve(e.ID, r.Providers, err)
		if resolved {
			n.logger.Debug("Found providers",
				zap.Stringer("hash", r.Key),
				zap.Int("count", len(r.Providers)))
		}

	case p2p.GetClosestPeersResult:
		var err error
		if len(r.Peers) == 0 && r.Err != nil {
			err = opError(PhaseClosestPeers, r.Err)
		}
		resolved = n.pending.closestPeers.Resolve(e.ID, r.Peers, err)

	case p2p.PutRecordResult:
		resolved = n.pending.putRecord.Resolve(e.ID, struct{}{}, opError(PhasePutRecord, r.Err))

	default:
		n.anomaly("Unhandled query result", zap.Uint64("query", uint64(e.ID)))
		return
	}

	if !resolved {
		n.anomaly("Query result for unknown query",
			zap.Uint64("query", uint64(e.ID)),
			zap.String("event", p2p.EventName(e)))
	}
}
