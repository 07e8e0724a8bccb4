package node

import (
	"errors"
	"fmt"

	"github.com/gra-p2p/gra/internal/p2p"
)

var (
	ErrDuplicateID    = errors.New("node: correlation id already pending")
	ErrCancelled      = errors.New("node: operation cancelled")
	ErrDialInProgress = errors.New("node: dial already in progress")
	ErrNoStore        = errors.New("node: no local store")
	ErrNotFound       = errors.New("node: block not found")
	ErrHashMismatch   = errors.New("node: block does not match requested hash")
)

// errNoProviders marks a lookup that found nobody to ask.
var errNoProviders = errors.Join(ErrNotFound, p2p.ErrNoProvidersFound)

// Phase names the step of an operation that failed.
type Phase string

const (
	PhaseListen       Phase = "listen"
	PhaseDial         Phase = "dial"
	PhaseProvide      Phase = "provide"
	PhaseLookup       Phase = "lookup"
	PhaseFetch        Phase = "fetch"
	PhaseRespond      Phase = "respond"
	PhasePutRecord    Phase = "put-record"
	PhaseClosestPeers Phase = "closest-peers"
	PhaseStore        Phase = "store"
)

// OpError describes a failed client operation.
type OpError struct {
	Phase Phase
	Kind  p2p.Kind
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// opError wraps err with phase. Errors that already carry a phase keep it.
func opError(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	kind := p2p.Classify(err)
	if errors.Is(err, ErrCancelled) {
		kind = p2p.KindCancelled
	}
	return &OpError{Phase: phase, Kind: kind, Err: err}
}
