package p2p

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/libp2p/go-libp2p/p2p/net/swarm"
)

var (
	ErrClosed            = errors.New("p2p: session closed")
	ErrConnectionClosed  = errors.New("p2p: connection closed")
	ErrRejected          = errors.New("p2p: request rejected by peer")
	ErrNoRoute           = errors.New("p2p: no route to peer")
	ErrRefused           = errors.New("p2p: connection refused")
	ErrMessageTooLarge   = errors.New("p2p: message too large")
	ErrUnsupportedAddr   = errors.New("p2p: unsupported listen address")
	ErrDialSelf          = errors.New("p2p: cannot dial self")
	ErrAlreadyListening  = errors.New("p2p: already listening on address")
	ErrNoProvidersFound  = errors.New("p2p: no providers found")
	ErrInvalidRecordKey  = errors.New("p2p: invalid record key")
	ErrRecordExpired     = errors.New("p2p: record expired")
	ErrRecordHashInvalid = errors.New("p2p: record value does not match key")
)

// Kind classifies a network failure for callers that only need to decide
// whether to retry.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindRefused   Kind = "refused"
	KindNoRoute   Kind = "no-route"
	KindCancelled Kind = "cancelled"
	KindOther     Kind = "other"
)

// Classify maps err onto a Kind.
func Classify(err error) Kind {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.Is(err, ErrRefused),
		errors.Is(err, ErrRejected),
		errors.Is(err, swarm.ErrGaterDisallowedConnection),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return KindRefused
	case errors.Is(err, ErrNoRoute),
		errors.Is(err, ErrNoProvidersFound),
		errors.Is(err, swarm.ErrNoAddresses),
		errors.Is(err, swarm.ErrNoGoodAddresses),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return KindNoRoute
	}

	// kad-dht and multistream report these as plain strings.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "failed to find any peer in table"),
		strings.Contains(msg, "no addresses"):
		return KindNoRoute
	case strings.Contains(msg, "protocols not supported"),
		strings.Contains(msg, "protocol not supported"),
		strings.Contains(msg, "connection refused"):
		return KindRefused
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	}
	return KindOther
}
