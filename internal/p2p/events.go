package p2p

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
)

// QueryID identifies one DHT query issued through a session.
type QueryID uint64

// RequestID identifies one outbound block request.
type RequestID uint64

// Event is something the network reports to the node.
type Event interface {
	isEvent()
}

// ListenAddrAdded reports a new local listen address.
type ListenAddrAdded struct {
	Addr ma.Multiaddr
}

// ListenAddrClosed reports a listen address that stopped listening.
type ListenAddrClosed struct {
	Addr ma.Multiaddr
}

// ConnectionEstablished reports a new connection. Outbound is set for
// connections made by Dial.
type ConnectionEstablished struct {
	Peer     peer.ID
	Addr     ma.Multiaddr
	Outbound bool
}

// ConnectionClosed reports a connection that went away.
type ConnectionClosed struct {
	Peer peer.ID
	Addr ma.Multiaddr
}

// OutgoingConnectionError reports a Dial that failed.
type OutgoingConnectionError struct {
	Peer peer.ID
	Err  error
}

// QueryProgressed carries the outcome of a DHT query.
type QueryProgressed struct {
	ID     QueryID
	Result QueryResult
}

// QueryResult is the payload of QueryProgressed.
type QueryResult interface {
	isQueryResult()
}

// StartProvidingResult ends a StartProviding query.
type StartProvidingResult struct {
	Key hash.Hash
	Err error
}

// GetProvidersResult ends a GetProviders query with every provider found.
type GetProvidersResult struct {
	Key       hash.Hash
	Providers []peer.ID
	Err       error
}

// GetClosestPeersResult ends a GetClosestPeers query.
type GetClosestPeersResult struct {
	Key   peer.ID
	Peers []peer.ID
	Err   error
}

// PutRecordResult ends a PutRecord query.
type PutRecordResult struct {
	Key []byte
	Err error
}

// InboundRequest is a block request from a remote peer. Exactly one of
// Channel.Send or Channel.Reject answers it.
type InboundRequest struct {
	Peer    peer.ID
	Request BlockRequest
	Channel ResponseChannel
}

// ResponseReceived answers an outbound request. Block has been decoded but
// not verified against the requested hash.
type ResponseReceived struct {
	Peer  peer.ID
	ID    RequestID
	Block models.Block
}

// OutboundFailure ends an outbound request without a block.
type OutboundFailure struct {
	Peer peer.ID
	ID   RequestID
	Err  error
}

// InboundFailure reports an inbound request that could not be read or
// answered.
type InboundFailure struct {
	Peer peer.ID
	Err  error
}

// ResponseSent reports a response fully written to a peer.
type ResponseSent struct {
	Peer peer.ID
}

// IdentifyReceived carries what a peer told us during identify.
type IdentifyReceived struct {
	Peer         peer.ID
	ObservedAddr ma.Multiaddr
	AgentVersion string
	ListenAddrs  []ma.Multiaddr
}

// ReachabilityChanged reports a change of our own NAT reachability.
type ReachabilityChanged struct {
	Reachability network.Reachability
}

// HolePunch reports the end of a hole punching attempt.
type HolePunch struct {
	Peer    peer.ID
	Success bool
	Err     string
}

// PeerDiscovered reports a peer found on the local network.
type PeerDiscovered struct {
	Info peer.AddrInfo
}

func (ListenAddrAdded) isEvent()         {}
func (ListenAddrClosed) isEvent()        {}
func (ConnectionEstablished) isEvent()   {}
func (ConnectionClosed) isEvent()        {}
func (OutgoingConnectionError) isEvent() {}
func (QueryProgressed) isEvent()         {}
func (InboundRequest) isEvent()          {}
func (ResponseReceived) isEvent()        {}
func (OutboundFailure) isEvent()         {}
func (InboundFailure) isEvent()          {}
func (ResponseSent) isEvent()            {}
func (IdentifyReceived) isEvent()        {}
func (ReachabilityChanged) isEvent()     {}
func (HolePunch) isEvent()               {}
func (PeerDiscovered) isEvent()          {}

func (StartProvidingResult) isQueryResult()  {}
func (GetProvidersResult) isQueryResult()    {}
func (GetClosestPeersResult) isQueryResult() {}
func (PutRecordResult) isQueryResult()       {}

// EventName is a stable label for metrics and logs.
func EventName(ev Event) string {
	switch e := ev.(type) {
	case ListenAddrAdded:
		return "listen_addr_added"
	case ListenAddrClosed:
		return "listen_addr_closed"
	case ConnectionEstablished:
		return "connection_established"
	case ConnectionClosed:
		return "connection_closed"
	case OutgoingConnectionError:
		return "outgoing_connection_error"
	case QueryProgressed:
		switch e.Result.(type) {
		case StartProvidingResult:
			return "query_start_providing"
		case GetProvidersResult:
			return "query_get_providers"
		case GetClosestPeersResult:
			return "query_closest_peers"
		case PutRecordResult:
			return "query_put_record"
		}
		return "query_unknown"
	case InboundRequest:
		return "inbound_request"
	case ResponseReceived:
		return "response_received"
	case OutboundFailure:
		return "outbound_failure"
	case InboundFailure:
		return "inbound_failure"
	case ResponseSent:
		return "response_sent"
	case IdentifyReceived:
		return "identify_received"
	case ReachabilityChanged:
		return "reachability_changed"
	case HolePunch:
		return "hole_punch"
	case PeerDiscovered:
		return "peer_discovered"
	default:
		return "unknown"
	}
}
