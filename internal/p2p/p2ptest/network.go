// Package p2ptest provides an in-memory network of sessions with the same
// event semantics as the libp2p session, for deterministic tests.
package p2ptest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
)

// Network connects the sessions created from it.
type Network struct {
	mu        sync.Mutex
	sessions  map[peer.ID]*Session
	listeners map[string]peer.ID
	providers map[string]map[peer.ID]struct{}
	records   map[string][]byte
	nextPort  int

	// FailListen, when set, is consulted before every listener is opened.
	FailListen func(addr ma.Multiaddr) error

	// FailWrite, when set, is consulted before every response is
	// delivered to the peer that asked for it.
	FailWrite func(to peer.ID) error
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		sessions:  make(map[peer.ID]*Session),
		listeners: make(map[string]peer.ID),
		providers: make(map[string]map[peer.ID]struct{}),
		records:   make(map[string][]byte),
		nextPort:  40000,
	}
}

// NewSession adds a session with a fresh identity.
func (n *Network) NewSession() (*Session, error) {
	key, err := p2p.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		net:       n,
		id:        id,
		queue:     p2p.NewEventQueue(),
		cancel:    cancel,
		done:      make(chan struct{}),
		connected: make(map[peer.ID]struct{}),
		addrBook:  make(map[peer.ID][]ma.Multiaddr),
	}
	go func() {
		s.queue.Run(ctx)
		close(s.done)
	}()

	n.mu.Lock()
	n.sessions[id] = s
	n.mu.Unlock()
	return s, nil
}

func (n *Network) session(id peer.ID) *Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[id]
}

// Session is an in-memory p2p session.
type Session struct {
	net    *Network
	id     peer.ID
	queue  *p2p.EventQueue
	cancel context.CancelFunc
	done   chan struct{}

	nextQuery   atomic.Uint64
	nextRequest atomic.Uint64

	mu        sync.Mutex
	closed    bool
	listening []ma.Multiaddr
	external  []ma.Multiaddr
	connected map[peer.ID]struct{}
	addrBook  map[peer.ID][]ma.Multiaddr
	held      []func()
	holding   bool
}

func (s *Session) LocalPeer() peer.ID { return s.id }

func (s *Session) Events() <-chan p2p.Event { return s.queue.Out() }

func (s *Session) emit(ev p2p.Event) { s.queue.Push(ev) }

// HoldDials delays the outcome of every dial until release is called.
func (s *Session) HoldDials() (release func()) {
	s.mu.Lock()
	s.holding = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		held := s.held
		s.held, s.holding = nil, false
		s.mu.Unlock()
		for _, fn := range held {
			fn()
		}
	}
}

func (s *Session) Listen(addr ma.Multiaddr) ([]ma.Multiaddr, error) {
	if s.isClosed() {
		return nil, p2p.ErrClosed
	}
	if f := s.net.FailListen; f != nil {
		if err := f(addr); err != nil {
			return nil, err
		}
	}

	s.net.mu.Lock()
	bound, err := bind(addr, &s.net.nextPort)
	if err == nil {
		if _, taken := s.net.listeners[bound.String()]; taken {
			err = fmt.Errorf("address already in use: %s", bound)
		} else {
			s.net.listeners[bound.String()] = s.id
		}
	}
	s.net.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.listening = append(s.listening, bound)
	s.mu.Unlock()
	s.emit(p2p.ListenAddrAdded{Addr: bound})
	return []ma.Multiaddr{bound}, nil
}

// bind replaces a zero port with the next free one.
func bind(addr ma.Multiaddr, next *int) (ma.Multiaddr, error) {
	var parts []string
	hasTransport := false
	ma.ForEach(addr, func(c ma.Component) bool {
		value := c.Value()
		switch c.Protocol().Code {
		case ma.P_TCP, ma.P_UDP:
			hasTransport = true
			if value == "0" {
				*next++
				value = fmt.Sprint(*next)
			}
		}
		parts = append(parts, c.Protocol().Name)
		if value != "" {
			parts = append(parts, value)
		}
		return true
	})
	if !hasTransport {
		return nil, fmt.Errorf("%w: %s", p2p.ErrUnsupportedAddr, addr)
	}
	return ma.NewMultiaddr("/" + strings.Join(parts, "/"))
}

func (s *Session) CloseListeners(addrs ...ma.Multiaddr) {
	for _, a := range addrs {
		s.net.mu.Lock()
		owner, ok := s.net.listeners[a.String()]
		if ok && owner == s.id {
			delete(s.net.listeners, a.String())
		}
		s.net.mu.Unlock()
		if !ok || owner != s.id {
			continue
		}

		s.mu.Lock()
		for i, l := range s.listening {
			if l.Equal(a) {
				s.listening = append(s.listening[:i], s.listening[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		s.emit(p2p.ListenAddrClosed{Addr: a})
	}
}

// Listening returns the addresses s currently listens on.
func (s *Session) Listening() []ma.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ma.Multiaddr(nil), s.listening...)
}

func (s *Session) Dial(p peer.ID, addrs ...ma.Multiaddr) error {
	if p == s.id {
		return p2p.ErrDialSelf
	}
	if s.isClosed() {
		return p2p.ErrClosed
	}

	finish := func() {
		target := s.net.session(p)
		if target == nil || target.isClosed() || !target.reachable(addrs) {
			s.emit(p2p.OutgoingConnectionError{Peer: p, Err: fmt.Errorf("%w: %s", p2p.ErrNoRoute, p)})
			return
		}
		addr := target.firstListenAddr()
		if s.connect(p) {
			target.connect(s.id)
			target.emit(p2p.ConnectionEstablished{Peer: s.id, Addr: s.firstListenAddr()})
		}
		s.emit(p2p.ConnectionEstablished{Peer: p, Addr: addr, Outbound: true})
	}

	s.mu.Lock()
	if s.holding {
		s.held = append(s.held, finish)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	go finish()
	return nil
}

func (s *Session) reachable(addrs []ma.Multiaddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listening) == 0 {
		return false
	}
	if len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		for _, l := range s.listening {
			if l.Equal(a) {
				return true
			}
		}
	}
	return false
}

func (s *Session) firstListenAddr() ma.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listening) == 0 {
		return nil
	}
	return s.listening[0]
}

// connect records p as connected and reports whether it was new.
func (s *Session) connect(p peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connected[p]; ok {
		return false
	}
	s.connected[p] = struct{}{}
	return true
}

func (s *Session) isConnected(p peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.connected[p]
	return ok
}

func (s *Session) newQuery() p2p.QueryID {
	return p2p.QueryID(s.nextQuery.Add(1))
}

func (s *Session) finishQuery(id p2p.QueryID, res p2p.QueryResult) {
	go s.emit(p2p.QueryProgressed{ID: id, Result: res})
}

func (s *Session) StartProviding(h hash.Hash) p2p.QueryID {
	id := s.newQuery()
	s.net.mu.Lock()
	set, ok := s.net.providers[h.Key()]
	if !ok {
		set = make(map[peer.ID]struct{})
		s.net.providers[h.Key()] = set
	}
	set[s.id] = struct{}{}
	s.net.mu.Unlock()

	s.finishQuery(id, p2p.StartProvidingResult{Key: h})
	return id
}

func (s *Session) GetProviders(h hash.Hash) p2p.QueryID {
	id := s.newQuery()
	s.net.mu.Lock()
	var providers []peer.ID
	for p := range s.net.providers[h.Key()] {
		if p != s.id {
			providers = append(providers, p)
		}
	}
	s.net.mu.Unlock()
	sortPeers(providers)

	s.finishQuery(id, p2p.GetProvidersResult{Key: h, Providers: providers})
	return id
}

func (s *Session) GetClosestPeers(p peer.ID) p2p.QueryID {
	id := s.newQuery()
	s.net.mu.Lock()
	var peers []peer.ID
	for other := range s.net.sessions {
		if other != s.id {
			peers = append(peers, other)
		}
	}
	s.net.mu.Unlock()
	sortPeers(peers)

	var err error
	if len(peers) == 0 {
		err = fmt.Errorf("%w: routing table is empty", p2p.ErrNoRoute)
	}
	s.finishQuery(id, p2p.GetClosestPeersResult{Key: p, Peers: peers, Err: err})
	return id
}

func (s *Session) PutRecord(rec models.Record) (p2p.QueryID, error) {
	if len(rec.Key) == 0 {
		return 0, p2p.ErrInvalidRecordKey
	}
	value, err := rec.MarshalValue()
	if err != nil {
		return 0, err
	}
	key := p2p.RecordKey(rec.Key)
	id := s.newQuery()

	err = p2p.NewRecordValidator().Validate(key, value)
	if err == nil {
		s.net.mu.Lock()
		s.net.records[key] = value
		s.net.mu.Unlock()
	}
	s.finishQuery(id, p2p.PutRecordResult{Key: rec.Key, Err: err})
	return id, nil
}

// Record returns the stored value for a record key.
func (n *Network) Record(key []byte) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.records[p2p.RecordKey(key)]
	return v, ok
}

func (s *Session) SendRequest(p peer.ID, h hash.Hash) p2p.RequestID {
	id := p2p.RequestID(s.nextRequest.Add(1))
	go func() {
		target := s.net.session(p)
		if target == nil || target.isClosed() || !s.isConnected(p) {
			s.emit(p2p.OutboundFailure{Peer: p, ID: id, Err: fmt.Errorf("%w: %s", p2p.ErrNoRoute, p)})
			return
		}
		target.emit(p2p.InboundRequest{
			Peer:    s.id,
			Request: p2p.BlockRequest{Hash: h},
			Channel: &channel{from: s, to: target, id: id, written: make(chan error, 1)},
		})
	}()
	return id
}

// channel answers an in-memory request. Blocks are encoded and decoded as
// they would be on the wire.
type channel struct {
	from    *Session
	to      *Session
	id      p2p.RequestID
	used    atomic.Bool
	written chan error
}

func (c *channel) Peer() peer.ID { return c.from.id }

func (c *channel) Written() <-chan error { return c.written }

// deliver runs fn unless the write to the requester fails, and reports the
// outcome on Written.
func (c *channel) deliver(fn func()) {
	var err error
	if fail := c.to.net.FailWrite; fail != nil {
		err = fail(c.from.id)
	}
	if err != nil {
		c.from.emit(p2p.OutboundFailure{Peer: c.to.id, ID: c.id, Err: err})
		c.to.emit(p2p.InboundFailure{Peer: c.from.id, Err: err})
	} else {
		fn()
		c.to.emit(p2p.ResponseSent{Peer: c.from.id})
	}
	c.written <- err
	close(c.written)
}

func (c *channel) Send(b models.Block) error {
	if !c.used.CompareAndSwap(false, true) || c.from.isClosed() {
		return p2p.ErrConnectionClosed
	}
	data, err := models.Encode(b)
	if err != nil {
		return err
	}
	go c.deliver(func() {
		decoded, err := models.Decode(data)
		if err != nil {
			c.from.emit(p2p.OutboundFailure{Peer: c.to.id, ID: c.id, Err: err})
		} else {
			c.from.emit(p2p.ResponseReceived{Peer: c.to.id, ID: c.id, Block: decoded})
		}
	})
	return nil
}

func (c *channel) Reject() error {
	if !c.used.CompareAndSwap(false, true) || c.from.isClosed() {
		return p2p.ErrConnectionClosed
	}
	go c.deliver(func() {
		c.from.emit(p2p.OutboundFailure{Peer: c.to.id, ID: c.id, Err: p2p.ErrRejected})
	})
	return nil
}

// Inject delivers ev as if the network had produced it.
func (s *Session) Inject(ev p2p.Event) { s.emit(ev) }

func (s *Session) AddExternalAddr(addr ma.Multiaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.external {
		if a.Equal(addr) {
			return
		}
	}
	s.external = append(s.external, addr)
}

func (s *Session) AddAddrs(p peer.ID, addrs []ma.Multiaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrBook[p] = append(s.addrBook[p], addrs...)
}

// Addrs returns the address book entries for p.
func (s *Session) Addrs(p peer.ID) []ma.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ma.Multiaddr(nil), s.addrBook[p]...)
}

func (s *Session) Status() p2p.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]peer.ID, 0, len(s.connected))
	for p := range s.connected {
		peers = append(peers, p)
	}
	sortPeers(peers)
	return p2p.Status{
		PeerID:           s.id,
		ListenAddrs:      append([]ma.Multiaddr(nil), s.listening...),
		ExternalAddrs:    append([]ma.Multiaddr(nil), s.external...),
		ConnectedPeers:   peers,
		RoutingTableSize: len(peers),
		Reachability:     network.ReachabilityUnknown,
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close disconnects s from every peer and closes its events channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]peer.ID, 0, len(s.connected))
	for p := range s.connected {
		peers = append(peers, p)
	}
	listening := s.listening
	s.listening = nil
	s.mu.Unlock()

	s.net.mu.Lock()
	for _, a := range listening {
		delete(s.net.listeners, a.String())
	}
	delete(s.net.sessions, s.id)
	for _, set := range s.net.providers {
		delete(set, s.id)
	}
	s.net.mu.Unlock()

	for _, p := range peers {
		if other := s.net.session(p); other != nil {
			other.mu.Lock()
			delete(other.connected, s.id)
			other.mu.Unlock()
			other.emit(p2p.ConnectionClosed{Peer: s.id})
		}
	}

	s.cancel()
	<-s.done
	s.queue.Close()
	return nil
}

func sortPeers(peers []peer.ID) {
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
}
