// Package p2p provides the libp2p session a gra node drives: the host, the
// Kademlia DHT, the block request/response protocol and the network events
// they produce.
package p2p

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-datastore"
	dsync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/net/swarm"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/lifecycle"
	"github.com/gra-p2p/gra/internal/metrics"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/ratelimit"
	"github.com/gra-p2p/gra/internal/retry"
	"github.com/gra-p2p/gra/internal/sanitize"
	"github.com/gra-p2p/gra/internal/timeouts"
)

const (
	// MDNSServiceName is the mDNS service gra nodes announce.
	MDNSServiceName = "_gra._udp"

	// DefaultMaxConnections is used when Config.MaxConnections is zero.
	DefaultMaxConnections = 100

	maintenanceInterval = time.Minute
	closeTimeout        = 10 * time.Second
)

// DHT modes accepted by Config.DHTMode.
const (
	DHTModeAuto   = "auto"
	DHTModeServer = "server"
	DHTModeClient = "client"
)

// Config holds session configuration
type Config struct {
	PrivateKey     crypto.PrivKey
	BootstrapPeers []string

	EnableMDNS         bool
	EnableNAT          bool
	EnableRelay        bool // reach NAT'd peers through relays
	EnableRelayService bool // act as a relay for others
	EnableHolePunching bool

	MaxConnections int
	DHTMode        string
	ProviderCount  int   // providers collected per lookup, 0 = until the query ends
	MaxMessageSize int64 // bytes, 0 = DefaultMaxMessageSize
	MaxUploadRate  int64 // bytes per second, 0 = unlimited

	PeerAllowlist   []string
	PeerBlocklist   []string
	PublicAddrsOnly bool

	KeepaliveInterval time.Duration // 0 disables keepalive pings
	UserAgent         string

	Timeouts *timeouts.Manager
	Metrics  *metrics.Metrics
}

// Status is a snapshot of the session.
type Status struct {
	PeerID           peer.ID
	ListenAddrs      []ma.Multiaddr
	ExternalAddrs    []ma.Multiaddr
	ConnectedPeers   []peer.ID
	RoutingTableSize int
	Reachability     network.Reachability
}

// Session is a libp2p host plus DHT. Operations return immediately with an
// ID; their outcome arrives later on Events.
type Session struct {
	host      host.Host
	dht       *dht.IpfsDHT
	mdns      mdns.Service
	sub       event.Subscription
	gater     *Gater
	cfg       Config
	logger    *zap.Logger
	timeouts  *timeouts.Manager
	metrics   *metrics.Metrics
	bandwidth *ratelimit.Bandwidth
	lc        *lifecycle.Manager
	queue     *EventQueue

	nextQuery    atomic.Uint64
	nextRequest  atomic.Uint64
	reachability atomic.Int32
	bootstrapped chan struct{}

	mu       sync.RWMutex
	closed   bool
	external []ma.Multiaddr
}

// New creates a session. It does not listen until Listen is called.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PrivateKey == nil {
		key, err := GenerateIdentity()
		if err != nil {
			return nil, err
		}
		cfg.PrivateKey = key
		logger.Debug("Generated ephemeral identity (not persisted)")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	mode, err := parseDHTMode(cfg.DHTMode)
	if err != nil {
		return nil, err
	}

	tm := cfg.Timeouts
	if tm == nil {
		tm = timeouts.NewManager(timeouts.DefaultConfig())
	}

	s := &Session{
		cfg:          cfg,
		logger:       logger,
		timeouts:     tm,
		metrics:      cfg.Metrics,
		bandwidth:    ratelimit.NewBandwidth(cfg.MaxUploadRate),
		lc:           lifecycle.New(ctx, logger),
		bootstrapped: make(chan struct{}),
	}
	s.queue = NewEventQueue()

	allow := parsePeerIDs(cfg.PeerAllowlist, "allowlist", logger)
	block := parsePeerIDs(cfg.PeerBlocklist, "blocklist", logger)
	s.gater = NewGater(allow, block, cfg.PublicAddrsOnly)
	if len(allow) > 0 {
		logger.Info("Peer allowlist enabled", zap.Int("count", len(allow)))
	}
	if len(block) > 0 {
		logger.Info("Peer blocklist enabled", zap.Int("count", len(block)))
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	lowWater := maxConns * 80 / 100
	connMgr, err := connmgr.NewConnManager(lowWater, maxConns, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivateKey),
		libp2p.NoListenAddrs,
		libp2p.ConnectionManager(connMgr),
		libp2p.ConnectionGater(s.gater),
		libp2p.AddrsFactory(s.advertisedAddrs),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, libp2p.UserAgent(cfg.UserAgent))
	}
	if cfg.EnableNAT {
		opts = append(opts, libp2p.EnableNATService(), libp2p.NATPortMap())
	}
	if cfg.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
		logger.Info("Circuit relay enabled (can reach NAT'd peers via relays)")
	} else {
		opts = append(opts, libp2p.DisableRelay())
	}
	if cfg.EnableRelayService {
		opts = append(opts, libp2p.EnableRelayService())
		logger.Info("Relay service enabled")
	}
	if cfg.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching(holepunch.WithTracer(holePunchTracer{s})))
		logger.Debug("NAT hole punching enabled")
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}
	s.host = h

	bootstrap := parseBootstrapPeers(cfg.BootstrapPeers, logger)
	s.dht, err = dht.New(s.lc.Context(), h,
		dht.Mode(mode),
		dht.ProtocolPrefix(DHTPrefix),
		dht.NamespacedValidator(RecordNamespace, NewRecordValidator()),
		dht.Datastore(dsync.MutexWrap(datastore.NewMapDatastore())),
		dht.BootstrapPeers(bootstrap...),
	)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	s.sub, err = h.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalReachabilityChanged),
	})
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("failed to subscribe to host events: %w", err)
	}

	h.Network().Notify(&network.NotifyBundle{
		ListenF: func(_ network.Network, a ma.Multiaddr) {
			s.emit(ListenAddrAdded{Addr: a})
		},
		ListenCloseF: func(_ network.Network, a ma.Multiaddr) {
			s.emit(ListenAddrClosed{Addr: a})
		},
		ConnectedF: func(_ network.Network, c network.Conn) {
			// Outbound connections are reported by the dial that made them.
			if c.Stat().Direction == network.DirInbound {
				s.emit(ConnectionEstablished{Peer: c.RemotePeer(), Addr: c.RemoteMultiaddr()})
			}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			s.emit(ConnectionClosed{Peer: c.RemotePeer(), Addr: c.RemoteMultiaddr()})
		},
	})
	h.SetStreamHandler(protocol.ID(ProtocolBlock), s.handleStream)

	s.lc.Go("events", s.queue.Run)
	s.lc.Go("host-events", s.watchHost)

	if cfg.EnableMDNS {
		svc := mdns.NewMdnsService(h, MDNSServiceName, mdnsNotifee{s})
		if err := svc.Start(); err != nil {
			logger.Warn("Failed to start mDNS discovery",
				zap.String("service", MDNSServiceName),
				zap.Error(err))
		} else {
			s.mdns = svc
			logger.Info("Started mDNS discovery", zap.String("service", MDNSServiceName))
		}
	}

	s.lc.Go("bootstrap", func(ctx context.Context) { s.bootstrap(ctx, bootstrap) })
	s.lc.Every("maintenance", maintenanceInterval, s.maintain)
	if cfg.KeepaliveInterval > 0 {
		s.lc.Every("keepalive", cfg.KeepaliveInterval, s.keepalive)
	}

	logger.Info("Created P2P session",
		zap.String("peerID", h.ID().String()),
		zap.String("dhtMode", cfg.DHTMode),
		zap.Int("maxConnections", maxConns))

	return s, nil
}

func (s *Session) abort() {
	s.lc.Stop()
	if s.dht != nil {
		_ = s.dht.Close()
	}
	if err := s.host.Close(); err != nil {
		s.logger.Debug("Failed to close host during cleanup", zap.Error(err))
	}
}

func parseDHTMode(mode string) (dht.ModeOpt, error) {
	switch strings.ToLower(mode) {
	case "", DHTModeAuto:
		return dht.ModeAuto, nil
	case DHTModeServer:
		return dht.ModeServer, nil
	case DHTModeClient:
		return dht.ModeClient, nil
	default:
		return 0, fmt.Errorf("unknown DHT mode %q", mode)
	}
}

func parsePeerIDs(list []string, kind string, logger *zap.Logger) []peer.ID {
	ids := make([]peer.ID, 0, len(list))
	for _, s := range list {
		id, err := peer.Decode(s)
		if err != nil {
			logger.Warn("Invalid peer ID in "+kind, zap.String("peer", sanitize.String(s)), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parseBootstrapPeers(addrs []string, logger *zap.Logger) []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			logger.Warn("Invalid bootstrap address", zap.String("addr", sanitize.String(s)), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("Failed to parse bootstrap peer", zap.String("addr", s), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

// Events delivers network events in the order they happened. It is closed
// once the session is closed.
func (s *Session) Events() <-chan Event { return s.queue.Out() }

// LocalPeer returns our peer ID
func (s *Session) LocalPeer() peer.ID { return s.host.ID() }

// Host returns the underlying libp2p host.
func (s *Session) Host() host.Host { return s.host }

// Bootstrapped is closed once the initial bootstrap round has finished.
func (s *Session) Bootstrapped() <-chan struct{} { return s.bootstrapped }

func (s *Session) emit(ev Event) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(EventName(ev)).Inc()
	}
	s.queue.Push(ev)
}

// spawn runs fn in a tracked goroutine unless the session is closed.
func (s *Session) spawn(name string, fn func(ctx context.Context)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.lc.Go(name, fn)
	return true
}

// Listen opens listeners for addr and returns the addresses actually bound.
func (s *Session) Listen(addr ma.Multiaddr) ([]ma.Multiaddr, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	before := make(map[string]struct{})
	for _, a := range s.host.Network().ListenAddresses() {
		before[string(a.Bytes())] = struct{}{}
	}

	if err := s.host.Network().Listen(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	var opened []ma.Multiaddr
	for _, a := range s.host.Network().ListenAddresses() {
		if _, ok := before[string(a.Bytes())]; !ok {
			opened = append(opened, a)
		}
	}
	return opened, nil
}

// CloseListeners stops listening on addrs.
func (s *Session) CloseListeners(addrs ...ma.Multiaddr) {
	if len(addrs) == 0 {
		return
	}
	sw, ok := s.host.Network().(*swarm.Swarm)
	if !ok {
		s.logger.Warn("Cannot close listeners on this network")
		return
	}
	sw.ListenClose(addrs...)
}

// Dial connects to p. The outcome arrives as ConnectionEstablished with
// Outbound set, or as OutgoingConnectionError.
func (s *Session) Dial(p peer.ID, addrs ...ma.Multiaddr) error {
	if p == s.host.ID() {
		return ErrDialSelf
	}
	started := s.spawn("dial", func(ctx context.Context) {
		ctx, cancel := s.timeouts.WithTimeout(ctx, timeouts.OpDial)
		defer cancel()

		start := time.Now()
		err := s.host.Connect(ctx, peer.AddrInfo{ID: p, Addrs: addrs})
		s.timeouts.Observe(timeouts.OpDial, start, err)
		if err != nil {
			s.emit(OutgoingConnectionError{Peer: p, Err: err})
			return
		}

		var remote ma.Multiaddr
		if conns := s.host.Network().ConnsToPeer(p); len(conns) > 0 {
			remote = conns[0].RemoteMultiaddr()
		}
		s.emit(ConnectionEstablished{Peer: p, Addr: remote, Outbound: true})
	})
	if !started {
		return ErrClosed
	}
	return nil
}

func (s *Session) newQuery() QueryID {
	return QueryID(s.nextQuery.Add(1))
}

func (s *Session) queryTimer(query string) *metrics.Timer {
	if s.metrics == nil {
		return metrics.NewTimer(nil)
	}
	return metrics.NewTimer(s.metrics.DHTQueryDuration.WithLabelValues(query))
}

// runQuery runs fn for id in the background; if the session is already
// closed the query fails with ErrClosed right away.
func (s *Session) runQuery(id QueryID, name string, op timeouts.Operation, fn func(ctx context.Context) QueryResult, closed QueryResult) {
	started := s.spawn(name, func(ctx context.Context) {
		ctx, cancel := s.timeouts.WithTimeout(ctx, op)
		defer cancel()
		s.emit(QueryProgressed{ID: id, Result: fn(ctx)})
	})
	if !started {
		s.queue.Push(QueryProgressed{ID: id, Result: closed})
	}
}

// StartProviding announces that we provide h.
func (s *Session) StartProviding(h hash.Hash) QueryID {
	id := s.newQuery()
	s.runQuery(id, "provide", timeouts.OpProvide, func(ctx context.Context) QueryResult {
		// An allowlisted swarm stays off the public DHT.
		if s.gater.Private() {
			s.logger.Debug("Skipping DHT announcement (private swarm)", zap.Stringer("hash", h))
			return StartProvidingResult{Key: h}
		}
		timer := s.queryTimer("provide")
		start := time.Now()
		err := s.dht.Provide(ctx, h.CID(), true)
		timer.ObserveDuration()
		s.timeouts.Observe(timeouts.OpProvide, start, err)
		if err != nil {
			err = fmt.Errorf("failed to provide: %w", err)
		}
		return StartProvidingResult{Key: h, Err: err}
	}, StartProvidingResult{Key: h, Err: ErrClosed})
	return id
}

// GetProviders looks up every provider of h other than ourselves.
func (s *Session) GetProviders(h hash.Hash) QueryID {
	id := s.newQuery()
	s.runQuery(id, "find-providers", timeouts.OpFindProviders, func(ctx context.Context) QueryResult {
		timer := s.queryTimer("find_providers")
		start := time.Now()

		seen := make(map[peer.ID]struct{})
		var providers []peer.ID
		for info := range s.dht.FindProvidersAsync(ctx, h.CID(), s.cfg.ProviderCount) {
			if info.ID == s.host.ID() || !s.gater.Allowed(info.ID) {
				continue
			}
			if _, dup := seen[info.ID]; dup {
				continue
			}
			seen[info.ID] = struct{}{}
			if addrs := s.gater.FilterAddrs(info.Addrs); len(addrs) > 0 {
				s.host.Peerstore().AddAddrs(info.ID, addrs, peerstore.TempAddrTTL)
			}
			providers = append(providers, info.ID)
		}

		timer.ObserveDuration()
		var err error
		if len(providers) == 0 && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrNoProvidersFound, ctx.Err())
		}
		s.timeouts.Observe(timeouts.OpFindProviders, start, err)
		return GetProvidersResult{Key: h, Providers: providers, Err: err}
	}, GetProvidersResult{Key: h, Err: ErrClosed})
	return id
}

// GetClosestPeers walks the DHT toward p.
func (s *Session) GetClosestPeers(p peer.ID) QueryID {
	id := s.newQuery()
	s.runQuery(id, "closest-peers", timeouts.OpClosestPeers, func(ctx context.Context) QueryResult {
		timer := s.queryTimer("closest_peers")
		start := time.Now()
		peers, err := s.dht.GetClosestPeers(ctx, string(p))
		timer.ObserveDuration()
		s.timeouts.Observe(timeouts.OpClosestPeers, start, err)
		if err != nil {
			err = fmt.Errorf("failed to find closest peers: %w", err)
		}
		return GetClosestPeersResult{Key: p, Peers: peers, Err: err}
	}, GetClosestPeersResult{Key: p, Err: ErrClosed})
	return id
}

// PutRecord stores rec in the DHT under RecordKey(rec.Key).
func (s *Session) PutRecord(rec models.Record) (QueryID, error) {
	if len(rec.Key) == 0 {
		return 0, ErrInvalidRecordKey
	}
	value, err := rec.MarshalValue()
	if err != nil {
		return 0, err
	}
	key := RecordKey(rec.Key)

	id := s.newQuery()
	s.runQuery(id, "put-record", timeouts.OpPutRecord, func(ctx context.Context) QueryResult {
		timer := s.queryTimer("put_record")
		start := time.Now()
		err := s.dht.PutValue(ctx, key, value)
		timer.ObserveDuration()
		s.timeouts.Observe(timeouts.OpPutRecord, start, err)
		if err != nil {
			err = fmt.Errorf("failed to put record: %w", err)
		}
		return PutRecordResult{Key: rec.Key, Err: err}
	}, PutRecordResult{Key: rec.Key, Err: ErrClosed})
	return id, nil
}

// AddExternalAddr advertises addr as one of our addresses.
func (s *Session) AddExternalAddr(addr ma.Multiaddr) {
	if addr == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.external {
		if a.Equal(addr) {
			return
		}
	}
	s.external = append(s.external, addr)
}

// AddAddrs records addresses for p in the address book.
func (s *Session) AddAddrs(p peer.ID, addrs []ma.Multiaddr) {
	if p == s.host.ID() {
		return
	}
	if addrs = s.gater.FilterAddrs(addrs); len(addrs) > 0 {
		s.host.Peerstore().AddAddrs(p, addrs, peerstore.AddressTTL)
	}
}

func (s *Session) externalAddrs() []ma.Multiaddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ma.Multiaddr(nil), s.external...)
}

// advertisedAddrs is the host's address factory: listen addresses plus
// the external addresses peers reported for us.
func (s *Session) advertisedAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	for _, ext := range s.externalAddrs() {
		known := false
		for _, a := range addrs {
			if a.Equal(ext) {
				known = true
				break
			}
		}
		if !known {
			addrs = append(addrs, ext)
		}
	}
	return addrs
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	return Status{
		PeerID:           s.host.ID(),
		ListenAddrs:      s.host.Network().ListenAddresses(),
		ExternalAddrs:    s.externalAddrs(),
		ConnectedPeers:   s.host.Network().Peers(),
		RoutingTableSize: s.dht.RoutingTable().Size(),
		Reachability:     network.Reachability(s.reachability.Load()),
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close shuts the session down. The events channel is closed once every
// background task has stopped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs error
	if s.mdns != nil {
		errs = multierr.Append(errs, s.mdns.Close())
	}
	if s.sub != nil {
		errs = multierr.Append(errs, s.sub.Close())
	}
	errs = multierr.Append(errs, s.dht.Close())
	errs = multierr.Append(errs, s.host.Close())
	if err := s.lc.StopTimeout(closeTimeout); err != nil {
		s.logger.Warn("Background tasks did not stop in time", zap.Error(err))
	}
	s.queue.Close()
	return errs
}

func (s *Session) bootstrap(ctx context.Context, peers []peer.AddrInfo) {
	defer close(s.bootstrapped)
	if len(peers) == 0 {
		return
	}

	s.logger.Info("Starting DHT bootstrap", zap.Int("bootstrapPeers", len(peers)))

	var wg sync.WaitGroup
	for _, info := range peers {
		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			err := retry.Do(ctx, retry.Policy{
				Attempts: 3,
				Backoff:  retry.Exponential(time.Second, 10*time.Second),
				OnRetry: func(attempt int, err error, wait time.Duration) {
					s.logger.Debug("Retrying bootstrap peer",
						zap.String("peer", info.ID.String()),
						zap.Int("attempt", attempt),
						zap.Duration("wait", wait),
						zap.Error(err))
				},
			}, func(ctx context.Context) error {
				ctx, cancel := s.timeouts.WithTimeout(ctx, timeouts.OpBootstrapPeers)
				defer cancel()
				start := time.Now()
				err := s.host.Connect(ctx, info)
				s.timeouts.Observe(timeouts.OpBootstrapPeers, start, err)
				return err
			})
			if err != nil {
				s.logger.Debug("Failed to connect to bootstrap peer",
					zap.String("peer", info.ID.String()),
					zap.Error(err))
				return
			}
			s.logger.Debug("Connected to bootstrap peer", zap.String("peer", info.ID.String()))
		}(info)
	}
	wg.Wait()

	if err := s.dht.Bootstrap(ctx); err != nil {
		s.logger.Error("DHT bootstrap failed", zap.Error(err))
		return
	}
	s.logger.Info("DHT bootstrap complete",
		zap.Int("routingTableSize", s.dht.RoutingTable().Size()))
	s.updateGauges()
}

func (s *Session) maintain(context.Context) {
	s.timeouts.Decay(0.1)
	s.updateGauges()
}

func (s *Session) updateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.RoutingTableSize.Set(float64(s.dht.RoutingTable().Size()))
	s.metrics.ConnectedPeers.Set(float64(len(s.host.Network().Peers())))
}

// keepalive pings every connected peer so idle connections are not pruned.
func (s *Session) keepalive(ctx context.Context) {
	peers := s.host.Network().Peers()
	if len(peers) == 0 {
		return
	}
	s.logger.Debug("Sending keepalive pings", zap.Int("peers", len(peers)))

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p peer.ID) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			res := <-ping.Ping(ctx, s.host, p)
			if res.Error != nil {
				s.logger.Debug("Keepalive ping failed", zap.String("peer", p.String()), zap.Error(res.Error))
			}
		}(p)
	}
	wg.Wait()
}

// watchHost turns host event bus notifications into session events.
func (s *Session) watchHost(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.sub.Out():
			if !ok {
				return
			}
			switch ev := e.(type) {
			case event.EvtPeerIdentificationCompleted:
				s.emit(IdentifyReceived{
					Peer:         ev.Peer,
					ObservedAddr: ev.ObservedAddr,
					AgentVersion: ev.AgentVersion,
					ListenAddrs:  ev.ListenAddrs,
				})
			case event.EvtLocalReachabilityChanged:
				s.reachability.Store(int32(ev.Reachability))
				s.emit(ReachabilityChanged{Reachability: ev.Reachability})
			}
		}
	}
}

type holePunchTracer struct{ s *Session }

func (t holePunchTracer) Trace(evt *holepunch.Event) {
	if end, ok := evt.Evt.(*holepunch.EndHolePunchEvt); ok {
		t.s.emit(HolePunch{Peer: evt.Remote, Success: end.Success, Err: end.Error})
	}
}

type mdnsNotifee struct{ s *Session }

// HandlePeerFound implements mdns.Notifee
func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	s := n.s
	if info.ID == s.host.ID() {
		return
	}
	s.emit(PeerDiscovered{Info: info})
	s.spawn("mdns-connect", func(ctx context.Context) {
		ctx, cancel := s.timeouts.WithTimeout(ctx, timeouts.OpDial)
		defer cancel()
		if err := s.host.Connect(ctx, info); err != nil {
			s.logger.Debug("Failed to connect to mDNS discovered peer",
				zap.String("peer", info.ID.String()),
				zap.Error(err))
		}
	})
}
