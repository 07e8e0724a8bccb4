package p2p

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Gater implements connmgr.ConnectionGater with a peer allowlist, a peer
// blocklist and an optional refusal of non-public addresses.
type Gater struct {
	mu         sync.RWMutex
	allowlist  map[peer.ID]struct{}
	blocklist  map[peer.ID]struct{}
	publicOnly bool
}

// NewGater creates a gater. An empty allowlist admits every peer that is
// not blocked.
func NewGater(allowlist, blocklist []peer.ID, publicOnly bool) *Gater {
	g := &Gater{
		allowlist:  make(map[peer.ID]struct{}, len(allowlist)),
		blocklist:  make(map[peer.ID]struct{}, len(blocklist)),
		publicOnly: publicOnly,
	}
	for _, p := range allowlist {
		g.allowlist[p] = struct{}{}
	}
	for _, p := range blocklist {
		g.blocklist[p] = struct{}{}
	}
	return g
}

// Private reports whether an allowlist restricts the swarm.
func (g *Gater) Private() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.allowlist) > 0
}

// Allow adds p to the allowlist
func (g *Gater) Allow(p peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowlist[p] = struct{}{}
}

// Block adds p to the blocklist
func (g *Gater) Block(p peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocklist[p] = struct{}{}
}

// Unblock removes p from the blocklist
func (g *Gater) Unblock(p peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocklist, p)
}

// Allowed reports whether p may connect.
func (g *Gater) Allowed(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, blocked := g.blocklist[p]; blocked {
		return false
	}
	if len(g.allowlist) > 0 {
		_, ok := g.allowlist[p]
		return ok
	}
	return true
}

// AddrAllowed reports whether addr may be dialed or accepted.
func (g *Gater) AddrAllowed(addr ma.Multiaddr) bool {
	if !g.publicOnly || addr == nil {
		return true
	}
	return manet.IsPublicAddr(addr)
}

// FilterAddrs drops the addresses AddrAllowed refuses.
func (g *Gater) FilterAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	if !g.publicOnly {
		return addrs
	}
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if g.AddrAllowed(a) {
			out = append(out, a)
		}
	}
	return out
}

func (g *Gater) InterceptPeerDial(p peer.ID) bool {
	return g.Allowed(p)
}

func (g *Gater) InterceptAddrDial(p peer.ID, addr ma.Multiaddr) bool {
	return g.AddrAllowed(addr) && g.Allowed(p)
}

func (g *Gater) InterceptAccept(addrs network.ConnMultiaddrs) bool {
	if addrs == nil {
		return true
	}
	return g.AddrAllowed(addrs.RemoteMultiaddr())
}

func (g *Gater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return g.Allowed(p)
}

func (g *Gater) InterceptUpgraded(conn network.Conn) (bool, control.DisconnectReason) {
	return g.Allowed(conn.RemotePeer()), 0
}
