package p2p

import (
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// mockConn implements network.Conn for testing
type mockConn struct {
	network.Conn
	remotePeer peer.ID
}

func (m *mockConn) RemotePeer() peer.ID {
	return m.remotePeer
}

// mockConnMultiaddrs implements network.ConnMultiaddrs for testing
type mockConnMultiaddrs struct {
	local, remote ma.Multiaddr
}

func (m *mockConnMultiaddrs) LocalMultiaddr() ma.Multiaddr  { return m.local }
func (m *mockConnMultiaddrs) RemoteMultiaddr() ma.Multiaddr { return m.remote }

func mustMultiaddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("failed to create multiaddr %q: %v", s, err)
	}
	return a
}

func TestGater_Empty(t *testing.T) {
	gater := NewGater(nil, nil, false)

	if gater.Private() {
		t.Error("Gater without allowlist should not be private")
	}

	p := peer.ID("12D3KooWRandomPeerID")
	if !gater.InterceptPeerDial(p) {
		t.Error("Empty gater should allow all peer dials")
	}
	if !gater.InterceptAddrDial(p, nil) {
		t.Error("Empty gater should allow addr dials")
	}
	if !gater.InterceptSecured(network.DirInbound, p, nil) {
		t.Error("Empty gater should allow secured connections")
	}
	if allow, _ := gater.InterceptUpgraded(&mockConn{remotePeer: p}); !allow {
		t.Error("Empty gater should allow upgraded connections")
	}
}

func TestGater_Allowlist(t *testing.T) {
	allowed := peer.ID("12D3KooWAllowedPeer")
	other := peer.ID("12D3KooWOtherPeer")

	gater := NewGater([]peer.ID{allowed}, nil, false)

	if !gater.Private() {
		t.Error("Gater with allowlist should be private")
	}
	if !gater.InterceptPeerDial(allowed) {
		t.Error("Allowed peer should be permitted to dial")
	}
	if gater.InterceptPeerDial(other) {
		t.Error("Non-allowlisted peer should be refused")
	}
	if !gater.InterceptSecured(network.DirOutbound, allowed, nil) {
		t.Error("InterceptSecured should allow outbound to allowlisted peer")
	}
	if allow, _ := gater.InterceptUpgraded(&mockConn{remotePeer: other}); allow {
		t.Error("InterceptUpgraded should refuse non-allowlisted peer")
	}

	gater.Allow(other)
	if !gater.Allowed(other) {
		t.Error("Allow should admit the peer")
	}
}

func TestGater_BlocklistWins(t *testing.T) {
	p := peer.ID("12D3KooWBlockedPeer")
	gater := NewGater([]peer.ID{p}, []peer.ID{p}, false)

	if gater.Allowed(p) {
		t.Error("Blocked peer should be refused even when allowlisted")
	}

	gater.Unblock(p)
	if !gater.Allowed(p) {
		t.Error("Unblocked allowlisted peer should be allowed")
	}

	gater.Block(p)
	if gater.InterceptPeerDial(p) {
		t.Error("Block should refuse the peer again")
	}
}

func TestGater_PublicOnly(t *testing.T) {
	p := peer.ID("12D3KooWPeer")
	private := []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip4/10.0.0.1/tcp/4001",
		"/ip4/192.168.1.1/udp/4001/quic-v1",
		"/ip6/::1/tcp/4001",
	}
	public := []string{
		"/ip4/8.8.8.8/tcp/4001",
		"/ip4/1.1.1.1/udp/4001/quic-v1",
	}

	open := NewGater(nil, nil, false)
	strict := NewGater(nil, nil, true)

	for _, s := range private {
		addr := mustMultiaddr(t, s)
		if !open.InterceptAddrDial(p, addr) {
			t.Errorf("open gater should allow %s", s)
		}
		if strict.InterceptAddrDial(p, addr) {
			t.Errorf("public-only gater should refuse dial to %s", s)
		}
		if strict.InterceptAccept(&mockConnMultiaddrs{remote: addr}) {
			t.Errorf("public-only gater should refuse accept from %s", s)
		}
	}
	for _, s := range public {
		addr := mustMultiaddr(t, s)
		if !strict.InterceptAddrDial(p, addr) {
			t.Errorf("public-only gater should allow %s", s)
		}
		if !strict.InterceptAccept(&mockConnMultiaddrs{remote: addr}) {
			t.Errorf("public-only gater should accept from %s", s)
		}
	}

	var addrs []ma.Multiaddr
	for _, s := range append(private, public...) {
		addrs = append(addrs, mustMultiaddr(t, s))
	}
	if got := strict.FilterAddrs(addrs); len(got) != len(public) {
		t.Errorf("FilterAddrs kept %d addrs, want %d", len(got), len(public))
	}
	if got := open.FilterAddrs(addrs); len(got) != len(addrs) {
		t.Errorf("open FilterAddrs kept %d addrs, want %d", len(got), len(addrs))
	}
}

func TestGater_ConcurrentAccess(t *testing.T) {
	gater := NewGater(nil, nil, false)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := peer.ID(string(rune('a'+i)) + string(rune(j)))
				switch i {
				case 0:
					gater.Block(p)
				case 1:
					gater.Unblock(p)
				default:
					_ = gater.InterceptPeerDial(p)
				}
			}
		}(i)
	}
	wg.Wait()
}
