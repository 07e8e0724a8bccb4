package node

import (
	"context"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gra-p2p/gra/internal/metrics"
	"github.com/gra-p2p/gra/internal/p2p"
	"github.com/gra-p2p/gra/internal/storage"
	"github.com/gra-p2p/gra/internal/timeouts"
)

func startLibp2pNode(t *testing.T) (*Node, *Client) {
	t.Helper()
	return startLibp2pNodeWith(t, metrics.New())
}

// startLibp2pNodeWith shares m between the session and the node, the way the
// daemon wires them.
func startLibp2pNodeWith(t *testing.T, m *metrics.Metrics) (*Node, *Client) {
	t.Helper()
	s, err := p2p.New(context.Background(), p2p.Config{
		DHTMode:  p2p.DHTModeServer,
		Timeouts: timeouts.NewManager(timeouts.Config{Request: 10 * time.Second}),
		Metrics:  m,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	store, err := storage.NewModels(storage.NewMemory(0))
	require.NoError(t, err)

	n := New(s, Config{Store: store, Metrics: m}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = n.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-n.Done()
		_ = s.Close()
		_ = store.Close()
	})
	return n, n.Client()
}

func TestSharedMetrics_EventCountedOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := metrics.New()
	_, c := startLibp2pNodeWith(t, m)

	addrs, err := c.StartListening(ctx, ma.StringCast("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	require.Len(t, addrs, 1)

	dispatched := m.Events.WithLabelValues("listen_addr_added")
	queued := m.SessionEvents.WithLabelValues("listen_addr_added")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(dispatched) >= 1
	}, 10*time.Second, 10*time.Millisecond)

	assert.Never(t, func() bool {
		return testutil.ToFloat64(dispatched) > 1
	}, 200*time.Millisecond, 10*time.Millisecond, "listen event counted twice")
	assert.Equal(t, 1.0, testutil.ToFloat64(queued))
}

func TestEndToEnd_Libp2p(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a, aClient := startLibp2pNode(t)
	b, bClient := startLibp2pNode(t)

	addrs, err := aClient.StartListening(ctx, ma.StringCast("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	require.NoError(t, bClient.Dial(ctx, a.LocalPeer(), addrs...))

	// Both routing tables need the other peer before DHT queries work.
	require.Eventually(t, func() bool {
		as, err := aClient.Status(ctx)
		if err != nil || as.Session.RoutingTableSize == 0 {
			return false
		}
		bs, err := bClient.Status(ctx)
		return err == nil && bs.Session.RoutingTableSize > 0
	}, 30*time.Second, 50*time.Millisecond)

	items, err := aClient.AddPath(ctx, writeFile(t, "hello world"), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	want := items[0].Block.Hash()

	providers, err := bClient.GetProviders(ctx, want)
	require.NoError(t, err)
	assert.Contains(t, providers, a.LocalPeer())
	assert.NotContains(t, providers, b.LocalPeer())

	got, err := bClient.RequestBlock(ctx, want, nil)
	require.NoError(t, err)
	assert.True(t, got.Hash().Equal(want))
}
