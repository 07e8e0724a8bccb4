package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gra-p2p/gra/internal/lifecycle"
)

// Defaults for per-peer request limiting.
const (
	DefaultRequestRate  = 50.0
	DefaultRequestBurst = 100
	DefaultIdleTimeout  = time.Minute
)

// RequestConfig configures a PeerLimiter.
type RequestConfig struct {
	// Rate is the sustained requests per second per peer; <= 0 disables
	// limiting.
	Rate  float64
	Burst int
	// IdleTimeout drops the state of peers that have been quiet this long.
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

type peerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PeerLimiter admits inbound requests with one token bucket per peer.
type PeerLimiter struct {
	mu      sync.Mutex
	buckets map[peer.ID]*peerBucket

	limit  rate.Limit
	burst  int
	idle   time.Duration
	logger *zap.Logger
	lc     *lifecycle.Manager
	now    func() time.Time
}

// NewPeerLimiter creates a limiter and starts its idle sweeper. Close stops it.
func NewPeerLimiter(cfg RequestConfig) *PeerLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(int(cfg.Rate), 1)
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	l := &PeerLimiter{
		buckets: make(map[peer.ID]*peerBucket),
		limit:   rate.Limit(cfg.Rate),
		burst:   burst,
		idle:    idle,
		logger:  logger,
		lc:      lifecycle.New(context.Background(), logger),
		now:     time.Now,
	}
	if l.Enabled() {
		l.lc.Every("ratelimit-sweep", idle, func(context.Context) { l.sweep() })
	}
	return l
}

// Enabled reports whether requests are limited at all.
func (l *PeerLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow reports whether p may make one more request now.
func (l *PeerLimiter) Allow(p peer.ID) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[p]
	if !ok {
		b = &peerBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[p] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Peers returns the number of peers with live state.
func (l *PeerLimiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *PeerLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed := 0
	for p, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, p)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("Dropped idle peer limiters", zap.Int("removed", removed))
	}
}

// Close stops the idle sweeper.
func (l *PeerLimiter) Close() {
	if l != nil {
		l.lc.Stop()
	}
}
