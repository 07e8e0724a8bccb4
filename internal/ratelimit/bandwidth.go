// Package ratelimit throttles peers: request admission per peer and
// outbound bandwidth for responses.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const (
	minBurst = 64 * 1024
	maxBurst = 4 * 1024 * 1024
)

// Bandwidth limits bytes per second across every writer it wraps.
// A nil or disabled Bandwidth passes writes through.
type Bandwidth struct {
	limiter *rate.Limiter
}

// NewBandwidth creates a limiter; bytesPerSecond <= 0 disables it.
func NewBandwidth(bytesPerSecond int64) *Bandwidth {
	if bytesPerSecond <= 0 {
		return &Bandwidth{}
	}
	burst := min(max(bytesPerSecond, minBurst), maxBurst)
	return &Bandwidth{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))}
}

// Enabled reports whether writes are throttled.
func (b *Bandwidth) Enabled() bool {
	return b != nil && b.limiter != nil
}

// Writer wraps w so each write waits for budget; waiting stops with ctx.
func (b *Bandwidth) Writer(ctx context.Context, w io.Writer) io.Writer {
	if !b.Enabled() {
		return w
	}
	return &limitedWriter{ctx: ctx, w: w, limiter: b.limiter}
}

type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// Write splits p into burst-sized pieces; WaitN rejects requests above the
// burst.
func (lw *limitedWriter) Write(p []byte) (int, error) {
	burst := lw.limiter.Burst()
	var n int
	for n < len(p) {
		piece := p[n:min(n+burst, len(p))]
		if err := lw.limiter.WaitN(lw.ctx, len(piece)); err != nil {
			return n, err
		}
		written, err := lw.w.Write(piece)
		n += written
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
