package p2p

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/timeouts"
)

// SendRequest asks p for the block h. The outcome arrives as
// ResponseReceived or OutboundFailure carrying the returned ID.
func (s *Session) SendRequest(p peer.ID, h hash.Hash) RequestID {
	id := RequestID(s.nextRequest.Add(1))
	started := s.spawn("request", func(ctx context.Context) {
		ctx, cancel := s.timeouts.WithTimeout(ctx, timeouts.OpRequest)
		defer cancel()

		start := time.Now()
		b, err := s.request(ctx, p, h)
		s.timeouts.Observe(timeouts.OpRequest, start, err)
		if err != nil {
			s.emit(OutboundFailure{Peer: p, ID: id, Err: err})
			return
		}
		s.emit(ResponseReceived{Peer: p, ID: id, Block: b})
	})
	if !started {
		s.queue.Push(OutboundFailure{Peer: p, ID: id, Err: ErrClosed})
	}
	return id
}

func (s *Session) request(ctx context.Context, p peer.ID, h hash.Hash) (models.Block, error) {
	req, err := encodeRequest(h)
	if err != nil {
		return nil, err
	}

	stream, err := s.host.NewStream(ctx, p, protocol.ID(ProtocolBlock))
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			s.logger.Debug("Failed to set stream deadline", zap.Error(err))
		}
	}

	if _, err := stream.Write(req); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	data, err := readMessage(stream, s.cfg.MaxMessageSize)
	if err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeResponse(data)
}

// handleStream reads one request and hands it to the node as an
// InboundRequest. The stream stays open until the channel is answered.
func (s *Session) handleStream(stream network.Stream) {
	p := stream.Conn().RemotePeer()

	// Bound how long a peer may hold the stream open.
	if err := stream.SetDeadline(time.Now().Add(s.timeouts.Get(timeouts.OpRequest))); err != nil {
		s.logger.Warn("Failed to set stream deadline, rejecting request", zap.Error(err))
		_ = stream.Reset()
		return
	}

	data, err := readMessage(stream, maxRequestSize)
	if err != nil {
		_ = stream.Reset()
		s.emit(InboundFailure{Peer: p, Err: fmt.Errorf("failed to read request: %w", err)})
		return
	}
	req, err := decodeRequest(data)
	if err != nil {
		_ = stream.Reset()
		s.emit(InboundFailure{Peer: p, Err: err})
		return
	}

	s.emit(InboundRequest{
		Peer:    p,
		Request: req,
		Channel: &streamChannel{s: s, stream: stream, peer: p, written: make(chan error, 1)},
	})
}

// streamChannel answers an inbound request on its stream.
type streamChannel struct {
	s       *Session
	stream  network.Stream
	peer    peer.ID
	used    atomic.Bool
	written chan error
}

func (c *streamChannel) Peer() peer.ID { return c.peer }

func (c *streamChannel) Written() <-chan error { return c.written }

func (c *streamChannel) finish(err error) {
	c.written <- err
	close(c.written)
}

func (c *streamChannel) Send(b models.Block) error {
	if b == nil {
		return fmt.Errorf("p2p: nil block")
	}
	return c.respond(b)
}

func (c *streamChannel) Reject() error { return c.respond(nil) }

// respond writes the response in the background. The outcome is reported on
// Written and as ResponseSent or InboundFailure.
func (c *streamChannel) respond(b models.Block) error {
	if !c.used.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}
	if c.stream.Conn().IsClosed() {
		_ = c.stream.Reset()
		return ErrConnectionClosed
	}

	data, err := encodeResponse(b)
	if err != nil {
		_ = c.stream.Reset()
		return err
	}
	if int64(len(data)) > c.s.cfg.MaxMessageSize {
		_ = c.stream.Reset()
		return ErrMessageTooLarge
	}

	started := c.s.spawn("respond", func(ctx context.Context) {
		w := c.s.bandwidth.Writer(ctx, c.stream)
		if _, err := w.Write(data); err != nil {
			_ = c.stream.Reset()
			err = fmt.Errorf("failed to write response: %w", err)
			c.s.emit(InboundFailure{Peer: c.peer, Err: err})
			c.finish(err)
			return
		}
		if err := c.stream.Close(); err != nil {
			err = fmt.Errorf("failed to close response stream: %w", err)
			c.s.emit(InboundFailure{Peer: c.peer, Err: err})
			c.finish(err)
			return
		}
		c.s.emit(ResponseSent{Peer: c.peer})
		c.finish(nil)
	})
	if !started {
		_ = c.stream.Reset()
		return ErrConnectionClosed
	}
	return nil
}
