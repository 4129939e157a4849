package proxyserver

import (
	"context"
	"time"

	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/proxypayload"
)

// OnExpiredPackage is Hopper's Recipient[cores.ExpiredCoresPackage] target
// for Component=ProxyServer: every ClientResponsePayload arriving back
// from an exit lands here, keyed by StreamKey, and is written to the
// matching client connection in sequence order.
func (s *Server) OnExpiredPackage(_ context.Context, pkg cores.ExpiredCoresPackage) {
	resp, err := proxypayload.UnmarshalClientResponsePayload(pkg.PayloadBytes)
	if err != nil {
		s.logger.Error("dropping malformed response payload", "err", err)
		return
	}

	s.mu.Lock()
	stream, ok := s.streams[resp.StreamKey]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("received response for unknown stream, ignoring", "stream_key", resp.StreamKey)
		return
	}

	s.deliver(stream, resp)
}

// deliver writes resp's data to stream.conn in order, buffering
// out-of-order arrivals until the gap fills or the reorder timer expires.
func (s *Server) deliver(stream *clientStream, resp proxypayload.ClientResponsePayload) {
	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.closed {
		return
	}

	seq := resp.SequencedPacket.SequenceNumber
	if seq != stream.nextInSeq {
		stream.pending[seq] = resp
		s.armGapTimer(stream)
		return
	}

	s.writeLocked(stream, resp)
	stream.nextInSeq++

	for {
		next, ok := stream.pending[stream.nextInSeq]
		if !ok {
			break
		}
		delete(stream.pending, stream.nextInSeq)
		s.writeLocked(stream, next)
		stream.nextInSeq++
	}

	if len(stream.pending) == 0 && stream.timer != nil {
		stream.timer.Stop()
		stream.timer = nil
	} else if len(stream.pending) > 0 {
		s.armGapTimer(stream)
	}
}

// writeLocked must be called with stream.mu held. deliver runs on the
// proxyserver-deliver actor mailbox, so writeLocked never touches
// stream.conn itself: it only hands resp to stream's dedicated writer
// goroutine (started alongside the stream in handleConn), which performs
// the actual socket write off the actor thread. A full write queue means
// the client socket is backpressuring faster than the writer can drain
// it; the packet is dropped and logged rather than blocking gossip,
// routing, or any other stream's delivery.
func (s *Server) writeLocked(stream *clientStream, resp proxypayload.ClientResponsePayload) {
	select {
	case stream.writeCh <- resp:
	default:
		s.logger.Warn("dropping response write: stream write queue full")
	}
}

// writeLoop is the one goroutine per stream that ever touches
// stream.conn for writes, draining writeCh in order until the stream is
// stopped. It writes the packet's data (if any) and closes the
// connection once last_data arrives.
func (s *Server) writeLoop(stream *clientStream) {
	for {
		select {
		case resp := <-stream.writeCh:
			s.writeNow(stream, resp)
		case <-stream.stopCh:
			return
		}
	}
}

func (s *Server) writeNow(stream *clientStream, resp proxypayload.ClientResponsePayload) {
	if len(resp.SequencedPacket.Data) > 0 {
		if _, err := stream.conn.Write(resp.SequencedPacket.Data); err != nil {
			s.logger.Debug("failed writing response to client", "err", err)
			stream.mu.Lock()
			stream.closed = true
			stream.mu.Unlock()
			stream.stop()
			return
		}
	}
	if resp.SequencedPacket.LastData {
		stream.mu.Lock()
		stream.closed = true
		stream.mu.Unlock()
		_ = stream.conn.Close()
		stream.stop()
	}
}

// armGapTimer (re)starts the reorder-gap timer. If the gap never fills,
// the stream is abandoned and the client connection closed, matching the
// cancellation rule in spec §5.
func (s *Server) armGapTimer(stream *clientStream) {
	if stream.timer != nil {
		return
	}
	stream.timer = time.AfterFunc(s.cfg.ReorderTimeout, func() {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		if stream.closed {
			return
		}
		s.logger.Warn("reorder gap did not fill in time, abandoning stream")
		stream.closed = true
		_ = stream.conn.Close()
		stream.stop()
	})
}
