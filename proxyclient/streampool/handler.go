package streampool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
)

// upstreamHandler owns the single live upstream TCP connection for one
// StreamKey: it orders inbound writes by sequence number, gap-buffering
// out-of-order arrivals, and runs a reader goroutine that emits
// InboundServerData for every chunk (or the terminal EOF) it observes.
type upstreamHandler struct {
	key  streamkey.StreamKey
	host string
	port uint16
	pool *Pool

	dialDone chan struct{}
	dialErr  error
	conn     net.Conn

	mu          sync.Mutex
	nextSeq     uint64
	pending     map[uint64]seqpacket.SequencedPacket
	gapTimer    *time.Timer
	closed      bool
	lastDataSet bool
}

func newUpstreamHandler(key streamkey.StreamKey, host string, port uint16, pool *Pool) *upstreamHandler {
	return &upstreamHandler{
		key:      key,
		host:     host,
		port:     port,
		pool:     pool,
		dialDone: make(chan struct{}),
		pending:  make(map[uint64]seqpacket.SequencedPacket),
	}
}

// dial resolves host via the pool's configured DNS resolver and connects,
// then starts the reader goroutine. Resolver or connect failure
// synthesizes a clean terminating response per spec §4.4.
func (h *upstreamHandler) dial() {
	defer close(h.dialDone)

	ctx, cancel := context.WithTimeout(context.Background(), h.pool.cfg.DialTimeout)
	defer cancel()

	ips, err := h.pool.resolver.LookupIP(ctx, "ip", h.host)
	if err != nil || len(ips) == 0 {
		h.dialErr = fmt.Errorf("streampool: resolve %s: %w", h.host, err)
		h.abandon()
		return
	}

	d := net.Dialer{}
	target := net.JoinHostPort(ips[0].String(), fmt.Sprintf("%d", h.port))
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		h.dialErr = fmt.Errorf("streampool: connect %s: %w", target, err)
		h.abandon()
		return
	}

	h.conn = conn
	go h.readLoop()
}

// abandon synthesizes a terminating response and drops the handler from
// the pool, for resolver failure, connect failure, or a reorder gap that
// never fills.
func (h *upstreamHandler) abandon() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.pool.emit(InboundServerData{
		StreamKey:      h.key,
		LastData:       true,
		SequenceNumber: 0,
		Source:         net.JoinHostPort(h.host, fmt.Sprintf("%d", h.port)),
	})
	h.pool.removeHandler(h.key)
}

// writeInbound buffers and orders one inbound SequencedPacket, writing it
// (and any now-contiguous buffered packets) to the upstream connection
// once dial completes. Gap fills are bounded by the pool's reorder timeout.
func (h *upstreamHandler) writeInbound(pkt seqpacket.SequencedPacket) {
	select {
	case <-h.dialDone:
	case <-time.After(h.pool.cfg.DialTimeout + time.Second):
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.dialErr != nil {
		return
	}

	if pkt.SequenceNumber != h.nextSeq {
		h.pending[pkt.SequenceNumber] = pkt
		h.armGapTimerLocked()
		return
	}

	h.writeLocked(pkt)
	h.nextSeq++

	for {
		next, ok := h.pending[h.nextSeq]
		if !ok {
			break
		}
		delete(h.pending, h.nextSeq)
		h.writeLocked(next)
		h.nextSeq++
	}

	if len(h.pending) == 0 && h.gapTimer != nil {
		h.gapTimer.Stop()
		h.gapTimer = nil
	} else if len(h.pending) > 0 {
		h.armGapTimerLocked()
	}
}

// writeLocked must be called with h.mu held.
func (h *upstreamHandler) writeLocked(pkt seqpacket.SequencedPacket) {
	if len(pkt.Data) > 0 && h.conn != nil {
		if _, err := h.conn.Write(pkt.Data); err != nil {
			h.closed = true
			return
		}
	}
	if pkt.LastData {
		h.lastDataSet = true
		if tcp, ok := h.conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		} else if h.conn != nil {
			_ = h.conn.Close()
		}
	}
}

func (h *upstreamHandler) armGapTimerLocked() {
	if h.gapTimer != nil {
		return
	}
	h.gapTimer = time.AfterFunc(h.pool.cfg.ReorderTimeout, func() {
		h.abandon()
	})
}

// readLoop reads from the upstream connection until EOF or error,
// emitting one InboundServerData per read and a final LastData=true
// message with no payload on clean closure.
func (h *upstreamHandler) readLoop() {
	defer h.pool.removeHandler(h.key)
	defer h.conn.Close()

	source := h.conn.RemoteAddr().String()
	buf := make([]byte, 32*1024)
	var seq uint64

	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.pool.emit(InboundServerData{
				StreamKey:      h.key,
				SequenceNumber: seq,
				Source:         source,
				Data:           data,
			})
			seq++
		}
		if err != nil {
			h.pool.emit(InboundServerData{
				StreamKey:      h.key,
				LastData:       true,
				SequenceNumber: seq,
				Source:         source,
			})
			return
		}
	}
}
