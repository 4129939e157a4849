// Package proxyserver implements the origin side of the overlay: it
// accepts raw client TCP connections, sniffs the intended destination out
// of the first bytes, requests a route from Neighborhood, and relays the
// connection's byte stream to the exit as a sequence of CORES packages.
// Grounded on the teacher's socks.Server accept-loop-with-semaphore shape,
// generalized from a SOCKS5 CONNECT handshake to transparent HTTP/TLS
// sniffing (spec §4.3).
package proxyserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/hopper"
	"github.com/cvsouth/corenet/neighborhood"
	"github.com/cvsouth/corenet/proxypayload"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
	"github.com/cvsouth/corenet/wallet"
)

const maxConns = 256

// sniffBufLen bounds how many bytes are buffered before giving up on
// classifying a connection's protocol.
const sniffBufLen = 4096

// responseWriteQueueCapacity bounds how many inbound responses queue for
// a single client stream's writer goroutine before deliver starts
// dropping them, reusing actorfabric.DefaultMailboxCapacity so a
// backpressuring client socket degrades the same way a full actor
// mailbox does.
const responseWriteQueueCapacity = actorfabric.DefaultMailboxCapacity

// RouteQueryFunc adapts Neighborhood.RouteQuery to the shape ProxyServer
// depends on, bound at startup per spec §9's BindMessage pattern.
type RouteQueryFunc func(neighborhood.RouteQueryMessage) (neighborhood.RouteQueryResponse, bool)

// Config configures a Server.
type Config struct {
	ListenIP        net.IP
	Ports           []uint16
	MinimumHopCount int
	ConsumingWallet *wallet.Wallet
	ReorderTimeout  time.Duration
}

// Server is the ProxyServer actor's listener-facing half: one goroutine
// per accepted connection, bounded by a semaphore exactly as the
// teacher's SOCKS server is.
type Server struct {
	cfg    Config
	logger *slog.Logger
	de     cryptde.CryptDE

	routeQuery RouteQueryFunc
	toHopper   actorfabric.Recipient[cores.IncipientCoresPackage]

	mu      sync.Mutex
	streams map[streamkey.StreamKey]*clientStream

	sem chan struct{}
	lns []net.Listener
	wg  sync.WaitGroup
}

// clientStream is per-connection state: the live client socket, the
// monotonic outbound sequence counter, the fixed route/destination chosen
// for the stream's lifetime, and a small reorder buffer for responses
// that race each other on the way back. writeCh/stopCh/stopOnce back the
// stream's dedicated writer goroutine (writeLoop): deliver only ever
// enqueues onto writeCh, never writes stream.conn itself, so the
// proxyserver-deliver actor mailbox never blocks on client socket I/O.
type clientStream struct {
	mu sync.Mutex

	conn           net.Conn
	destinationKey cryptde.PublicKey
	forwardRoute   route.Route

	nextOutSeq uint64
	sentBytes  uint64

	nextInSeq uint64
	pending   map[uint64]proxypayload.ClientResponsePayload
	timer     *time.Timer
	closed    bool

	writeCh  chan proxypayload.ClientResponsePayload
	stopCh   chan struct{}
	stopOnce sync.Once
}

// stop shuts down stream's writer goroutine. Safe to call more than once
// and from multiple goroutines (normal completion, a write error, and gap
// timeout abandonment all call it).
func (stream *clientStream) stop() {
	stream.stopOnce.Do(func() { close(stream.stopCh) })
}

// New builds an unbound Server. Bind must be called before Start.
func New(cfg Config, de cryptde.CryptDE, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReorderTimeout == 0 {
		cfg.ReorderTimeout = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		de:      de,
		streams: make(map[streamkey.StreamKey]*clientStream),
		sem:     make(chan struct{}, maxConns),
	}
}

// Bind wires ProxyServer's peer dependencies.
func (s *Server) Bind(routeQuery RouteQueryFunc, toHopper actorfabric.Recipient[cores.IncipientCoresPackage]) {
	s.routeQuery = routeQuery
	s.toHopper = toHopper
}

// ListenAndServe opens one plain TCP listener per configured port and
// accepts connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	for _, port := range s.cfg.Ports {
		addr := net.JoinHostPort(s.cfg.ListenIP.String(), fmt.Sprintf("%d", port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("proxyserver: listen on %s: %w", addr, err)
		}
		s.lns = append(s.lns, ln)
		s.wg.Add(1)
		go s.acceptLoop(ctx, ln)
	}
	go func() {
		<-ctx.Done()
		for _, ln := range s.lns {
			_ = ln.Close()
		}
	}()
	return nil
}

// Wait blocks until every accept loop has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("accept failed", "listener", ln.Addr(), "err", err)
			return
		}
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, sniffBufLen)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		s.logger.Debug("connection closed before sniffable bytes arrived", "conn", connID, "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	first := buf[:n]
	result, ok := sniff(first)
	if !ok {
		s.logger.Debug("could not classify client connection, dropping")
		return
	}

	key := streamkey.New(s.de.PublicKey(), result.host, result.port)

	resp, ok := s.routeQuery(neighborhood.RouteQueryMessage{
		TargetComponent:    route.ProxyClient,
		MinimumHopCount:    s.cfg.MinimumHopCount,
		ReturnComponentOpt: ptrComponent(route.ProxyServer),
	})
	if !ok {
		s.logger.Warn("no route available for stream", "host", result.host, "port", result.port)
		return
	}

	rt, err := hopper.BuildRoute(s.de, resp.ForwardHops, route.ProxyClient, resp.ReturnHops, route.ProxyServer, s.cfg.ConsumingWallet)
	if err != nil {
		s.logger.Error("failed to build outbound route", "err", err)
		return
	}

	stream := &clientStream{
		conn:           conn,
		destinationKey: resp.ForwardHops[len(resp.ForwardHops)-1],
		forwardRoute:   rt,
		pending:        make(map[uint64]proxypayload.ClientResponsePayload),
		writeCh:        make(chan proxypayload.ClientResponsePayload, responseWriteQueueCapacity),
		stopCh:         make(chan struct{}),
	}
	s.mu.Lock()
	s.streams[key] = stream
	s.mu.Unlock()
	go s.writeLoop(stream)
	defer func() {
		s.mu.Lock()
		delete(s.streams, key)
		s.mu.Unlock()
		stream.stop()
		s.logger.Debug("client stream closed", "conn", connID, "host", result.host, "sent", humanize.Bytes(stream.sentBytes))
	}()

	protocol := proxypayload.ProtocolHTTP
	if result.protocol == protoTLS {
		protocol = proxypayload.ProtocolTLS
	}

	if !s.sendSegment(stream, key, result.host, result.port, protocol, first, false) {
		return
	}

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !s.sendSegment(stream, key, result.host, result.port, protocol, buf[:n], false) {
				return
			}
		}
		if err != nil {
			s.sendSegment(stream, key, result.host, result.port, protocol, nil, true)
			return
		}
	}
}

func (s *Server) sendSegment(
	stream *clientStream,
	key streamkey.StreamKey,
	host string,
	port uint16,
	protocol proxypayload.Protocol,
	data []byte,
	lastData bool,
) bool {
	stream.mu.Lock()
	seq := stream.nextOutSeq
	stream.nextOutSeq++
	stream.sentBytes += uint64(len(data))
	rt := stream.forwardRoute.Clone()
	stream.mu.Unlock()

	payload := proxypayload.ClientRequestPayload{
		StreamKey:           key,
		SequencedPacket:     seqpacket.New(data, seq, lastData),
		TargetHostname:      host,
		TargetPort:          port,
		Protocol:            protocol,
		OriginatorPublicKey: s.de.PublicKey(),
	}
	incipient, err := cores.New(rt, payload.Marshal(), stream.destinationKey)
	if err != nil {
		s.logger.Error("could not create CORES package for outbound request", "err", err)
		return false
	}
	if s.toHopper == nil {
		s.logger.Error("dropping outbound request: hopper not bound")
		return false
	}
	s.toHopper(incipient)
	return true
}

func ptrComponent(c route.Component) *route.Component { return &c }
