// Package streampool implements the exit-side upstream TCP multiplexer:
// one live connection per StreamKey, resolved via an injected DNS
// resolver, writing inbound bytes in sequence order and reading upstream
// responses back out as InboundServerData messages. Grounded on the
// teacher's stream.Stream (Write/Read chunking) and the explicit
// "TODO: multiplex streams properly" in stream/stream.go — this is new
// code in the teacher's idiom rather than a port, since the teacher never
// finished the multiplexed case.
package streampool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cvsouth/corenet/proxypayload"
	"github.com/cvsouth/corenet/streamkey"
)

// InboundServerData is emitted for every chunk read from an upstream
// connection, in increasing SequenceNumber order starting at 0. A clean
// EOF produces one final message with LastData=true and no Data.
type InboundServerData struct {
	StreamKey      streamkey.StreamKey
	LastData       bool
	SequenceNumber uint64
	Source         string
	Data           []byte
}

// Config configures a Pool.
type Config struct {
	DNSServers     []net.IP
	DNSPort        uint16
	ReorderTimeout time.Duration
	DialTimeout    time.Duration
}

// Pool owns every live upstream connection, keyed by StreamKey.
type Pool struct {
	cfg      Config
	logger   *slog.Logger
	resolver *net.Resolver
	onInbound func(InboundServerData)

	mu       sync.Mutex
	handlers map[streamkey.StreamKey]*upstreamHandler
}

// New validates cfg and builds a Pool. Per spec, an empty DNSServers list
// is a configuration error detected at construction, not at first use.
func New(cfg Config, onInbound func(InboundServerData), logger *slog.Logger) (*Pool, error) {
	if len(cfg.DNSServers) == 0 {
		return nil, fmt.Errorf("proxyclient: must specify at least one DNS server IP address after the --dns_servers parameter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReorderTimeout == 0 {
		cfg.ReorderTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.DNSPort == 0 {
		cfg.DNSPort = 53
	}
	return &Pool{
		cfg:       cfg,
		logger:    logger,
		resolver:  buildResolver(cfg.DNSServers, cfg.DNSPort),
		onInbound: onInbound,
		handlers:  make(map[streamkey.StreamKey]*upstreamHandler),
	}, nil
}

// buildResolver constructs a resolver that dials the configured DNS
// servers directly rather than consulting the host's system resolver,
// round-robining across the configured list on each lookup.
func buildResolver(servers []net.IP, port uint16) *net.Resolver {
	var next int
	var mu sync.Mutex
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			mu.Lock()
			server := servers[next%len(servers)]
			next++
			mu.Unlock()
			d := net.Dialer{}
			return d.DialContext(ctx, network, net.JoinHostPort(server.String(), fmt.Sprintf("%d", port)))
		},
	}
}

// ProcessPackage delegates one ClientRequestPayload to the per-StreamKey
// upstream handler, creating it on first use. ProcessPackage is called
// synchronously from the actor thread delivering ClientRequestPayloads, so
// the actual write is handed off to its own goroutine: writeInbound can
// block for up to the dial timeout plus one second waiting on a first
// connection, and
// ordering across packets for the same StreamKey is still preserved by
// writeInbound's own sequence-number bookkeeping regardless of which
// goroutine calls it.
func (p *Pool) ProcessPackage(req proxypayload.ClientRequestPayload) {
	h := p.handlerFor(req.StreamKey, req.TargetHostname, req.TargetPort)
	go h.writeInbound(req.SequencedPacket)
}

func (p *Pool) handlerFor(key streamkey.StreamKey, host string, port uint16) *upstreamHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handlers[key]; ok {
		return h
	}
	h := newUpstreamHandler(key, host, port, p)
	p.handlers[key] = h
	go h.dial()
	return h
}

func (p *Pool) removeHandler(key streamkey.StreamKey) {
	p.mu.Lock()
	delete(p.handlers, key)
	p.mu.Unlock()
}

func (p *Pool) emit(msg InboundServerData) {
	if p.onInbound != nil {
		p.onInbound(msg)
	}
}
