// Package dispatcher owns the clandestine TLS listener and the outbound
// connection table: it is the only actor that ever touches a net.Conn.
// Grounded on the teacher's link.Handshake (TLS posture) and
// link.Link (per-peer connection table), generalized from a single
// Tor-circuit link to a keyed table of peers addressed by NodeAddr.
package dispatcher

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/nodeaddr"
)

// Inbound is what Dispatcher hands to Hopper for every frame read off any
// connection, clandestine or not.
type Inbound struct {
	NeighborIP net.IP
	Package    cores.LiveCoresPackage
}

// peerConn is one outbound connection slot in the table: a bounded send
// queue drained by one dedicated goroutine per peer, so writes to distinct
// peers never block each other and dial/write for a peer never runs on the
// caller's goroutine. The mutex guards conn itself, which sendLoop mutates
// and which dial-failure logging elsewhere never touches directly.
type peerConn struct {
	mu      sync.Mutex
	conn    net.Conn
	sendCh  chan cores.LiveCoresPackage
	started bool
}

// peerSendQueueCapacity bounds how many outbound packages queue for a
// single peer before Send starts dropping them, reusing
// actorfabric.DefaultMailboxCapacity so a stalled peer degrades the same
// way a full actor mailbox does.
const peerSendQueueCapacity = actorfabric.DefaultMailboxCapacity

// Dispatcher listens on the node's clandestine ports and maintains a
// table of outbound connections to peers, dialing on demand and reusing
// a connection for as long as it stays healthy. Outbound packages wait in
// a bounded per-peer queue, but a send is never retried: a package that
// fails because the peer is unreachable is logged and dropped, per spec
// §7's best-effort PeerUnknown handling.
type Dispatcher struct {
	logger *slog.Logger

	mu    sync.Mutex
	peers map[string]*peerConn

	toHopper actorfabric.Recipient[Inbound]

	listeners []net.Listener
	wg        sync.WaitGroup
}

// New builds an unbound, unstarted Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		peers:  make(map[string]*peerConn),
	}
}

// Bind wires Dispatcher's one dependency: the Recipient every inbound
// frame is handed to.
func (d *Dispatcher) Bind(toHopper actorfabric.Recipient[Inbound]) {
	d.toHopper = toHopper
}

// ListenAndServe opens one TLS listener per port in ports and accepts
// connections on each until ctx is canceled. It returns once every
// listener has been opened, having spawned a goroutine per listener; call
// Wait to block for shutdown.
func (d *Dispatcher) ListenAndServe(ctx context.Context, bindIP net.IP, ports []uint16) error {
	tlsConf, err := listenerTLSConfig()
	if err != nil {
		return fmt.Errorf("dispatcher: build TLS config: %w", err)
	}
	for _, port := range ports {
		addr := net.JoinHostPort(bindIP.String(), fmt.Sprintf("%d", port))
		ln, err := tls.Listen("tcp", addr, tlsConf)
		if err != nil {
			return fmt.Errorf("dispatcher: listen on %s: %w", addr, err)
		}
		d.listeners = append(d.listeners, ln)
		d.wg.Add(1)
		go d.acceptLoop(ctx, ln)
	}
	go func() {
		<-ctx.Done()
		d.closeListeners()
	}()
	return nil
}

// Wait blocks until every accept loop has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) closeListeners() {
	for _, ln := range d.listeners {
		_ = ln.Close()
	}
}

func (d *Dispatcher) acceptLoop(ctx context.Context, ln net.Listener) {
	defer d.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.logger.Error("accept failed", "listener", ln.Addr(), "err", err)
			return
		}
		go d.serveConn(ctx, conn)
	}
}

// serveConn reads frames off an inbound connection until it errors or
// closes, handing each decoded package to Hopper tagged with the remote
// peer's IP. Each accepted connection gets a short-lived correlation ID so
// its frames can be traced through the logs independent of peer identity,
// which is not yet known at accept time.
func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	neighborIP := remoteIP(conn)
	d.logger.Debug("inbound connection accepted", "conn", connID, "neighbor", neighborIP)
	r := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkg, err := ReadFrame(r)
		if err != nil {
			d.logger.Debug("inbound connection closed", "conn", connID, "neighbor", neighborIP, "err", err)
			return
		}
		if d.toHopper == nil {
			d.logger.Error("dropping inbound frame: hopper not bound", "conn", connID, "neighbor", neighborIP)
			continue
		}
		d.toHopper(Inbound{NeighborIP: neighborIP, Package: pkg})
	}
}

func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Send queues pkg for delivery to next, reusing a cached connection or
// dialing a fresh one on demand. Send itself never blocks: the dial and
// write — both documented suspension points — happen on a dedicated
// per-peer goroutine, so a slow or unreachable peer never stalls delivery
// to any other peer sharing the caller's mailbox. Any failure — a full
// send queue, dial, handshake, or write — is logged and the package is
// dropped; Hopper and everything upstream of it never learns about
// transport-layer failures, per spec §7.
func (d *Dispatcher) Send(next *nodeaddr.NodeAddr, pkg cores.LiveCoresPackage) {
	if next == nil || len(next.Ports) == 0 {
		d.logger.Error("dropping outbound package: next hop has no address")
		return
	}
	key := next.String()
	pc := d.peerSlot(key)
	d.startSendLoop(pc, key, next)

	select {
	case pc.sendCh <- pkg:
	default:
		d.logger.Warn("dropping outbound package: peer send queue full", "peer", key)
	}
}

// startSendLoop lazily starts the one goroutine that owns dialing and
// writing for this peer, so concurrent Send calls to the same peer never
// race each other's connection state.
func (d *Dispatcher) startSendLoop(pc *peerConn, key string, next *nodeaddr.NodeAddr) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.started {
		return
	}
	pc.started = true
	go d.sendLoop(pc, key, next)
}

// sendLoop drains pc.sendCh in order for as long as the Dispatcher runs,
// dialing on first use and redialing after any write failure.
func (d *Dispatcher) sendLoop(pc *peerConn, key string, next *nodeaddr.NodeAddr) {
	for pkg := range pc.sendCh {
		pc.mu.Lock()
		if pc.conn == nil {
			conn, err := d.dial(next)
			if err != nil {
				d.logger.Error("failed to dial peer", "peer", key, "err", err)
				pc.mu.Unlock()
				continue
			}
			pc.conn = conn
		}
		if err := WriteFrame(pc.conn, pkg); err != nil {
			d.logger.Error("failed to write to peer, dropping connection", "peer", key, "err", err)
			pc.conn.Close()
			pc.conn = nil
		}
		pc.mu.Unlock()
	}
}

func (d *Dispatcher) peerSlot(key string) *peerConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc, ok := d.peers[key]
	if !ok {
		pc = &peerConn{sendCh: make(chan cores.LiveCoresPackage, peerSendQueueCapacity)}
		d.peers[key] = pc
	}
	return pc
}

func (d *Dispatcher) dial(addr *nodeaddr.NodeAddr) (net.Conn, error) {
	target := net.JoinHostPort(addr.IP.String(), fmt.Sprintf("%d", addr.Ports[0]))
	conn, err := tls.Dial("tcp", target, dialerTLSConfig())
	if err != nil {
		return nil, err
	}
	return conn, nil
}
