package streampool

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
)

func TestNewRejectsEmptyDNSServers(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	if err == nil {
		t.Fatal("New with no DNS servers: expected error, got nil")
	}
}

func TestNewFillsDefaults(t *testing.T) {
	p, err := New(Config{DNSServers: []net.IP{net.ParseIP("127.0.0.1")}}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.cfg.DNSPort != 53 {
		t.Errorf("DNSPort = %d, want 53", p.cfg.DNSPort)
	}
	if p.cfg.ReorderTimeout != 30*time.Second {
		t.Errorf("ReorderTimeout = %v, want 30s", p.cfg.ReorderTimeout)
	}
	if p.cfg.DialTimeout != 15*time.Second {
		t.Errorf("DialTimeout = %v, want 15s", p.cfg.DialTimeout)
	}
}

// newTestHandler builds an upstreamHandler wired to one end of an in-memory
// pipe, bypassing DNS resolution and dial entirely, so writeInbound/readLoop
// can be exercised directly.
func newTestHandler(t *testing.T, onInbound func(InboundServerData)) (*upstreamHandler, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	pool := &Pool{
		cfg:      Config{ReorderTimeout: 50 * time.Millisecond, DialTimeout: time.Second},
		handlers: make(map[streamkey.StreamKey]*upstreamHandler),
		onInbound: onInbound,
	}
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 80)
	h := newUpstreamHandler(key, "example.com", 80, pool)
	h.conn = client
	close(h.dialDone)
	pool.handlers[key] = h
	return h, server
}

func TestWriteInboundOrdersOutOfSequencePackets(t *testing.T) {
	h, server := newTestHandler(t, nil)
	defer server.Close()

	go h.writeInbound(seqpacket.New([]byte("world"), 1, false))
	go h.writeInbound(seqpacket.New([]byte("hello"), 0, false))

	buf := make([]byte, 10)
	n, err := readFull(server, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "helloworld" {
		t.Fatalf("got %q, want %q (packets must be written in sequence order)", buf[:n], "helloworld")
	}
}

func TestReadLoopEmitsChunksThenTerminalMessage(t *testing.T) {
	var mu sync.Mutex
	var got []InboundServerData
	h, server := newTestHandler(t, nil)
	h.pool.onInbound = func(msg InboundServerData) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}

	go h.readLoop()
	if _, err := server.Write([]byte("reply")); err != nil {
		t.Fatalf("write: %v", err)
	}
	server.Close()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if string(got[0].Data) != "reply" || got[0].LastData {
		t.Fatalf("first message = %+v, want Data=reply LastData=false", got[0])
	}
	if !got[len(got)-1].LastData {
		t.Fatalf("last message = %+v, want LastData=true", got[len(got)-1])
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	conn.SetReadDeadline(time.Now().Add(time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if n == 0 || total >= 10 {
			return total, err
		}
	}
	return total, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
