package proxyclient

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/proxyclient/streampool"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/streamkey"
	"github.com/cvsouth/corenet/wallet"
)

func newTestClient() *Client {
	return &Client{
		logger:   slog.Default(),
		rates:    Rates{ServiceRate: 5, ByteRate: 2},
		contexts: make(map[streamkey.StreamKey]StreamContext),
	}
}

func TestOnExpiredPackageDropsMalformedPayload(t *testing.T) {
	c := newTestClient()
	c.OnExpiredPackage(context.Background(), cores.ExpiredCoresPackage{PayloadBytes: []byte("not a payload")})
	if len(c.contexts) != 0 {
		t.Fatalf("got %d contexts registered from a malformed payload, want 0", len(c.contexts))
	}
}

func TestOnInboundServerDataReportsServiceWithWallet(t *testing.T) {
	c := newTestClient()
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 443)
	w := wallet.New("0xconsumer")
	c.contexts[key] = StreamContext{
		ReturnRoute:           route.Route{},
		PayloadDestinationKey: cryptde.PublicKey("origin"),
		ConsumingWallet:       &w,
	}

	var billed []ReportExitServiceProvided
	var dispatched []cores.IncipientCoresPackage
	c.toHopper = func(pkg cores.IncipientCoresPackage) { dispatched = append(dispatched, pkg) }
	c.toAccountant = func(msg ReportExitServiceProvided) { billed = append(billed, msg) }

	c.onInboundServerData(streampool.InboundServerData{
		StreamKey:      key,
		SequenceNumber: 0,
		Data:           []byte("payload"),
	})

	if len(dispatched) != 1 {
		t.Fatalf("got %d packages dispatched to hopper, want 1", len(dispatched))
	}
	if len(billed) != 1 {
		t.Fatalf("got %d billing reports, want 1", len(billed))
	}
	want := int64(5 + len("payload")*2)
	if int64(billed[0].ServiceRate)+int64(billed[0].PayloadSize)*billed[0].ByteRate != want {
		t.Fatalf("billed = %+v, want total %d", billed[0], want)
	}
}

func TestOnInboundServerDataWithoutWalletSkipsBilling(t *testing.T) {
	c := newTestClient()
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 443)
	c.contexts[key] = StreamContext{PayloadDestinationKey: cryptde.PublicKey("origin")}

	var billed bool
	c.toAccountant = func(ReportExitServiceProvided) { billed = true }
	c.toHopper = func(cores.IncipientCoresPackage) {}

	c.onInboundServerData(streampool.InboundServerData{StreamKey: key, Data: []byte("x")})
	if billed {
		t.Fatal("billed an exit response with no consuming wallet on record")
	}
}

func TestOnInboundServerDataUnknownStreamKeyIgnored(t *testing.T) {
	c := newTestClient()
	var dispatched bool
	c.toHopper = func(cores.IncipientCoresPackage) { dispatched = true }

	c.onInboundServerData(streampool.InboundServerData{
		StreamKey: streamkey.New(cryptde.PublicKey("nobody"), "example.com", 80),
		Data:      []byte("x"),
	})
	if dispatched {
		t.Fatal("dispatched a response for an unregistered stream key")
	}
}

func TestOnInboundServerDataLastDataClearsContext(t *testing.T) {
	c := newTestClient()
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 443)
	c.contexts[key] = StreamContext{PayloadDestinationKey: cryptde.PublicKey("origin")}
	c.toHopper = func(cores.IncipientCoresPackage) {}

	c.onInboundServerData(streampool.InboundServerData{StreamKey: key, LastData: true})
	if _, ok := c.contexts[key]; ok {
		t.Fatal("stream context survived a LastData response")
	}
}
