package accountant

import (
	"context"
	"testing"

	"github.com/cvsouth/corenet/hopper"
	"github.com/cvsouth/corenet/proxyclient"
	"github.com/cvsouth/corenet/wallet"
)

func openTestAccountant(t *testing.T) *Accountant {
	t.Helper()
	a, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOnRoutingServiceProvidedCreditsReceivable(t *testing.T) {
	a := openTestAccountant(t)
	w := wallet.New("0xpayer")

	a.OnRoutingServiceProvided(context.Background(), hopper.RoutingServiceProvided{
		ConsumingWallet: &w,
		PayloadSize:     100,
	})

	status, ok, err := a.ReceivableStatus(w)
	if err != nil {
		t.Fatalf("ReceivableStatus: %v", err)
	}
	if !ok || status.Balance != 100 {
		t.Fatalf("got %+v, ok=%v, want balance=100", status, ok)
	}
}

func TestOnRoutingServiceProvidedAccumulates(t *testing.T) {
	a := openTestAccountant(t)
	w := wallet.New("0xpayer")

	for i := 0; i < 3; i++ {
		a.OnRoutingServiceProvided(context.Background(), hopper.RoutingServiceProvided{
			ConsumingWallet: &w,
			PayloadSize:     50,
		})
	}

	status, ok, err := a.ReceivableStatus(w)
	if err != nil {
		t.Fatalf("ReceivableStatus: %v", err)
	}
	if !ok || status.Balance != 150 {
		t.Fatalf("got balance=%d, want 150", status.Balance)
	}
}

func TestOnRoutingServiceProvidedNilWalletIsNoOp(t *testing.T) {
	a := openTestAccountant(t)
	a.OnRoutingServiceProvided(context.Background(), hopper.RoutingServiceProvided{
		ConsumingWallet: nil,
		PayloadSize:     100,
	})
	// No wallet to bill: nothing should be written, and nothing should panic.
}

func TestOnExitServiceProvidedUsesRates(t *testing.T) {
	a := openTestAccountant(t)
	w := wallet.New("0xexit-consumer")

	a.OnExitServiceProvided(context.Background(), proxyclient.ReportExitServiceProvided{
		ConsumingWallet: &w,
		PayloadSize:     10,
		ServiceRate:     5,
		ByteRate:        2,
	})

	status, ok, err := a.ReceivableStatus(w)
	if err != nil {
		t.Fatalf("ReceivableStatus: %v", err)
	}
	want := int64(5 + 10*2)
	if !ok || status.Balance != want {
		t.Fatalf("got balance=%d, want %d", status.Balance, want)
	}
}

func TestOnRoutingServiceConsumedCreditsPayable(t *testing.T) {
	a := openTestAccountant(t)
	w := wallet.New("0xearner")

	a.OnRoutingServiceConsumed(context.Background(), ReportRoutingServiceConsumed{
		EarningWallet: w,
		PayloadSize:   42,
	})

	status, ok, err := a.PayableStatus(w)
	if err != nil {
		t.Fatalf("PayableStatus: %v", err)
	}
	if !ok || status.Balance != 42 {
		t.Fatalf("got balance=%d, want 42", status.Balance)
	}
}

func TestStatusForUnknownWalletReturnsFalse(t *testing.T) {
	a := openTestAccountant(t)
	_, ok, err := a.ReceivableStatus(wallet.New("0xnever-seen"))
	if err != nil {
		t.Fatalf("ReceivableStatus: %v", err)
	}
	if ok {
		t.Fatal("ReceivableStatus for unknown wallet returned ok=true")
	}
}
