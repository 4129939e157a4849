package actorfabric

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMailboxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int

	mb := NewMailbox[int]("test", 16, nil, func(_ context.Context, n int) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	recipient := mb.Recipient()
	for i := 0; i < 5; i++ {
		recipient(i)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want in-order 0..4", got)
		}
	}
}

func TestMailboxTrySendFullReturnsError(t *testing.T) {
	block := make(chan struct{})
	mb := NewMailbox[int]("test", 1, nil, func(_ context.Context, n int) {
		<-block
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	// First send is picked up by Run and blocks in handle; second fills the
	// buffered channel; third should see it full.
	if err := mb.TrySend(1); err != nil {
		t.Fatalf("first TrySend: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let Run pick up the first message
	if err := mb.TrySend(2); err != nil {
		t.Fatalf("second TrySend: %v", err)
	}
	if err := mb.TrySend(3); err != ErrMailboxFull {
		t.Fatalf("third TrySend = %v, want ErrMailboxFull", err)
	}
	close(block)
}

func TestRecipientStopsOnContextCancel(t *testing.T) {
	var calls int
	var mu sync.Mutex
	mb := NewMailbox[int]("test", 4, nil, func(_ context.Context, n int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go mb.Run(ctx)
	cancel()
	time.Sleep(10 * time.Millisecond)

	recipient := mb.Recipient()
	recipient(1) // buffered channel accepts it even though Run has exited

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("handle invoked %d times after context cancellation, want 0", calls)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
