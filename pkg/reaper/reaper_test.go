package reaper

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	calls  int
	evict  []string
}

func (f *fakeStore) CleanupStale() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.evict
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeLogger) Info(msg string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeLogger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

// TestReaperEvictsAfterTimeoutPlusInterval checks the Reaper's side of
// testable property #7: it calls CleanupStale on every tick and logs each
// session id the store reports as evicted. The timeout comparison itself
// lives in the store's CleanupStale and is faked here.
func TestReaperEvictsAfterTimeoutPlusInterval(t *testing.T) {
	store := &fakeStore{evict: []string{"sess-1"}}
	logger := &fakeLogger{}
	r := New([]Store{store}, WithInterval(10*time.Millisecond), WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()

	_ = r.Run(ctx)

	if store.callCount() < 2 {
		t.Fatalf("expected multiple sweeps, got %d", store.callCount())
	}
	if logger.count() < 2 {
		t.Fatalf("expected an eviction log line per sweep, got %d", logger.count())
	}
}

func TestReaperStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	r := New([]Store{store}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context.Canceled, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestReaperSweepsMultipleStores(t *testing.T) {
	storeA := &fakeStore{}
	storeB := &fakeStore{}
	r := New([]Store{storeA, storeB}, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	if storeA.callCount() == 0 || storeB.callCount() == 0 {
		t.Fatalf("expected both stores swept, got a=%d b=%d", storeA.callCount(), storeB.callCount())
	}
}

func TestDefaultIntervalAppliedWhenUnset(t *testing.T) {
	r := New(nil)
	if r.interval != DefaultInterval {
		t.Fatalf("got %v, want %v", r.interval, DefaultInterval)
	}
}
