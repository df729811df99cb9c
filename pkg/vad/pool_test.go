package vad

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPoolAcquireReleaseNonBlockingWhenFree(t *testing.T) {
	p := NewPool(4, func() Detector { return NewEnergyDetector() })
	p.Init()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := p.Acquire(ctx)
			if err != nil {
				errs <- err
				return
			}
			p.Release(d)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquirers did not complete in bounded time")
	}
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPoolQueuesExcessAcquirers(t *testing.T) {
	p := NewPool(2, func() Detector { return NewEnergyDetector() })
	p.Init()

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	blockedDone := make(chan struct{})
	go func() {
		d, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		p.Release(d)
		close(blockedDone)
	}()

	select {
	case <-blockedDone:
		t.Fatal("third acquirer should have blocked with pool size 2")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(a)
	p.Release(b)

	select {
	case <-blockedDone:
	case <-time.After(time.Second):
		t.Fatal("third acquirer did not unblock after release")
	}
}

func TestDetectPanicsBeforeInit(t *testing.T) {
	p := NewPool(2, func() Detector { return NewEnergyDetector() })

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Detect to panic before Init")
		}
	}()
	_, _ = p.Detect(context.Background(), make([]byte, 10))
}

func TestDetectOddAndShortFrames(t *testing.T) {
	p := NewPool(2, func() Detector { return NewEnergyDetector() })
	p.Init()

	got, err := p.Detect(context.Background(), []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected short frame to classify as non-speech")
	}

	got, err = p.Detect(context.Background(), []byte{})
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected empty frame to classify as non-speech")
	}
}
