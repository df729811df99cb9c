package vad

import (
	"context"
	"errors"
	"sync"
)

// SpeechThreshold is the speech-probability threshold above which a frame
// is classified as containing speech (spec §4.2).
const SpeechThreshold = 0.6

// ErrNotInitialized is returned (or panicked with, via Detect) when the
// pool is used before Init.
var ErrNotInitialized = errors.New("vad: pool not initialized")

// Pool is a bounded multi-producer pool of Detector instances, preventing
// one busy session from head-of-line blocking VAD classification for
// every other session. Acquisition is FIFO by virtue of the underlying
// buffered channel.
type Pool struct {
	factory func() Detector

	mu          sync.Mutex
	initialized bool
	instances   chan Detector
	size        int
}

// NewPool constructs a pool that will hold size Detector instances once
// Init is called. factory creates one Detector per pool slot.
func NewPool(size int, factory func() Detector) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{factory: factory, size: size}
}

// Init populates the pool. Safe to call once; subsequent calls are no-ops.
func (p *Pool) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return
	}
	p.instances = make(chan Detector, p.size)
	for i := 0; i < p.size; i++ {
		p.instances <- p.factory()
	}
	p.initialized = true
}

// Acquire blocks until a Detector is available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (Detector, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}
	instances := p.instances
	p.mu.Unlock()

	select {
	case d := <-instances:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a leased Detector to the pool.
func (p *Pool) Release(d Detector) {
	p.mu.Lock()
	instances := p.instances
	p.mu.Unlock()
	if instances == nil {
		return
	}
	d.Reset()
	instances <- d
}

// Detect leases a Detector, classifies frame, and releases it. Odd-length
// frames are right-trimmed by the Detector itself; frames under 2 bytes
// classify as non-speech. Detect panics if the pool was never Init'd —
// the spec requires this to "fail loudly" rather than silently return
// false.
func (p *Pool) Detect(ctx context.Context, frame []byte) (bool, error) {
	d, err := p.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			panic(ErrNotInitialized)
		}
		return false, err
	}
	defer p.Release(d)

	if len(frame) < 2 {
		return false, nil
	}

	return d.Probability(frame) >= SpeechThreshold, nil
}

// Len reports how many Detector instances are currently idle in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instances == nil {
		return 0
	}
	return len(p.instances)
}
