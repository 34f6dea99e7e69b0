package backoff

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// maxShift bounds the exponent so base<<shift cannot overflow.
const maxShift = 32

// Backoff produces full-jitter exponential delays.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// New returns a Backoff seeded from the clock.
func New(base, maxDelay time.Duration) *Backoff {
	seed := uint64(time.Now().UnixNano())
	return NewWithSource(base, maxDelay, rand.NewPCG(seed, seed>>1|1))
}

// NewWithSource returns a Backoff drawing jitter from src.
func NewWithSource(base, maxDelay time.Duration, src rand.Source) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{
		Base: base,
		Cap:  maxDelay,
		rand: rand.New(src),
	}
}

// Ceiling returns the upper bound of the delay for the given attempt
// (0-based) before jitter is applied.
func (b *Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	d := b.Base << uint(attempt)
	if d <= 0 || d > b.Cap {
		return b.Cap
	}
	return d
}

// Next returns a random delay in [0, Ceiling(attempt)).
func (b *Backoff) Next(attempt int) time.Duration {
	ceiling := b.Ceiling(attempt)
	b.mu.Lock()
	n := b.rand.Int64N(int64(ceiling))
	b.mu.Unlock()
	return time.Duration(n)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
