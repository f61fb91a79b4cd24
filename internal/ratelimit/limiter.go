package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for limiter operations.
var (
	// ErrInvalidConfig is returned when a budget has a non-positive
	// request count or interval.
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")

	// ErrUnknownLimiter is returned when acquiring or releasing a slot
	// for a name that was never registered.
	ErrUnknownLimiter = errors.New("rate limiter not registered")

	// ErrUnbalanced is returned when Release is called more times than
	// Acquire for a given name. This is a programmer error and is
	// reported loudly instead of underflowing the slot count.
	ErrUnbalanced = errors.New("unbalanced release")

	// ErrAcquireTimeout is returned when a slot could not be reserved
	// within the caller's deadline.
	ErrAcquireTimeout = errors.New("timed out waiting for rate limiter slot")
)

// reservation tracks one admitted operation. The slot it consumes is
// returned either by an explicit Release or when the bucket interval
// elapses, whichever happens first.
type reservation struct {
	freed bool
	timer *time.Timer
}

// waiter is a queued acquirer. The granting side performs all slot
// bookkeeping before closing ready, so the acquirer only has to wait.
type waiter struct {
	ready   chan struct{}
	granted bool
	res     *reservation
}

// bucket holds the admission state for one connector name.
type bucket struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration

	used    int            // slots currently consumed
	open    []*reservation // acquired but not yet released, FIFO
	waiters []*waiter      // blocked acquirers, FIFO
}

// Registry is a process-wide, thread-safe collection of named rate
// limiter buckets. Buckets are independent: exhausting one connector's
// budget never delays another's.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	logger  *zap.Logger
}

// NewRegistry creates an empty limiter registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		buckets: make(map[string]*bucket),
		logger:  logger,
	}
}

// Register installs or replaces the budget for name. Registration is
// idempotent and last-writer-wins; re-registering with a larger budget
// immediately admits queued acquirers that now fit.
func (r *Registry) Register(name string, requestCount int, interval time.Duration) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if requestCount <= 0 {
		return fmt.Errorf("%w: request count must be positive, got %d", ErrInvalidConfig, requestCount)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidConfig, interval)
	}

	r.mu.Lock()
	b, ok := r.buckets[name]
	if !ok {
		r.buckets[name] = &bucket{limit: requestCount, interval: interval}
		r.mu.Unlock()
		r.logger.Info("rate limiter registered",
			zap.String("connector", name),
			zap.Int("requests", requestCount),
			zap.Duration("interval", interval),
		)
		return nil
	}
	r.mu.Unlock()

	b.mu.Lock()
	b.limit = requestCount
	b.interval = interval
	b.serveWaiters()
	b.mu.Unlock()

	r.logger.Info("rate limiter budget replaced",
		zap.String("connector", name),
		zap.Int("requests", requestCount),
		zap.Duration("interval", interval),
	)
	return nil
}

// Registered reports whether a budget exists for name.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.buckets[name]
	return ok
}

func (r *Registry) bucket(name string) (*bucket, error) {
	r.mu.RLock()
	b, ok := r.buckets[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLimiter, name)
	}
	return b, nil
}

// Acquire blocks until a slot is available under name's budget, then
// reserves it. Callers must pair every successful Acquire with exactly
// one Release. Returns the context error if ctx ends first.
func (r *Registry) Acquire(ctx context.Context, name string) error {
	b, err := r.bucket(name)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		acquireWait.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	b.mu.Lock()
	// Fast path only when nobody is already queued, so arrival order
	// is preserved.
	if b.used < b.limit && len(b.waiters) == 0 {
		b.admit()
		b.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.granted {
			// The grant raced the cancellation. The caller will never
			// see the slot, so hand it straight back.
			b.forget(w.res)
		} else {
			b.dequeue(w)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// AcquireWithTimeout is Acquire bounded by a wait budget. A deadline hit
// is reported as ErrAcquireTimeout so callers can distinguish quota
// pressure from cancellation.
func (r *Registry) AcquireWithTimeout(ctx context.Context, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := r.Acquire(ctx, name)
	if errors.Is(err, context.DeadlineExceeded) {
		acquireTimeouts.WithLabelValues(name).Inc()
		return fmt.Errorf("%w: %q after %s", ErrAcquireTimeout, name, timeout)
	}
	return err
}

// Release returns the slot of the oldest outstanding Acquire for name.
func (r *Registry) Release(name string) error {
	b, err := r.bucket(name)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.open) == 0 {
		return fmt.Errorf("%w: %q has no outstanding acquisitions", ErrUnbalanced, name)
	}
	res := b.open[0]
	b.open = b.open[1:]
	b.free(res)
	return nil
}

// admit consumes a slot for the calling acquirer. Caller holds b.mu.
func (b *bucket) admit() *reservation {
	res := &reservation{}
	b.used++
	b.open = append(b.open, res)
	res.timer = time.AfterFunc(b.interval, func() {
		b.mu.Lock()
		b.free(res)
		b.mu.Unlock()
	})
	return res
}

// free returns res's slot if it is still consumed. Caller holds b.mu.
func (b *bucket) free(res *reservation) {
	if res.freed {
		return
	}
	res.freed = true
	res.timer.Stop()
	b.used--
	b.serveWaiters()
}

// forget frees res and removes it from the outstanding queue. Used when
// a granted waiter was cancelled before observing its slot. Caller
// holds b.mu.
func (b *bucket) forget(res *reservation) {
	for i, open := range b.open {
		if open == res {
			b.open = append(b.open[:i], b.open[i+1:]...)
			break
		}
	}
	b.free(res)
}

// dequeue removes a still-waiting acquirer. Caller holds b.mu.
func (b *bucket) dequeue(w *waiter) {
	for i, queued := range b.waiters {
		if queued == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// serveWaiters grants slots to queued acquirers in FIFO order while the
// budget allows. Caller holds b.mu.
func (b *bucket) serveWaiters() {
	for b.used < b.limit && len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		w.granted = true
		w.res = b.admit()
		close(w.ready)
	}
}
