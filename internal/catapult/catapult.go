// Package catapult coordinates speculative preloads. When a stage advance
// creates fresh tabs, their first batch can be fired immediately in the
// background so that by the time the user clicks into a tab its suggestions
// are already persisted. Preloads are best-effort: failures are logged and
// swallowed, and an explicit batch request for the same tab waits for the
// in-flight preload instead of racing it.
package catapult

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mindspring/palette/internal/logging"
	"github.com/mindspring/palette/pkg/observability"
)

// Task performs one preload run. It receives the coordinator's background
// context, detached from the request that triggered the preload.
type Task func(ctx context.Context) error

// Catapult tracks in-flight preloads keyed by session and tab.
type Catapult struct {
	mu       sync.Mutex
	inflight map[string]*flight

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observability.Metrics
}

type flight struct {
	done chan struct{}
	err  error
}

// Option configures the Catapult.
type Option func(*Catapult)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catapult) { c.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Catapult) { c.metrics = m }
}

// New creates a coordinator. Close cancels all in-flight preloads.
func New(opts ...Option) *Catapult {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Catapult{
		inflight: make(map[string]*flight),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.NewNop(),
		metrics:  observability.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(sessionID, tab string) string {
	return sessionID + "\x00" + tab
}

// Launch fires a preload for the given tab unless one is already in flight.
// Returns true if a new preload was started. The task runs on a background
// goroutine; its error is recorded for Wait but never propagated further.
func (c *Catapult) Launch(sessionID, tab string, task Task) bool {
	k := key(sessionID, tab)

	c.mu.Lock()
	if _, exists := c.inflight[k]; exists {
		c.mu.Unlock()
		return false
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[k] = f
	c.mu.Unlock()

	c.metrics.PreloadsFired.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(f.done)

		f.err = task(c.ctx)
		if f.err != nil {
			c.logger.Warn("preload failed", "session_id", sessionID, "tab", tab, "err", f.err)
		} else {
			c.logger.Debug("preload complete", "session_id", sessionID, "tab", tab)
		}

		c.mu.Lock()
		delete(c.inflight, k)
		c.mu.Unlock()
	}()
	return true
}

// Wait blocks until any in-flight preload for the tab finishes. It reports
// whether one existed, and the error it recorded. Waiting on an idle tab
// returns immediately.
func (c *Catapult) Wait(ctx context.Context, sessionID, tab string) (bool, error) {
	c.mu.Lock()
	f, exists := c.inflight[key(sessionID, tab)]
	c.mu.Unlock()
	if !exists {
		return false, nil
	}

	select {
	case <-f.done:
		return true, f.err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// InFlight reports whether a preload is currently running for the tab.
func (c *Catapult) InFlight(sessionID, tab string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.inflight[key(sessionID, tab)]
	return exists
}

// Close cancels all in-flight preloads and waits for them to unwind.
func (c *Catapult) Close() {
	c.cancel()
	c.wg.Wait()
}
