// Package orchestrator fans one prompt out to a fixed set of streaming
// providers, parses candidate lines incrementally, routes them through the
// deduplicator, and multiplexes everything into a single bounded event
// stream. Providers race; acceptance is serialized per tab.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mindspring/palette/internal/dedup"
	"github.com/mindspring/palette/internal/logging"
	"github.com/mindspring/palette/pkg/domain"
	"github.com/mindspring/palette/pkg/observability"
	"github.com/mindspring/palette/pkg/ports"
)

// Config tunes one orchestrator instance. Zero values fall back to defaults.
type Config struct {
	// TargetCount is the default accepted-node goal per run.
	TargetCount int
	// ProviderTimeout bounds each provider's stream individually.
	ProviderTimeout time.Duration
	// RunBudget bounds the whole run regardless of target count.
	RunBudget time.Duration
	// Grace is the flush window granted to in-flight candidates after the
	// target count is reached, before providers are hard-canceled. Favors
	// not discarding near-finished work over exact target precision.
	Grace time.Duration
	// Buffer sizes the outbound event channel. A slow consumer pauses
	// forwarding instead of buffering unboundedly.
	Buffer int
	// MaxTokens caps each provider response.
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if c.TargetCount <= 0 {
		c.TargetCount = 15
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 20 * time.Second
	}
	if c.RunBudget <= 0 {
		c.RunBudget = 30 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 250 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	return c
}

// Orchestrator runs concurrent provider fan-outs.
type Orchestrator struct {
	providers []ports.Provider
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator over a fixed provider set.
func New(providers []ports.Provider, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		cfg:       cfg.withDefaults(),
		logger:    logging.NewNop(),
		metrics:   observability.NopMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective (defaulted) configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

type msgKind int

const (
	msgCandidate msgKind = iota
	msgDone
	msgError
)

type streamMsg struct {
	provider string
	kind     msgKind
	text     string
	err      error
}

// RunSpec names the work for one run. Tab is the engine's working copy;
// accepted nodes are appended to it by the fan-in loop and the caller
// persists it after batch_complete.
type RunSpec struct {
	DiagramType string
	Tab         *domain.Tab
	Request     ports.GenerateRequest
	Target      int
	Dedup       *dedup.Deduplicator
}

// Run fans the request out to all providers and returns the run's event
// stream. The channel is closed after the final batch_complete event, which
// is emitted even when every provider fails: partial success is the default
// expectation, not an error.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) <-chan domain.Event {
	cfg := o.cfg
	if spec.Target <= 0 {
		spec.Target = cfg.TargetCount
	}

	events := make(chan domain.Event, cfg.Buffer)

	runCtx, cancelRun := context.WithTimeout(ctx, cfg.RunBudget)
	provCtx, stopProviders := context.WithCancel(runCtx)

	msgs := make(chan streamMsg, cfg.Buffer)
	for _, p := range o.providers {
		go o.streamProvider(provCtx, runCtx, p, spec.Request, msgs)
	}

	go o.fanIn(ctx, runCtx, stopProviders, cancelRun, spec, msgs, events)

	return events
}

// streamProvider consumes one provider's chunk stream, assembling chunks
// into lines and forwarding each completed line the moment its delimiter is
// seen. It never returns an error: failures become msgError messages.
func (o *Orchestrator) streamProvider(ctx, runCtx context.Context, p ports.Provider, req ports.GenerateRequest, msgs chan<- streamMsg) {
	name := p.Name()
	started := time.Now()

	send := func(m streamMsg) bool {
		select {
		case msgs <- m:
			return true
		case <-runCtx.Done():
			return false
		}
	}

	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	stream, err := p.Generate(pctx, req)
	if err != nil {
		send(streamMsg{provider: name, kind: msgError, err: err})
		return
	}

	var buf strings.Builder
	for chunk, err := range stream {
		if err != nil {
			if ctx.Err() != nil {
				// Early-exit signal, not a provider fault. Flush whatever
				// line was already in flight, then report a clean finish.
				if candidate := cleanCandidate(buf.String()); candidate != "" {
					send(streamMsg{provider: name, kind: msgCandidate, text: candidate})
				}
				send(streamMsg{provider: name, kind: msgDone})
				return
			}
			send(streamMsg{provider: name, kind: msgError, err: err})
			return
		}
		buf.WriteString(chunk)
		for {
			s := buf.String()
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				break
			}
			line := s[:i]
			buf.Reset()
			buf.WriteString(s[i+1:])
			if candidate := cleanCandidate(line); candidate != "" {
				if !send(streamMsg{provider: name, kind: msgCandidate, text: candidate}) {
					return
				}
			}
		}
	}

	// Trailing unterminated line counts as a final candidate.
	if candidate := cleanCandidate(buf.String()); candidate != "" {
		if !send(streamMsg{provider: name, kind: msgCandidate, text: candidate}) {
			return
		}
	}

	o.logger.Debug("provider stream complete", "provider", name, "duration", time.Since(started))
	send(streamMsg{provider: name, kind: msgDone})
}

// fanIn is the single consumer of all provider output. It serializes
// acceptance per tab, enforces target count with a grace window, and ends
// the run at the wall-clock budget.
func (o *Orchestrator) fanIn(callerCtx, runCtx context.Context, stopProviders, cancelRun context.CancelFunc, spec RunSpec, msgs <-chan streamMsg, events chan<- domain.Event) {
	defer cancelRun()
	defer close(events)

	started := time.Now()
	accepted := 0
	remaining := len(o.providers)
	exhausted := false

	var graceExpired <-chan time.Time
	targetReached := func() {
		if graceExpired == nil && accepted >= spec.Target {
			stopProviders()
			graceExpired = time.After(o.cfg.Grace)
		}
	}

	// emit pauses when the caller is slow; it gives up only when the caller
	// itself is gone.
	emit := func(ev domain.Event) bool {
		select {
		case events <- ev:
			return true
		case <-callerCtx.Done():
			return false
		}
	}

loop:
	for remaining > 0 {
		select {
		case <-callerCtx.Done():
			return
		case <-runCtx.Done():
			exhausted = accepted < spec.Target
			break loop
		case <-graceExpired:
			break loop
		case m := <-msgs:
			switch m.kind {
			case msgCandidate:
				node := spec.Dedup.TryAccept(spec.Tab, m.text, m.provider)
				if node == nil {
					o.metrics.NodesRejected.WithLabelValues(m.provider).Inc()
					if !emit(domain.Event{Type: domain.EventNodeRejected, Text: m.text, Provider: m.provider}) {
						return
					}
					continue
				}
				spec.Tab.Nodes = append(spec.Tab.Nodes, *node)
				spec.Tab.SequenceCounter = spec.Dedup.Sequence(spec.Tab.Name)
				accepted++
				o.metrics.NodesAccepted.WithLabelValues(m.provider).Inc()
				if !emit(domain.Event{Type: domain.EventNodeAccepted, Node: node, Provider: m.provider}) {
					return
				}
				targetReached()
			case msgDone:
				remaining--
				if !emit(domain.Event{Type: domain.EventProviderDone, Provider: m.provider}) {
					return
				}
			case msgError:
				remaining--
				o.metrics.ProviderErrors.WithLabelValues(m.provider).Inc()
				o.logger.Warn("provider failed", "provider", m.provider, "err", m.err)
				if !emit(domain.Event{Type: domain.EventProviderError, Provider: m.provider, Reason: m.err.Error()}) {
					return
				}
			}
		}
	}

	stopProviders()
	o.metrics.ObserveBatch(spec.DiagramType, time.Since(started))
	o.logger.Info("batch complete",
		"tab", spec.Tab.Name,
		"accepted", accepted,
		"exhausted", exhausted,
		"duration", time.Since(started),
	)
	emit(domain.Event{Type: domain.EventBatchComplete, Accepted: accepted, Exhausted: exhausted})
}

// cleanCandidate strips list markers and surrounding whitespace from a raw
// provider line. Returns "" for lines too short to be a real candidate.
func cleanCandidate(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "0123456789.-、）)*• \t")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < 2 {
		return ""
	}
	return s
}
