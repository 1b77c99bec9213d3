package palette

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindspring/palette/internal/catapult"
	"github.com/mindspring/palette/internal/dedup"
	"github.com/mindspring/palette/internal/logging"
	"github.com/mindspring/palette/internal/orchestrator"
	"github.com/mindspring/palette/internal/stages"
	"github.com/mindspring/palette/pkg/domain"
	"github.com/mindspring/palette/pkg/observability"
	"github.com/mindspring/palette/pkg/ports"
	"github.com/mindspring/palette/pkg/session"
)

// systemPrompt frames every provider request. Stage prompts carry the
// specifics; this only pins the output discipline.
const systemPrompt = "You are a brainstorming assistant for diagram editors. " +
	"Answer with plain items, one per line, without numbering or commentary."

// saveTimeout bounds the detached persistence write after a run completes.
const saveTimeout = 5 * time.Second

// Engine is the suggestion engine facade. It owns session persistence, the
// stage machine, the provider orchestrator, and the preload coordinator, and
// exposes the five workflow operations: Start, NextBatch, Advance, Finish,
// Cancel.
type Engine struct {
	sessions *session.Manager
	machine  *stages.Machine
	orch     *orchestrator.Orchestrator
	preload  *catapult.Catapult

	runs    *runRegistry
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Engine.
type Option func(*engineConfig)

type engineConfig struct {
	graphs  domain.StageGraph
	orchCfg orchestrator.Config
	locker  ports.DistributedLocker
	logger  *slog.Logger
	metrics *observability.Metrics
}

// WithStageGraph replaces the built-in stage tables.
func WithStageGraph(graphs domain.StageGraph) Option {
	return func(c *engineConfig) { c.graphs = graphs }
}

// WithOrchestratorConfig tunes batch runs.
func WithOrchestratorConfig(cfg orchestrator.Config) Option {
	return func(c *engineConfig) { c.orchCfg = cfg }
}

// WithLocker enables distributed session locking for multi-replica setups.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *engineConfig) { c.locker = locker }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// New creates an engine over the given session store and provider set.
func New(store ports.SessionStore, providers []ports.Provider, opts ...Option) *Engine {
	cfg := engineConfig{
		graphs:  domain.DefaultStageGraph(),
		logger:  logging.NewNop(),
		metrics: observability.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sessionOpts := []session.Option{session.WithLogger(cfg.logger)}
	if cfg.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(cfg.locker))
	}

	return &Engine{
		sessions: session.NewManager(store, sessionOpts...),
		machine:  stages.NewMachine(cfg.graphs),
		orch: orchestrator.New(providers, cfg.orchCfg,
			orchestrator.WithLogger(cfg.logger),
			orchestrator.WithMetrics(cfg.metrics),
		),
		preload: catapult.New(
			catapult.WithLogger(cfg.logger),
			catapult.WithMetrics(cfg.metrics),
		),
		runs:    newRunRegistry(),
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}
}

// Close stops background work: in-flight preloads are canceled and awaited.
// Explicit runs finish on their own budget.
func (e *Engine) Close() {
	e.preload.Close()
}

// StartRequest names a new or existing session.
type StartRequest struct {
	// SessionID is optional; a fresh UUID is assigned when empty.
	SessionID   string
	DiagramType string
	Topic       string
}

// Start creates a session for the diagram type and topic, positioned at the
// first stage with its initial tabs empty. Calling Start again with the same
// ID is idempotent and returns the existing session, including anything a
// preload already filled in. For preloadable diagram types the initial tabs'
// first batches are fired speculatively in the background.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.Session, error) {
	graph, err := e.machine.Graphs().Lookup(req.DiagramType)
	if err != nil {
		return nil, err
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := e.sessions.Load(ctx, id)
	switch {
	case err == nil:
		if existing.DiagramType != req.DiagramType || existing.Topic != req.Topic {
			return nil, fmt.Errorf("session %q already exists for %s/%q", id, existing.DiagramType, existing.Topic)
		}
		existing.Touch()
		if err := e.sessions.Save(ctx, existing); err != nil {
			return nil, err
		}
		if graph.Preloadable && hasNodes(existing) {
			e.metrics.PreloadsReused.Inc()
		}
		return existing, nil
	case errors.Is(err, domain.ErrSessionNotFound):
		// fresh session below
	default:
		return nil, err
	}

	s := domain.NewSession(id, graph, req.Topic)
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, err
	}
	e.metrics.ActiveSessions.Inc()
	e.logger.Info("session started", "session_id", id, "diagram_type", req.DiagramType)

	if graph.Preloadable {
		for _, tab := range graph.InitialTabNames() {
			e.launchPreload(id, tab)
		}
	}
	return s, nil
}

// NextBatch runs one suggestion batch for the tab and returns its event
// stream. If a speculative preload for the tab is still in flight the call
// waits for it and replays its accepted nodes instead of burning a second
// batch. At most one run per (session, tab) may be active; concurrent calls
// get ErrBusy.
func (e *Engine) NextBatch(ctx context.Context, sessionID, tabName string) (<-chan domain.Event, error) {
	s, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tab := s.Tab(tabName)
	if tab == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTab, tabName)
	}
	if tab.Locked {
		return nil, fmt.Errorf("%w: %q", domain.ErrTabLocked, tabName)
	}

	// An in-flight preload is this batch, already running: wait and replay.
	if existed, perr := e.preload.Wait(ctx, sessionID, tabName); existed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if perr == nil {
			fresh, err := e.sessions.Load(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if ft := fresh.Tab(tabName); ft != nil && len(ft.Nodes) > 0 {
				e.metrics.PreloadsReused.Inc()
				return replayEvents(ft), nil
			}
		}
		// Preload failed or produced nothing; fall through to a real run.
	}

	release, runCtx, err := e.runs.begin(context.Background(), sessionID, tabName)
	if err != nil {
		return nil, err
	}

	work := s.Clone()
	events, err := e.launchRun(runCtx, work, tabName)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan domain.Event, e.orch.Config().Buffer)
	go func() {
		// close(out) is the caller's completion signal; by then the run slot
		// must be free and the batch persisted.
		defer close(out)
		defer release()

		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				// Caller left; keep draining so the run completes and the
				// accepted nodes are persisted.
			}
		}
		// A canceled run means the session is gone; don't resurrect it.
		if runCtx.Err() == nil {
			e.persistRun(work, tabName)
		}
	}()
	return out, nil
}

// launchRun starts an orchestrator run against the working copy's tab. The
// caller owns persistence after the stream ends.
func (e *Engine) launchRun(ctx context.Context, work *domain.Session, tabName string) (<-chan domain.Event, error) {
	graph, err := e.machine.Graphs().Lookup(work.DiagramType)
	if err != nil {
		return nil, err
	}
	tab := work.Tab(tabName)
	stage, _, ok := graph.Stage(tab.Stage)
	if !ok {
		return nil, fmt.Errorf("tab %q stage %q not in graph for %q", tabName, tab.Stage, work.DiagramType)
	}

	tab.BatchCount++
	target := e.orch.Config().TargetCount

	d := dedup.New()
	d.Seed(tab)

	req := ports.GenerateRequest{
		Prompt: stage.Prompt(domain.PromptInput{
			Topic:  work.Topic,
			Tab:    tab.Name,
			Parent: tab.ParentRef,
			Count:  target,
			Batch:  tab.BatchCount,
		}),
		System:      systemPrompt,
		Temperature: temperatureForBatch(tab.BatchCount),
		MaxTokens:   e.orch.Config().MaxTokens,
	}

	return e.orch.Run(ctx, orchestrator.RunSpec{
		DiagramType: work.DiagramType,
		Tab:         tab,
		Request:     req,
		Target:      target,
		Dedup:       d,
	}), nil
}

// persistRun merges the run's tab back into the stored session, detached from
// the caller's context so a dropped SSE connection cannot lose accepted nodes.
// Only the generated tab is written: runs on sibling tabs and stage advances
// may have changed the rest of the session while this run was streaming, and
// a whole-session save would clobber them.
func (e *Engine) persistRun(work *domain.Session, tabName string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	result := work.Tab(tabName)
	_, err := e.sessions.Update(saveCtx, work.ID, func(s *domain.Session) error {
		tab := s.Tab(tabName)
		if tab == nil {
			return fmt.Errorf("%w: %q", domain.ErrUnknownTab, tabName)
		}
		tab.Nodes = append([]domain.Node(nil), result.Nodes...)
		tab.SequenceCounter = result.SequenceCounter
		tab.BatchCount = result.BatchCount
		s.Touch()
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		// The session was finished or canceled while the run drained.
		e.logger.Warn("session gone before batch results were persisted", "session_id", work.ID, "tab", tabName)
	case err != nil:
		e.logger.Error("failed to persist batch results", "session_id", work.ID, "tab", tabName, "err", err)
	}
}

// Advance applies a stage transition: records the selection, locks the tab,
// spawns child tabs, and moves the session to the next stage (or terminal).
// Invalid selections leave the stored session untouched. Freshly created tabs
// are preloaded in the background for preloadable diagram types.
func (e *Engine) Advance(ctx context.Context, sessionID, tabName string, selectedIDs []string) (domain.StageAdvanceOutcome, error) {
	if e.runs.busy(sessionID, tabName) {
		return domain.StageAdvanceOutcome{}, fmt.Errorf("%w: %q", domain.ErrBusy, tabName)
	}

	var (
		outcome     domain.StageAdvanceOutcome
		diagramType string
	)
	_, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		var err error
		outcome, err = e.machine.Advance(s, tabName, selectedIDs)
		if err != nil {
			return err
		}
		diagramType = s.DiagramType
		s.Touch()
		return nil
	})
	if err != nil {
		return domain.StageAdvanceOutcome{}, err
	}

	e.logger.Info("stage advanced",
		"session_id", sessionID,
		"tab", tabName,
		"stage", outcome.Stage,
		"terminal", outcome.Terminal,
		"created_tabs", len(outcome.CreatedTabs),
	)

	if graph, gerr := e.machine.Graphs().Lookup(diagramType); gerr == nil && graph.Preloadable {
		for _, tab := range outcome.CreatedTabs {
			e.launchPreload(sessionID, tab)
		}
	}
	return outcome, nil
}

// Finish resolves the union of every tab's selected nodes, destroys the
// session, and returns the selection. Any in-flight runs are canceled first.
func (e *Engine) Finish(ctx context.Context, sessionID string) ([]domain.Node, error) {
	s, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.runs.cancelSession(sessionID)
	selected := s.SelectedNodes()

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	e.metrics.ActiveSessions.Dec()
	e.logger.Info("session finished", "session_id", sessionID, "selected", len(selected))
	return selected, nil
}

// Cancel aborts all in-flight runs and destroys the session. Canceling a
// session that does not exist is a no-op.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	e.runs.cancelSession(sessionID)

	_, err := e.sessions.Load(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.metrics.ActiveSessions.Dec()
	e.logger.Info("session canceled", "session_id", sessionID)
	return nil
}

// Preload fires speculative first batches for every empty, unlocked tab of
// the session. Non-preloadable diagram types are skipped.
func (e *Engine) Preload(ctx context.Context, sessionID string) error {
	s, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	graph, err := e.machine.Graphs().Lookup(s.DiagramType)
	if err != nil {
		return err
	}
	if !graph.Preloadable {
		return nil
	}

	for name, tab := range s.Tabs {
		if !tab.Locked && len(tab.Nodes) == 0 {
			e.launchPreload(sessionID, name)
		}
	}
	return nil
}

// Session returns a snapshot of the stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Load(ctx, sessionID)
}

// launchPreload fires one speculative batch for the tab. Failures are logged
// and swallowed; a preload must never surface as a user-facing error.
func (e *Engine) launchPreload(sessionID, tabName string) {
	e.preload.Launch(sessionID, tabName, func(ctx context.Context) error {
		s, err := e.sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		tab := s.Tab(tabName)
		if tab == nil || tab.Locked || len(tab.Nodes) > 0 {
			return nil // nothing to speculate on
		}

		release, runCtx, err := e.runs.begin(ctx, sessionID, tabName)
		if err != nil {
			return nil // an explicit run beat us to it
		}
		defer release()

		work := s.Clone()
		events, err := e.launchRun(runCtx, work, tabName)
		if err != nil {
			return err
		}
		for range events {
			// Preloads have no consumer; drain so the run can finish.
		}
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		e.persistRun(work, tabName)
		return nil
	})
}

// hasNodes reports whether any tab holds accepted nodes yet.
func hasNodes(s *domain.Session) bool {
	for _, tab := range s.Tabs {
		if len(tab.Nodes) > 0 {
			return true
		}
	}
	return false
}

// replayEvents synthesizes the event stream of an already-completed preload:
// one node_accepted per stored node, then batch_complete.
func replayEvents(tab *domain.Tab) <-chan domain.Event {
	out := make(chan domain.Event, len(tab.Nodes)+1)
	for i := range tab.Nodes {
		node := tab.Nodes[i]
		out <- domain.Event{Type: domain.EventNodeAccepted, Node: &node, Provider: node.SourceProvider}
	}
	out <- domain.Event{Type: domain.EventBatchComplete, Accepted: len(tab.Nodes)}
	close(out)
	return out
}

// temperatureForBatch raises sampling temperature for repeat batches so that
// later runs explore instead of reproducing the first answers.
func temperatureForBatch(batch int) float64 {
	t := 0.7 + 0.1*float64(batch-1)
	if t > 1.0 {
		t = 1.0
	}
	return t
}

// runRegistry enforces one active run per (session, tab) and lets Cancel
// abort everything a session has in flight.
type runRegistry struct {
	mu     sync.Mutex
	active map[string]map[string]context.CancelFunc // session -> tab -> cancel
}

func newRunRegistry() *runRegistry {
	return &runRegistry{active: make(map[string]map[string]context.CancelFunc)}
}

// begin registers a run and returns its context plus a release func. Returns
// ErrBusy if the tab already has a run in flight.
func (r *runRegistry) begin(parent context.Context, sessionID, tab string) (release func(), ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs := r.active[sessionID]
	if tabs == nil {
		tabs = make(map[string]context.CancelFunc)
		r.active[sessionID] = tabs
	}
	if _, exists := tabs[tab]; exists {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrBusy, tab)
	}

	runCtx, cancel := context.WithCancel(parent)
	tabs[tab] = cancel

	release = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cancel()
		if tabs := r.active[sessionID]; tabs != nil {
			delete(tabs, tab)
			if len(tabs) == 0 {
				delete(r.active, sessionID)
			}
		}
	}
	return release, runCtx, nil
}

func (r *runRegistry) busy(sessionID, tab string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[sessionID][tab]
	return exists
}

func (r *runRegistry) cancelSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.active[sessionID] {
		cancel()
	}
	// Entries are removed by each run's release func.
}
