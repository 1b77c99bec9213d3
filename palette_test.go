package palette

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring/palette/pkg/adapters/memory"
	"github.com/mindspring/palette/pkg/domain"
	"github.com/mindspring/palette/pkg/observability"
	"github.com/mindspring/palette/pkg/ports"
)

// scriptedProvider yields fixed chunks; block keeps the stream open until the
// run context is canceled.
type scriptedProvider struct {
	name   string
	chunks []string
	block  bool
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(ctx context.Context, _ ports.GenerateRequest) (iter.Seq2[string, error], error) {
	return func(yield func(string, error) bool) {
		for _, c := range p.chunks {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if p.block {
			<-ctx.Done()
			yield("", ctx.Err())
		}
	}, nil
}

// quietGraph disables preloading so generation tests stay deterministic.
func quietGraph() domain.StageGraph {
	graphs := domain.DefaultStageGraph()
	for k, g := range graphs {
		g.Preloadable = false
		graphs[k] = g
	}
	return graphs
}

func newTestEngine(t *testing.T, providers []ports.Provider, opts ...Option) *Engine {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(func() { store.Close() })
	e := New(store, providers, opts...)
	t.Cleanup(e.Close)
	return e
}

func drainEvents(t *testing.T, events <-chan domain.Event) (accepted []domain.Node, final domain.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				require.Equal(t, domain.EventBatchComplete, final.Type, "stream must end with batch_complete")
				return accepted, final
			}
			if ev.Type == domain.EventNodeAccepted {
				accepted = append(accepted, *ev.Node)
			}
			final = ev
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestStart_CreatesInitialTabs(t *testing.T) {
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "dimensions", s.Stage)
	require.Contains(t, s.Tabs, "dimensions")

	db, err := e.Start(ctx, StartRequest{DiagramType: "double_bubble", Topic: "Cats vs Dogs"})
	require.NoError(t, err)
	assert.Contains(t, db.Tabs, "similarities")
	assert.Contains(t, db.Tabs, "differences")
}

func TestStart_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()))
	ctx := context.Background()

	first, err := e.Start(ctx, StartRequest{SessionID: "tab-1", DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	again, err := e.Start(ctx, StartRequest{SessionID: "tab-1", DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = e.Start(ctx, StartRequest{SessionID: "tab-1", DiagramType: "flow", Topic: "Animals"})
	assert.Error(t, err, "same ID with a different diagram type must be rejected")
}

func TestStart_UnknownDiagramType(t *testing.T) {
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()))
	_, err := e.Start(context.Background(), StartRequest{DiagramType: "venn", Topic: "X"})
	assert.ErrorIs(t, err, domain.ErrUnknownDiagramType)
}

func TestNextBatch_AcceptsDedupsAndPersists(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\nDiet\n"}},
		&scriptedProvider{name: "kimi", chunks: []string{"diet\nSize\n"}},
	}
	e := newTestEngine(t, providers, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	events, err := e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)
	accepted, final := drainEvents(t, events)

	assert.Len(t, accepted, 3, "duplicate 'diet' collapses across providers")
	assert.Equal(t, 3, final.Accepted)

	// Accepted nodes survive a reload.
	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Tab("dimensions").Nodes, 3)
	assert.Equal(t, 1, stored.Tab("dimensions").BatchCount)

	// A second batch with identical provider output accepts nothing new.
	events, err = e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)
	accepted, final = drainEvents(t, events)
	assert.Empty(t, accepted)
	assert.Equal(t, 0, final.Accepted)

	stored, err = e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Tab("dimensions").BatchCount)
}

func TestNextBatch_UnknownSessionAndTab(t *testing.T) {
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()))
	ctx := context.Background()

	_, err := e.NextBatch(ctx, "ghost", "dimensions")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	_, err = e.NextBatch(ctx, s.ID, "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownTab)
}

func TestNextBatch_BusyTab(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "slow", chunks: []string{"One\n"}, block: true},
	}
	e := newTestEngine(t, providers, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	events, err := e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)

	_, err = e.NextBatch(ctx, s.ID, "dimensions")
	assert.ErrorIs(t, err, domain.ErrBusy, "concurrent batch for the same tab is rejected, not queued")

	require.NoError(t, e.Cancel(ctx, s.ID))
	drainClosed(t, events)
}

func drainClosed(t *testing.T, events <-chan domain.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream did not close")
		}
	}
}

func TestAdvance_FullTreeWorkflow(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\nDiet\n"}},
	}
	e := newTestEngine(t, providers, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	events, err := e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)
	accepted, _ := drainEvents(t, events)
	require.Len(t, accepted, 2)

	var habitat domain.Node
	for _, n := range accepted {
		if n.Text == "Habitat" {
			habitat = n
		}
	}
	require.NotEmpty(t, habitat.ID)

	outcome, err := e.Advance(ctx, s.ID, "dimensions", []string{habitat.ID})
	require.NoError(t, err)
	assert.Equal(t, "categories", outcome.Stage)
	assert.Equal(t, []string{"Habitat"}, outcome.CreatedTabs)

	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.Tab("dimensions").Locked)
	require.NotNil(t, stored.Tab("Habitat"))

	// Locked tabs reject further generation and re-advancing.
	_, err = e.NextBatch(ctx, s.ID, "dimensions")
	assert.ErrorIs(t, err, domain.ErrTabLocked)
	_, err = e.Advance(ctx, s.ID, "dimensions", []string{habitat.ID})
	assert.ErrorIs(t, err, domain.ErrTabLocked)
}

func TestAdvance_InvalidSelectionLeavesStoreUntouched(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\n"}},
	}
	e := newTestEngine(t, providers, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	events, err := e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)
	drainEvents(t, events)

	_, err = e.Advance(ctx, s.ID, "dimensions", []string{"no-such-node"})
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)

	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Tab("dimensions").Locked)
	assert.Equal(t, "dimensions", stored.Stage)
}

func TestFinish_ReturnsSelectionUnionAndDestroys(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\nDiet\n"}},
	}
	e := newTestEngine(t, providers, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	events, err := e.NextBatch(ctx, s.ID, "dimensions")
	require.NoError(t, err)
	accepted, _ := drainEvents(t, events)
	require.Len(t, accepted, 2)

	_, err = e.Advance(ctx, s.ID, "dimensions", []string{accepted[0].ID})
	require.NoError(t, err)

	selected, err := e.Finish(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, accepted[0].ID, selected[0].ID)

	_, err = e.Session(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCancel_IsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(ctx, s.ID))
	require.NoError(t, e.Cancel(ctx, s.ID), "second cancel is a no-op")
	require.NoError(t, e.Cancel(ctx, "never-existed"))
}

func TestPreload_FillsInitialTabsInBackground(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\nDiet\nSize\n"}},
	}
	// Default graph: tree is preloadable, so Start fires the catapult.
	e := newTestEngine(t, providers)
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := e.Session(ctx, s.ID)
		if err != nil {
			return false
		}
		tab := stored.Tab("dimensions")
		return tab != nil && len(tab.Nodes) == 3
	}, 5*time.Second, 20*time.Millisecond, "preload should fill the initial tab without an explicit batch call")
}

func TestNextBatch_ReplaysInFlightPreload(t *testing.T) {
	release := make(chan struct{})
	gate := &gatedProvider{name: "qwen", text: "Habitat\nDiet\n", release: release}
	e := newTestEngine(t, []ports.Provider{gate})
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	type result struct {
		accepted []domain.Node
		final    domain.Event
	}
	got := make(chan result, 1)
	go func() {
		events, err := e.NextBatch(ctx, s.ID, "dimensions")
		if err != nil {
			got <- result{}
			return
		}
		var r result
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					got <- r
					return
				}
				if ev.Type == domain.EventNodeAccepted {
					r.accepted = append(r.accepted, *ev.Node)
				}
				r.final = ev
			case <-deadline:
				got <- r
				return
			}
		}
	}()

	// Let the preload finish only after NextBatch is already waiting on it.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case r := <-got:
		assert.Len(t, r.accepted, 2, "the preloaded batch is replayed, not regenerated")
		assert.Equal(t, domain.EventBatchComplete, r.final.Type)
	case <-time.After(10 * time.Second):
		t.Fatal("NextBatch did not return")
	}

	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Tab("dimensions").BatchCount, "replay must not burn a second batch")
}

// gatedProvider holds its output until release is closed.
type gatedProvider struct {
	name    string
	text    string
	release chan struct{}
}

func (p *gatedProvider) Name() string { return p.name }

func (p *gatedProvider) Generate(ctx context.Context, _ ports.GenerateRequest) (iter.Seq2[string, error], error) {
	return func(yield func(string, error) bool) {
		select {
		case <-p.release:
		case <-ctx.Done():
			yield("", ctx.Err())
			return
		}
		yield(p.text, nil)
	}, nil
}

// queuedProvider yields a different script on each Generate call, so each
// batch in a multi-step workflow gets distinct candidates.
type queuedProvider struct {
	name string

	mu      sync.Mutex
	scripts []string
}

func (p *queuedProvider) Name() string { return p.name }

func (p *queuedProvider) Generate(ctx context.Context, _ ports.GenerateRequest) (iter.Seq2[string, error], error) {
	p.mu.Lock()
	script := ""
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	p.mu.Unlock()

	return func(yield func(string, error) bool) {
		yield(script, nil)
	}, nil
}

func TestNextBatch_ConcurrentTabsBothPersist(t *testing.T) {
	release := make(chan struct{})
	gate := &gatedProvider{name: "qwen", text: "Whiskers\nTails\n", release: release}
	e := newTestEngine(t, []ports.Provider{gate}, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "double_bubble", Topic: "Cats vs Dogs"})
	require.NoError(t, err)

	// Both tabs generate at the same time; busy is per tab, not per session.
	simEvents, err := e.NextBatch(ctx, s.ID, "similarities")
	require.NoError(t, err)
	diffEvents, err := e.NextBatch(ctx, s.ID, "differences")
	require.NoError(t, err)
	close(release)

	simAccepted, _ := drainEvents(t, simEvents)
	diffAccepted, _ := drainEvents(t, diffEvents)
	require.Len(t, simAccepted, 2)
	require.Len(t, diffAccepted, 2)

	// Neither run's save may wipe the other tab's batch.
	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Tab("similarities").Nodes, 2)
	assert.Len(t, stored.Tab("differences").Nodes, 2)
	assert.Equal(t, 1, stored.Tab("similarities").BatchCount)
	assert.Equal(t, 1, stored.Tab("differences").BatchCount)
}

func TestPreload_ParallelInitialTabs(t *testing.T) {
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Whiskers\nTails\n"}},
	}
	// Default graph: double_bubble preloads both initial tabs at once.
	e := newTestEngine(t, providers)
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "double_bubble", Topic: "Cats vs Dogs"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := e.Session(ctx, s.ID)
		if err != nil {
			return false
		}
		sim, diff := stored.Tab("similarities"), stored.Tab("differences")
		return sim != nil && diff != nil && len(sim.Nodes) == 2 && len(diff.Nodes) == 2
	}, 5*time.Second, 20*time.Millisecond, "both preloads must land without losing each other's nodes")
}

func TestAdvance_SiblingTerminalTabsThenFinish(t *testing.T) {
	qwen := &queuedProvider{name: "qwen", scripts: []string{
		"Habitat\n",
		"Ocean\nForest\n",
		"Fish\nCrabs\n",
		"Bears\nDeer\n",
	}}
	e := newTestEngine(t, []ports.Provider{qwen}, WithStageGraph(quietGraph()))
	ctx := context.Background()

	s, err := e.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)

	batch := func(tab string) []domain.Node {
		t.Helper()
		events, err := e.NextBatch(ctx, s.ID, tab)
		require.NoError(t, err)
		accepted, _ := drainEvents(t, events)
		return accepted
	}

	dims := batch("dimensions")
	require.Len(t, dims, 1)
	_, err = e.Advance(ctx, s.ID, "dimensions", []string{dims[0].ID})
	require.NoError(t, err)

	cats := batch("Habitat")
	require.Len(t, cats, 2)
	_, err = e.Advance(ctx, s.ID, "Habitat", []string{cats[0].ID, cats[1].ID})
	require.NoError(t, err)

	ocean := batch("Ocean")
	forest := batch("Forest")
	require.Len(t, ocean, 2)
	require.Len(t, forest, 2)

	outcome, err := e.Advance(ctx, s.ID, "Ocean", []string{ocean[0].ID})
	require.NoError(t, err)
	assert.True(t, outcome.Terminal)

	// The sibling children tab records its selection after the session
	// turned terminal.
	outcome, err = e.Advance(ctx, s.ID, "Forest", []string{forest[0].ID})
	require.NoError(t, err)
	assert.True(t, outcome.Terminal)

	selected, err := e.Finish(ctx, s.ID)
	require.NoError(t, err)
	texts := make(map[string]bool, len(selected))
	for _, n := range selected {
		texts[n.Text] = true
	}
	assert.True(t, texts["Fish"], "Ocean's selection survives")
	assert.True(t, texts["Bears"], "Forest's selection survives")
	assert.Len(t, selected, 5, "dimensions + both categories + one child per tab")
}

func TestStart_ResumeCountsReuseOnlyWithPreloadedNodes(t *testing.T) {
	ctx := context.Background()

	// Bridge maps never preload, so resuming one is not a reuse.
	m := observability.NewMetrics(prometheus.NewRegistry())
	e := newTestEngine(t, nil, WithStageGraph(quietGraph()), WithMetrics(m))
	_, err := e.Start(ctx, StartRequest{SessionID: "b-1", DiagramType: "bridge", Topic: "Hand is to glove"})
	require.NoError(t, err)
	_, err = e.Start(ctx, StartRequest{SessionID: "b-1", DiagramType: "bridge", Topic: "Hand is to glove"})
	require.NoError(t, err)
	assert.Zero(t, testutil.ToFloat64(m.PreloadsReused))

	// A resume that picks up actual preloaded nodes counts once.
	providers := []ports.Provider{
		&scriptedProvider{name: "qwen", chunks: []string{"Habitat\nDiet\n"}},
	}
	m2 := observability.NewMetrics(prometheus.NewRegistry())
	e2 := newTestEngine(t, providers, WithMetrics(m2))
	s, err := e2.Start(ctx, StartRequest{DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		stored, err := e2.Session(ctx, s.ID)
		return err == nil && len(stored.Tab("dimensions").Nodes) == 2
	}, 5*time.Second, 20*time.Millisecond)

	_, err = e2.Start(ctx, StartRequest{SessionID: s.ID, DiagramType: "tree", Topic: "Animals"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.PreloadsReused))
}

func TestTemperatureForBatch(t *testing.T) {
	assert.InDelta(t, 0.7, temperatureForBatch(1), 1e-9)
	assert.InDelta(t, 0.8, temperatureForBatch(2), 1e-9)
	assert.InDelta(t, 1.0, temperatureForBatch(4), 1e-9)
	assert.InDelta(t, 1.0, temperatureForBatch(9), 1e-9, "temperature is capped")
}
