package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspring/palette/pkg/domain"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Habitat  ":    "habitat",
		"Diet.":          "diet",
		"diet":           "diet",
		"DIET!!":         "diet",
		"Size variants,": "size variants",
		"a   b\tc":       "a b c",
		"...":            "",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestTryAccept_FirstWriterWins(t *testing.T) {
	d := New()
	tab := &domain.Tab{Name: "dimensions", SelectedNodeIDs: map[string]bool{}}
	d.Seed(tab)

	first := d.TryAccept(tab, "Diet", "qwen")
	require.NotNil(t, first)
	assert.Equal(t, "diet", first.NormalizedText)
	assert.Equal(t, "qwen", first.SourceProvider)

	// Same normalized form from another provider is dropped silently.
	assert.Nil(t, d.TryAccept(tab, "diet.", "deepseek"))
	assert.Nil(t, d.TryAccept(tab, "  DIET ", "kimi"))

	// Different text is accepted.
	assert.NotNil(t, d.TryAccept(tab, "Habitat", "deepseek"))
}

func TestTryAccept_SeededFromExistingNodes(t *testing.T) {
	d := New()
	tab := &domain.Tab{
		Name:  "categories",
		Nodes: []domain.Node{{Text: "Ocean", NormalizedText: "ocean"}},
	}
	d.Seed(tab)

	assert.Nil(t, d.TryAccept(tab, "Ocean", "qwen"), "previous batch nodes must stay in the seen-set")
	assert.NotNil(t, d.TryAccept(tab, "Forest", "qwen"))
}

func TestTryAccept_SequencedMonotonic(t *testing.T) {
	d := New()
	tab := &domain.Tab{Name: "steps", Sequenced: true, SequenceCounter: 2}
	d.Seed(tab)

	n := d.TryAccept(tab, "Knead the dough", "qwen")
	require.NotNil(t, n)
	assert.Equal(t, uint64(3), n.Sequence, "sequence resumes from the tab counter")

	n2 := d.TryAccept(tab, "Bake", "kimi")
	require.NotNil(t, n2)
	assert.Equal(t, uint64(4), n2.Sequence)
}

func TestTryAccept_ConcurrentProviders(t *testing.T) {
	d := New()
	tab := &domain.Tab{Name: "steps", Sequenced: true}
	d.Seed(tab)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	accepted := make(chan *domain.Node, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Half the inputs collide across workers on purpose.
				text := fmt.Sprintf("candidate %d", i)
				if i%2 == 0 {
					text = fmt.Sprintf("Candidate %d-%d", w, i)
				}
				if n := d.TryAccept(tab, text, fmt.Sprintf("p%d", w)); n != nil {
					accepted <- n
				}
			}
		}(w)
	}
	wg.Wait()
	close(accepted)

	seen := make(map[string]bool)
	seqs := make(map[uint64]bool)
	for n := range accepted {
		assert.False(t, seen[n.NormalizedText], "duplicate normalized text accepted: %q", n.NormalizedText)
		seen[n.NormalizedText] = true
		assert.False(t, seqs[n.Sequence], "sequence number %d assigned twice", n.Sequence)
		seqs[n.Sequence] = true
	}
	assert.Equal(t, uint64(len(seen)), d.Sequence("steps"), "counter matches accepted count")
}

func TestTryAccept_IndependentTabs(t *testing.T) {
	d := New()
	a := &domain.Tab{Name: "causes"}
	b := &domain.Tab{Name: "effects"}
	d.Seed(a)
	d.Seed(b)

	require.NotNil(t, d.TryAccept(a, "Heavy rain", "qwen"))
	// Cross-tab duplicates are allowed; only within-tab repeats are suppressed.
	require.NotNil(t, d.TryAccept(b, "Heavy rain", "qwen"))
	assert.Nil(t, d.TryAccept(a, "heavy rain", "deepseek"))
}
