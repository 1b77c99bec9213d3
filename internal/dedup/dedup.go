// Package dedup maintains the per-tab seen-set of normalized candidate text
// and performs the atomic try-accept that turns a raw candidate into a Node.
package dedup

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mindspring/palette/pkg/domain"
)

// Deduplicator guards one session's tabs against duplicate candidates.
// Each tab has its own exclusive section, so unrelated tabs accept
// concurrently without contention. Semantics are first-writer-wins: the
// first candidate to insert its normalized form creates the Node, any later
// identical candidate is silently dropped.
type Deduplicator struct {
	mu   sync.Mutex
	tabs map[string]*tabIndex
}

type tabIndex struct {
	mu        sync.Mutex
	seen      map[string]bool
	sequenced bool
	seq       uint64
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{tabs: make(map[string]*tabIndex)}
}

// Seed derives the tab's index from its already-accepted nodes. The seen-set
// is not persisted separately; it is rebuilt from the tab whenever a run
// starts.
func (d *Deduplicator) Seed(tab *domain.Tab) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := &tabIndex{
		seen:      make(map[string]bool, len(tab.Nodes)),
		sequenced: tab.Sequenced,
		seq:       tab.SequenceCounter,
	}
	for _, n := range tab.Nodes {
		idx.seen[n.NormalizedText] = true
	}
	d.tabs[tab.Name] = idx
}

func (d *Deduplicator) index(tabName string) *tabIndex {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.tabs[tabName]
	if !ok {
		idx = &tabIndex{seen: make(map[string]bool)}
		d.tabs[tabName] = idx
	}
	return idx
}

// TryAccept normalizes the candidate and attempts to insert it into the
// tab's seen-set. On success it returns the new Node, with the tab's next
// sequence number assigned inside the same exclusive section when the tab is
// sequenced. Returns nil for duplicates.
func (d *Deduplicator) TryAccept(tab *domain.Tab, raw, provider string) *domain.Node {
	normalized := Normalize(raw)
	if normalized == "" {
		return nil
	}

	idx := d.index(tab.Name)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.seen[normalized] {
		return nil
	}
	idx.seen[normalized] = true

	node := &domain.Node{
		ID:             uuid.NewString(),
		Text:           raw,
		NormalizedText: normalized,
		SourceProvider: provider,
		Tab:            tab.Name,
		CreatedAt:      time.Now().UTC(),
	}
	if idx.sequenced {
		idx.seq++
		node.Sequence = idx.seq
	}
	return node
}

// Sequence reports the tab's last assigned sequence number.
func (d *Deduplicator) Sequence(tabName string) uint64 {
	idx := d.index(tabName)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.seq
}

// Normalize reduces text to its dedup key: trimmed, case-folded, trailing
// punctuation stripped, inner whitespace collapsed.
func Normalize(text string) string {
	s := strings.TrimSpace(text)
	s = strings.ToLower(s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	s = strings.Join(strings.Fields(s), " ")
	return s
}
