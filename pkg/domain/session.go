package domain

import (
	"time"
)

// Session is the top-level unit of state for one in-progress suggestion
// workflow. It is created by Start (or a preload), mutated by every other
// operation, and destroyed by Finish, Cancel or the TTL reaper.
type Session struct {
	ID          string `json:"id"`
	DiagramType string `json:"diagram_type"`
	Topic       string `json:"topic"`

	// Stage is the name of the single active stage.
	Stage string `json:"stage"`

	// Terminal is set once the last stage has been advanced past.
	Terminal bool `json:"terminal,omitempty"`

	Tabs map[string]*Tab `json:"tabs"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Tab is an independently generatable bucket of nodes: either one of the
// session's initial tabs or a child tab spawned per selected parent item.
type Tab struct {
	Name string `json:"name"`

	// ParentRef is the text of the selected parent node this tab was
	// spawned from. Empty for initial tabs.
	ParentRef string `json:"parent_ref,omitempty"`

	// Stage is the stage this tab generates for. Initial tabs carry the
	// graph's first stage; child tabs carry the stage they were spawned into.
	Stage string `json:"stage"`

	Nodes           []Node          `json:"nodes"`
	SelectedNodeIDs map[string]bool `json:"selected_node_ids,omitempty"`

	// Locked tabs reject further generation and selection. Set when a
	// stage advance moves past this tab.
	Locked bool `json:"locked,omitempty"`

	// Sequenced tabs assign a monotonically increasing sequence number to
	// each accepted node, in acceptance order.
	Sequenced bool `json:"sequenced,omitempty"`

	// SequenceCounter holds the last assigned sequence number (first
	// assignment is 1).
	SequenceCounter uint64 `json:"sequence_counter,omitempty"`

	// BatchCount tracks how many orchestrator runs this tab has consumed.
	// Later batches use a higher sampling temperature for diversity.
	BatchCount int `json:"batch_count,omitempty"`
}

// Node is a single accepted candidate. Nodes are created only through the
// deduplicator and never mutated afterwards.
type Node struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text"`
	SourceProvider string `json:"source_provider"`
	Tab            string `json:"tab"`

	// Sequence is the per-tab acceptance order for sequenced tabs.
	// Zero means the tab is unsequenced.
	Sequence uint64 `json:"sequence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSession creates a session positioned at the graph's first stage, with
// the graph's initial tabs pre-created.
func NewSession(id string, graph Graph, topic string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             id,
		DiagramType:    graph.DiagramType,
		Topic:          topic,
		Stage:          graph.Stages[0].Name,
		Tabs:           make(map[string]*Tab),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	for _, name := range graph.InitialTabNames() {
		s.Tabs[name] = &Tab{
			Name:            name,
			Stage:           graph.Stages[0].Name,
			SelectedNodeIDs: make(map[string]bool),
			Sequenced:       graph.Stages[0].Sequenced,
		}
	}
	return s
}

// Tab returns the named tab, or nil if it does not exist.
func (s *Session) Tab(name string) *Tab {
	return s.Tabs[name]
}

// Touch updates the last-accessed timestamp used by the TTL reaper.
func (s *Session) Touch() {
	s.LastAccessedAt = time.Now().UTC()
}

// NodeByID scans all tabs for a node with the given id.
func (s *Session) NodeByID(id string) (Node, bool) {
	for _, tab := range s.Tabs {
		for _, n := range tab.Nodes {
			if n.ID == id {
				return n, true
			}
		}
	}
	return Node{}, false
}

// SelectedNodes resolves the union of every tab's selected node ids.
// Each node appears exactly once; cross-tab text duplicates are allowed.
func (s *Session) SelectedNodes() []Node {
	var out []Node
	seen := make(map[string]bool)
	for _, tab := range s.Tabs {
		for _, n := range tab.Nodes {
			if tab.SelectedNodeIDs[n.ID] && !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Clone returns a deep copy of the session. Engine operations mutate a clone
// and persist it only on success, so a rejected call leaves the stored
// session byte-for-byte unchanged.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Tabs = make(map[string]*Tab, len(s.Tabs))
	for name, tab := range s.Tabs {
		cp.Tabs[name] = tab.clone()
	}
	return &cp
}

func (t *Tab) clone() *Tab {
	cp := *t
	cp.Nodes = make([]Node, len(t.Nodes))
	copy(cp.Nodes, t.Nodes)
	cp.SelectedNodeIDs = make(map[string]bool, len(t.SelectedNodeIDs))
	for id, v := range t.SelectedNodeIDs {
		cp.SelectedNodeIDs[id] = v
	}
	return &cp
}

// NodeByID returns the tab-local node with the given id.
func (t *Tab) NodeByID(id string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
