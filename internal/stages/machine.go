// Package stages interprets a session's current stage against its diagram
// type's stage graph. The machine is generic: all per-diagram behavior lives
// in the domain.StageGraph table.
package stages

import (
	"fmt"

	"github.com/mindspring/palette/pkg/domain"
)

// Machine validates and applies stage advances.
type Machine struct {
	graphs domain.StageGraph
}

// NewMachine creates a machine over the given stage tables.
func NewMachine(graphs domain.StageGraph) *Machine {
	return &Machine{graphs: graphs}
}

// Graphs exposes the underlying stage tables.
func (m *Machine) Graphs() domain.StageGraph {
	return m.graphs
}

// Advance applies one stage transition to the session, in place. The caller
// passes a working copy: on any error the copy is discarded, so a rejected
// advance never leaves partial mutation behind.
//
// On success the advanced-past tab is locked, one child tab is created per
// selected node (keyed by the node's text), and the session moves to the
// tab's next stage. Advancing a last-stage tab records its selection, locks
// it, and marks the session terminal; sibling last-stage tabs may each do so
// independently, so a terminal session still accepts them until every one is
// locked.
func (m *Machine) Advance(session *domain.Session, tabName string, selectedIDs []string) (domain.StageAdvanceOutcome, error) {
	graph, err := m.graphs.Lookup(session.DiagramType)
	if err != nil {
		return domain.StageAdvanceOutcome{}, err
	}

	tab := session.Tab(tabName)
	if tab == nil {
		return domain.StageAdvanceOutcome{}, fmt.Errorf("%w: %q", domain.ErrUnknownTab, tabName)
	}
	if tab.Locked {
		return domain.StageAdvanceOutcome{}, fmt.Errorf("%w: %q", domain.ErrTabLocked, tabName)
	}

	stage, _, ok := graph.Stage(tab.Stage)
	if !ok {
		return domain.StageAdvanceOutcome{}, fmt.Errorf("tab %q stage %q not in graph for %q", tabName, tab.Stage, session.DiagramType)
	}

	next, hasNext := graph.Next(tab.Stage)
	if session.Terminal && hasNext {
		// Once terminal, only last-stage tabs may still record a selection;
		// nothing may spawn further stages.
		return domain.StageAdvanceOutcome{}, domain.ErrTerminalStage
	}

	if err := validateSelection(stage.Policy, tab, selectedIDs); err != nil {
		return domain.StageAdvanceOutcome{}, err
	}

	// Validation passed; mutate.
	tab.SelectedNodeIDs = make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		tab.SelectedNodeIDs[id] = true
	}
	tab.Locked = true

	outcome := domain.StageAdvanceOutcome{LockedTabs: []string{tab.Name}}

	if !hasNext {
		session.Terminal = true
		outcome.Terminal = true
		return outcome, nil
	}

	for _, id := range selectedIDs {
		node, _ := tab.NodeByID(id)
		name := childTabName(session, node.Text)
		session.Tabs[name] = &domain.Tab{
			Name:            name,
			ParentRef:       node.Text,
			Stage:           next.Name,
			SelectedNodeIDs: make(map[string]bool),
			Sequenced:       next.Sequenced,
		}
		outcome.CreatedTabs = append(outcome.CreatedTabs, name)
	}

	session.Stage = next.Name
	outcome.Stage = next.Name
	return outcome, nil
}

func validateSelection(policy domain.SelectionPolicy, tab *domain.Tab, selectedIDs []string) error {
	switch policy {
	case domain.SelectSingle:
		if len(selectedIDs) != 1 {
			return fmt.Errorf("%w: stage requires exactly one selection, got %d", domain.ErrInvalidSelection, len(selectedIDs))
		}
	case domain.SelectMulti:
		if len(selectedIDs) == 0 {
			return fmt.Errorf("%w: stage requires at least one selection", domain.ErrInvalidSelection)
		}
	default:
		return fmt.Errorf("unknown selection policy %q", policy)
	}

	for _, id := range selectedIDs {
		if _, ok := tab.NodeByID(id); !ok {
			return fmt.Errorf("%w: node %q not in tab %q", domain.ErrInvalidSelection, id, tab.Name)
		}
	}
	return nil
}

// childTabName keys a spawned tab by the selected node's text, suffixing on
// the rare collision with an existing tab.
func childTabName(session *domain.Session, text string) string {
	name := text
	for i := 2; session.Tab(name) != nil; i++ {
		name = fmt.Sprintf("%s#%d", text, i)
	}
	return name
}
