package domain

// EventType identifies the category of an orchestrator event.
type EventType string

const (
	// EventNodeAccepted carries a freshly accepted node.
	EventNodeAccepted EventType = "node_accepted"
	// EventNodeRejected reports a candidate dropped as a duplicate.
	// Duplicates are informational, never errors.
	EventNodeRejected EventType = "node_rejected_duplicate"
	// EventProviderDone reports that one provider's stream finished.
	EventProviderDone EventType = "provider_done"
	// EventProviderError reports an isolated provider failure. The run
	// continues with the remaining providers.
	EventProviderError EventType = "provider_error"
	// EventBatchComplete is the final event of every run, successful or not.
	EventBatchComplete EventType = "batch_complete"
)

// Event is one element of the stream produced by an orchestrator run.
type Event struct {
	Type     EventType `json:"type"`
	Node     *Node     `json:"node,omitempty"`
	Text     string    `json:"text,omitempty"`     // rejected candidate text
	Provider string    `json:"provider,omitempty"` // source of node/rejection/error/done
	Reason   string    `json:"reason,omitempty"`   // provider_error detail

	// Accepted is the run's total accepted count (batch_complete only).
	Accepted int `json:"accepted,omitempty"`

	// Exhausted marks a run that hit its wall-clock budget before reaching
	// the target count. This is a normal outcome, not an error.
	Exhausted bool `json:"exhausted,omitempty"`
}

// StageAdvanceOutcome describes the result of a successful advance call.
type StageAdvanceOutcome struct {
	// Stage is the new active stage name. Empty when the session became
	// terminal.
	Stage string `json:"stage,omitempty"`

	// Terminal indicates the last stage was advanced past.
	Terminal bool `json:"terminal,omitempty"`

	// CreatedTabs lists the child tabs spawned for the selected parents,
	// in selection order.
	CreatedTabs []string `json:"created_tabs,omitempty"`

	// LockedTabs lists the tabs that were locked by this advance.
	LockedTabs []string `json:"locked_tabs,omitempty"`
}
