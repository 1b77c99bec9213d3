package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidSelection is returned when an advance call violates the active
// stage's selection policy. The session is left untouched.
var ErrInvalidSelection = errors.New("invalid selection")

// ErrBusy is returned when a batch is requested for a (session, tab) pair
// that already has a run in flight. Calls are rejected, not queued.
var ErrBusy = errors.New("generation already in progress for tab")

// ErrTabLocked is returned when generation or selection targets a tab that a
// stage advance has already moved past.
var ErrTabLocked = errors.New("tab is locked")

// ErrTerminalStage is returned when advance is called on a session whose
// stage graph has no further stages.
var ErrTerminalStage = errors.New("no further stages")

// ErrUnknownDiagramType is returned when no stage graph entry exists for the
// requested diagram type.
var ErrUnknownDiagramType = errors.New("unknown diagram type")

// ErrUnknownTab is returned when an operation names a tab the session does
// not have.
var ErrUnknownTab = errors.New("unknown tab")
