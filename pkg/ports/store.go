package ports

import (
	"context"

	"github.com/mindspring/palette/pkg/domain"
)

// SessionStore defines the interface for persisting suggestion sessions.
// Implementations apply a TTL so that abandoned sessions expire without an
// explicit Finish or Cancel. The engine never assumes that the process that
// saved a session is the one that loads it next.
type SessionStore interface {
	// Save persists the session under its ID, refreshing the TTL.
	Save(ctx context.Context, session *domain.Session) error

	// Load retrieves a session by ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of live (unexpired) sessions.
	List(ctx context.Context) ([]string, error)
}
