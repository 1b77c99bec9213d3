package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mindspring/palette/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use. Sessions expire after the configured TTL; a
// background janitor reclaims them so abandoned sessions do not accumulate.
type Store struct {
	data map[string]*entry
	mu   sync.RWMutex

	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

type entry struct {
	session   *domain.Session
	expiresAt time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the session expiration. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore creates a new in-memory store. When a TTL is set, a janitor
// goroutine sweeps expired sessions; call Close to stop it.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*entry),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		go s.janitor()
	}
	return s
}

func (s *Store) janitor() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.data, id)
		}
	}
}

// Close stops the janitor. The store remains usable afterwards.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Save persists the session in memory and refreshes its TTL.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	// Deep copy to ensure isolation, similar to serialization
	copied := session.Clone()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[session.ID] = &entry{session: copied, expiresAt: expiresAt}
	return nil
}

// Load retrieves the session from memory.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		// Lazy expiry; the janitor will reclaim the entry.
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so the caller can't mutate store state through the pointer
	return e.session.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns the IDs of live sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	sessions := make([]string, 0, len(s.data))
	for id, e := range s.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		sessions = append(sessions, id)
	}
	return sessions, nil
}
