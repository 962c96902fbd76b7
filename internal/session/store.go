package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"virtual-tryon/internal/tryon"
)

type Options struct {
	IdleTTL time.Duration
	Logger  *slog.Logger
}

// Store keeps one tryon.State per session id. All reads and writes of a
// state go through the store so they are serialized by its mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	idleTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type entry struct {
	state        tryon.State
	lastActivity time.Time
}

func NewStore(opts Options) *Store {
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{
		sessions: make(map[string]*entry),
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot returns a copy of the state for id, creating a fresh one if
// the session is unknown.
func (s *Store) Snapshot(id string) tryon.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(id)
	return e.state.Snapshot()
}

// Update runs fn with exclusive access to the state for id and returns a
// snapshot taken after fn. fn must not block.
func (s *Store) Update(id string, fn func(*tryon.State) error) (tryon.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(id)
	err := fn(&e.state)
	return e.state.Snapshot(), err
}

func (s *Store) Reset(id string) tryon.State {
	st, _ := s.Update(id, func(st *tryon.State) error {
		st.Reset()
		return nil
	})
	return st
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Evict drops sessions idle for longer than the TTL. Sessions with a run in
// flight are kept. It returns the number of evicted sessions.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		if e.state.Loading {
			continue
		}
		if now.Sub(e.lastActivity) > s.idleTTL {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor evicts idle sessions every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Evict(s.now()); n > 0 {
					s.logger.Info("sessions evicted", "count", n, "remaining", s.Len())
				}
			}
		}
	}()
}

func (s *Store) getOrCreateLocked(id string) *entry {
	if e, ok := s.sessions[id]; ok {
		e.lastActivity = s.now()
		return e
	}

	e := &entry{
		state:        tryon.NewState(),
		lastActivity: s.now(),
	}
	s.sessions[id] = e
	return e
}
