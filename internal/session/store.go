// Package session holds per-session conversation state. State is
// process-local and in-memory: one process owns a session for its
// whole lifetime, so a single map behind one mutex is enough.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hivetrap/backend/internal/core"
)

// Record is the mutable state of one session. The store hands out
// copies; mutation goes through Update so the single-writer invariant
// of the owning background task is never circumvented.
type Record struct {
	ID               string                `json:"id"`
	Messages         []core.Message        `json:"messages"`
	TurnCount        int                   `json:"turnCount"`
	IsScamDetected   bool                  `json:"isScamDetected"`
	ScamConfidence   float64               `json:"scamConfidence"`
	ScamType         string                `json:"scamType"`
	Intel            core.Intelligence     `json:"intel"`
	Votes            []core.Vote           `json:"votes"`
	Verdict          *core.Verdict         `json:"verdict,omitempty"`
	FinalPayload     *core.CallbackPayload `json:"finalPayload,omitempty"`
	CallbackSent     bool                  `json:"callbackSent"`
	CallbackResponse string                `json:"callbackResponse,omitempty"`
	PersonaID        string                `json:"personaId"`
	CreatedAt        time.Time             `json:"createdAt"`
	LastActivity     time.Time             `json:"lastActivity"`
}

// Store is the in-memory session map. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	logger   *log.Logger
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Record),
		logger:   log.New(log.Writer(), "[SESSIONS] ", log.LstdFlags),
	}
}

// GetOrCreate returns a copy of the session record, creating it on
// first contact. The second return reports whether it already existed.
func (s *Store) GetOrCreate(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		now := time.Now()
		rec = &Record{ID: id, ScamType: "unknown", CreatedAt: now, LastActivity: now}
		s.sessions[id] = rec
		s.logger.Printf("🆕 session %s created", id)
	}
	return *rec, ok
}

// Get returns a copy of the record without creating it.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Update applies fn to the live record under the store lock. A missing
// session is a no-op returning false: a swept session must not be
// resurrected by a straggling background task.
func (s *Store) Update(id string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(rec)
	rec.LastActivity = time.Now()
	return true
}

// MarkCallbackSent flips the callback flag, returning false if it was
// already set. The flag is monotonic: it never goes back to false for
// the same payload generation.
func (s *Store) MarkCallbackSent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || rec.CallbackSent {
		return false
	}
	rec.CallbackSent = true
	rec.LastActivity = time.Now()
	return true
}

// Count reports how many sessions are live.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot copies every record, for the debug endpoints.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, *rec)
	}
	return out
}

// StartSweeper evicts idle sessions in the background until ctx ends.
// Only fully resolved sessions (callback already delivered) are
// evicted; an idle session that still owes a callback keeps its state
// so a late turn can finish the job. A zero timeout disables sweeping.
func (s *Store) StartSweeper(ctx context.Context, idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		return
	}
	interval := idleTimeout / 2
	if interval > time.Minute {
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
				if n := s.sweep(idleTimeout); n > 0 {
					s.logger.Printf("🧹 evicted %d idle session(s)", n)
				}
			}
		}
	}()
}

func (s *Store) sweep(idleTimeout time.Duration) int {
	cutoff := time.Now().Add(-idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, rec := range s.sessions {
		if rec.CallbackSent && rec.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}
