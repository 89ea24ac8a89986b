package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hivetrap/backend/internal/core"
)

func TestStore_GetOrCreate(t *testing.T) {
	s := NewStore()

	rec, existed := s.GetOrCreate("s1")
	assert.False(t, existed)
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "unknown", rec.ScamType)

	_, existed = s.GetOrCreate("s1")
	assert.True(t, existed)
	assert.Equal(t, 1, s.Count())
}

func TestStore_UpdateAppliesUnderLock(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("s1")

	ok := s.Update("s1", func(r *Record) {
		r.TurnCount++
		r.Messages = append(r.Messages, core.Message{Sender: "scammer", Text: "hi"})
	})
	assert.True(t, ok)

	rec, _ := s.Get("s1")
	assert.Equal(t, 1, rec.TurnCount)
	assert.Len(t, rec.Messages, 1)
}

func TestStore_UpdateMissingSessionIsNoop(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Update("ghost", func(r *Record) { r.TurnCount = 99 }))
}

func TestStore_RecordsAreCopies(t *testing.T) {
	s := NewStore()
	rec, _ := s.GetOrCreate("s1")
	rec.TurnCount = 42

	stored, _ := s.Get("s1")
	assert.Equal(t, 0, stored.TurnCount)
}

func TestStore_MarkCallbackSentOnce(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("s1")

	assert.True(t, s.MarkCallbackSent("s1"))
	assert.False(t, s.MarkCallbackSent("s1"))
	assert.False(t, s.MarkCallbackSent("missing"))

	rec, _ := s.Get("s1")
	assert.True(t, rec.CallbackSent)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("s1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("s1", func(r *Record) { r.TurnCount++ })
		}()
	}
	wg.Wait()

	rec, _ := s.Get("s1")
	assert.Equal(t, 50, rec.TurnCount)
}

func TestStore_SweepEvictsOnlyResolvedSessions(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("resolved")
	s.GetOrCreate("pending")
	s.MarkCallbackSent("resolved")

	// Age both sessions past the cutoff.
	s.mu.Lock()
	for _, rec := range s.sessions {
		rec.LastActivity = time.Now().Add(-time.Hour)
	}
	s.mu.Unlock()

	evicted := s.sweep(time.Minute)
	assert.Equal(t, 1, evicted)

	_, ok := s.Get("resolved")
	assert.False(t, ok)
	_, ok = s.Get("pending")
	assert.True(t, ok)
}

func TestStore_SweepKeepsActiveSessions(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("fresh")
	s.MarkCallbackSent("fresh")

	assert.Equal(t, 0, s.sweep(time.Minute))
	assert.Equal(t, 1, s.Count())
}
