// Package workerpool bounds the number of concurrently running
// background pipelines and enforces the one-task-per-session rule.
//
// Cancellation is two-layer: a cooperative signal the pipeline polls
// at its checkpoints, and a hard context cancel that unblocks any
// in-flight network wait. Aborting a session fires both.
package workerpool

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Assign after Close.
var ErrClosed = errors.New("worker pool closed")

// CancelSignal is the cooperative half of cancellation. Set is
// idempotent and safe from any goroutine.
type CancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Set marks the signal. Subsequent Sets are no-ops.
func (s *CancelSignal) Set() { s.once.Do(func() { close(s.ch) }) }

// IsSet reports whether the signal has fired.
func (s *CancelSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done exposes the signal as a channel for select loops.
func (s *CancelSignal) Done() <-chan struct{} { return s.ch }

type slot struct {
	id        int
	sessionID string
	cancel    context.CancelFunc
	sig       *CancelSignal
	busy      bool
}

// Lease is one slot assignment. The holder runs its pipeline under
// Context, polls Signal at checkpoints, and must call Release exactly
// once when done — aborted or not.
type Lease struct {
	pool      *Pool
	slot      *slot
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	sig       *CancelSignal
	released  bool
}

func (l *Lease) WorkerID() int            { return l.slot.id }
func (l *Lease) Context() context.Context { return l.ctx }
func (l *Lease) Signal() *CancelSignal    { return l.sig }

// Release frees the slot and hands it to the longest-waiting assigner.
// Idempotent, so a deferred Release is safe next to an explicit one.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.cancel()
	l.pool.release(l.slot, l.sessionID)
}

// Pool is a fixed set of worker slots with FIFO queueing.
type Pool struct {
	mu        sync.Mutex
	slots     []*slot
	free      []*slot
	bySession map[string]*slot
	waiters   []chan *slot
	closed    bool
	logger    *log.Logger
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		bySession: make(map[string]*slot),
		logger:    log.New(log.Writer(), "[POOL] ", log.LstdFlags),
	}
	for i := 0; i < size; i++ {
		s := &slot{id: i}
		p.slots = append(p.slots, s)
		p.free = append(p.free, s)
	}
	p.logger.Printf("🔧 initialised with %d worker slot(s)", size)
	return p
}

// Assign binds a free slot to the session, blocking FIFO behind other
// assigners when the pool is saturated. The caller must have aborted
// any previous task for the session first; Assign itself never does.
func (p *Pool) Assign(ctx context.Context, sessionID string) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.free) > 0 {
		s := p.free[0]
		p.free = p.free[1:]
		lease := p.bind(s, sessionID)
		p.mu.Unlock()
		return lease, nil
	}

	wait := make(chan *slot, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	select {
	case s := <-wait:
		if s == nil {
			// Channel closed by Close.
			return nil, ErrClosed
		}
		p.mu.Lock()
		if p.closed {
			p.free = append(p.free, s)
			p.mu.Unlock()
			return nil, ErrClosed
		}
		lease := p.bind(s, sessionID)
		p.mu.Unlock()
		return lease, nil
	case <-ctx.Done():
		p.abandonWaiter(wait)
		return nil, ctx.Err()
	}
}

// bind is called with p.mu held.
func (p *Pool) bind(s *slot, sessionID string) *Lease {
	ctx, cancel := context.WithCancel(context.Background())
	sig := NewCancelSignal()
	s.busy = true
	s.sessionID = sessionID
	s.cancel = cancel
	s.sig = sig
	p.bySession[sessionID] = s
	return &Lease{pool: p, slot: s, sessionID: sessionID, ctx: ctx, cancel: cancel, sig: sig}
}

// abandonWaiter removes a waiter that gave up. A slot may already be
// in flight to it; if so the slot goes back into circulation.
func (p *Pool) abandonWaiter(wait chan *slot) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == wait {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	// Not queued anymore: release already picked this waiter.
	select {
	case s := <-wait:
		p.handoffOrFree(s)
	default:
	}
	p.mu.Unlock()
}

// AbortSession fires both cancellation layers for the session's active
// task, if any, and returns the cooperative signal that was set. The
// slot itself stays bound until the aborted task releases it.
// Idempotent: a second abort returns the same already-set signal.
func (p *Pool) AbortSession(sessionID string) *CancelSignal {
	p.mu.Lock()
	s, ok := p.bySession[sessionID]
	if !ok || !s.busy {
		p.mu.Unlock()
		return nil
	}
	sig := s.sig
	cancel := s.cancel
	p.mu.Unlock()

	sig.Set()
	cancel()
	p.logger.Printf("🚫 aborted active task for session %s (worker %d)", sessionID, s.id)
	return sig
}

// WorkerForSession reports which worker is bound to the session.
func (p *Pool) WorkerForSession(sessionID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.bySession[sessionID]
	if !ok || !s.busy {
		return 0, false
	}
	return s.id, true
}

// release returns a slot to circulation. The session registry entry is
// cleared only if it still points at this slot: a superseded task must
// not wipe the binding its successor just created.
func (p *Pool) release(s *slot, sessionID string) {
	p.mu.Lock()
	if cur, ok := p.bySession[sessionID]; ok && cur == s {
		delete(p.bySession, sessionID)
	}
	s.busy = false
	s.sessionID = ""
	s.cancel = nil
	s.sig = nil
	p.handoffOrFree(s)
	p.mu.Unlock()
}

// handoffOrFree, with p.mu held, gives the slot to the longest waiter
// or parks it on the free list.
func (p *Pool) handoffOrFree(s *slot) {
	if len(p.waiters) > 0 {
		wait := p.waiters[0]
		p.waiters = p.waiters[1:]
		wait <- s
		return
	}
	p.free = append(p.free, s)
}

// Close aborts every active task and fails queued assigners.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	var cancels []context.CancelFunc
	for _, s := range p.slots {
		if s.busy {
			s.sig.Set()
			cancels = append(cancels, s.cancel)
		}
	}
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, w := range waiters {
		close(w)
	}
}

// Stats reports pool occupancy for the stats endpoint.
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := 0
	sessions := make([]string, 0, len(p.slots))
	for _, s := range p.slots {
		if s.busy {
			busy++
			sessions = append(sessions, s.sessionID)
		}
	}
	return map[string]interface{}{
		"size":           len(p.slots),
		"busy":           busy,
		"available":      len(p.slots) - busy,
		"queued":         len(p.waiters),
		"activeSessions": sessions,
	}
}
