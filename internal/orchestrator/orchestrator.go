// Package orchestrator is the single entry point of the message
// pipeline. It answers every request synchronously with a persona
// reply, then runs detection, adjudication and callback dispatch in a
// background task bound to the session through the worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hivetrap/backend/internal/callback"
	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/events"
	"github.com/hivetrap/backend/internal/intel"
	"github.com/hivetrap/backend/internal/judge"
	"github.com/hivetrap/backend/internal/monitoring"
	"github.com/hivetrap/backend/internal/reply"
	"github.com/hivetrap/backend/internal/session"
	"github.com/hivetrap/backend/internal/workerpool"
)

const eventSource = "orchestrator"

// Analyzer is the council surface the orchestrator depends on.
type Analyzer interface {
	Analyze(ctx context.Context, message, contextStr, sessionID string, turn int) core.Verdict
	Size() int
}

// Adjudicator produces the final callback payload.
type Adjudicator interface {
	Adjudicate(ctx context.Context, in judge.Input) core.CallbackPayload
}

// Extractor runs the regex+LLM intelligence pass.
type Extractor interface {
	Extract(ctx context.Context, message string, history []core.Message) core.Intelligence
}

// Sender delivers the final payload.
type Sender interface {
	Send(ctx context.Context, payload core.CallbackPayload) (string, error)
	URL() string
}

var _ Sender = (*callback.Dispatcher)(nil)

// Options bundles the orchestrator's collaborators and tuning.
type Options struct {
	Store      *session.Store
	Pool       *workerpool.Pool
	Council    Analyzer
	Judge      Adjudicator
	Extractor  Extractor
	Replies    reply.Generator
	Dispatcher Sender
	Emitter    events.EventEmitter
	Metrics    *monitoring.Metrics

	// Delay before the first-contact fan-out; a rapid second message
	// supersedes the task during this window instead of wasting a
	// council run.
	FirstContactDelay time.Duration

	// ConfidenceThreshold gates session scam-state promotion.
	ConfidenceThreshold float64
}

// pendingEntry tracks a pipeline still waiting for a worker slot. The
// pool registry only covers bound tasks; superseding a queued one goes
// through here.
type pendingEntry struct {
	cancel context.CancelFunc
}

// Orchestrator owns the per-session pipeline lifecycle.
type Orchestrator struct {
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
	mu      sync.Mutex
	pending map[string]*pendingEntry
	logger  *log.Logger
}

func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*pendingEntry),
		logger:  log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// Close stops accepting background work and waits for in-flight tasks
// to observe cancellation.
func (o *Orchestrator) Close() {
	o.cancel()
	o.opts.Pool.Close()
	o.tasks.Wait()
}

// ProcessMessage handles one inbound request. The returned response is
// the only synchronous output; the caller sees best-effort scam state
// from the prior turn, never this turn's pending analysis.
func (o *Orchestrator) ProcessMessage(req core.Request) core.Response {
	started := time.Now()
	historyCount := len(req.History)

	o.opts.Store.GetOrCreate(req.SessionID)
	o.opts.Store.Update(req.SessionID, func(r *session.Record) {
		r.Messages = append(r.Messages, req.Message)
		r.TurnCount++
	})
	o.emit(events.TypeMessageReceived, req.SessionID, map[string]interface{}{
		"channel": req.Channel,
		"sender":  req.Message.Sender,
	})

	// An older turn's analysis may still be queued or running; either
	// way this request supersedes it.
	superseded := false
	o.mu.Lock()
	if prev, ok := o.pending[req.SessionID]; ok {
		prev.cancel()
		delete(o.pending, req.SessionID)
		superseded = true
	}
	o.mu.Unlock()
	if o.opts.Pool.AbortSession(req.SessionID) != nil {
		superseded = true
	}
	if superseded {
		o.opts.Store.Update(req.SessionID, func(r *session.Record) {
			r.CallbackSent = false
			r.CallbackResponse = ""
			r.FinalPayload = nil
		})
		if o.opts.Metrics != nil {
			o.opts.Metrics.Supersedes.Inc()
		}
		o.emit(events.TypeSessionSuperseded, req.SessionID, nil)
		o.logger.Printf("⚠️ session %s: in-flight analysis superseded", req.SessionID)
	}

	rec, _ := o.opts.Store.Get(req.SessionID)
	replyText := o.generateReply(req, rec)

	rec, _ = o.opts.Store.Get(req.SessionID)
	resp := core.Response{
		SessionID:    req.SessionID,
		Status:       "success",
		Reply:        replyText,
		ScamDetected: rec.IsScamDetected,
		Confidence:   rec.ScamConfidence,
	}

	// Schedule after the response object is complete; Assign may block
	// on a saturated pool, so the wait happens inside the task.
	waitCtx, cancelWait := context.WithCancel(o.ctx)
	entry := &pendingEntry{cancel: cancelWait}
	o.mu.Lock()
	o.pending[req.SessionID] = entry
	o.mu.Unlock()
	o.tasks.Add(1)
	go o.runPipeline(waitCtx, entry, req.SessionID, req.Message.Text, historyCount)

	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordReply(time.Since(started))
	}
	return resp
}

// generateReply calls the persona generator and commits its output.
// Empty reply is the skip signal: nothing appended, response carries
// null.
func (o *Orchestrator) generateReply(req core.Request, rec session.Record) *string {
	if o.opts.Replies == nil {
		return nil
	}
	text, personaID, err := o.opts.Replies.Generate(
		o.ctx, req.Message.Text, rec.Messages, rec.ScamType, rec.PersonaID, rec.TurnCount)
	if err != nil {
		o.logger.Printf("⚠️ session %s: reply generation failed: %v", req.SessionID, err)
		return nil
	}

	o.opts.Store.Update(req.SessionID, func(r *session.Record) {
		r.PersonaID = personaID
		if text != "" {
			r.Messages = append(r.Messages, core.Message{Sender: "agent", Text: text})
		}
	})
	if text == "" {
		return nil
	}
	return &text
}

// runPipeline is the background task: delay, council, extractor,
// judge, callback — with a cancellation test at every stage boundary.
func (o *Orchestrator) runPipeline(waitCtx context.Context, entry *pendingEntry, sessionID, message string, historyCount int) {
	defer o.tasks.Done()
	defer entry.cancel()

	lease, err := o.opts.Pool.Assign(waitCtx, sessionID)

	// Once bound (or failed), the pool registry takes over from the
	// pending map. Only clear our own entry: a successor may already
	// have replaced it.
	o.mu.Lock()
	if cur, ok := o.pending[sessionID]; ok && cur == entry {
		delete(o.pending, sessionID)
	}
	o.mu.Unlock()

	if err != nil {
		if waitCtx.Err() == nil {
			o.logger.Printf("🚫 session %s: no worker slot: %v", sessionID, err)
		}
		return
	}
	defer lease.Release()

	// A supersede can land between the slot handoff and the registry
	// rebind; the cancelled wait context catches that window.
	if waitCtx.Err() != nil {
		return
	}

	ctx, sig := lease.Context(), lease.Signal()
	cancelled := func() bool { return sig.IsSet() || ctx.Err() != nil }

	// (a) before the optional delay
	if cancelled() {
		return
	}
	if historyCount == 0 && o.opts.FirstContactDelay > 0 {
		select {
		case <-time.After(o.opts.FirstContactDelay):
		case <-ctx.Done():
			return
		case <-sig.Done():
			return
		}
	}
	// (b) after the optional delay
	if cancelled() {
		return
	}

	rec, ok := o.opts.Store.Get(sessionID)
	if !ok {
		return
	}

	// (c) before council fan-out
	if cancelled() {
		return
	}
	started := time.Now()
	verdict := o.opts.Council.Analyze(ctx, message, conversationContext(rec.Messages), sessionID, rec.TurnCount)

	// (d) after fan-out, votes not yet committed
	if cancelled() {
		return
	}
	o.commitVerdict(sessionID, verdict)
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordCouncil(time.Since(started), verdict.IsScam)
		for _, v := range verdict.Votes {
			outcome := "safe"
			if v.IsScam {
				outcome = "scam"
			}
			o.opts.Metrics.RecordVote(v.Voter, outcome)
		}
	}
	o.emit(events.TypeVerdictReached, sessionID, map[string]interface{}{
		"isScam":     verdict.IsScam,
		"confidence": verdict.Confidence,
		"scamType":   verdict.ScamType,
		"scamVotes":  verdict.ScamVotes,
	})

	// (e) before extractor
	if cancelled() {
		return
	}
	if o.opts.Extractor != nil {
		extracted := o.opts.Extractor.Extract(ctx, message, rec.Messages)
		o.opts.Store.Update(sessionID, func(r *session.Record) {
			r.Intel = r.Intel.Merge(extracted)
		})
	}

	// (f) before judge
	if cancelled() {
		return
	}
	rec, ok = o.opts.Store.Get(sessionID)
	if !ok {
		return
	}
	// Conversation length = caller-supplied history plus everything the
	// session has logged since, agent replies included.
	totalMessages := historyCount + len(rec.Messages)
	payload := o.opts.Judge.Adjudicate(ctx, judge.Input{
		SessionID:     sessionID,
		Message:       message,
		TotalMessages: totalMessages,
		Votes:         verdict.Votes,
	})
	payload.ExtractedIntelligence = payload.ExtractedIntelligence.Merge(rec.Intel)
	payload.SessionID = sessionID
	payload.TotalMessagesExchanged = totalMessages
	payload = intel.SanitizePayload(payload)

	o.opts.Store.Update(sessionID, func(r *session.Record) {
		r.FinalPayload = &payload
	})

	// (g) immediately before callback dispatch
	if cancelled() {
		return
	}
	o.dispatch(ctx, sessionID, payload)
}

// commitVerdict appends this turn's votes and promotes or resets the
// session's scam state. Promotion needs the verdict, the confidence
// threshold and the two-vote floor together; anything weaker resets
// to safe.
func (o *Orchestrator) commitVerdict(sessionID string, verdict core.Verdict) {
	promote := verdict.IsScam &&
		verdict.Confidence >= o.opts.ConfidenceThreshold &&
		verdict.ScamVotes >= 2

	o.opts.Store.Update(sessionID, func(r *session.Record) {
		r.Votes = append(r.Votes, verdict.Votes...)
		r.Verdict = &verdict
		if promote {
			r.IsScamDetected = true
			r.ScamConfidence = verdict.Confidence
			r.ScamType = verdict.ScamType
		} else {
			r.IsScamDetected = false
			r.ScamConfidence = 0
			r.ScamType = "safe"
		}
	})
}

// dispatch delivers the payload unless this session already delivered
// one. The flag flips only on success, so a failed delivery leaves the
// next turn free to retry.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, payload core.CallbackPayload) {
	rec, ok := o.opts.Store.Get(sessionID)
	if !ok || rec.CallbackSent {
		return
	}
	if o.opts.Dispatcher == nil || o.opts.Dispatcher.URL() == "" {
		return
	}

	body, err := o.opts.Dispatcher.Send(ctx, payload)
	if err != nil {
		if o.opts.Metrics != nil {
			o.opts.Metrics.RecordCallback(false)
		}
		o.emit(events.TypeCallbackFailed, sessionID, map[string]interface{}{"error": err.Error()})
		o.logger.Printf("❌ session %s: callback failed: %v", sessionID, err)
		return
	}

	if o.opts.Store.MarkCallbackSent(sessionID) {
		o.opts.Store.Update(sessionID, func(r *session.Record) {
			r.CallbackResponse = body
		})
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordCallback(true)
	}
	o.emit(events.TypeCallbackSent, sessionID, map[string]interface{}{
		"scamDetected": payload.ScamDetected,
		"scamType":     payload.ScamType,
	})
	o.logger.Printf("✅ session %s: callback delivered (scam=%v type=%s)",
		sessionID, payload.ScamDetected, payload.ScamType)
}

func (o *Orchestrator) emit(eventType, sessionID string, data map[string]interface{}) {
	if o.opts.Emitter != nil {
		o.opts.Emitter.Emit(eventType, eventSource, sessionID, data)
	}
}

// conversationContext renders the message log for voter prompts.
func conversationContext(messages []core.Message) string {
	if len(messages) == 0 {
		return "(no prior messages)"
	}
	const window = 10
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", msg.Sender, msg.Text)
	}
	return b.String()
}
