// Package judge reduces a turn's votes to the authoritative callback
// payload. An LLM pass adds narrative polish when available; the
// deterministic fallback is the real contract and produces identical
// bytes for identical votes.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/council"
	"github.com/hivetrap/backend/internal/intel"
	"github.com/hivetrap/backend/internal/llm"
)

// maxNotesLen caps the analyst notes in the outbound payload.
const maxNotesLen = 300

// forbiddenNoteTerms never appear in outbound notes: they leak the
// detection machinery to whoever reads the payload.
var forbiddenNoteTerms = []string{"council", "vote", "agent", "honeypot", "ai", "bot"}

// placeholderValues are junk entries models emit for empty fields.
var placeholderValues = map[string]bool{
	"n/a": true, "none": true, "null": true, "unknown": true, "not found": true,
}

// Completer abstracts the LLM client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Input is everything the judge needs for one adjudication.
// TotalMessages is the full conversation length: caller-supplied
// history plus every message the session has logged, agent replies
// included.
type Input struct {
	SessionID     string
	Message       string
	TotalMessages int
	Votes         []core.Vote
}

// Judge produces callback payloads. With llmEnabled false it is fully
// deterministic.
type Judge struct {
	client     Completer
	model      string
	llmEnabled bool
	logger     *log.Logger
}

func New(client Completer, model string, llmEnabled bool) *Judge {
	return &Judge{
		client:     client,
		model:      model,
		llmEnabled: llmEnabled && client != nil,
		logger:     log.New(log.Writer(), "[JUDGE] ", log.LstdFlags),
	}
}

// Adjudicate returns the callback payload for one turn. The LLM
// attempt can fail for any reason without surfacing an error; the
// fallback always produces a payload.
func (j *Judge) Adjudicate(ctx context.Context, in Input) core.CallbackPayload {
	if j.llmEnabled {
		payload, err := j.adjudicateLLM(ctx, in)
		if err == nil {
			return payload
		}
		j.logger.Printf("⚠️ LLM adjudication failed for session %s, using fallback: %v", in.SessionID, err)
	}
	return j.Fallback(in)
}

const judgeSystem = `You are the Final Judge. Aggregate the provided JSON reports into a single final JSON.
Your goal is to synthesize the findings from these reports into a unified verdict.
Strictly return valid JSON only.`

// adjudicateLLM asks the model to apply the aggregation itself, then
// re-validates everything it cannot be trusted with.
func (j *Judge) adjudicateLLM(ctx context.Context, in Input) (core.CallbackPayload, error) {
	votesJSON, err := json.MarshalIndent(rebuildReports(in), "", "  ")
	if err != nil {
		return core.CallbackPayload{}, fmt.Errorf("marshal reports: %w", err)
	}
	preview, err := json.Marshal(mergeVoteIntel(in.Votes))
	if err != nil {
		return core.CallbackPayload{}, fmt.Errorf("marshal preview: %w", err)
	}

	prompt := fmt.Sprintf(`Here are %d JSON reports from independent detection passes. Aggregate them.

## REPORTS (JSON Array)
%s

## CONTEXT
Session ID: %s
Total Messages: %d
User Message: %q

## MERGED INTELLIGENCE PREVIEW (Helper, you can refine this)
%s

## REQUIRED OUTPUT FORMAT
{
  "sessionId": %q,
  "scamDetected": true/false,
  "confidence": 0.0,
  "scamType": "...",
  "totalMessagesExchanged": %d,
  "extractedIntelligence": {
    "bankAccounts": [],
    "upiIds": [],
    "phishingLinks": [],
    "phoneNumbers": [],
    "suspiciousKeywords": []
  },
  "agentNotes": "Aggregated reasoning..."
}`,
		len(in.Votes), votesJSON, in.SessionID, in.TotalMessages, in.Message, preview, in.SessionID, in.TotalMessages)

	content, err := j.client.Complete(ctx, llm.Request{
		Model:       j.model,
		System:      judgeSystem,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		return core.CallbackPayload{}, err
	}

	// Decoding into the payload struct strips whatever extra fields
	// the model invented.
	var payload core.CallbackPayload
	if err := decodeJudgeJSON(content, &payload); err != nil {
		return core.CallbackPayload{}, fmt.Errorf("judge output: %w", err)
	}
	return j.validate(payload, in), nil
}

// validate forces the fields the model is not allowed to decide and
// replaces notes that leak internal mechanics.
func (j *Judge) validate(p core.CallbackPayload, in Input) core.CallbackPayload {
	p.SessionID = in.SessionID
	p.TotalMessagesExchanged = in.TotalMessages
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	if p.ScamType == "" {
		if p.ScamDetected {
			p.ScamType = "unknown"
		} else {
			p.ScamType = "safe"
		}
	}
	if p.AgentNotes == "" || containsForbiddenTerm(p.AgentNotes) {
		verdict := council.Aggregate(in.Votes)
		p.AgentNotes = buildNotes(p.ScamDetected, p.ScamType, p.Confidence, verdict.ScamVotes, p.ExtractedIntelligence)
	}
	if len(p.AgentNotes) > maxNotesLen {
		p.AgentNotes = p.AgentNotes[:maxNotesLen]
	}
	return p
}

// Fallback is the deterministic adjudication: the council's own
// aggregation rules plus normalised intelligence and a templated note.
// Same input, same bytes.
func (j *Judge) Fallback(in Input) core.CallbackPayload {
	verdict := council.Aggregate(in.Votes)
	merged := intel.SanitizeIntelligence(mergeVoteIntel(in.Votes))
	if !verdict.IsScam {
		merged.SuspiciousKeywords = nil
	}

	scamType := verdict.ScamType
	if !verdict.IsScam {
		scamType = "safe"
	}

	return core.CallbackPayload{
		SessionID:              in.SessionID,
		ScamDetected:           verdict.IsScam,
		Confidence:             verdict.Confidence,
		ScamType:               scamType,
		TotalMessagesExchanged: in.TotalMessages,
		ExtractedIntelligence:  merged,
		AgentNotes:             buildNotes(verdict.IsScam, scamType, verdict.Confidence, verdict.ScamVotes, merged),
	}
}

// rebuildReports reconstructs each vote as a payload-shaped object so
// the model sees reports in the exact format it must emit.
func rebuildReports(in Input) []map[string]interface{} {
	reports := make([]map[string]interface{}, 0, len(in.Votes))
	for _, v := range in.Votes {
		if v.Failed {
			continue
		}
		reports = append(reports, map[string]interface{}{
			"sessionId":              in.SessionID,
			"scamDetected":           v.IsScam,
			"confidence":             v.Confidence,
			"scamType":               v.ScamType,
			"totalMessagesExchanged": in.TotalMessages,
			"extractedIntelligence":  v.Intel,
			"agentNotes":             v.Reasoning,
		})
	}
	return reports
}

// mergeVoteIntel unions vote intelligence with placeholder junk
// removed.
func mergeVoteIntel(votes []core.Vote) core.Intelligence {
	return dropPlaceholders(council.MergeIntelligence(votes))
}

func dropPlaceholders(in core.Intelligence) core.Intelligence {
	clean := func(values []string) []string {
		var out []string
		for _, v := range values {
			if !placeholderValues[strings.ToLower(strings.TrimSpace(v))] {
				out = append(out, v)
			}
		}
		return out
	}
	return core.Intelligence{
		BankAccounts:       clean(in.BankAccounts),
		UPIIDs:             clean(in.UPIIDs),
		PhishingLinks:      clean(in.PhishingLinks),
		PhoneNumbers:       clean(in.PhoneNumbers),
		SuspiciousKeywords: clean(in.SuspiciousKeywords),
	}
}

// buildNotes writes the analyst sentence: scam type, certainty, and
// the single strongest extracted entity.
func buildNotes(isScam bool, scamType string, confidence float64, scamVotes int, merged core.Intelligence) string {
	var notes string
	if !isScam {
		notes = "No fraud indicators observed; the conversation reads as benign and no actionable entities were extracted."
	} else {
		notes = fmt.Sprintf("Likely %s attempt flagged by %d independent checks (confidence %.2f).", scamType, scamVotes, confidence)
		if entity, kind := topEntity(merged); entity != "" {
			notes += fmt.Sprintf(" Key indicator: %s %s.", kind, entity)
		}
	}
	if len(notes) > maxNotesLen {
		notes = notes[:maxNotesLen]
	}
	return notes
}

// topEntity picks the strongest single lead, in decreasing order of
// actionability for an evaluator.
func topEntity(merged core.Intelligence) (string, string) {
	switch {
	case len(merged.UPIIDs) > 0:
		return merged.UPIIDs[0], "payment handle"
	case len(merged.BankAccounts) > 0:
		return merged.BankAccounts[0], "account number"
	case len(merged.PhishingLinks) > 0:
		return merged.PhishingLinks[0], "link"
	case len(merged.PhoneNumbers) > 0:
		return merged.PhoneNumbers[0], "phone number"
	case len(merged.SuspiciousKeywords) > 0:
		return merged.SuspiciousKeywords[0], "phrase"
	}
	return "", ""
}

func containsForbiddenTerm(notes string) bool {
	lower := strings.ToLower(notes)
	for _, term := range forbiddenNoteTerms {
		if containsWord(lower, term) {
			return true
		}
	}
	return false
}

// containsWord matches whole words so "maintain" does not trip "ai".
func containsWord(s, word string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(word)
		beforeOK := idx == 0 || !isWordChar(s[idx-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// decodeJudgeJSON strips fences and surrounding prose before
// unmarshalling.
func decodeJudgeJSON(raw string, dst *core.CallbackPayload) error {
	content := strings.TrimSpace(raw)
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	if start := strings.IndexByte(content, '{'); start >= 0 {
		if end := strings.LastIndexByte(content, '}'); end > start {
			content = content[start : end+1]
		}
	}
	return json.Unmarshal([]byte(content), dst)
}
