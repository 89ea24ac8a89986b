package council

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

// Completer is the slice of llm.Client the council depends on; tests
// substitute canned completions.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// VoterSpec parameterises one council voter.
type VoterSpec struct {
	Name        string
	Model       string
	PromptPath  string
	FallbackKey string
	JSONMode    bool
}

// Voter wraps one LLM provider call and turns its completion into a
// structured Vote. It never returns an error through the fan-out: a
// broken call yields the failed sentinel, a broken completion yields a
// synthesised parse-error vote.
type Voter struct {
	name        string
	model       string
	template    string
	fallbackKey string
	jsonMode    bool
	client      Completer
	logger      *log.Logger
}

// NewVoter loads the prompt template from disk once, at construction.
// The template must carry {context} and {message} placeholders.
func NewVoter(spec VoterSpec, client Completer) (*Voter, error) {
	raw, err := os.ReadFile(spec.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("voter %s: load prompt %s: %w", spec.Name, spec.PromptPath, err)
	}
	template := string(raw)
	if !strings.Contains(template, "{message}") {
		return nil, fmt.Errorf("voter %s: prompt %s lacks {message} placeholder", spec.Name, spec.PromptPath)
	}

	return &Voter{
		name:        spec.Name,
		model:       spec.Model,
		template:    template,
		fallbackKey: spec.FallbackKey,
		jsonMode:    spec.JSONMode,
		client:      client,
		logger:      log.New(log.Writer(), "[VOTER] ", log.LstdFlags),
	}, nil
}

// Name identifies the voter in votes and metrics.
func (v *Voter) Name() string { return v.name }

// Vote analyses one message in its rolling context. Network and HTTP
// failures come back as the failed sentinel; there are no retries at
// this layer — the council absorbs per-voter failures.
func (v *Voter) Vote(ctx context.Context, message, contextStr, sessionID string, turn int) core.Vote {
	prompt := strings.ReplaceAll(v.template, "{context}", contextStr)
	prompt = strings.ReplaceAll(prompt, "{message}", message)

	content, err := v.client.Complete(ctx, llm.Request{
		Model:       v.model,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   1024,
		TopP:        1.0,
		JSONMode:    v.jsonMode,
		FallbackKey: v.fallbackKey,
	})
	if err != nil {
		v.logger.Printf("❌ %s failed for session %s turn %d: %v", v.name, sessionID, turn, err)
		return core.Vote{
			Voter:     v.name,
			Failed:    true,
			ScamType:  "error",
			Reasoning: fmt.Sprintf("voter call failed: %v", err),
		}
	}

	obj, err := decodeModelJSON(content)
	if err != nil {
		v.logger.Printf("⚠️ %s returned unparsable JSON for session %s (%d bytes)", v.name, sessionID, len(content))
		return core.Vote{
			Voter:     v.name,
			ScamType:  "safe",
			Reasoning: truncateRunes(content, 1000),
			Intel:     core.Intelligence{SuspiciousKeywords: []string{"json_parse_error"}},
		}
	}

	return v.mapVote(obj)
}

// mapVote converts a decoded model object into a Vote, tolerating the
// notes/agentNotes field inconsistency across models.
func (v *Voter) mapVote(obj map[string]interface{}) core.Vote {
	isScam := jsonBool(obj, "scamDetected")

	notes := jsonString(obj, "notes")
	if notes == "" {
		notes = jsonString(obj, "agentNotes")
	}
	if notes == "" {
		notes = "No notes"
	}

	scamType := jsonString(obj, "scamType")
	if scamType == "" {
		if isScam {
			scamType = "scam"
		} else {
			scamType = "safe"
		}
	}

	vote := core.Vote{
		Voter:      v.name,
		IsScam:     isScam,
		Confidence: clamp01(jsonFloat(obj, "confidence")),
		ScamType:   scamType,
		Reasoning:  notes,
	}

	if intel, ok := obj["extractedIntelligence"].(map[string]interface{}); ok {
		vote.Intel = core.Intelligence{
			BankAccounts:       jsonStringList(intel, "bankAccounts"),
			UPIIDs:             jsonStringList(intel, "upiIds"),
			PhishingLinks:      jsonStringList(intel, "phishingLinks"),
			PhoneNumbers:       jsonStringList(intel, "phoneNumbers"),
			SuspiciousKeywords: jsonStringList(intel, "suspiciousKeywords"),
		}
	}
	return vote
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
