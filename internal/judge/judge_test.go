package judge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	return s.content, s.err
}

func scamVote(name string, conf float64, scamType string, intel core.Intelligence) core.Vote {
	return core.Vote{Voter: name, IsScam: true, Confidence: conf, ScamType: scamType, Intel: intel}
}

func sampleInput() Input {
	return Input{
		SessionID:     "sess-1",
		Message:       "share OTP at fraud@ybl",
		TotalMessages: 3,
		Votes: []core.Vote{
			scamVote("a", 0.9, "upi_fraud", core.Intelligence{
				UPIIDs:             []string{"fraud@ybl", "n/a"},
				SuspiciousKeywords: []string{"otp", "OTP now"},
			}),
			scamVote("b", 0.8, "upi_fraud", core.Intelligence{
				UPIIDs:       []string{"fraud@ybl"},
				BankAccounts: []string{"unknown"},
			}),
			{Voter: "c", IsScam: false, ScamType: "safe"},
		},
	}
}

func TestFallback_ScamPayload(t *testing.T) {
	j := New(nil, "", false)
	p := j.Fallback(sampleInput())

	assert.Equal(t, "sess-1", p.SessionID)
	assert.True(t, p.ScamDetected)
	assert.Equal(t, "upi_fraud", p.ScamType)
	assert.Equal(t, 3, p.TotalMessagesExchanged)
	assert.InDelta(t, 0.85, p.Confidence, 1e-9)
	// Placeholder entries are gone, the duplicate handle appears once.
	assert.Equal(t, []string{"fraud@ybl"}, p.ExtractedIntelligence.UPIIDs)
	assert.Empty(t, p.ExtractedIntelligence.BankAccounts)
	assert.Equal(t, []string{"otp"}, p.ExtractedIntelligence.SuspiciousKeywords)
	assert.Contains(t, p.AgentNotes, "upi_fraud")
	assert.Contains(t, p.AgentNotes, "fraud@ybl")
	assert.LessOrEqual(t, len(p.AgentNotes), 300)
}

func TestFallback_DeterministicBytes(t *testing.T) {
	j := New(nil, "", false)
	first, err := json.Marshal(j.Fallback(sampleInput()))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(j.Fallback(sampleInput()))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestFallback_SafeVerdict(t *testing.T) {
	j := New(nil, "", false)
	p := j.Fallback(Input{
		SessionID:     "sess-2",
		TotalMessages: 1,
		Votes: []core.Vote{
			{Voter: "a", IsScam: false, ScamType: "safe", Intel: core.Intelligence{SuspiciousKeywords: []string{"urgent"}}},
			{Voter: "b", IsScam: false, ScamType: "safe"},
		},
	})

	assert.False(t, p.ScamDetected)
	assert.Equal(t, "safe", p.ScamType)
	assert.Equal(t, float64(0), p.Confidence)
	assert.Empty(t, p.ExtractedIntelligence.SuspiciousKeywords)
	assert.NotContains(t, p.AgentNotes, "vote")
}

func TestFallback_AllVotersFailed(t *testing.T) {
	j := New(nil, "", false)
	p := j.Fallback(Input{
		SessionID:     "sess-3",
		TotalMessages: 1,
		Votes:         []core.Vote{{Voter: "a", Failed: true}, {Voter: "b", Failed: true}},
	})

	assert.False(t, p.ScamDetected)
	assert.Equal(t, "safe", p.ScamType)
	assert.True(t, p.ExtractedIntelligence.IsEmpty())
	assert.NotEmpty(t, p.AgentNotes)
}

func TestAdjudicate_LLMSuccess(t *testing.T) {
	stub := &stubCompleter{content: `{
		"sessionId": "wrong-id",
		"scamDetected": true,
		"confidence": 0.95,
		"scamType": "upi_fraud",
		"totalMessagesExchanged": 99,
		"extractedIntelligence": {"upiIds": ["fraud@ybl"]},
		"agentNotes": "Payment redirection attempt via UPI handle.",
		"invented": "extra field"
	}`}
	j := New(stub, "llama-4-scout", true)
	p := j.Adjudicate(context.Background(), sampleInput())

	// Session id and message count are forced regardless of model output.
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, 3, p.TotalMessagesExchanged)
	assert.True(t, p.ScamDetected)
	assert.Equal(t, "Payment redirection attempt via UPI handle.", p.AgentNotes)
}

func TestAdjudicate_LLMFailureFallsBack(t *testing.T) {
	stub := &stubCompleter{err: errors.New("timeout")}
	j := New(stub, "m", true)

	p := j.Adjudicate(context.Background(), sampleInput())
	assert.Equal(t, j.Fallback(sampleInput()), p)
}

func TestAdjudicate_UnparsableLLMOutputFallsBack(t *testing.T) {
	stub := &stubCompleter{content: "not json at all"}
	j := New(stub, "m", true)

	p := j.Adjudicate(context.Background(), sampleInput())
	assert.Equal(t, j.Fallback(sampleInput()), p)
}

func TestValidate_ForbiddenNotesReplaced(t *testing.T) {
	stub := &stubCompleter{content: `{
		"scamDetected": true,
		"confidence": 0.9,
		"scamType": "phishing",
		"extractedIntelligence": {},
		"agentNotes": "The council voted and the AI agent agreed."
	}`}
	j := New(stub, "m", true)
	p := j.Adjudicate(context.Background(), sampleInput())

	for _, term := range []string{"council", "vote", "agent", "AI"} {
		assert.NotContains(t, p.AgentNotes, term)
	}
	assert.NotEmpty(t, p.AgentNotes)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("the ai said so", "ai"))
	assert.False(t, containsWord("maintain the chain", "ai"))
	assert.True(t, containsWord("bot.", "bot"))
	assert.False(t, containsWord("botanical garden", "bot"))
}
