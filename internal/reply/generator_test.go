package reply

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

type stubCompleter struct {
	content string
	err     error
	lastReq llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	return s.content, s.err
}

func newGenerator(t *testing.T, stub *stubCompleter) *LLMGenerator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are a retired shop owner."), 0o644))
	g, err := NewLLMGenerator(stub, "llama-3.3-70b-versatile", path)
	require.NoError(t, err)
	return g
}

func TestGenerate_InCharacterReply(t *testing.T) {
	stub := &stubCompleter{content: `"Arre, which bank is this? My son handles these things."`}
	g := newGenerator(t, stub)

	text, personaID, err := g.Generate(context.Background(), "Your account is blocked!", nil, "unknown", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "Arre, which bank is this? My son handles these things.", text)
	assert.NotEmpty(t, personaID)
	assert.Equal(t, "You are a retired shop owner.", stub.lastReq.System)
	assert.Contains(t, stub.lastReq.Prompt, "Your account is blocked!")
}

func TestGenerate_PersonaIDStable(t *testing.T) {
	g := newGenerator(t, &stubCompleter{content: "ok"})

	_, id1, err := g.Generate(context.Background(), "hi", nil, "", "", 1)
	require.NoError(t, err)
	_, id2, err := g.Generate(context.Background(), "hi again", nil, "", id1, 2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestGenerate_ModelFailureFallsBackToCanned(t *testing.T) {
	stub := &stubCompleter{err: errors.New("provider down")}
	g := newGenerator(t, stub)

	text, _, err := g.Generate(context.Background(), "send OTP", nil, "", "p1", 3)
	require.NoError(t, err)
	assert.Contains(t, cannedReplies, text)
}

func TestGenerate_HistoryWindowed(t *testing.T) {
	stub := &stubCompleter{content: "ok"}
	g := newGenerator(t, stub)

	var history []core.Message
	for i := 0; i < 12; i++ {
		history = append(history, core.Message{Sender: "scammer", Text: "old"})
	}
	history = append(history, core.Message{Sender: "user", Text: "latest-victim-line"})

	_, _, err := g.Generate(context.Background(), "hello", history, "", "p1", 5)
	require.NoError(t, err)
	assert.Contains(t, stub.lastReq.Prompt, "YOU (victim): latest-victim-line")
}

func TestCannedGenerator_RotatesByTurn(t *testing.T) {
	g := CannedGenerator{}

	first, id, err := g.Generate(context.Background(), "x", nil, "", "", 1)
	require.NoError(t, err)
	second, _, err := g.Generate(context.Background(), "x", nil, "", id, 2)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEmpty(t, id)
}
