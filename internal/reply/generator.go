// Package reply produces the victim persona's synchronous answer to a
// scammer message. Its contract with the orchestrator is small: a
// short string (or empty for "skip") within a bounded time, plus an
// opaque persona id carried on the session.
package reply

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/llm"
)

// historyWindow caps how much conversation the prompt replays.
const historyWindow = 8

// Generator produces one persona reply per turn. An empty reply means
// skip: answer nothing this turn, but keep the pipeline running.
type Generator interface {
	Generate(ctx context.Context, message string, history []core.Message, scamType, personaID string, turn int) (string, string, error)
}

// Completer abstracts the LLM client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// cannedReplies keep the conversation alive when the model is down or
// not configured. Confused-victim register, rotated by turn so
// consecutive turns never repeat.
var cannedReplies = []string{
	"I am not understanding properly. Can you explain again?",
	"Wait, what should I do exactly?",
	"Ok ji, please tell me step by step",
	"I need a minute, please hold",
	"Which account are you talking about?",
}

// LLMGenerator renders the persona prompt and asks the model to stay
// in character. Failures degrade to canned replies, never to an error:
// the synchronous response must always carry something.
type LLMGenerator struct {
	client Completer
	model  string
	system string
	logger *log.Logger
}

// NewLLMGenerator loads the persona system prompt from disk once.
func NewLLMGenerator(client Completer, model, promptPath string) (*LLMGenerator, error) {
	raw, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("load persona prompt %s: %w", promptPath, err)
	}
	return &LLMGenerator{
		client: client,
		model:  model,
		system: string(raw),
		logger: log.New(log.Writer(), "[REPLY] ", log.LstdFlags),
	}, nil
}

func (g *LLMGenerator) Generate(ctx context.Context, message string, history []core.Message, scamType, personaID string, turn int) (string, string, error) {
	if personaID == "" {
		personaID = uuid.NewString()
	}

	prompt := buildPrompt(message, history, scamType)
	content, err := g.client.Complete(ctx, llm.Request{
		Model:       g.model,
		System:      g.system,
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		g.logger.Printf("⚠️ persona model failed, using canned reply: %v", err)
		return cannedReply(turn), personaID, nil
	}

	text := cleanReply(content)
	if text == "" {
		text = cannedReply(turn)
	}
	return text, personaID, nil
}

// CannedGenerator is the no-LLM generator: deterministic rotation over
// the canned replies.
type CannedGenerator struct{}

func (CannedGenerator) Generate(_ context.Context, _ string, _ []core.Message, _ string, personaID string, turn int) (string, string, error) {
	if personaID == "" {
		personaID = uuid.NewString()
	}
	return cannedReply(turn), personaID, nil
}

func cannedReply(turn int) string {
	if turn < 1 {
		turn = 1
	}
	return cannedReplies[(turn-1)%len(cannedReplies)]
}

func buildPrompt(message string, history []core.Message, scamType string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SCAMMER'S MESSAGE: %q\n\nCONVERSATION SO FAR:\n%s\n", message, formatHistory(history))
	if scamType != "" && scamType != "unknown" && scamType != "safe" {
		fmt.Fprintf(&b, "\nLIKELY SCHEME: %s\n", scamType)
	}
	b.WriteString(`
Generate your response. Stay in character!
Keep response natural and concise (1-3 sentences).
Ask questions to extract more information from the other person.`)
	return b.String()
}

func formatHistory(history []core.Message) string {
	if len(history) == 0 {
		return "(This is the start of the conversation)"
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		role := "YOU (victim)"
		if msg.Sender == "scammer" {
			role = "SCAMMER"
		}
		lines = append(lines, role+": "+msg.Text)
	}
	return strings.Join(lines, "\n")
}

// cleanReply strips the quoting and stage directions models wrap
// around in-character text.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	if idx := strings.Index(s, "\n\n"); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
