package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/session"
)

// fakeProcessor echoes a canned reply and records the request it saw.
type fakeProcessor struct {
	last core.Request
}

func (f *fakeProcessor) ProcessMessage(req core.Request) core.Response {
	f.last = req
	text := "Oh dear, which account?"
	return core.Response{SessionID: req.SessionID, Status: "success", Reply: &text}
}

func newTestServer(secret string) (*Server, *fakeProcessor) {
	proc := &fakeProcessor{}
	srv := NewServer(Options{
		Orchestrator: proc,
		Store:        session.NewStore(),
		APISecret:    secret,
	})
	return srv, proc
}

func postMessage(t *testing.T, srv *Server, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/honeypot/message", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func envelope(sessionID, text string) messageEnvelope {
	return messageEnvelope{
		SessionID: sessionID,
		Message:   inboundMessage{Sender: "scammer", Text: text},
		Metadata:  inboundMetadata{Channel: "sms", Language: "en", Locale: "IN"},
	}
}

func TestHandleMessage_Success(t *testing.T) {
	srv, proc := newTestServer("secret")

	rec := postMessage(t, srv, "secret", envelope("s1", "your account is blocked"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp core.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Reply)

	assert.Equal(t, "s1", proc.last.SessionID)
	assert.Equal(t, "your account is blocked", proc.last.Message.Text)
	assert.Equal(t, "sms", proc.last.Channel)
}

func TestHandleMessage_RejectsMissingAPIKey(t *testing.T) {
	srv, proc := newTestServer("secret")

	rec := postMessage(t, srv, "", envelope("s1", "hello"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, proc.last.SessionID)
}

func TestHandleMessage_RejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer("")

	rec := postMessage(t, srv, "", envelope("s1", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message.text")
}

func TestHandleMessage_RejectsMissingSessionID(t *testing.T) {
	srv, _ := newTestServer("")

	rec := postMessage(t, srv, "", envelope("", "hello"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessionId")
}

func TestHandleMessage_RejectsOversizedText(t *testing.T) {
	srv, _ := newTestServer("")
	srv.opts.MaxMessageChars = 100

	rec := postMessage(t, srv, "", envelope("s1", strings.Repeat("x", 101)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds 100 characters")
}

func TestHandleMessage_RejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer("")

	req := httptest.NewRequest(http.MethodPost, "/honeypot/message", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")
}

func TestHandleMessage_HistoryTimestampsIgnored(t *testing.T) {
	srv, proc := newTestServer("")

	body := map[string]interface{}{
		"sessionId": "s2",
		"message": map[string]interface{}{
			"sender":    "scammer",
			"text":      "send the OTP",
			"timestamp": "2026-08-24T10:00:00Z",
		},
		"conversationHistory": []map[string]interface{}{
			{"sender": "scammer", "text": "hello", "timestamp": 1724492400},
			{"sender": "user", "text": "who is this?", "timestamp": "yesterday"},
		},
	}
	rec := postMessage(t, srv, "", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.last.History, 2)
	assert.Equal(t, core.Message{Sender: "scammer", Text: "hello"}, proc.last.History[0])
	assert.Equal(t, core.Message{Sender: "user", Text: "who is this?"}, proc.last.History[1])
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer("secret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestHandleSession_NotFound(t *testing.T) {
	srv, _ := newTestServer("")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSession_ReturnsRecord(t *testing.T) {
	srv, _ := newTestServer("")
	srv.opts.Store.GetOrCreate("s3")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s3", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got session.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "s3", got.ID)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer("secret")

	req := httptest.NewRequest(http.MethodOptions, "/honeypot/message", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
