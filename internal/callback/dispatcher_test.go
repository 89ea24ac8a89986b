package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivetrap/backend/internal/core"
)

func fastDispatcher(url string) *Dispatcher {
	d := NewDispatcher(url, time.Second)
	d.backoffBase = time.Millisecond
	return d
}

func samplePayload() core.CallbackPayload {
	return core.CallbackPayload{
		SessionID:              "s1",
		ScamDetected:           true,
		Confidence:             0.9,
		ScamType:               "phishing",
		TotalMessagesExchanged: 2,
		AgentNotes:             "Likely phishing attempt.",
	}
}

func TestSend_Success(t *testing.T) {
	var got core.CallbackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"received"}`))
	}))
	defer srv.Close()

	body, err := fastDispatcher(srv.URL).Send(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, `{"status":"received"}`, body)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, got.ScamDetected)
}

func TestSend_Retries503ThreeTimes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fastDispatcher(srv.URL).Send(context.Background(), samplePayload())
	assert.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestSend_RecoversAfterTransientError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := fastDispatcher(srv.URL).Send(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestSend_NoRetryOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := fastDispatcher(srv.URL).Send(context.Background(), samplePayload())
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestSend_TransportErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	start := time.Now()
	_, err := fastDispatcher(srv.URL).Send(context.Background(), samplePayload())
	assert.Error(t, err)
	// Two backoffs of 1ms and 2ms must have happened.
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestSend_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, time.Second)
	d.backoffBase = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Send(ctx, samplePayload())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSend_NoURLConfigured(t *testing.T) {
	_, err := fastDispatcher("").Send(context.Background(), samplePayload())
	assert.Error(t, err)
}
