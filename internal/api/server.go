// Package api exposes the HTTP surface: the ingest endpoint, health
// and debug endpoints, Prometheus metrics and the live WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hivetrap/backend/internal/core"
	"github.com/hivetrap/backend/internal/middleware"
	"github.com/hivetrap/backend/internal/monitoring"
	"github.com/hivetrap/backend/internal/session"
	"github.com/hivetrap/backend/internal/websocket"
	"github.com/hivetrap/backend/internal/workerpool"
)

const defaultMaxMessageChars = 8000

// Processor handles one inbound message end to end.
type Processor interface {
	ProcessMessage(req core.Request) core.Response
}

// Options wires the server's collaborators.
type Options struct {
	Orchestrator Processor
	Store        *session.Store
	Pool         *workerpool.Pool
	Feed         *websocket.Feed
	Metrics      *monitoring.Metrics

	APISecret          string
	RateLimitPerMinute int
	MaxMessageChars    int
}

// Server is the HTTP front door.
type Server struct {
	opts    Options
	auth    *middleware.APIKeyAuth
	limiter *middleware.RateLimiter
	httpSrv *http.Server
	logger  *log.Logger
}

func NewServer(opts Options) *Server {
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = defaultMaxMessageChars
	}
	rateLimit := opts.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 120
	}
	return &Server{
		opts:    opts,
		auth:    middleware.NewAPIKeyAuth(opts.APISecret),
		limiter: middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: rateLimit}),
		logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	ingest := s.auth.Middleware(s.limiter.Middleware(http.HandlerFunc(s.handleMessage)))
	r.Handle("/honeypot/message", ingest).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/pool/stats", s.handlePoolStats).Methods("GET")
	r.HandleFunc("/api/sessions", s.handleSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", s.handleSession).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if s.opts.Feed != nil {
		r.HandleFunc("/ws/feed", s.opts.Feed.HandleWebSocket)
	}

	return r
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start(port string) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("🚀 Honeypot API listening on :%s", port)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env messageEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&env); err != nil {
		s.reject(w, r, "malformed JSON body")
		return
	}
	if env.SessionID == "" {
		s.reject(w, r, "sessionId is required")
		return
	}
	if env.Message.Text == "" {
		s.reject(w, r, "message.text must not be empty")
		return
	}
	if len(env.Message.Text) > s.opts.MaxMessageChars {
		s.reject(w, r, fmt.Sprintf("message.text exceeds %d characters", s.opts.MaxMessageChars))
		return
	}

	sender := env.Message.Sender
	if sender == "" {
		sender = "scammer"
	}
	history := make([]core.Message, 0, len(env.History))
	for _, m := range env.History {
		if m.Text == "" {
			continue
		}
		history = append(history, core.Message{Sender: m.Sender, Text: m.Text})
	}

	resp := s.opts.Orchestrator.ProcessMessage(core.Request{
		SessionID: env.SessionID,
		Message:   core.Message{Sender: sender, Text: env.Message.Text},
		History:   history,
		Channel:   env.Metadata.Channel,
	})

	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordMessage(env.Metadata.Channel, "accepted")
		if s.opts.Store != nil {
			s.opts.Metrics.SetSessionsLive(s.opts.Store.Count())
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, reason string) {
	s.logger.Printf("🚫 Rejected %s %s: %s", r.Method, r.URL.Path, reason)
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordMessage("", "rejected")
	}
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: reason})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.Store != nil {
		health["sessions"] = s.opts.Store.Count()
	}
	if s.opts.Pool != nil {
		health["pool"] = s.opts.Pool.Stats()
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"rateLimiter": s.limiter.Stats(),
	}
	if s.opts.Pool != nil {
		stats["pool"] = s.opts.Pool.Stats()
	}
	if s.opts.Feed != nil {
		stats["feed"] = s.opts.Feed.GetStatistics()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.writeJSON(w, http.StatusOK, []session.Record{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Store.Snapshot())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.opts.Store == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	rec, ok := s.opts.Store.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("⚠️ Failed to encode response: %v", err)
	}
}
