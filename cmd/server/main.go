package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hivetrap/backend/internal/api"
	"github.com/hivetrap/backend/internal/callback"
	"github.com/hivetrap/backend/internal/config"
	"github.com/hivetrap/backend/internal/council"
	"github.com/hivetrap/backend/internal/events"
	"github.com/hivetrap/backend/internal/infra"
	"github.com/hivetrap/backend/internal/intel"
	"github.com/hivetrap/backend/internal/judge"
	"github.com/hivetrap/backend/internal/keyring"
	"github.com/hivetrap/backend/internal/llm"
	"github.com/hivetrap/backend/internal/monitoring"
	"github.com/hivetrap/backend/internal/orchestrator"
	"github.com/hivetrap/backend/internal/reply"
	"github.com/hivetrap/backend/internal/session"
	"github.com/hivetrap/backend/internal/websocket"
	"github.com/hivetrap/backend/internal/workerpool"
)

func main() {
	// .env is optional; container deployments inject real env vars.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}

	log.Println("🚀 Starting Honeypot Orchestrator...")

	keys := keyring.New()
	keys.SetPool("groq", cfg.Providers.Groq.Keys)
	keys.SetPool("nvidia", cfg.Providers.Nvidia.Keys)

	clients := map[string]*llm.Client{
		"groq":   llm.NewClient("groq", cfg.Providers.Groq.BaseURL, cfg.Providers.Groq.FallbackKey, keys),
		"nvidia": llm.NewClient("nvidia", cfg.Providers.Nvidia.BaseURL, cfg.Providers.Nvidia.FallbackKey, keys),
	}
	clientFor := func(provider string) *llm.Client {
		if c, ok := clients[provider]; ok {
			return c
		}
		return clients["groq"]
	}

	voters, err := buildVoters(cfg, clientFor)
	if err != nil {
		log.Fatalf("❌ Council setup failed: %v", err)
	}
	detectives := council.New(voters)
	log.Printf("✅ Council assembled with %d voter(s)", detectives.Size())

	adjudicator := judge.New(clientFor(cfg.Judge.Provider), cfg.Judge.Model, cfg.Judge.LLMEnabled)
	extractor := intel.NewExtractor(clientFor(cfg.Extractor.Provider), cfg.Extractor.Model, cfg.Extractor.LLMEnabled)

	var replies reply.Generator
	if gen, err := reply.NewLLMGenerator(clientFor(cfg.Reply.Provider), cfg.Reply.Model, cfg.Reply.Prompt); err != nil {
		log.Printf("⚠️ Persona prompt unavailable (%v), using canned replies", err)
		replies = &reply.CannedGenerator{}
	} else {
		replies = gen
	}

	dispatcher := callback.NewDispatcher(cfg.Callback.URL, time.Duration(cfg.Callback.TimeoutSeconds)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := session.NewStore()
	store.StartSweeper(ctx, time.Duration(cfg.Sessions.InactivityTimeoutSeconds)*time.Second)

	pool := workerpool.New(cfg.Council.WorkerPoolSize)

	// The in-memory bus always feeds the WebSocket clients; Redis, when
	// configured and reachable, mirrors the same events for external
	// consumers.
	bus := events.NewEventBus()
	var emitter events.EventEmitter = bus
	feedBus := bus
	if cfg.Redis.Addr != "" {
		if rdb, err := infra.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Printf("⚠️ Redis unavailable (%v), events stay in-process", err)
		} else {
			rbus := events.NewRedisEventBus(rdb, cfg.Redis.Channel)
			emitter = rbus
			feedBus = rbus.EventBus
		}
	}

	feed := websocket.NewFeed(feedBus)
	go feed.Run(ctx)

	metrics := monitoring.NewMetrics()

	orch := orchestrator.New(orchestrator.Options{
		Store:               store,
		Pool:                pool,
		Council:             detectives,
		Judge:               adjudicator,
		Extractor:           extractor,
		Replies:             replies,
		Dispatcher:          dispatcher,
		Emitter:             emitter,
		Metrics:             metrics,
		FirstContactDelay:   time.Duration(cfg.Council.DelaySeconds * float64(time.Second)),
		ConfidenceThreshold: cfg.Council.ConfidenceThreshold,
	})

	go publishGauges(ctx, pool, store, metrics)

	server := api.NewServer(api.Options{
		Orchestrator:       orch,
		Store:              store,
		Pool:               pool,
		Feed:               feed,
		Metrics:            metrics,
		APISecret:          cfg.Security.APISecretKey,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MaxMessageChars:    cfg.Server.MaxMessageChars,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatalf("❌ Server failed: %v", err)
	case <-ctx.Done():
	}

	log.Println("🧹 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	orch.Close()
	log.Println("✅ Shutdown complete")
}

// buildVoters expands the configured roster; Count > 1 instantiates
// numbered replicas of the same voter spec.
func buildVoters(cfg *config.Config, clientFor func(string) *llm.Client) ([]*council.Voter, error) {
	var voters []*council.Voter
	for _, vc := range cfg.Council.Voters {
		count := vc.Count
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			name := vc.Name
			if count > 1 {
				name = fmt.Sprintf("%s-%d", vc.Name, i+1)
			}
			v, err := council.NewVoter(council.VoterSpec{
				Name:        name,
				Model:       vc.Model,
				PromptPath:  vc.Prompt,
				FallbackKey: vc.APIKey,
				JSONMode:    vc.JSONMode,
			}, clientFor(vc.Provider))
			if err != nil {
				return nil, err
			}
			voters = append(voters, v)
		}
	}
	if len(voters) == 0 {
		return nil, fmt.Errorf("no council voters configured")
	}
	return voters, nil
}

// publishGauges refreshes the occupancy gauges on a slow tick; the
// counters update inline on the hot path.
func publishGauges(ctx context.Context, pool *workerpool.Pool, store *session.Store, metrics *monitoring.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stats()
			busy, _ := stats["busy"].(int)
			queued, _ := stats["queued"].(int)
			metrics.SetPoolStats(busy, queued)
			metrics.SetSessionsLive(store.Count())
		}
	}
}
