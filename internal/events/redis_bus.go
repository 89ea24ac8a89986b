package events

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEventBus wraps the in-memory EventBus and also publishes every
// event to a Redis channel for cross-service consumers.
//
// Fan-out strategy:
//   - Redis PUBLISH: fire-and-forget mirror for external dashboards
//   - In-memory: immediate push to websocket feed subscribers
//
// Usage:
//
//	bus := events.NewRedisEventBus(rdb, "honeypot-events")
//	bus.Emit(events.TypeVerdictReached, "orchestrator", "sess-1", data)
type RedisEventBus struct {
	*EventBus // embedded — feed subscribers, Subscribe/Unsubscribe still work

	rdb     *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisEventBus mirrors the in-memory bus onto a Redis channel. The
// client must already be connected; callers fall back to the plain
// EventBus when Redis is unreachable.
func NewRedisEventBus(rdb *redis.Client, channel string) *RedisEventBus {
	return &RedisEventBus{
		EventBus: NewEventBus(),
		rdb:      rdb,
		channel:  channel,
		logger:   log.New(log.Writer(), "[EVENTS-REDIS] ", log.LstdFlags),
	}
}

// Emit publishes in-memory first (feed latency matters), then mirrors
// to Redis. A mirror failure is logged and dropped: delivery to
// external consumers is best-effort.
func (b *RedisEventBus) Emit(eventType, source, sessionID string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, source, sessionID, data)
	b.EventBus.Publish(event)

	payload, err := event.JSON()
	if err != nil {
		b.logger.Printf("❌ marshal event %s: %v", event.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Printf("⚠️ mirror to %s failed: %v", b.channel, err)
	}
}

// Close shuts down the Redis connection.
func (b *RedisEventBus) Close() error {
	return b.rdb.Close()
}
