// Package monitoring exposes Prometheus metrics for the message
// pipeline.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestration pipeline
type Metrics struct {
	// Ingest metrics
	MessagesTotal *prometheus.CounterVec
	ReplyLatency  prometheus.Histogram

	// Council metrics
	CouncilVotes    *prometheus.CounterVec
	CouncilDuration prometheus.Histogram
	VerdictsTotal   *prometheus.CounterVec

	// Pool metrics
	PoolBusy   prometheus.Gauge
	PoolQueued prometheus.Gauge
	Supersedes prometheus.Counter

	// Callback metrics
	CallbackAttempts *prometheus.CounterVec

	// Session metrics
	SessionsLive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeypot_messages_total",
				Help: "Total inbound messages processed",
			},
			[]string{"channel", "status"}, // status: accepted, rejected
		),

		ReplyLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "honeypot_reply_latency_seconds",
				Help:    "Latency of the synchronous persona reply",
				Buckets: prometheus.DefBuckets,
			},
		),

		CouncilVotes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeypot_council_votes_total",
				Help: "Votes cast by detection voters",
			},
			[]string{"voter", "outcome"}, // outcome: scam, safe, failed
		),

		CouncilDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "honeypot_council_duration_seconds",
				Help:    "Wall time of one full council fan-out",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 35, 60},
			},
		),

		VerdictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeypot_verdicts_total",
				Help: "Final verdicts by outcome",
			},
			[]string{"outcome"}, // outcome: scam, safe
		),

		PoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "honeypot_pool_busy_workers",
				Help: "Worker slots currently running a background pipeline",
			},
		),

		PoolQueued: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "honeypot_pool_queued_assignments",
				Help: "Assignments waiting for a free worker slot",
			},
		),

		Supersedes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "honeypot_supersedes_total",
				Help: "Background pipelines aborted by a newer request for the same session",
			},
		),

		CallbackAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "honeypot_callback_attempts_total",
				Help: "Callback dispatch outcomes",
			},
			[]string{"status"}, // status: delivered, failed
		),

		SessionsLive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "honeypot_sessions_live",
				Help: "Sessions currently held in memory",
			},
		),
	}
}

// RecordMessage counts one inbound message.
func (m *Metrics) RecordMessage(channel, status string) {
	m.MessagesTotal.WithLabelValues(channel, status).Inc()
}

// RecordReply observes the synchronous reply latency.
func (m *Metrics) RecordReply(d time.Duration) {
	m.ReplyLatency.Observe(d.Seconds())
}

// RecordVote counts one voter outcome.
func (m *Metrics) RecordVote(voter, outcome string) {
	m.CouncilVotes.WithLabelValues(voter, outcome).Inc()
}

// RecordCouncil observes one fan-out duration and its verdict.
func (m *Metrics) RecordCouncil(d time.Duration, isScam bool) {
	m.CouncilDuration.Observe(d.Seconds())
	outcome := "safe"
	if isScam {
		outcome = "scam"
	}
	m.VerdictsTotal.WithLabelValues(outcome).Inc()
}

// RecordCallback counts one dispatch outcome.
func (m *Metrics) RecordCallback(delivered bool) {
	status := "failed"
	if delivered {
		status = "delivered"
	}
	m.CallbackAttempts.WithLabelValues(status).Inc()
}

// SetPoolStats publishes pool occupancy.
func (m *Metrics) SetPoolStats(busy, queued int) {
	m.PoolBusy.Set(float64(busy))
	m.PoolQueued.Set(float64(queued))
}

// SetSessionsLive publishes the live session count.
func (m *Metrics) SetSessionsLive(n int) {
	m.SessionsLive.Set(float64(n))
}
