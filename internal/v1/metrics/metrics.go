package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the anonymous chat relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat_relay (application-level grouping)
// - subsystem: session, room, queue, websocket (feature-level grouping)
// - name: specific metric (sessions_active, matches_total, etc.)
//
// Metric Types:
// - Gauge: Current state (sessions, rooms, queue depth)
// - Counter: Cumulative events (messages, matches, violations)
// - Histogram: Latency distributions (match wait, event handling)

var (
	// OnlineSessions tracks the current number of registered sessions.
	OnlineSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of registered user sessions",
	})

	// ActiveRooms tracks the current number of active chat rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active chat rooms",
	})

	// QueueDepth tracks the current number of users waiting for a match.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of users in the matching queue",
	})

	// WebsocketEvents tracks the total number of websocket events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total websocket events processed",
	}, []string{"event_type", "status"})

	// MatchesTotal counts completed pairings.
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "queue",
		Name:      "matches_total",
		Help:      "Total completed pairings",
	})

	// MessagesTotal counts accepted chat messages.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "room",
		Name:      "messages_total",
		Help:      "Total chat messages accepted into rooms",
	})

	// RoomsEndedTotal counts room terminations by reason.
	RoomsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "room",
		Name:      "ended_total",
		Help:      "Total rooms ended, labeled by termination reason",
	}, []string{"reason"})

	// ViolationsTotal counts trust violations by kind.
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "session",
		Name:      "violations_total",
		Help:      "Total recorded trust violations",
	}, []string{"kind"})

	// MatchWaitSeconds tracks the time users spend in the queue before pairing.
	MatchWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat_relay",
		Subsystem: "queue",
		Name:      "match_wait_seconds",
		Help:      "Time spent in the queue before a match",
		Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// MessageProcessingDuration tracks event handling latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat_relay",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing websocket events",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// ActiveWebSocketConnections tracks raw transport connections (pre-register included).
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of open websocket connections",
	})

	// RateLimitRequests counts requests that passed a rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests checked against a rate limit",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by a rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected because a rate limit was reached",
	}, []string{"endpoint", "limit_type"})

	// CircuitBreakerState reports the moderation sink breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "moderation",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state for external sinks",
	}, []string{"sink"})

	// CircuitBreakerFailures counts requests dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "moderation",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected because the circuit breaker was open",
	}, []string{"sink"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
