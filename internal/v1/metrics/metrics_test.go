package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	IncConnection()
	DecConnection()

	assert.Equal(t, before+1, testutil.ToFloat64(ActiveWebSocketConnections))
	DecConnection()
}

func TestVectorsAcceptLabels(t *testing.T) {
	WebsocketEvents.WithLabelValues("chat_message", "ok").Inc()
	RoomsEndedTotal.WithLabelValues("user_action").Inc()
	ViolationsTotal.WithLabelValues("spam").Inc()
	CircuitBreakerState.WithLabelValues("moderation").Set(1)

	assert.GreaterOrEqual(t, testutil.ToFloat64(WebsocketEvents.WithLabelValues("chat_message", "ok")), 1.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("moderation")))
}
