// Package moderation forwards report summaries to an external webhook.
// The sink is best-effort: a circuit breaker wraps the HTTP call and an
// open breaker drops reports instead of stalling the dispatcher.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Report is the summary posted to the webhook when a user is reported.
type Report struct {
	ReportedUserID types.UserIDType   `json:"reported_user_id"`
	ReporterUserID types.UserIDType   `json:"reporter_user_id"`
	RoomID         types.RoomIDType   `json:"room_id,omitempty"`
	Reason         types.ReportReason `json:"reason"`
	TrustScore     float64            `json:"trust_score"`
	ViolationCount int                `json:"violation_count"`
	Banned         bool               `json:"banned"`
	ReportedAt     time.Time          `json:"reported_at"`
}

// Client posts reports to a moderation webhook.
type Client struct {
	url        string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewClient creates a moderation sink for the given webhook URL. An
// empty URL returns nil; all Client methods are nil-safe so callers
// never need to branch on whether moderation is configured.
func NewClient(webhookURL string) *Client {
	if webhookURL == "" {
		return nil
	}

	st := gobreaker.Settings{
		Name:        "moderation-webhook",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("moderation").Set(stateVal)
		},
	}

	return &Client{
		url:        webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

// Submit posts one report. Failures are logged and swallowed: losing a
// webhook delivery must never affect the chat session it came from.
func (c *Client) Submit(ctx context.Context, report Report) {
	if c == nil {
		return
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build report request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("moderation").Inc()
			logging.Warn(ctx, "Moderation circuit breaker open: dropping report",
				zap.String("reportedUserId", string(report.ReportedUserID)))
			return
		}
		logging.Error(ctx, "Moderation webhook delivery failed",
			zap.String("reportedUserId", string(report.ReportedUserID)),
			zap.Error(err))
	}
}
