// Package health serves the read-only admin surface: liveness,
// runtime stats, client-safe configuration and a non-production
// debug view.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumenchat/backend/go/internal/v1/chat"
	"github.com/lumenchat/backend/go/internal/v1/config"
	"github.com/lumenchat/backend/go/internal/v1/registry"
)

// Runtime is the slice of the dispatcher the admin surface reads.
type Runtime interface {
	OnlineUsers() int
	ActiveRooms() int
	QueueDepth() int
	TotalConnections() int64
	AverageWaitMs() int64
	UptimeSeconds() int64
	Sessions() []*registry.Session
	RoomHistory() []chat.Summary
}

// Handler serves the health, stats, config and debug endpoints.
type Handler struct {
	runtime Runtime
	cfg     *config.Config
	version string
}

// NewHandler creates a Handler over the given runtime snapshot source.
func NewHandler(runtime Runtime, cfg *config.Config, version string) *Handler {
	return &Handler{
		runtime: runtime,
		cfg:     cfg,
		version: version,
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OnlineUsers   int    `json:"online_users"`
	ActiveRooms   int    `json:"active_rooms"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
}

// StatsResponse is the GET /stats body.
type StatsResponse struct {
	OnlineUsers       int   `json:"online_users"`
	ActiveRooms       int   `json:"active_rooms"`
	TotalConnections  int64 `json:"total_connections"`
	AverageWaitTimeMs int64 `json:"average_wait_time_ms"`
	UptimeSeconds     int64 `json:"uptime_seconds"`
}

// ICEServer mirrors the RTCIceServer shape browsers expect.
type ICEServer struct {
	URLs []string `json:"urls"`
}

// ConfigResponse is the GET /config body. Client-safe only: no
// addresses, secrets or limiter internals.
type ConfigResponse struct {
	ICEServers       []ICEServer `json:"ice_servers"`
	MaxMessageLength int         `json:"max_message_length"`
	MaxChatDuration  int64       `json:"max_chat_duration_ms"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: h.runtime.UptimeSeconds(),
		OnlineUsers:   h.runtime.OnlineUsers(),
		ActiveRooms:   h.runtime.ActiveRooms(),
		Version:       h.version,
		Environment:   h.cfg.GoEnv,
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		OnlineUsers:       h.runtime.OnlineUsers(),
		ActiveRooms:       h.runtime.ActiveRooms(),
		TotalConnections:  h.runtime.TotalConnections(),
		AverageWaitTimeMs: h.runtime.AverageWaitMs(),
		UptimeSeconds:     h.runtime.UptimeSeconds(),
	})
}

// ClientConfig handles GET /config.
func (h *Handler) ClientConfig(c *gin.Context) {
	var ice []ICEServer
	if len(h.cfg.StunServers) > 0 {
		ice = append(ice, ICEServer{URLs: h.cfg.StunServers})
	}
	if len(h.cfg.TurnServers) > 0 {
		ice = append(ice, ICEServer{URLs: h.cfg.TurnServers})
	}

	c.JSON(http.StatusOK, ConfigResponse{
		ICEServers:       ice,
		MaxMessageLength: h.cfg.MaxMessageLength,
		MaxChatDuration:  h.cfg.MaxChatDuration.Milliseconds(),
	})
}

// debugSession is a redacted session view for the debug surface.
type debugSession struct {
	UserID       string    `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	InRoom       bool      `json:"in_room"`
	TrustScore   float64   `json:"trust_score"`
	Violations   int       `json:"violations"`
	Banned       bool      `json:"banned"`
}

// Debug handles GET /debug. Hidden in production.
func (h *Handler) Debug(c *gin.Context) {
	if h.cfg.IsProduction() {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	sessions := h.runtime.Sessions()
	views := make([]debugSession, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, debugSession{
			UserID:       string(s.UserID),
			ConnectedAt:  s.ConnectedAt,
			LastActiveAt: s.LastActiveAt,
			InRoom:       s.InRoom(),
			TrustScore:   s.TrustScore,
			Violations:   s.ViolationCount(),
			Banned:       s.Banned,
		})
	}

	history := h.runtime.RoomHistory()
	const maxRecent = 50
	if len(history) > maxRecent {
		history = history[len(history)-maxRecent:]
	}

	c.JSON(http.StatusOK, gin.H{
		"queue": gin.H{
			"depth":                h.runtime.QueueDepth(),
			"average_wait_time_ms": h.runtime.AverageWaitMs(),
		},
		"sessions":     views,
		"recent_rooms": history,
	})
}
