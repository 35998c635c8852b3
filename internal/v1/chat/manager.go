// Package chat owns room lifecycle: creation, message ordering, opaque
// activity tracking, analytics and termination semantics.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomClosed     = errors.New("room is not active")
	ErrNotParticipant = errors.New("sender is not a room participant")
	ErrMessageLimit   = errors.New("room message limit reached")
	ErrUserBusy       = errors.New("user is already in a room")
)

const (
	// DefaultMaxDuration is the absolute room lifetime cap.
	DefaultMaxDuration = time.Hour
	// DefaultInactivityThreshold ends rooms with no activity.
	DefaultInactivityThreshold = 30 * time.Minute
	// historyRingSize bounds retained summaries of closed rooms.
	historyRingSize = 10000
)

// RoomBinder is the slice of the registry the manager needs to keep the
// session<->room invariant: both participants' current room is set on
// create and cleared before the ended state becomes visible.
type RoomBinder interface {
	BindRoom(userID types.UserIDType, roomID types.RoomIDType) error
	UnbindRoom(userID types.UserIDType)
}

// ActivityKind labels RecordActivity calls.
type ActivityKind string

const (
	ActivityWebRTCConnected    ActivityKind = "webrtc_connected"
	ActivityWebRTCDisconnected ActivityKind = "webrtc_disconnected"
	ActivityQualityIssue       ActivityKind = "quality_issue"
	ActivityTyping             ActivityKind = "typing"
	ActivitySignaling          ActivityKind = "signaling"
)

// EndedRoom pairs a summary with the participants to notify.
type EndedRoom struct {
	Summary      Summary
	Participants [2]types.UserIDType
}

// Manager owns all chat rooms.
type Manager struct {
	mu     sync.RWMutex
	rooms  map[types.RoomIDType]*Room
	byUser map[types.UserIDType]types.RoomIDType

	binder      RoomBinder
	maxMessages int
	maxDuration time.Duration

	// onExpired fires outside the lock when a room hits the absolute cap.
	onExpired func(types.RoomIDType)

	// history is a ring of closed-room summaries; summaries indexes it
	// for idempotent End.
	history   []Summary
	histStart int
	summaries map[types.RoomIDType]Summary

	now types.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDuration overrides the absolute room lifetime cap.
func WithMaxDuration(d time.Duration) Option {
	return func(m *Manager) { m.maxDuration = d }
}

// WithMaxMessages overrides the per-room message cap.
func WithMaxMessages(n int) Option {
	return func(m *Manager) { m.maxMessages = n }
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock types.Clock) Option {
	return func(m *Manager) { m.now = clock }
}

// NewManager creates a room manager. binder must not be nil; onExpired
// may be nil (absolute timeouts then only fire via SweepInactive).
func NewManager(binder RoomBinder, onExpired func(types.RoomIDType), opts ...Option) *Manager {
	m := &Manager{
		rooms:       make(map[types.RoomIDType]*Room),
		byUser:      make(map[types.UserIDType]types.RoomIDType),
		binder:      binder,
		maxMessages: MaxMessagesPerRoom,
		maxDuration: DefaultMaxDuration,
		onExpired:   onExpired,
		summaries:   make(map[types.RoomIDType]Summary),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a room for two users. Neither may already be in a room.
func (m *Manager) Create(a, b types.UserIDType, chatType types.ChatType) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.byUser[a]; busy {
		return nil, ErrUserBusy
	}
	if _, busy := m.byUser[b]; busy {
		return nil, ErrUserBusy
	}

	now := m.now()
	room := &Room{
		ID:             types.RoomIDType(uuid.New().String()),
		Participants:   [2]types.UserIDType{a, b},
		Type:           chatType,
		State:          types.RoomStateActive,
		CreatedAt:      now,
		LastActivityAt: now,
		nextSequence:   1,
	}
	room.Analytics.lastMessageAt = now

	if err := m.binder.BindRoom(a, room.ID); err != nil {
		return nil, err
	}
	if err := m.binder.BindRoom(b, room.ID); err != nil {
		m.binder.UnbindRoom(a)
		return nil, err
	}

	if m.onExpired != nil && m.maxDuration > 0 {
		roomID := room.ID
		room.absoluteTimer = time.AfterFunc(m.maxDuration, func() {
			m.onExpired(roomID)
		})
	}

	m.rooms[room.ID] = room
	m.byUser[a] = room.ID
	m.byUser[b] = room.ID

	metrics.ActiveRooms.Set(float64(len(m.rooms)))
	logging.Info(context.Background(), "Room created",
		zap.String("roomId", string(room.ID)),
		zap.String("type", string(chatType)),
	)
	return room, nil
}

// GetByRoom returns the room with the given id.
func (m *Manager) GetByRoom(roomID types.RoomIDType) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// GetByUser returns the active room containing the given user.
func (m *Manager) GetByUser(userID types.UserIDType) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	room, ok := m.rooms[roomID]
	return room, ok
}

// AppendMessage stores a message with the next monotonic sequence number
// and updates analytics. Fails when the room is closed, the sender is
// not a participant, or the message cap is hit (the caller then ends the
// room with reason message_limit_reached).
func (m *Manager) AppendMessage(roomID types.RoomIDType, senderID types.UserIDType, text string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok || room.State != types.RoomStateActive {
		return Message{}, ErrRoomClosed
	}
	if !room.HasParticipant(senderID) {
		return Message{}, ErrNotParticipant
	}
	if len(room.Messages) >= m.maxMessages {
		return Message{}, ErrMessageLimit
	}

	now := m.now()
	msg := Message{
		ID:        types.MessageIDType(uuid.New().String()),
		RoomID:    roomID,
		SenderID:  senderID,
		Sequence:  room.nextSequence,
		Text:      text,
		Timestamp: now,
		Type:      types.MessageTypeUser,
	}
	room.nextSequence++
	room.Messages = append(room.Messages, msg)
	room.LastActivityAt = now

	room.Analytics.observeGap(now.Sub(room.Analytics.lastMessageAt))
	room.Analytics.lastMessageAt = now

	metrics.MessagesTotal.Inc()
	return msg, nil
}

// RecordActivity refreshes the room's activity clock and folds in
// WebRTC connection state or quality issues.
func (m *Manager) RecordActivity(roomID types.RoomIDType, kind ActivityKind, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok || room.State != types.RoomStateActive {
		return ErrRoomClosed
	}

	now := m.now()
	room.LastActivityAt = now

	switch kind {
	case ActivityWebRTCConnected:
		connectedAt := now
		room.Analytics.WebRTCConnectedAt = &connectedAt
	case ActivityWebRTCDisconnected:
		if room.Analytics.WebRTCConnectedAt != nil {
			room.Analytics.WebRTCDuration += now.Sub(*room.Analytics.WebRTCConnectedAt)
			room.Analytics.WebRTCConnectedAt = nil
		}
	case ActivityQualityIssue:
		if len(room.Analytics.QualityIssues) < maxQualityIssues {
			room.Analytics.QualityIssues = append(room.Analytics.QualityIssues, detail)
		}
	}
	return nil
}

// End terminates a room. Idempotent: a second call returns the stored
// summary without side effects. Participants' room bindings are cleared
// before the ended state is visible to lookups.
func (m *Manager) End(roomID types.RoomIDType, reason types.EndReason, endedBy types.UserIDType) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(roomID, reason, endedBy)
}

func (m *Manager) endLocked(roomID types.RoomIDType, reason types.EndReason, endedBy types.UserIDType) (Summary, error) {
	if summary, done := m.summaries[roomID]; done {
		return summary, nil
	}

	room, ok := m.rooms[roomID]
	if !ok {
		return Summary{}, ErrRoomNotFound
	}

	if room.absoluteTimer != nil {
		room.absoluteTimer.Stop()
	}

	now := m.now()
	// Close out a still-open webrtc leg before computing final analytics.
	if room.Analytics.WebRTCConnectedAt != nil {
		room.Analytics.WebRTCDuration += now.Sub(*room.Analytics.WebRTCConnectedAt)
		room.Analytics.WebRTCConnectedAt = nil
	}

	for _, p := range room.Participants {
		m.binder.UnbindRoom(p)
		delete(m.byUser, p)
	}

	duration := now.Sub(room.CreatedAt)
	summary := Summary{
		RoomID:          roomID,
		Reason:          reason,
		EndedBy:         endedBy,
		CreatedAt:       room.CreatedAt,
		EndedAt:         now,
		DurationMs:      duration.Milliseconds(),
		MessageCount:    len(room.Messages),
		EngagementScore: engagementScore(len(room.Messages), duration, &room.Analytics),
		WebRTCDuration:  room.Analytics.WebRTCDuration,
	}

	room.State = types.RoomStateEnded
	room.EndedAt = &now
	room.EndReason = reason
	room.EndedBy = endedBy

	delete(m.rooms, roomID)
	m.recordSummaryLocked(summary)

	metrics.ActiveRooms.Set(float64(len(m.rooms)))
	metrics.RoomsEndedTotal.WithLabelValues(string(reason)).Inc()
	logging.Info(context.Background(), "Room ended",
		zap.String("roomId", string(roomID)),
		zap.String("reason", string(reason)),
		zap.Int("messages", summary.MessageCount),
		zap.Float64("engagement", summary.EngagementScore),
	)
	return summary, nil
}

// recordSummaryLocked appends to the bounded history ring, evicting the
// oldest summary (and its idempotence entry) at capacity.
func (m *Manager) recordSummaryLocked(summary Summary) {
	if len(m.history) == historyRingSize {
		evicted := m.history[m.histStart]
		delete(m.summaries, evicted.RoomID)
		m.history[m.histStart] = summary
		m.histStart = (m.histStart + 1) % historyRingSize
	} else {
		m.history = append(m.history, summary)
	}
	m.summaries[summary.RoomID] = summary
}

// SweepInactive ends every room idle longer than threshold with reason
// inactive_timeout and returns them so the dispatcher can notify peers.
func (m *Manager) SweepInactive(threshold time.Duration) []EndedRoom {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stale []*Room
	for _, room := range m.rooms {
		if now.Sub(room.LastActivityAt) > threshold {
			stale = append(stale, room)
		}
	}

	var ended []EndedRoom
	for _, room := range stale {
		summary, err := m.endLocked(room.ID, types.EndReasonInactiveTimeout, "")
		if err != nil {
			continue
		}
		ended = append(ended, EndedRoom{Summary: summary, Participants: room.Participants})
	}
	return ended
}

// ActiveCount returns the number of active rooms.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// History returns a copy of retained closed-room summaries, oldest first.
func (m *Manager) History() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.history))
	out = append(out, m.history[m.histStart:]...)
	out = append(out, m.history[:m.histStart]...)
	return out
}

// Shutdown stops all absolute timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		if room.absoluteTimer != nil {
			room.absoluteTimer.Stop()
		}
	}
}
