package chat

import (
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

const (
	// MaxMessagesPerRoom caps the message sequence in one room.
	MaxMessagesPerRoom = 1000
	// analyticsSampleWindow bounds the response-time samples kept per room.
	analyticsSampleWindow = 50
	// maxQualityIssues bounds the per-room issue list.
	maxQualityIssues = 20
	// silentGap is the inter-message gap that counts as a silent period
	// instead of active time.
	silentGap = 60 * time.Second
)

// Message is one ordered chat message within a room.
type Message struct {
	ID        types.MessageIDType `json:"message_id"`
	RoomID    types.RoomIDType    `json:"room_id"`
	SenderID  types.UserIDType    `json:"sender_id"`
	Sequence  int                 `json:"sequence"`
	Text      string              `json:"text"`
	Timestamp time.Time           `json:"timestamp"`
	Type      types.MessageType   `json:"type"`
}

// Analytics accumulates per-room engagement data while the room is live.
type Analytics struct {
	ResponseTimes []time.Duration
	SilentPeriods int
	ActiveTime    time.Duration

	WebRTCConnectedAt *time.Time
	WebRTCDuration    time.Duration
	QualityIssues     []string

	lastMessageAt time.Time
}

// observeGap folds one inter-message gap into the accumulators.
func (a *Analytics) observeGap(gap time.Duration) {
	a.ResponseTimes = append(a.ResponseTimes, gap)
	if len(a.ResponseTimes) > analyticsSampleWindow {
		a.ResponseTimes = a.ResponseTimes[len(a.ResponseTimes)-analyticsSampleWindow:]
	}
	if gap < silentGap {
		a.ActiveTime += gap
	} else {
		a.SilentPeriods++
	}
}

// Room is an active or ended pairing of exactly two users.
type Room struct {
	ID           types.RoomIDType
	Participants [2]types.UserIDType
	Type         types.ChatType
	State        types.RoomState

	CreatedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time

	Messages  []Message
	Analytics Analytics

	EndReason types.EndReason
	EndedBy   types.UserIDType

	nextSequence  int
	absoluteTimer *time.Timer
}

// HasParticipant reports whether the user belongs to the room.
func (r *Room) HasParticipant(userID types.UserIDType) bool {
	return r.Participants[0] == userID || r.Participants[1] == userID
}

// Peer returns the other participant.
func (r *Room) Peer(userID types.UserIDType) (types.UserIDType, bool) {
	switch userID {
	case r.Participants[0]:
		return r.Participants[1], true
	case r.Participants[1]:
		return r.Participants[0], true
	}
	return "", false
}

// Summary is the immutable result of ending a room.
type Summary struct {
	RoomID          types.RoomIDType `json:"room_id"`
	Reason          types.EndReason  `json:"reason"`
	EndedBy         types.UserIDType `json:"ended_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	EndedAt         time.Time        `json:"ended_at"`
	DurationMs      int64            `json:"duration_ms"`
	MessageCount    int              `json:"message_count"`
	EngagementScore float64          `json:"engagement_score"`
	WebRTCDuration  time.Duration    `json:"-"`
}

// engagementScore computes the post-hoc room quality metric in [0,100]:
// a messages-per-minute term capped at 50, an active-time share term up
// to 30, minus a silent-period penalty capped at 20.
func engagementScore(messageCount int, duration time.Duration, a *Analytics) float64 {
	if duration <= 0 {
		return 0
	}

	perMinute := float64(messageCount) / duration.Minutes()
	messageTerm := perMinute * 10
	if messageTerm > 50 {
		messageTerm = 50
	}

	activeTerm := 30 * (a.ActiveTime.Seconds() / duration.Seconds())

	penalty := 5 * float64(a.SilentPeriods)
	if penalty > 20 {
		penalty = 20
	}

	score := messageTerm + activeTerm - penalty
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
