package dispatch

import (
	"encoding/json"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

// Wire payload shapes. Inbound payloads decode from ClientEvent.Payload;
// outbound payloads ride in ServerEvent.Payload.

// Error codes surfaced to clients via the error event.
const (
	ErrorCodeValidation   = "validation"
	ErrorCodePrecondition = "precondition"
	ErrorCodeCapacity     = "capacity"
	ErrorCodeInternal     = "internal"
)

type chatMessagePayload struct {
	Text string `json:"text"`
}

type reportPayload struct {
	Reason string `json:"reason"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registeredPayload struct {
	UserID      types.UserIDType `json:"user_id"`
	OnlineCount int              `json:"online_count"`
}

type profileUpdatedPayload struct {
	Profile types.Profile `json:"profile"`
}

type onlineCountPayload struct {
	OnlineCount int `json:"online_count"`
}

type queuedPayload struct {
	Position    int `json:"position"`
	OnlineCount int `json:"online_count"`
}

type queueLeftPayload struct {
	Reason string `json:"reason"`
}

// peerProfile is the slice of a stranger's profile shared on match.
type peerProfile struct {
	UserID   types.UserIDType `json:"user_id"`
	Gender   types.Gender     `json:"gender"`
	Age      types.AgeBucket  `json:"age"`
	Location string           `json:"location,omitempty"`
	Keywords []string         `json:"keywords,omitempty"`
}

type matchFoundPayload struct {
	RoomID   types.RoomIDType `json:"room_id"`
	ChatType types.ChatType   `json:"chat_type"`
	Score    float64          `json:"score"`
	Peer     peerProfile      `json:"peer"`
}

type chatMessageOutPayload struct {
	MessageID  types.MessageIDType `json:"message_id"`
	SenderType string              `json:"sender_type"`
	Text       string              `json:"text"`
	Sequence   int                 `json:"sequence"`
	Timestamp  time.Time           `json:"timestamp"`
}

type messageSentPayload struct {
	MessageID types.MessageIDType `json:"message_id"`
	Sequence  int                 `json:"sequence"`
	Timestamp time.Time           `json:"timestamp"`
}

type peerTypingPayload struct {
	On bool `json:"on"`
}

// signalForwardPayload wraps an opaque WebRTC blob with the sender tag.
// Data is copied verbatim; the server never parses it.
type signalForwardPayload struct {
	SenderID types.UserIDType `json:"sender_id"`
	Data     json.RawMessage  `json:"data,omitempty"`
}

type endedPayload struct {
	Reason          string           `json:"reason"`
	EndedBy         types.UserIDType `json:"ended_by,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	MessageCount    int              `json:"message_count"`
	EngagementScore float64          `json:"engagement_score"`
}

type reportAckPayload struct {
	Reason    types.ReportReason `json:"reason"`
	RoomEnded bool               `json:"room_ended"`
}

type statsPayload struct {
	OnlineUsers int `json:"online_users"`
	ActiveRooms int `json:"active_rooms"`
}
