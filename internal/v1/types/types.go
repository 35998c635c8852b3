package types

import (
	"encoding/json"
	"time"
)

// --- Core Domain Types ---

// UserIDType is the opaque identifier allocated for a session's lifetime.
type UserIDType string

// TransportIDType identifies the underlying websocket connection.
type TransportIDType string

// RoomIDType identifies a one-to-one chat room.
type RoomIDType string

// MessageIDType identifies a single chat message.
type MessageIDType string

// Gender is a canonical profile attribute value.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderOther       Gender = "other"
	GenderUnspecified Gender = "not-specified"
	// GenderAny is only valid inside Preferences.
	GenderAny Gender = "any"
)

// AgeBucket is a canonical age range attribute value.
type AgeBucket string

const (
	Age18To25      AgeBucket = "18-25"
	Age26To35      AgeBucket = "26-35"
	Age36To45      AgeBucket = "36-45"
	Age46Plus      AgeBucket = "46+"
	AgeUnspecified AgeBucket = "not-specified"
	// AgeAny is only valid inside Preferences.
	AgeAny AgeBucket = "any"
)

// ChatType selects the room flavor a user is matching for.
type ChatType string

const (
	ChatTypeText  ChatType = "text"
	ChatTypeVideo ChatType = "video"
)

// RoomState is the lifecycle state of a chat room.
type RoomState string

const (
	RoomStateActive RoomState = "active"
	RoomStateEnded  RoomState = "ended"
)

// MessageType distinguishes user chat from system notices.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// EndReason codes why a room was terminated.
type EndReason string

const (
	EndReasonUserAction           EndReason = "user_action"
	EndReasonStrangerDisconnected EndReason = "stranger_disconnected"
	EndReasonInactiveTimeout      EndReason = "inactive_timeout"
	EndReasonTimeout              EndReason = "timeout"
	EndReasonMessageLimit         EndReason = "message_limit_reached"
	EndReasonInternalError        EndReason = "internal_error"
	EndReasonShutdown             EndReason = "server_shutdown"
)

// ReportReason categorizes a user report.
type ReportReason string

const (
	ReportHarassment    ReportReason = "harassment"
	ReportInappropriate ReportReason = "inappropriate"
	ReportSpam          ReportReason = "spam"
	ReportOther         ReportReason = "other"
)

// Severe reports terminate the room with reason "reported_<kind>".
func (r ReportReason) Severe() bool {
	switch r {
	case ReportHarassment, ReportInappropriate, ReportSpam:
		return true
	}
	return false
}

// EndReasonForReport builds the termination reason code for a severe report.
func EndReasonForReport(r ReportReason) EndReason {
	return EndReason("reported_" + string(r))
}

// Profile holds the sanitized attributes a user declared about themselves.
type Profile struct {
	Gender   Gender    `json:"gender"`
	Age      AgeBucket `json:"age"`
	Location string    `json:"location"`
	Keywords []string  `json:"keywords"`
}

// Preferences describe the desired counterpart. Attribute domains match
// Profile plus the "any" sentinel.
type Preferences struct {
	Gender   Gender    `json:"gender"`
	Age      AgeBucket `json:"age"`
	Location string    `json:"location"`
	ChatType ChatType  `json:"chat_type"`
}

// --- Wire Protocol ---

// EventType names a frame on the websocket event protocol.
type EventType string

// Inbound events (client to server).
const (
	EventRegister           EventType = "register"
	EventUpdateProfile      EventType = "update_profile"
	EventFindMatch          EventType = "find_match"
	EventCancelMatch        EventType = "cancel_match"
	EventChatMessage        EventType = "chat_message"
	EventTypingStart        EventType = "typing_start"
	EventTypingStop         EventType = "typing_stop"
	EventWebRTCOffer        EventType = "webrtc_offer"
	EventWebRTCAnswer       EventType = "webrtc_answer"
	EventWebRTCICECandidate EventType = "webrtc_ice_candidate"
	EventWebRTCConnected    EventType = "webrtc_connected"
	EventWebRTCDisconnected EventType = "webrtc_disconnected"
	EventReport             EventType = "report"
	EventEndChat            EventType = "end_chat"
	EventPing               EventType = "ping"
)

// Outbound events (server to client).
const (
	EventRegistered     EventType = "registered"
	EventProfileUpdated EventType = "profile_updated"
	EventOnlineCount    EventType = "online_count"
	EventQueued         EventType = "queued"
	EventQueueLeft      EventType = "queue_left"
	EventMatchFound     EventType = "match_found"
	EventMessageSent    EventType = "message_sent"
	EventPeerTyping     EventType = "peer_typing"
	EventEnded          EventType = "ended"
	EventReportAck      EventType = "report_ack"
	EventStats          EventType = "stats"
	EventError          EventType = "error"
	EventPong           EventType = "pong"
)

// ClientEvent is an inbound frame. The payload stays raw until the
// dispatcher decodes it per event type.
type ClientEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is an outbound frame.
type ServerEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// --- Shared Interfaces ---

// ClientInterface is the behavior the core needs from a connected
// transport. It decouples the dispatcher from the websocket package.
type ClientInterface interface {
	GetID() TransportIDType
	// Send queues an event for delivery; it must never block the caller.
	Send(event ServerEvent)
	// Disconnect forcefully closes the underlying connection.
	Disconnect()
}

// EventSink receives transport lifecycle and message callbacks.
// Implemented by the dispatcher.
type EventSink interface {
	HandleConnect(client ClientInterface)
	HandleEvent(client ClientInterface, event ClientEvent)
	HandleDisconnect(client ClientInterface)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
