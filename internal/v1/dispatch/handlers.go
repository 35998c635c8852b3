package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/chat"
	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/match"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/moderation"
	"github.com/lumenchat/backend/go/internal/v1/profile"
	"github.com/lumenchat/backend/go/internal/v1/registry"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// wireError is an error the dispatcher surfaces to the offending client
// only. The code maps onto the wire error event.
type wireError struct {
	code    string
	message string
}

func (e *wireError) Error() string { return e.message }

func validationErr(message string) *wireError {
	return &wireError{code: ErrorCodeValidation, message: message}
}

func preconditionErr(message string) *wireError {
	return &wireError{code: ErrorCodePrecondition, message: message}
}

func capacityErr(message string) *wireError {
	return &wireError{code: ErrorCodeCapacity, message: message}
}

// HandleEvent routes one inbound frame. Every event counts as session
// activity; errors go back to the sender only.
func (d *Dispatcher) HandleEvent(client types.ClientInterface, event types.ClientEvent) {
	start := time.Now()

	d.mu.Lock()
	d.registry.Touch(client.GetID())
	err := d.routeLocked(client, event)
	d.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
		var werr *wireError
		if errors.As(err, &werr) {
			sendError(client, werr.code, werr.message)
		} else {
			sendError(client, ErrorCodeInternal, "internal error")
			logging.Error(context.Background(), "Event handler failed",
				zap.String("eventType", string(event.Type)),
				zap.Error(err))
		}
	}

	metrics.WebsocketEvents.WithLabelValues(string(event.Type), status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) routeLocked(client types.ClientInterface, event types.ClientEvent) error {
	switch event.Type {
	case types.EventRegister:
		return d.handleRegisterLocked(client, event.Payload)
	case types.EventUpdateProfile:
		return d.handleUpdateProfileLocked(client, event.Payload)
	case types.EventFindMatch:
		return d.handleFindMatchLocked(client, event.Payload)
	case types.EventCancelMatch:
		return d.handleCancelMatchLocked(client)
	case types.EventChatMessage:
		return d.handleChatMessageLocked(client, event.Payload)
	case types.EventTypingStart:
		return d.handleTypingLocked(client, true)
	case types.EventTypingStop:
		return d.handleTypingLocked(client, false)
	case types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCICECandidate:
		return d.handleSignalLocked(client, event.Type, event.Payload)
	case types.EventWebRTCConnected:
		return d.handleWebRTCStateLocked(client, chat.ActivityWebRTCConnected)
	case types.EventWebRTCDisconnected:
		return d.handleWebRTCStateLocked(client, chat.ActivityWebRTCDisconnected)
	case types.EventReport:
		return d.handleReportLocked(client, event.Payload)
	case types.EventEndChat:
		return d.handleEndChatLocked(client)
	case types.EventPing:
		client.Send(types.ServerEvent{Type: types.EventPong})
		return nil
	default:
		return validationErr("unknown event type")
	}
}

func decodePayload(raw json.RawMessage, into any) *wireError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return validationErr("malformed payload")
	}
	return nil
}

// sessionLocked resolves the sender's session or fails the precondition.
func (d *Dispatcher) sessionLocked(client types.ClientInterface) (*registry.Session, *wireError) {
	sess, ok := d.registry.GetByTransport(client.GetID())
	if !ok {
		return nil, preconditionErr("not registered")
	}
	return sess, nil
}

// roomLocked resolves the sender's active room or fails the precondition.
func (d *Dispatcher) roomLocked(sess *registry.Session) (*chat.Room, *wireError) {
	room, ok := d.rooms.GetByUser(sess.UserID)
	if !ok {
		return nil, preconditionErr("no active room")
	}
	return room, nil
}

func (d *Dispatcher) handleRegisterLocked(client types.ClientInterface, payload json.RawMessage) error {
	var raw profile.Raw
	if werr := decodePayload(payload, &raw); werr != nil {
		return werr
	}

	sess, err := d.registry.Create(client.GetID(), raw)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			return preconditionErr("transport already registered")
		}
		return err
	}

	client.Send(types.ServerEvent{
		Type: types.EventRegistered,
		Payload: registeredPayload{
			UserID:      sess.UserID,
			OnlineCount: d.registry.Count(),
		},
	})
	d.broadcastOnlineCountLocked()
	return nil
}

func (d *Dispatcher) handleUpdateProfileLocked(client types.ClientInterface, payload json.RawMessage) error {
	var partial profile.Raw
	if werr := decodePayload(payload, &partial); werr != nil {
		return werr
	}

	sess, err := d.registry.UpdateProfile(client.GetID(), partial)
	if err != nil {
		return preconditionErr("not registered")
	}

	client.Send(types.ServerEvent{
		Type:    types.EventProfileUpdated,
		Payload: profileUpdatedPayload{Profile: sess.Profile},
	})
	return nil
}

func (d *Dispatcher) handleFindMatchLocked(client types.ClientInterface, payload json.RawMessage) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	if sess.Banned {
		return preconditionErr("banned")
	}
	if sess.InRoom() {
		return preconditionErr("already in a room")
	}

	var rawPrefs profile.RawPreferences
	if werr := decodePayload(payload, &rawPrefs); werr != nil {
		return werr
	}
	prefs := profile.NormalizePreferences(rawPrefs)
	if err := d.registry.SetPreferences(client.GetID(), prefs); err != nil {
		return preconditionErr("not registered")
	}

	if _, err := d.engine.Enqueue(sess.UserID, prefs); err != nil {
		switch {
		case errors.Is(err, match.ErrQueueFull):
			return capacityErr("matching queue is full")
		case errors.Is(err, match.ErrUnknownUser):
			return preconditionErr("not registered")
		default:
			return err
		}
	}

	if pair, ok := d.engine.TryMatchNow(sess.UserID); ok {
		d.completeMatchLocked(*pair)
		return nil
	}

	client.Send(types.ServerEvent{
		Type: types.EventQueued,
		Payload: queuedPayload{
			Position:    d.engine.Position(sess.UserID),
			OnlineCount: d.registry.Count(),
		},
	})
	return nil
}

func (d *Dispatcher) handleCancelMatchLocked(client types.ClientInterface) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}

	d.engine.Cancel(sess.UserID)
	client.Send(types.ServerEvent{
		Type:    types.EventQueueLeft,
		Payload: queueLeftPayload{Reason: "cancelled"},
	})
	return nil
}

// completeMatchLocked turns an engine pair into a live room and tells
// both peers. If one side vanished or re-entered a room between pairing
// and room creation, whoever is still free goes straight back into the
// queue.
func (d *Dispatcher) completeMatchLocked(pair match.MatchPair) {
	sessA, okA := d.registry.GetByUser(pair.A)
	sessB, okB := d.registry.GetByUser(pair.B)
	if !okA || !okB {
		d.requeueIfFreeLocked(pair.A)
		d.requeueIfFreeLocked(pair.B)
		return
	}

	room, err := d.rooms.Create(pair.A, pair.B, pair.RoomType)
	if err != nil {
		if errors.Is(err, chat.ErrUserBusy) {
			// A stale pair: one side already joined another room. Nobody
			// misbehaved, so no error frames, just a requeue for the
			// side that is still free.
			logging.Warn(context.Background(), "Discarding stale match pair",
				zap.String("userA", string(pair.A)),
				zap.String("userB", string(pair.B)))
			d.requeueIfFreeLocked(pair.A)
			d.requeueIfFreeLocked(pair.B)
			return
		}
		logging.Error(context.Background(), "Failed to create room for matched pair",
			zap.String("userA", string(pair.A)),
			zap.String("userB", string(pair.B)),
			zap.Error(err))
		for _, c := range []types.ClientInterface{d.clientForLocked(sessA), d.clientForLocked(sessB)} {
			if c != nil {
				sendError(c, ErrorCodeInternal, "failed to create room")
			}
		}
		d.requeueIfFreeLocked(pair.A)
		d.requeueIfFreeLocked(pair.B)
		return
	}

	notify := func(self, peer *registry.Session) {
		d.sendToUserLocked(self.UserID, types.ServerEvent{
			Type: types.EventMatchFound,
			Payload: matchFoundPayload{
				RoomID:   room.ID,
				ChatType: room.Type,
				Score:    pair.Score,
				Peer: peerProfile{
					UserID:   peer.UserID,
					Gender:   peer.Profile.Gender,
					Age:      peer.Profile.Age,
					Location: peer.Profile.Location,
					Keywords: peer.Profile.Keywords,
				},
			},
		})
	}
	notify(sessA, sessB)
	notify(sessB, sessA)
}

// requeueIfFreeLocked puts a user back into the matching queue unless
// the session is gone or already bound to a room.
func (d *Dispatcher) requeueIfFreeLocked(userID types.UserIDType) {
	sess, ok := d.registry.GetByUser(userID)
	if !ok || sess.InRoom() {
		return
	}
	if _, err := d.engine.Enqueue(userID, sess.Preferences); err != nil {
		return
	}
	d.sendToUserLocked(userID, types.ServerEvent{
		Type: types.EventQueued,
		Payload: queuedPayload{
			Position:    d.engine.Position(userID),
			OnlineCount: d.registry.Count(),
		},
	})
}

func (d *Dispatcher) clientForLocked(sess *registry.Session) types.ClientInterface {
	if sess == nil {
		return nil
	}
	return d.clients[sess.TransportID]
}

func (d *Dispatcher) handleChatMessageLocked(client types.ClientInterface, payload json.RawMessage) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}
	peer, ok := room.Peer(sess.UserID)
	if !ok {
		return preconditionErr("not a room participant")
	}
	if _, ok := d.registry.GetByUser(peer); !ok {
		// An active room whose participant has no session is a state
		// breach; the room cannot continue.
		logging.Error(context.Background(), "Room participant missing from registry",
			zap.String("roomId", string(room.ID)),
			zap.String("userId", string(peer)))
		d.endRoomLocked(room.ID, types.EndReasonInternalError, "")
		return &wireError{code: ErrorCodeInternal, message: "internal error"}
	}

	var msg chatMessagePayload
	if werr := decodePayload(payload, &msg); werr != nil {
		return werr
	}

	if err := d.filter.Validate(msg.Text); err != nil {
		// Validation failures count as spam violations toward the auto-ban.
		d.registry.Flag(sess.UserID, "spam")
		return validationErr(err.Error())
	}

	text := d.filter.Clean(msg.Text)
	stored, err := d.rooms.AppendMessage(room.ID, sess.UserID, text)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageLimit):
			d.endRoomLocked(room.ID, types.EndReasonMessageLimit, "")
			return capacityErr("room message limit reached")
		case errors.Is(err, chat.ErrRoomClosed):
			return preconditionErr("no active room")
		case errors.Is(err, chat.ErrNotParticipant):
			return preconditionErr("not a room participant")
		default:
			return err
		}
	}

	d.sendToUserLocked(peer, types.ServerEvent{
		Type: types.EventChatMessage,
		Payload: chatMessageOutPayload{
			MessageID:  stored.ID,
			SenderType: "stranger",
			Text:       stored.Text,
			Sequence:   stored.Sequence,
			Timestamp:  stored.Timestamp,
		},
	})
	client.Send(types.ServerEvent{
		Type: types.EventMessageSent,
		Payload: messageSentPayload{
			MessageID: stored.ID,
			Sequence:  stored.Sequence,
			Timestamp: stored.Timestamp,
		},
	})
	return nil
}

func (d *Dispatcher) handleTypingLocked(client types.ClientInterface, on bool) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}

	_ = d.rooms.RecordActivity(room.ID, chat.ActivityTyping, "")
	if peer, ok := room.Peer(sess.UserID); ok {
		d.sendToUserLocked(peer, types.ServerEvent{
			Type:    types.EventPeerTyping,
			Payload: peerTypingPayload{On: on},
		})
	}
	return nil
}

// handleSignalLocked forwards a WebRTC blob verbatim to the peer,
// tagged with the sender id. The payload is never parsed.
func (d *Dispatcher) handleSignalLocked(client types.ClientInterface, eventType types.EventType, payload json.RawMessage) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}

	_ = d.rooms.RecordActivity(room.ID, chat.ActivitySignaling, "")
	if peer, ok := room.Peer(sess.UserID); ok {
		d.sendToUserLocked(peer, types.ServerEvent{
			Type: eventType,
			Payload: signalForwardPayload{
				SenderID: sess.UserID,
				Data:     payload,
			},
		})
	}
	return nil
}

func (d *Dispatcher) handleWebRTCStateLocked(client types.ClientInterface, kind chat.ActivityKind) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}

	_ = d.rooms.RecordActivity(room.ID, kind, "")
	return nil
}

func parseReportReason(raw string) (types.ReportReason, bool) {
	reason := types.ReportReason(strings.ToLower(strings.TrimSpace(raw)))
	switch reason {
	case types.ReportHarassment, types.ReportInappropriate, types.ReportSpam, types.ReportOther:
		return reason, true
	}
	return "", false
}

// handleReportLocked flags the peer, forwards a summary to the
// moderation sink, and for severe reasons ends the room.
func (d *Dispatcher) handleReportLocked(client types.ClientInterface, payload json.RawMessage) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}

	var report reportPayload
	if werr := decodePayload(payload, &report); werr != nil {
		return werr
	}
	reason, ok := parseReportReason(report.Reason)
	if !ok {
		return validationErr("unknown report reason")
	}

	peer, ok := room.Peer(sess.UserID)
	if !ok {
		return preconditionErr("not a room participant")
	}

	flagged, _ := d.registry.Flag(peer, string(reason))
	d.registry.MarkReported(peer)

	if d.reports != nil && flagged != nil {
		record := moderation.Report{
			ReportedUserID: peer,
			ReporterUserID: sess.UserID,
			RoomID:         room.ID,
			Reason:         reason,
			TrustScore:     flagged.TrustScore,
			ViolationCount: flagged.ViolationCount(),
			Banned:         flagged.Banned,
			ReportedAt:     d.now(),
		}
		// Webhook delivery must not stall the event loop.
		go d.reports.Submit(context.Background(), record)
	}

	roomEnded := reason.Severe()
	if roomEnded {
		d.endRoomLocked(room.ID, types.EndReasonForReport(reason), sess.UserID)
	}

	client.Send(types.ServerEvent{
		Type:    types.EventReportAck,
		Payload: reportAckPayload{Reason: reason, RoomEnded: roomEnded},
	})
	return nil
}

func (d *Dispatcher) handleEndChatLocked(client types.ClientInterface) error {
	sess, werr := d.sessionLocked(client)
	if werr != nil {
		return werr
	}
	room, werr := d.roomLocked(sess)
	if werr != nil {
		return werr
	}

	d.endRoomLocked(room.ID, types.EndReasonUserAction, sess.UserID)
	return nil
}
