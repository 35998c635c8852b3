package transport

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

func newTestTransportClient(id string) *Client {
	return &Client{
		id:           types.TransportIDType(id),
		sink:         &mockSink{},
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
	}
}

func TestClientSend(t *testing.T) {
	client := newTestTransportClient("t1")

	client.Send(types.ServerEvent{
		Type:    types.EventPong,
		Payload: map[string]string{"ok": "yes"},
	})

	select {
	case data := <-client.send:
		var event types.ServerEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, types.EventPong, event.Type)
	case <-time.After(1 * time.Second):
		t.Fatal("Message not sent")
	}
}

func TestClientSend_Priority(t *testing.T) {
	client := newTestTransportClient("t1")

	// match_found is control traffic and must bypass the normal channel.
	client.Send(types.ServerEvent{Type: types.EventMatchFound})

	select {
	case data := <-client.prioritySend:
		var event types.ServerEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, types.EventMatchFound, event.Type)
	case <-time.After(1 * time.Second):
		t.Fatal("Priority message not sent")
	}

	assert.Empty(t, client.send)
}

func TestIsPriority(t *testing.T) {
	assert.True(t, isPriority(types.EventMatchFound))
	assert.True(t, isPriority(types.EventEnded))
	assert.True(t, isPriority(types.EventError))
	assert.True(t, isPriority(types.EventWebRTCOffer))
	assert.True(t, isPriority(types.EventWebRTCAnswer))
	assert.True(t, isPriority(types.EventWebRTCICECandidate))
	assert.False(t, isPriority(types.EventStats))
	assert.False(t, isPriority(types.EventPeerTyping))
	assert.False(t, isPriority(types.EventChatMessage))
}

func TestClientSend_ClosedClient(t *testing.T) {
	client := newTestTransportClient("t1")
	client.Disconnect()

	// Should not panic or block.
	client.Send(types.ServerEvent{Type: types.EventStats})

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "channel should be closed, not carrying frames")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("closed channel should read immediately")
	}
}

func TestClientSend_ChannelFull(t *testing.T) {
	client := &Client{
		id:           "t1",
		sink:         &mockSink{},
		send:         make(chan []byte, 1),
		prioritySend: make(chan []byte, 1),
	}

	// Fill both channels, then send again: must drop, not block.
	client.Send(types.ServerEvent{Type: types.EventStats})
	client.Send(types.ServerEvent{Type: types.EventStats})
	client.Send(types.ServerEvent{Type: types.EventEnded})
	client.Send(types.ServerEvent{Type: types.EventEnded})

	assert.Len(t, client.send, 1)
	assert.Len(t, client.prioritySend, 1)
}

func TestClientDisconnectIdempotent(t *testing.T) {
	client := newTestTransportClient("t1")

	for i := 0; i < 5; i++ {
		client.Disconnect()
	}

	_, ok := <-client.send
	assert.False(t, ok)
	_, ok = <-client.prioritySend
	assert.False(t, ok)
}

func TestClientReadPump(t *testing.T) {
	sink := &mockSink{}
	conn := &mockConnection{}

	frame := []byte(`{"type":"ping"}`)
	sent := false
	conn.ReadMessageFunc = func() (int, []byte, error) {
		if !sent {
			sent = true
			return websocket.TextMessage, frame, nil
		}
		return 0, nil, assert.AnError // exit pump
	}

	client := newClient(conn, sink, "t1")
	client.readPump()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, types.EventPing, sink.events[0].Type)
	assert.Equal(t, 1, sink.disconnectCalls)
}

func TestClientReadPump_MalformedFrame(t *testing.T) {
	sink := &mockSink{}
	conn := &mockConnection{}

	sent := false
	conn.ReadMessageFunc = func() (int, []byte, error) {
		if !sent {
			sent = true
			return websocket.TextMessage, []byte("not json"), nil
		}
		return 0, nil, assert.AnError
	}

	client := newClient(conn, sink, "t1")
	client.readPump()

	assert.Equal(t, 0, sink.eventCount())

	// The client gets an error frame instead of a dispatch.
	select {
	case data := <-client.prioritySend:
		var event types.ServerEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, types.EventError, event.Type)
	default:
		t.Fatal("expected an error frame for the malformed input")
	}
}

func TestClientReadPump_IgnoresBinaryFrames(t *testing.T) {
	sink := &mockSink{}
	conn := &mockConnection{}

	sent := false
	conn.ReadMessageFunc = func() (int, []byte, error) {
		if !sent {
			sent = true
			return websocket.BinaryMessage, []byte{0x01, 0x02}, nil
		}
		return 0, nil, assert.AnError
	}

	client := newClient(conn, sink, "t1")
	client.readPump()

	assert.Equal(t, 0, sink.eventCount())
}

func TestClientWritePump(t *testing.T) {
	conn := &mockConnection{}
	written := make(chan []byte, 4)
	conn.WriteMessageFunc = func(mt int, data []byte) error {
		if mt == websocket.TextMessage {
			written <- data
		}
		return nil
	}

	client := newClient(conn, &mockSink{}, "t1")
	go client.writePump()

	payload := []byte(`{"type":"pong"}`)
	client.send <- payload

	select {
	case data := <-written:
		assert.Equal(t, payload, data)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Message was not written")
	}

	client.Disconnect()
}

func TestClientWritePump_CloseFrameOnDisconnect(t *testing.T) {
	conn := &mockConnection{}
	closeFrames := make(chan struct{}, 2)
	closed := make(chan struct{}, 1)
	conn.WriteMessageFunc = func(mt int, _ []byte) error {
		if mt == websocket.CloseMessage {
			closeFrames <- struct{}{}
		}
		return nil
	}
	conn.CloseFunc = func() error {
		select {
		case closed <- struct{}{}:
		default:
		}
		return nil
	}

	client := newClient(conn, &mockSink{}, "t1")
	go client.writePump()

	client.Disconnect()

	select {
	case <-closeFrames:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("close frame was not written")
	}

	select {
	case <-closed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("connection was not closed")
	}
}

func TestClientConcurrentSend(t *testing.T) {
	client := newTestTransportClient("t1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Send(types.ServerEvent{Type: types.EventStats})
		}()
	}
	wg.Wait()

	assert.Len(t, client.send, 50)
}

func TestClientSendAfterConcurrentDisconnect(t *testing.T) {
	client := newTestTransportClient("t1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Send(types.ServerEvent{Type: types.EventStats})
		}()
	}
	client.Disconnect()
	wg.Wait()
	// Reaching here without a panic is the assertion.
}
