package transport

import (
	"sync"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

// mockConnection implements wsConnection
type mockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *mockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *mockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// mockSink implements types.EventSink
type mockSink struct {
	mu              sync.Mutex
	connectCalls    int
	disconnectCalls int
	events          []types.ClientEvent
}

func (m *mockSink) HandleConnect(_ types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
}

func (m *mockSink) HandleEvent(_ types.ClientInterface, event types.ClientEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockSink) HandleDisconnect(_ types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
}

func (m *mockSink) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
