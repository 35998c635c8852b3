package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinder records bind/unbind calls in place of the registry.
type fakeBinder struct {
	mu    sync.Mutex
	bound map[types.UserIDType]types.RoomIDType
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{bound: make(map[types.UserIDType]types.RoomIDType)}
}

func (f *fakeBinder) BindRoom(userID types.UserIDType, roomID types.RoomIDType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[userID] = roomID
	return nil
}

func (f *fakeBinder) UnbindRoom(userID types.UserIDType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bound, userID)
}

func (f *fakeBinder) roomOf(userID types.UserIDType) (types.RoomIDType, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.bound[userID]
	return id, ok
}

// testClock is a manually advanced clock safe for concurrent reads.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateBindsBothParticipants(t *testing.T) {
	binder := newFakeBinder()
	m := NewManager(binder, nil)

	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	assert.Equal(t, types.RoomStateActive, room.State)
	assert.Equal(t, 1, m.ActiveCount())

	got, ok := m.GetByUser("alice")
	require.True(t, ok)
	assert.Equal(t, room.ID, got.ID)

	boundA, _ := binder.roomOf("alice")
	boundB, _ := binder.roomOf("bob")
	assert.Equal(t, room.ID, boundA)
	assert.Equal(t, room.ID, boundB)
}

func TestCreateRefusesBusyUser(t *testing.T) {
	m := NewManager(newFakeBinder(), nil)

	_, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	_, err = m.Create("alice", "carol", types.ChatTypeText)
	assert.ErrorIs(t, err, ErrUserBusy)

	_, err = m.Create("carol", "bob", types.ChatTypeText)
	assert.ErrorIs(t, err, ErrUserBusy)
}

func TestAppendMessageSequencesAreDense(t *testing.T) {
	m := NewManager(newFakeBinder(), nil)
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	for i := 1; i <= 25; i++ {
		sender := types.UserIDType("alice")
		if i%2 == 0 {
			sender = "bob"
		}
		msg, err := m.AppendMessage(room.ID, sender, "hello")
		require.NoError(t, err)
		assert.Equal(t, i, msg.Sequence)
	}

	// 1..n with no gaps.
	for i, msg := range room.Messages {
		assert.Equal(t, i+1, msg.Sequence)
	}
}

func TestAppendMessageRejections(t *testing.T) {
	m := NewManager(newFakeBinder(), nil)
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	_, err = m.AppendMessage(room.ID, "mallory", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = m.AppendMessage("missing", "alice", "hi")
	assert.ErrorIs(t, err, ErrRoomClosed)

	_, err = m.End(room.ID, types.EndReasonUserAction, "alice")
	require.NoError(t, err)

	_, err = m.AppendMessage(room.ID, "alice", "hi")
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestAppendMessageCap(t *testing.T) {
	m := NewManager(newFakeBinder(), nil, WithMaxMessages(5))
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.AppendMessage(room.ID, "alice", "msg")
		require.NoError(t, err)
	}

	_, err = m.AppendMessage(room.ID, "alice", "one too many")
	assert.ErrorIs(t, err, ErrMessageLimit)
}

func TestEndClearsBindingsAndIsIdempotent(t *testing.T) {
	binder := newFakeBinder()
	m := NewManager(binder, nil)
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	first, err := m.End(room.ID, types.EndReasonUserAction, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.EndReasonUserAction, first.Reason)
	assert.Equal(t, types.UserIDType("alice"), first.EndedBy)

	_, ok := binder.roomOf("alice")
	assert.False(t, ok)
	_, ok = binder.roomOf("bob")
	assert.False(t, ok)
	assert.Equal(t, 0, m.ActiveCount())

	// Second call: same summary, no side effects.
	second, err := m.End(room.ID, types.EndReasonStrangerDisconnected, "bob")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = m.End("never-existed", types.EndReasonUserAction, "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestEndSummaryCountsAndDuration(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = m.AppendMessage(room.ID, "alice", "hi")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = m.AppendMessage(room.ID, "bob", "hey")
	require.NoError(t, err)

	clock.Advance(40 * time.Second)
	summary, err := m.End(room.ID, types.EndReasonUserAction, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.MessageCount)
	assert.Equal(t, int64(60_000), summary.DurationMs)
	assert.Greater(t, summary.EngagementScore, 0.0)
	assert.LessOrEqual(t, summary.EngagementScore, 100.0)
}

func TestAnalyticsSilentPeriods(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	// Two quick messages, then a long silence.
	clock.Advance(5 * time.Second)
	_, _ = m.AppendMessage(room.ID, "alice", "hi")
	clock.Advance(5 * time.Second)
	_, _ = m.AppendMessage(room.ID, "bob", "hey")
	clock.Advance(2 * time.Minute)
	_, _ = m.AppendMessage(room.ID, "alice", "still there?")

	assert.Equal(t, 1, room.Analytics.SilentPeriods)
	assert.Equal(t, 10*time.Second, room.Analytics.ActiveTime)
	assert.Len(t, room.Analytics.ResponseTimes, 3)
}

func TestAnalyticsSampleWindowBounded(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))
	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	for i := 0; i < 80; i++ {
		clock.Advance(time.Second)
		_, err := m.AppendMessage(room.ID, "alice", "x")
		require.NoError(t, err)
	}
	assert.Len(t, room.Analytics.ResponseTimes, analyticsSampleWindow)
}

func TestRecordActivityWebRTCDuration(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))
	room, err := m.Create("alice", "bob", types.ChatTypeVideo)
	require.NoError(t, err)

	require.NoError(t, m.RecordActivity(room.ID, ActivityWebRTCConnected, ""))
	clock.Advance(90 * time.Second)
	require.NoError(t, m.RecordActivity(room.ID, ActivityWebRTCDisconnected, ""))

	assert.Equal(t, 90*time.Second, room.Analytics.WebRTCDuration)
	assert.Nil(t, room.Analytics.WebRTCConnectedAt)
}

func TestEndClosesOpenWebRTCLeg(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))
	room, err := m.Create("alice", "bob", types.ChatTypeVideo)
	require.NoError(t, err)

	require.NoError(t, m.RecordActivity(room.ID, ActivityWebRTCConnected, ""))
	clock.Advance(30 * time.Second)

	summary, err := m.End(room.ID, types.EndReasonUserAction, "bob")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, summary.WebRTCDuration)
}

func TestRecordActivityQualityIssuesBounded(t *testing.T) {
	m := NewManager(newFakeBinder(), nil)
	room, err := m.Create("alice", "bob", types.ChatTypeVideo)
	require.NoError(t, err)

	for i := 0; i < maxQualityIssues+10; i++ {
		require.NoError(t, m.RecordActivity(room.ID, ActivityQualityIssue, "packet loss"))
	}
	assert.Len(t, room.Analytics.QualityIssues, maxQualityIssues)
}

func TestSweepInactive(t *testing.T) {
	clock := newTestClock()
	m := NewManager(newFakeBinder(), nil, WithClock(clock.Now))

	idle, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)

	busy, err := m.Create("carol", "dave", types.ChatTypeText)
	require.NoError(t, err)

	ended := m.SweepInactive(30 * time.Minute)
	require.Len(t, ended, 1)
	assert.Equal(t, idle.ID, ended[0].Summary.RoomID)
	assert.Equal(t, types.EndReasonInactiveTimeout, ended[0].Summary.Reason)
	assert.Equal(t, [2]types.UserIDType{"alice", "bob"}, ended[0].Participants)

	_, stillThere := m.GetByRoom(busy.ID)
	assert.True(t, stillThere)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestAbsoluteTimerFires(t *testing.T) {
	expired := make(chan types.RoomIDType, 1)
	m := NewManager(newFakeBinder(), func(id types.RoomIDType) { expired <- id },
		WithMaxDuration(20*time.Millisecond))

	room, err := m.Create("alice", "bob", types.ChatTypeText)
	require.NoError(t, err)

	select {
	case id := <-expired:
		assert.Equal(t, room.ID, id)
	case <-time.After(time.Second):
		t.Fatal("absolute timer never fired")
	}
}

func TestHistoryRetainsSummaries(t *testing.T) {
	m := NewManager(newFakeBinder(), nil)

	for i := 0; i < 3; i++ {
		room, err := m.Create(types.UserIDType("a"), types.UserIDType("b"), types.ChatTypeText)
		require.NoError(t, err)
		_, err = m.End(room.ID, types.EndReasonUserAction, "a")
		require.NoError(t, err)
	}

	hist := m.History()
	assert.Len(t, hist, 3)
}

func TestEngagementScoreClamped(t *testing.T) {
	a := &Analytics{ActiveTime: 10 * time.Minute}
	score := engagementScore(500, 10*time.Minute, a)
	assert.LessOrEqual(t, score, 100.0)

	quiet := &Analytics{SilentPeriods: 30}
	score = engagementScore(0, 10*time.Minute, quiet)
	assert.GreaterOrEqual(t, score, 0.0)

	assert.Equal(t, 0.0, engagementScore(10, 0, &Analytics{}))
}
