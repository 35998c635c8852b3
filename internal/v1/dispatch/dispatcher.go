// Package dispatch is the coordination kernel: it translates transport
// events into registry/match/chat operations and fans responses back to
// one or both peers of a room. All state mutation is serialized behind
// one coarse mutex; the match loop and the maintenance tickers funnel
// back through entry points that take the same mutex.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/chat"
	"github.com/lumenchat/backend/go/internal/v1/filter"
	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/match"
	"github.com/lumenchat/backend/go/internal/v1/moderation"
	"github.com/lumenchat/backend/go/internal/v1/registry"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

const (
	// DefaultStatsInterval is the cadence of the stats broadcast.
	DefaultStatsInterval = 30 * time.Second
	// DefaultInactiveSweepInterval schedules the inactive-room sweep.
	DefaultInactiveSweepInterval = 5 * time.Minute
	// DefaultStaleSweepInterval schedules the stale-queue sweep.
	DefaultStaleSweepInterval = 1 * time.Minute
)

// Config wires the dispatcher's collaborators and tunables. Zero-value
// durations fall back to the defaults above and the subsystem defaults.
type Config struct {
	Filter     *filter.Filter
	Moderation *moderation.Client

	IdleTimeout     time.Duration // session idle cap
	MaxChatDuration time.Duration // room absolute cap
	MaxMessages     int           // per-room message cap

	MatchLoopInterval     time.Duration
	StatsInterval         time.Duration
	InactiveSweepInterval time.Duration
	StaleSweepInterval    time.Duration

	Clock types.Clock
}

// Dispatcher owns the registry, the room manager and the matching
// engine, and implements types.EventSink for the transport layer.
type Dispatcher struct {
	mu      sync.Mutex
	clients map[types.TransportIDType]types.ClientInterface

	registry *registry.Registry
	rooms    *chat.Manager
	engine   *match.Engine
	filter   *filter.Filter
	reports  *moderation.Client

	statsInterval         time.Duration
	inactiveSweepInterval time.Duration
	staleSweepInterval    time.Duration

	startedAt        time.Time
	totalConnections int64

	now types.Clock

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the dispatcher and its three subsystems. The registry's
// idle-expiry and the room manager's absolute-cap callbacks are wired
// back into dispatcher entry points.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		clients:               make(map[types.TransportIDType]types.ClientInterface),
		filter:                cfg.Filter,
		reports:               cfg.Moderation,
		statsInterval:         cfg.StatsInterval,
		inactiveSweepInterval: cfg.InactiveSweepInterval,
		staleSweepInterval:    cfg.StaleSweepInterval,
		now:                   cfg.Clock,
	}
	if d.filter == nil {
		d.filter = filter.New(true, false, 500)
	}
	if d.statsInterval <= 0 {
		d.statsInterval = DefaultStatsInterval
	}
	if d.inactiveSweepInterval <= 0 {
		d.inactiveSweepInterval = DefaultInactiveSweepInterval
	}
	if d.staleSweepInterval <= 0 {
		d.staleSweepInterval = DefaultStaleSweepInterval
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.startedAt = d.now()

	var regOpts []registry.Option
	if cfg.IdleTimeout > 0 {
		regOpts = append(regOpts, registry.WithIdleTimeout(cfg.IdleTimeout))
	}
	regOpts = append(regOpts, registry.WithClock(d.now))
	d.registry = registry.New(d.handleSessionExpired, regOpts...)

	var chatOpts []chat.Option
	if cfg.MaxChatDuration > 0 {
		chatOpts = append(chatOpts, chat.WithMaxDuration(cfg.MaxChatDuration))
	}
	if cfg.MaxMessages > 0 {
		chatOpts = append(chatOpts, chat.WithMaxMessages(cfg.MaxMessages))
	}
	chatOpts = append(chatOpts, chat.WithClock(d.now))
	d.rooms = chat.NewManager(d.registry, d.handleRoomExpired, chatOpts...)

	engOpts := []match.Option{match.WithClock(d.now)}
	if cfg.MatchLoopInterval > 0 {
		engOpts = append(engOpts, match.WithLoopInterval(cfg.MatchLoopInterval))
	}
	d.engine = match.NewEngine(sessionDirectory{reg: d.registry, now: d.now}, engOpts...)

	return d
}

// sessionDirectory adapts the registry to the matching engine's view.
// Banned sessions and sessions already in a room are invisible to the
// engine.
type sessionDirectory struct {
	reg *registry.Registry
	now types.Clock
}

func (dir sessionDirectory) View(userID types.UserIDType) (match.UserView, bool) {
	s, ok := dir.reg.Peek(userID)
	if !ok || s.Banned || s.InRoom() {
		return match.UserView{}, false
	}
	return match.UserView{
		UserID:      s.UserID,
		Profile:     s.Profile,
		Preferences: s.Preferences,
		TrustScore:  s.TrustScore,
		Violations:  s.ViolationCount(),
		SessionAge:  s.Age(dir.now()),
	}, true
}

// --- types.EventSink ---

// HandleConnect tracks a freshly upgraded transport. The session only
// exists once the client sends register.
func (d *Dispatcher) HandleConnect(client types.ClientInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clients[client.GetID()] = client
	d.totalConnections++
}

// HandleDisconnect tears down whatever the transport's session was
// involved in: its room ends with stranger_disconnected, its queue entry
// is cancelled, and the remaining clients learn the new online count.
func (d *Dispatcher) HandleDisconnect(client types.ClientInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked(client.GetID())
}

func (d *Dispatcher) teardownLocked(transportID types.TransportIDType) {
	delete(d.clients, transportID)

	sess, ok := d.registry.Remove(transportID)
	if !ok {
		return
	}

	d.engine.Cancel(sess.UserID)
	if sess.CurrentRoomID != "" {
		d.endRoomLocked(sess.CurrentRoomID, types.EndReasonStrangerDisconnected, "")
	}
	d.broadcastOnlineCountLocked()
}

// handleSessionExpired fires from the registry's idle timer goroutine.
func (d *Dispatcher) handleSessionExpired(transportID types.TransportIDType) {
	d.mu.Lock()
	client, ok := d.clients[transportID]
	if ok {
		logging.Info(context.Background(), "Session idle timeout",
			zap.String("transportId", string(transportID)))
		d.teardownLocked(transportID)
	}
	d.mu.Unlock()

	if ok {
		client.Disconnect()
	}
}

// handleRoomExpired fires from the room's absolute-cap timer goroutine.
func (d *Dispatcher) handleRoomExpired(roomID types.RoomIDType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endRoomLocked(roomID, types.EndReasonTimeout, "")
}

// --- room termination ---

// endRoomLocked ends a room and notifies both participants. The ended
// event is the last event either peer sees for the room. For
// user_action ends the peer's reason reads stranger_left.
func (d *Dispatcher) endRoomLocked(roomID types.RoomIDType, reason types.EndReason, endedBy types.UserIDType) {
	room, ok := d.rooms.GetByRoom(roomID)
	if !ok {
		return
	}
	participants := room.Participants

	summary, err := d.rooms.End(roomID, reason, endedBy)
	if err != nil {
		return
	}

	for _, p := range participants {
		wireReason := string(reason)
		if reason == types.EndReasonUserAction && p != endedBy {
			wireReason = "stranger_left"
		}
		d.sendToUserLocked(p, types.ServerEvent{
			Type: types.EventEnded,
			Payload: endedPayload{
				Reason:          wireReason,
				EndedBy:         summary.EndedBy,
				DurationMs:      summary.DurationMs,
				MessageCount:    summary.MessageCount,
				EngagementScore: summary.EngagementScore,
			},
		})
	}
}

// --- outbound helpers ---

func (d *Dispatcher) sendToUserLocked(userID types.UserIDType, ev types.ServerEvent) {
	sess, ok := d.registry.GetByUser(userID)
	if !ok {
		return
	}
	if client, ok := d.clients[sess.TransportID]; ok {
		client.Send(ev)
	}
}

func (d *Dispatcher) broadcastOnlineCountLocked() {
	payload := onlineCountPayload{OnlineCount: d.registry.Count()}
	for _, client := range d.clients {
		client.Send(types.ServerEvent{Type: types.EventOnlineCount, Payload: payload})
	}
}

func (d *Dispatcher) broadcastStatsLocked() {
	payload := statsPayload{
		OnlineUsers: d.registry.Count(),
		ActiveRooms: d.rooms.ActiveCount(),
	}
	for _, client := range d.clients {
		client.Send(types.ServerEvent{Type: types.EventStats, Payload: payload})
	}
}

func sendError(client types.ClientInterface, code, message string) {
	client.Send(types.ServerEvent{
		Type:    types.EventError,
		Payload: errorPayload{Code: code, Message: message},
	})
}

// --- background loop ---

// Run starts the match loop and the three maintenance tickers. Blocks
// until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.engine.Run(ctx)
	}()

	d.wg.Add(1)
	defer d.wg.Done()

	statsTicker := time.NewTicker(d.statsInterval)
	defer statsTicker.Stop()
	inactiveTicker := time.NewTicker(d.inactiveSweepInterval)
	defer inactiveTicker.Stop()
	staleTicker := time.NewTicker(d.staleSweepInterval)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case pair := <-d.engine.Pairs():
			d.mu.Lock()
			d.completeMatchLocked(pair)
			d.mu.Unlock()

		case <-statsTicker.C:
			d.mu.Lock()
			d.broadcastStatsLocked()
			d.mu.Unlock()

		case <-inactiveTicker.C:
			d.mu.Lock()
			d.sweepInactiveLocked()
			d.mu.Unlock()

		case <-staleTicker.C:
			d.mu.Lock()
			d.sweepStaleLocked()
			d.mu.Unlock()
		}
	}
}

// sweepInactiveLocked ends idle rooms and notifies their participants.
func (d *Dispatcher) sweepInactiveLocked() {
	for _, ended := range d.rooms.SweepInactive(chat.DefaultInactivityThreshold) {
		for _, p := range ended.Participants {
			d.sendToUserLocked(p, types.ServerEvent{
				Type: types.EventEnded,
				Payload: endedPayload{
					Reason:          string(ended.Summary.Reason),
					DurationMs:      ended.Summary.DurationMs,
					MessageCount:    ended.Summary.MessageCount,
					EngagementScore: ended.Summary.EngagementScore,
				},
			})
		}
	}
}

// sweepStaleLocked drops long-waiting queue entries and tells them.
func (d *Dispatcher) sweepStaleLocked() {
	for _, userID := range d.engine.SweepStale(match.DefaultMaxWait) {
		d.sendToUserLocked(userID, types.ServerEvent{
			Type:    types.EventQueueLeft,
			Payload: queueLeftPayload{Reason: "stale"},
		})
	}
}

// Running reports whether the background loop has started.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Shutdown stops the background loop, ends every active room with
// server_shutdown, and disconnects all clients.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	d.engine.Shutdown()

	d.mu.Lock()
	for _, sess := range d.registry.Snapshot() {
		if sess.CurrentRoomID != "" {
			d.endRoomLocked(sess.CurrentRoomID, types.EndReasonShutdown, "")
		}
	}
	clients := make([]types.ClientInterface, 0, len(d.clients))
	for _, client := range d.clients {
		clients = append(clients, client)
	}
	d.mu.Unlock()

	for _, client := range clients {
		client.Disconnect()
	}

	d.rooms.Shutdown()
	d.registry.Shutdown()
	logging.Info(ctx, "Dispatcher shut down",
		zap.Int("disconnectedClients", len(clients)))
}

// --- admin surface accessors ---

// OnlineUsers returns the number of registered sessions.
func (d *Dispatcher) OnlineUsers() int { return d.registry.Count() }

// ActiveRooms returns the number of active rooms.
func (d *Dispatcher) ActiveRooms() int { return d.rooms.ActiveCount() }

// QueueDepth returns the number of users waiting for a match.
func (d *Dispatcher) QueueDepth() int { return d.engine.Size() }

// TotalConnections returns the lifetime transport connection count.
func (d *Dispatcher) TotalConnections() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalConnections
}

// AverageWaitMs returns the running mean time-to-match.
func (d *Dispatcher) AverageWaitMs() int64 { return d.engine.AverageWaitMs() }

// UptimeSeconds returns seconds since the dispatcher was built.
func (d *Dispatcher) UptimeSeconds() int64 {
	return int64(d.now().Sub(d.startedAt).Seconds())
}

// Sessions returns a snapshot of all sessions for the debug surface.
func (d *Dispatcher) Sessions() []*registry.Session { return d.registry.Snapshot() }

// RoomHistory returns retained closed-room summaries, oldest first.
func (d *Dispatcher) RoomHistory() []chat.Summary { return d.rooms.History() }
