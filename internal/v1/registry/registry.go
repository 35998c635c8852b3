// Package registry owns the in-memory directory of connected user
// sessions, indexed by transport id and by user id. It tracks activity,
// trust state and idle timeouts; both indices are always updated under
// one lock.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/profile"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRegistered = errors.New("transport already has a session")
	ErrSessionNotFound   = errors.New("session not found")
)

const (
	// DefaultIdleTimeout terminates sessions with no activity.
	DefaultIdleTimeout = 30 * time.Minute

	trustPenalty  = 0.1
	banTrustFloor = 0.3
	banViolations = 5
)

// Violation is one entry in a session's violations log.
type Violation struct {
	Kind string
	At   time.Time
}

// Session is the server's record of a single connected client.
type Session struct {
	UserID      types.UserIDType
	TransportID types.TransportIDType

	Profile     types.Profile
	Preferences types.Preferences

	ConnectedAt  time.Time
	LastActiveAt time.Time

	CurrentRoomID types.RoomIDType

	TrustScore float64
	Violations []Violation
	Banned     bool
	Reported   bool

	idleTimer *time.Timer
}

// ViolationCount returns the number of logged violations.
func (s *Session) ViolationCount() int {
	return len(s.Violations)
}

// InRoom reports whether the session is currently paired.
func (s *Session) InRoom() bool {
	return s.CurrentRoomID != ""
}

// Age returns how long the session has been connected.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.ConnectedAt)
}

// Registry is the user session directory.
type Registry struct {
	mu          sync.RWMutex
	byTransport map[types.TransportIDType]*Session
	byUser      map[types.UserIDType]*Session

	idleTimeout time.Duration
	// onExpired fires outside the registry lock when a session passes its
	// idle timeout; the dispatcher tears the session down.
	onExpired func(types.TransportIDType)
	now       types.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTimeout overrides the session idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock types.Clock) Option {
	return func(r *Registry) { r.now = clock }
}

// New creates a Registry. onExpired may be nil (timeouts disabled until
// SetExpiryHandler is called).
func New(onExpired func(types.TransportIDType), opts ...Option) *Registry {
	r := &Registry{
		byTransport: make(map[types.TransportIDType]*Session),
		byUser:      make(map[types.UserIDType]*Session),
		idleTimeout: DefaultIdleTimeout,
		onExpired:   onExpired,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetExpiryHandler installs the idle-timeout callback after construction.
// Used when the dispatcher and registry are built in two steps.
func (r *Registry) SetExpiryHandler(fn func(types.TransportIDType)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpired = fn
}

// Create allocates a new session for a transport, normalizing the raw
// profile and seeding trust at 1.0.
func (r *Registry) Create(transportID types.TransportIDType, raw profile.Raw) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTransport[transportID]; exists {
		return nil, ErrAlreadyRegistered
	}

	now := r.now()
	s := &Session{
		UserID:       types.UserIDType(uuid.New().String()),
		TransportID:  transportID,
		Profile:      profile.NormalizeProfile(raw),
		Preferences:  profile.NormalizePreferences(profile.RawPreferences{}),
		ConnectedAt:  now,
		LastActiveAt: now,
		TrustScore:   1.0,
	}
	s.idleTimer = r.armIdleTimerLocked(transportID)

	r.byTransport[transportID] = s
	r.byUser[s.UserID] = s

	metrics.OnlineSessions.Set(float64(len(r.byUser)))
	logging.Info(context.Background(), "Session created",
		zap.String("userId", string(s.UserID)),
		zap.String("transportId", string(transportID)),
	)
	return s, nil
}

// armIdleTimerLocked starts the idle-termination clock for a transport.
func (r *Registry) armIdleTimerLocked(transportID types.TransportIDType) *time.Timer {
	if r.idleTimeout <= 0 {
		return nil
	}
	return time.AfterFunc(r.idleTimeout, func() {
		r.mu.RLock()
		handler := r.onExpired
		s, alive := r.byTransport[transportID]
		var idleFor time.Duration
		var timer *time.Timer
		if alive {
			idleFor = r.now().Sub(s.LastActiveAt)
			timer = s.idleTimer
		}
		r.mu.RUnlock()

		if !alive || handler == nil {
			return
		}
		// A Touch racing the timer may have landed after the timer
		// committed to firing. Re-check real idleness and push the
		// deadline out instead of tearing down an active session.
		if idleFor < r.idleTimeout {
			if timer != nil {
				timer.Reset(r.idleTimeout - idleFor)
			}
			return
		}
		handler(transportID)
	})
}

// GetByTransport looks a session up by transport id. O(1).
func (r *Registry) GetByTransport(transportID types.TransportIDType) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTransport[transportID]
	return s, ok
}

// GetByUser looks a session up by user id. O(1).
func (r *Registry) GetByUser(userID types.UserIDType) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	return s, ok
}

// Peek returns a copy of the session for the given user. Safe to read
// from goroutines that do not hold the dispatcher lock (the match loop).
func (r *Registry) Peek(userID types.UserIDType) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Touch records activity and rearms the idle timer.
func (r *Registry) Touch(transportID types.TransportIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTransport[transportID]
	if !ok {
		return
	}
	s.LastActiveAt = r.now()
	if s.idleTimer != nil {
		s.idleTimer.Reset(r.idleTimeout)
	}
}

// UpdateProfile merge-normalizes a partial profile onto the session.
func (r *Registry) UpdateProfile(transportID types.TransportIDType, partial profile.Raw) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTransport[transportID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Profile = profile.Merge(s.Profile, partial)
	return s, nil
}

// SetPreferences stores normalized matching preferences on the session.
func (r *Registry) SetPreferences(transportID types.TransportIDType, prefs types.Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTransport[transportID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Preferences = prefs
	return nil
}

// BindRoom sets the session's current room.
func (r *Registry) BindRoom(userID types.UserIDType, roomID types.RoomIDType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok {
		return ErrSessionNotFound
	}
	s.CurrentRoomID = roomID
	return nil
}

// UnbindRoom clears the session's current room.
func (r *Registry) UnbindRoom(userID types.UserIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byUser[userID]; ok {
		s.CurrentRoomID = ""
	}
}

// MarkReported flags a session as having been reported by a peer.
func (r *Registry) MarkReported(userID types.UserIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byUser[userID]; ok {
		s.Reported = true
	}
}

// Flag appends to the violations log and decrements trust. Trust is
// strictly non-increasing for the session lifetime; the only reset is a
// fresh session. Auto-bans at 5 violations or trust <= 0.3.
// Returns the session and whether this call banned it.
func (r *Registry) Flag(userID types.UserIDType, kind string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}

	s.Violations = append(s.Violations, Violation{Kind: kind, At: r.now()})
	s.TrustScore -= trustPenalty
	if s.TrustScore < 0 {
		s.TrustScore = 0
	}
	metrics.ViolationsTotal.WithLabelValues(kind).Inc()

	newlyBanned := false
	if !s.Banned && (len(s.Violations) >= banViolations || s.TrustScore <= banTrustFloor) {
		s.Banned = true
		newlyBanned = true
		logging.Warn(context.Background(), "Session auto-banned",
			zap.String("userId", string(userID)),
			zap.Int("violations", len(s.Violations)),
			zap.Float64("trustScore", s.TrustScore),
		)
	}
	return s, newlyBanned
}

// Remove deletes both indices and cancels the idle timer, returning the
// removed session for downstream cleanup.
func (r *Registry) Remove(transportID types.TransportIDType) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTransport[transportID]
	if !ok {
		return nil, false
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	delete(r.byTransport, transportID)
	delete(r.byUser, s.UserID)

	metrics.OnlineSessions.Set(float64(len(r.byUser)))
	return s, true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns a copy of all sessions for the debug surface.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Shutdown stops all idle timers.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byTransport {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
	}
}
