// Package match implements the matching engine: queue admission,
// weighted compatibility scoring, and the background pairing loop.
package match

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/metrics"
	"github.com/lumenchat/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("matching queue is full")
	ErrUnknownUser = errors.New("user is not registered")
)

const (
	// DefaultMaxQueue caps pending match requests.
	DefaultMaxQueue = 1000
	// DefaultLoopInterval is the background pairing cadence.
	DefaultLoopInterval = 2 * time.Second
	// DefaultMaxWait is the queue residency cap enforced by SweepStale.
	DefaultMaxWait = 5 * time.Minute
	// loopTopCandidates bounds how many entries each tick examines.
	loopTopCandidates = 10
	// priorityWaitFactor converts priority into equivalent wait
	// milliseconds when ordering the loop's candidates.
	priorityWaitFactor = 10_000
)

// Directory resolves a user id to a matching snapshot. Implemented by
// the dispatcher over the session registry.
type Directory interface {
	View(userID types.UserIDType) (UserView, bool)
}

// QueueEntry is one user's pending match request.
type QueueEntry struct {
	UserID        types.UserIDType
	Preferences   types.Preferences
	QueuedAt      time.Time
	Attempts      int
	LastAttemptAt time.Time
	Priority      float64
}

// MatchPair is emitted when two queue entries are paired.
type MatchPair struct {
	A        types.UserIDType
	B        types.UserIDType
	RoomType types.ChatType
	Score    float64
}

// Engine owns the matching queue and the pairing loop.
type Engine struct {
	mu      sync.Mutex
	entries map[types.UserIDType]*QueueEntry

	dir      Directory
	maxQueue int
	interval time.Duration
	pairs    chan MatchPair
	now      types.Clock

	matched   int64
	totalWait time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxQueue overrides the queue capacity.
func WithMaxQueue(n int) Option {
	return func(e *Engine) { e.maxQueue = n }
}

// WithLoopInterval overrides the pairing loop cadence.
func WithLoopInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock types.Clock) Option {
	return func(e *Engine) { e.now = clock }
}

// NewEngine creates a matching engine over the given directory.
func NewEngine(dir Directory, opts ...Option) *Engine {
	e := &Engine{
		entries:  make(map[types.UserIDType]*QueueEntry),
		dir:      dir,
		maxQueue: DefaultMaxQueue,
		interval: DefaultLoopInterval,
		pairs:    make(chan MatchPair, 64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pairs is the channel the background loop emits matches on.
func (e *Engine) Pairs() <-chan MatchPair {
	return e.pairs
}

// Enqueue admits a user to the queue. Idempotent: re-enqueueing returns
// the existing entry with its original QueuedAt.
func (e *Engine) Enqueue(userID types.UserIDType, prefs types.Preferences) (*QueueEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.entries[userID]; ok {
		return existing, nil
	}
	if len(e.entries) >= e.maxQueue {
		return nil, ErrQueueFull
	}

	view, ok := e.dir.View(userID)
	if !ok {
		return nil, ErrUnknownUser
	}

	entry := &QueueEntry{
		UserID:      userID,
		Preferences: prefs,
		QueuedAt:    e.now(),
		Priority:    Priority(view),
	}
	e.entries[userID] = entry
	metrics.QueueDepth.Set(float64(len(e.entries)))
	return entry, nil
}

// Cancel removes a user from the queue.
func (e *Engine) Cancel(userID types.UserIDType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[userID]; !ok {
		return false
	}
	delete(e.entries, userID)
	metrics.QueueDepth.Set(float64(len(e.entries)))
	return true
}

// TryMatchNow synchronously scans the queue for the best candidate for
// the given user. On success both entries are removed and the pair is
// returned; the caller creates the room.
func (e *Engine) TryMatchNow(userID types.UserIDType) (*MatchPair, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tryMatchLocked(userID)
}

func (e *Engine) tryMatchLocked(userID types.UserIDType) (*MatchPair, bool) {
	entry, ok := e.entries[userID]
	if !ok {
		return nil, false
	}

	view, ok := e.dir.View(userID)
	if !ok {
		// Session vanished under us; drop the entry.
		delete(e.entries, userID)
		metrics.QueueDepth.Set(float64(len(e.entries)))
		return nil, false
	}

	now := e.now()
	entry.Attempts++
	entry.LastAttemptAt = now

	threshold := MinCompat(now.Sub(entry.QueuedAt))

	var best *QueueEntry
	bestScore := -1.0
	for _, cand := range e.entries {
		if cand.UserID == userID {
			continue
		}
		if cand.Preferences.ChatType != entry.Preferences.ChatType {
			continue
		}
		candView, ok := e.dir.View(cand.UserID)
		if !ok {
			continue
		}
		if score := Score(view, candView); score > bestScore {
			bestScore = score
			best = cand
		}
	}

	if best == nil || bestScore < threshold {
		return nil, false
	}

	delete(e.entries, userID)
	delete(e.entries, best.UserID)
	metrics.QueueDepth.Set(float64(len(e.entries)))
	metrics.MatchesTotal.Inc()

	waitA := now.Sub(entry.QueuedAt)
	waitB := now.Sub(best.QueuedAt)
	metrics.MatchWaitSeconds.Observe(waitA.Seconds())
	metrics.MatchWaitSeconds.Observe(waitB.Seconds())
	e.matched += 2
	e.totalWait += waitA + waitB

	return &MatchPair{
		A:        userID,
		B:        best.UserID,
		RoomType: entry.Preferences.ChatType,
		Score:    bestScore,
	}, true
}

// Position returns the user's 1-based rank ordered by
// (priority desc, queued_at asc), or -1 if not enqueued.
func (e *Engine) Position(userID types.UserIDType) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, ok := e.entries[userID]
	if !ok {
		return -1
	}

	rank := 1
	for _, other := range e.entries {
		if other.UserID == userID {
			continue
		}
		if other.Priority > target.Priority ||
			(other.Priority == target.Priority && other.QueuedAt.Before(target.QueuedAt)) {
			rank++
		}
	}
	return rank
}

// Size returns the current queue depth.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// SweepStale drops entries that waited longer than maxWait and returns
// the dropped users so the dispatcher can notify them.
func (e *Engine) SweepStale(maxWait time.Duration) []types.UserIDType {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var dropped []types.UserIDType
	for id, entry := range e.entries {
		if now.Sub(entry.QueuedAt) > maxWait {
			delete(e.entries, id)
			dropped = append(dropped, id)
		}
	}
	if len(dropped) > 0 {
		metrics.QueueDepth.Set(float64(len(e.entries)))
		logging.Info(context.Background(), "Dropped stale queue entries", zap.Int("count", len(dropped)))
	}
	return dropped
}

// AverageWaitMs reports the running mean time-to-match.
func (e *Engine) AverageWaitMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matched == 0 {
		return 0
	}
	return (e.totalWait / time.Duration(e.matched)).Milliseconds()
}

// Run starts the background pairing loop. Blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range e.sweepMatches() {
				select {
				case e.pairs <- pair:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// sweepMatches is one loop iteration: order entries by
// wait + priority bonus, examine the top few, and pair what it can.
func (e *Engine) sweepMatches() []MatchPair {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	candidates := make([]*QueueEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return loopRank(candidates[i], now) > loopRank(candidates[j], now)
	})
	if len(candidates) > loopTopCandidates {
		candidates = candidates[:loopTopCandidates]
	}

	var pairs []MatchPair
	for _, entry := range candidates {
		// Entries may have been consumed by an earlier pairing this tick.
		if _, still := e.entries[entry.UserID]; !still {
			continue
		}
		if pair, ok := e.tryMatchLocked(entry.UserID); ok {
			pairs = append(pairs, *pair)
		}
	}
	return pairs
}

func loopRank(entry *QueueEntry, now time.Time) float64 {
	wait := now.Sub(entry.QueuedAt).Milliseconds()
	return float64(wait) + priorityWaitFactor*entry.Priority
}

// Shutdown stops the loop and waits for it to exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}
