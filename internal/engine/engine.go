package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kioku-app/kioku/internal/merge"
	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/replay"
	"github.com/kioku-app/kioku/internal/srs"
	"github.com/kioku-app/kioku/internal/store"
)

// Engine owns all per-user mutation paths. Construct one per process.
type Engine struct {
	store  *store.Store
	sched  *srs.Scheduler
	replay *replay.Engine
	merger *merge.Coordinator
	gate   *rank.Gate
	clock  *model.DeviceClock
	log    *zap.Logger
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// Options configures an Engine. Store, Scheduler, and Clock are required.
type Options struct {
	Store     *store.Store
	Scheduler *srs.Scheduler
	Clock     *model.DeviceClock
	Limits    rank.Limits
	Items     model.ItemResolver
	Logger    *zap.Logger

	// Now and NewID override wall clock and event ID generation, for tests.
	Now   func() time.Time
	NewID func() string
}

// New wires an Engine from its parts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Scheduler == nil || opts.Clock == nil {
		return nil, errors.New("engine: store, scheduler, and clock are required")
	}
	e := &Engine{
		store: opts.Store,
		sched: opts.Scheduler,
		clock: opts.Clock,
		gate:  rank.NewGate(opts.Limits),
		log:   opts.Logger,
		now:   opts.Now,
		newID: opts.NewID,
		users: make(map[string]*sync.Mutex),
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.replay = replay.NewEngine(opts.Scheduler, opts.Store)
	e.merger = merge.New(opts.Store, e.replay,
		merge.WithItemResolver(opts.Items),
		merge.WithLogger(e.log),
		merge.WithClock(e.now))
	return e, nil
}

// Now returns the engine's wall clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// userLock returns the mutex serializing all mutations for one user.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.users[userID]
	if !ok {
		l = &sync.Mutex{}
		e.users[userID] = l
	}
	return l
}

// GradeRequest is one graded review from the UI.
type GradeRequest struct {
	UserID     string
	ItemID     string
	Grade      srs.Grade
	Band       rank.Band // lexical difficulty band of the item
	DurationMs int64
}

// Grade records a review: one durable append to the ledger, then the item's
// state is re-derived from its history and the user's proficiency signals
// are folded forward. The write is visible to sync immediately; a failure
// after the append leaves a consistent ledger that the next replay repairs.
func (e *Engine) Grade(ctx context.Context, req GradeRequest) (model.ItemMemoryState, error) {
	if !req.Grade.IsValid() {
		return model.ItemMemoryState{}, srs.ErrInvalidGrade
	}
	itemID := model.NormalizeItemID(req.ItemID)

	l := e.userLock(req.UserID)
	l.Lock()
	defer l.Unlock()

	ev := model.ReviewEvent{
		EventID:    e.newID(),
		UserID:     req.UserID,
		ItemID:     itemID,
		Grade:      req.Grade,
		Band:       int(req.Band),
		OccurredAt: e.now().UTC(),
		DurationMs: req.DurationMs,
		DeviceID:   e.clock.DeviceID(),
	}
	if prior, err := e.store.GetItemState(ctx, req.UserID, itemID); err == nil {
		ev.ScheduledDays = e.sched.Interval(prior.Memory)
		if snap, merr := json.Marshal(prior.Memory); merr == nil {
			ev.PriorState = snap
		}
	}

	if _, err := e.store.AppendEvent(ctx, ev); err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("grade: %w", err)
	}

	state, err := e.replay.ReplayItem(ctx, req.UserID, itemID)
	if err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("grade: %w", err)
	}

	if err := e.refoldRank(ctx, req.UserID); err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("grade: %w", err)
	}

	e.log.Debug("review graded",
		zap.String("user_id", req.UserID),
		zap.String("item_id", itemID),
		zap.Stringer("grade", req.Grade),
		zap.Time("next_review_at", state.NextReviewAt))
	return state, nil
}

// refoldRank recomputes the proficiency signals from the full event history.
// Grading and merging both land here, so a device's rank is always the fold
// of its settled ledger and never depends on where a review was graded. No
// stamp is written: derived signals do not compete in LWW.
func (e *Engine) refoldRank(ctx context.Context, userID string) error {
	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	events, err := e.store.EventsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("refold rank: %w", err)
	}
	p = rank.FoldHistory(p, events)
	return e.store.PutProfile(ctx, p)
}

// SuppressItem records the explicit intent to exclude (or re-include) an
// item from article and widget selection. The intent is stamped with this
// device's logical time so it merges last-writer-wins.
func (e *Engine) SuppressItem(ctx context.Context, userID, itemID string, suppressed bool) (model.UserProfile, error) {
	itemID = model.NormalizeItemID(itemID)

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if suppressed {
		if p.SuppressedItems == nil {
			p.SuppressedItems = make(map[string]bool)
		}
		p.SuppressedItems[itemID] = true
	} else {
		delete(p.SuppressedItems, itemID)
	}
	p.IntentUpdatedAt = e.clock.Now()
	if err := e.store.PutProfile(ctx, p); err != nil {
		return model.UserProfile{}, fmt.Errorf("suppress item: %w", err)
	}
	return p, nil
}

// SetTopicWeight records an explicit topic preference. A weight of zero
// removes the topic.
func (e *Engine) SetTopicWeight(ctx context.Context, userID, topic string, weight float64) (model.UserProfile, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if weight == 0 {
		delete(p.TopicWeights, topic)
	} else {
		if p.TopicWeights == nil {
			p.TopicWeights = make(map[string]float64)
		}
		p.TopicWeights[topic] = weight
	}
	p.IntentUpdatedAt = e.clock.Now()
	if err := e.store.PutProfile(ctx, p); err != nil {
		return model.UserProfile{}, fmt.Errorf("set topic weight: %w", err)
	}
	return p, nil
}

// RecordEntitlement stores a verified subscription fact on this device. The
// tier carries its own LWW stamp, so later profile edits or reviews can
// never displace it. A zero UpdatedAt is stamped with the device clock.
func (e *Engine) RecordEntitlement(ctx context.Context, userID string, ent model.Entitlement) error {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	if ent.UpdatedAt.IsZero() {
		ent.UpdatedAt = e.clock.Now()
	}
	p.Tier = ent.Tier
	p.TierVerifiedAt = ent.VerifiedAt
	p.TierExpiresAt = ent.ExpiresAt
	p.TierUpdatedAt = ent.UpdatedAt
	if err := e.store.PutProfile(ctx, p); err != nil {
		return fmt.Errorf("record entitlement: %w", err)
	}
	return nil
}

// Profile returns the user's current profile, or the default for a user
// with no history.
func (e *Engine) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	return e.loadProfile(ctx, userID)
}

// SetStatus applies an explicit status change (ignore, reactivate) stamped
// with this device's logical time so it wins LWW against older writes.
func (e *Engine) SetStatus(ctx context.Context, userID, itemID string, status model.Status) (model.ItemMemoryState, error) {
	itemID = model.NormalizeItemID(itemID)

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	current, err := e.store.GetItemState(ctx, userID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		current = model.NewItemMemoryState(userID, itemID)
	} else if err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("set status: %w", err)
	}

	if err := rank.Transition(current.Status, status); err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("set status: %w", err)
	}

	current.Status = status
	current.UpdatedAt = e.clock.Now()
	if err := e.store.PutItemState(ctx, current); err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("set status: %w", err)
	}

	// Reactivation re-enters the scheduling fold, so re-derive around the
	// new intent.
	state, err := e.replay.ReplayItem(ctx, userID, itemID)
	if err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("set status: %w", err)
	}
	return state, nil
}

// ApplyBatch merges a remote delta for one user. Safe to call concurrently
// with grading for other users; for this user it waits its turn.
func (e *Engine) ApplyBatch(ctx context.Context, userID string, delta merge.Delta) (merge.Report, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return e.merger.Merge(ctx, delta)
}

// BuildDelta assembles the outgoing sync payload: every event this device
// has recorded since the given millisecond watermark, plus current intent
// state so the receiver can LWW-reconcile.
func (e *Engine) BuildDelta(ctx context.Context, userID string, sinceMillis int64) (merge.Delta, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	delta := merge.Delta{SourceDevice: e.clock.DeviceID()}

	events, err := e.store.EventsSince(ctx, userID, sinceMillis)
	if err != nil {
		return merge.Delta{}, fmt.Errorf("build delta: %w", err)
	}
	delta.Events = events

	states, err := e.store.ListItemStates(ctx, userID)
	if err != nil {
		return merge.Delta{}, fmt.Errorf("build delta: %w", err)
	}
	for _, st := range states {
		if st.UpdatedAt.IsZero() {
			continue // never explicitly touched; derived state travels as events
		}
		delta.Statuses = append(delta.Statuses, merge.StatusDelta{
			UserID:    st.UserID,
			ItemID:    st.ItemID,
			Status:    st.Status,
			UpdatedAt: st.UpdatedAt,
		})
	}

	usage, err := e.store.ListUsage(ctx, userID)
	if err != nil {
		return merge.Delta{}, fmt.Errorf("build delta: %w", err)
	}
	delta.Usage = usage

	p, err := e.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return delta, nil
	}
	if err != nil {
		return merge.Delta{}, fmt.Errorf("build delta: %w", err)
	}
	// Intent and entitlement travel under their own stamps; either group may
	// be absent while the other has been written.
	if !p.IntentUpdatedAt.IsZero() {
		suppressed := make([]string, 0, len(p.SuppressedItems))
		for id := range p.SuppressedItems {
			suppressed = append(suppressed, id)
		}
		sort.Strings(suppressed)
		delta.Profile = &merge.ProfileDelta{
			UserID:          p.UserID,
			TopicWeights:    p.TopicWeights,
			SuppressedItems: suppressed,
			UpdatedAt:       p.IntentUpdatedAt,
		}
	}
	if !p.TierUpdatedAt.IsZero() {
		delta.Entitlement = &merge.EntitlementDelta{
			UserID: p.UserID,
			Entitlement: model.Entitlement{
				Tier:       p.Tier,
				VerifiedAt: p.TierVerifiedAt,
				ExpiresAt:  p.TierExpiresAt,
				UpdatedAt:  p.TierUpdatedAt,
			},
		}
	}
	return delta, nil
}

// ReplayUser forces a full re-derivation of every item the user has history
// for. Returns the number of items replayed.
func (e *Engine) ReplayUser(ctx context.Context, userID string) (int, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return e.replay.ReplayAll(ctx, userID)
}

func (e *Engine) loadProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	p, err := e.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewUserProfile(userID), nil
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return p, nil
}
