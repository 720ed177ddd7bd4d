package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/replay"
	"github.com/kioku-app/kioku/internal/store"
)

// Report summarizes one merged delta.
type Report struct {
	EventsApplied   int
	EventsDuplicate int
	ItemsReplayed   int
	StatesApplied   int
	StatesStale     int
	UsageApplied    int
	UsageStale      int
	Quarantined     []store.QuarantinedRecord
}

// Coordinator merges remote deltas into the local store and replays every
// item whose event set changed. It never contacts the transport.
type Coordinator struct {
	store  *store.Store
	replay *replay.Engine
	items  model.ItemResolver
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithItemResolver installs a resolver used to reject events for unknown
// items. Without one, every item ID is accepted.
func WithItemResolver(items model.ItemResolver) Option {
	return func(c *Coordinator) { c.items = items }
}

// WithLogger installs a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator over the given store and replay engine.
func New(st *store.Store, rp *replay.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		replay: rp,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type itemKey struct {
	userID string
	itemID string
}

// Merge applies a delta: event union first, then LWW intent reconciliation,
// then replay of every dirty item. Malformed records are quarantined
// per-record and never abort the batch; storage failures do.
//
// Merge is idempotent and commutative over deltas: replaying the same delta
// or reordering deltas converges to the same derived state.
func (c *Coordinator) Merge(ctx context.Context, delta Delta) (Report, error) {
	var rep Report
	dirty := make(map[itemKey]struct{})
	foldUsers := make(map[string]struct{})

	for _, ev := range delta.Events {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ev.ItemID = model.NormalizeItemID(ev.ItemID)
		if err := ev.Validate(c.items); err != nil {
			if qerr := c.quarantine(ctx, &rep, err, ev); qerr != nil {
				return rep, qerr
			}
			continue
		}
		if ev.SkewAnomaly(c.now()) {
			c.log.Warn("event timestamp outside plausible range",
				zap.String("event_id", ev.EventID),
				zap.Time("occurred_at", ev.OccurredAt))
		}
		inserted, err := c.store.AppendEvent(ctx, ev)
		if err != nil {
			return rep, fmt.Errorf("merge events: %w", err)
		}
		if inserted {
			rep.EventsApplied++
			dirty[itemKey{ev.UserID, ev.ItemID}] = struct{}{}
			foldUsers[ev.UserID] = struct{}{}
		} else {
			rep.EventsDuplicate++
		}
	}

	for _, sd := range delta.Statuses {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sd.ItemID = model.NormalizeItemID(sd.ItemID)
		if err := sd.Validate(); err != nil {
			if qerr := c.quarantine(ctx, &rep, err, sd); qerr != nil {
				return rep, qerr
			}
			continue
		}
		if err := c.mergeStatus(ctx, &rep, sd, dirty); err != nil {
			return rep, err
		}
	}

	if delta.Profile != nil {
		if err := c.mergeProfile(ctx, &rep, *delta.Profile); err != nil {
			return rep, err
		}
	}
	if delta.Entitlement != nil {
		if err := c.mergeEntitlement(ctx, &rep, *delta.Entitlement); err != nil {
			return rep, err
		}
	}
	for _, u := range delta.Usage {
		if err := c.mergeUsage(ctx, &rep, u); err != nil {
			return rep, err
		}
	}

	// Replay in a stable order so logs and failures are reproducible.
	keys := make([]itemKey, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].itemID < keys[j].itemID
	})
	for _, k := range keys {
		if _, err := c.replay.ReplayItem(ctx, k.userID, k.itemID); err != nil {
			return rep, fmt.Errorf("replay %s/%s: %w", k.userID, k.itemID, err)
		}
		rep.ItemsReplayed++
	}

	// The proficiency signals are a fold of the full ledger, so any user
	// whose event set grew gets them recomputed. Same-ledger devices then
	// agree on rank regardless of which device graded which review.
	users := make([]string, 0, len(foldUsers))
	for u := range foldUsers {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		if err := c.refoldRank(ctx, u); err != nil {
			return rep, err
		}
	}

	c.log.Info("merge complete",
		zap.Int("events_applied", rep.EventsApplied),
		zap.Int("events_duplicate", rep.EventsDuplicate),
		zap.Int("items_replayed", rep.ItemsReplayed),
		zap.Int("states_applied", rep.StatesApplied),
		zap.Int("states_stale", rep.StatesStale),
		zap.Int("usage_applied", rep.UsageApplied),
		zap.Int("usage_stale", rep.UsageStale),
		zap.Int("quarantined", len(rep.Quarantined)))
	return rep, nil
}

// refoldRank recomputes a user's proficiency signals from the settled event
// history.
func (c *Coordinator) refoldRank(ctx context.Context, userID string) error {
	p, err := c.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	events, err := c.store.EventsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("refold rank %s: %w", userID, err)
	}
	p = rank.FoldHistory(p, events)
	if err := c.store.PutProfile(ctx, p); err != nil {
		return fmt.Errorf("refold rank %s: %w", userID, err)
	}
	return nil
}

// mergeStatus applies one status intent last-writer-wins. A winning intent
// marks the item dirty so the replay pass re-derives the rest of its state
// around the new status.
func (c *Coordinator) mergeStatus(ctx context.Context, rep *Report, sd StatusDelta, dirty map[itemKey]struct{}) error {
	current, err := c.store.GetItemState(ctx, sd.UserID, sd.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		current = model.NewItemMemoryState(sd.UserID, sd.ItemID)
	} else if err != nil {
		return fmt.Errorf("merge status %s: %w", sd.key(), err)
	}
	if !sd.UpdatedAt.After(current.UpdatedAt) {
		rep.StatesStale++
		return nil
	}
	current.Status = sd.Status
	current.UpdatedAt = sd.UpdatedAt
	if err := c.store.PutItemState(ctx, current); err != nil {
		return fmt.Errorf("merge status %s: %w", sd.key(), err)
	}
	rep.StatesApplied++
	dirty[itemKey{sd.UserID, sd.ItemID}] = struct{}{}
	return nil
}

// mergeProfile reconciles the user-authored intent group against its own
// stamp. The entitlement fields are untouched: a profile edit must never
// displace a verified tier.
func (c *Coordinator) mergeProfile(ctx context.Context, rep *Report, pd ProfileDelta) error {
	current, err := c.loadProfile(ctx, pd.UserID)
	if err != nil {
		return err
	}
	if !pd.UpdatedAt.After(current.IntentUpdatedAt) {
		rep.StatesStale++
		return nil
	}
	current.TopicWeights = pd.TopicWeights
	current.SuppressedItems = nil
	if len(pd.SuppressedItems) > 0 {
		current.SuppressedItems = make(map[string]bool, len(pd.SuppressedItems))
		for _, id := range pd.SuppressedItems {
			current.SuppressedItems[model.NormalizeItemID(id)] = true
		}
	}
	current.IntentUpdatedAt = pd.UpdatedAt
	if err := c.store.PutProfile(ctx, current); err != nil {
		return fmt.Errorf("merge profile %s: %w", pd.UserID, err)
	}
	rep.StatesApplied++
	return nil
}

// mergeEntitlement reconciles the verified tier fact against its own stamp,
// independent of any profile or rank activity.
func (c *Coordinator) mergeEntitlement(ctx context.Context, rep *Report, ed EntitlementDelta) error {
	current, err := c.loadProfile(ctx, ed.UserID)
	if err != nil {
		return err
	}
	if !ed.Entitlement.UpdatedAt.After(current.TierUpdatedAt) {
		rep.StatesStale++
		return nil
	}
	current.Tier = ed.Entitlement.Tier
	current.TierVerifiedAt = ed.Entitlement.VerifiedAt
	current.TierExpiresAt = ed.Entitlement.ExpiresAt
	current.TierUpdatedAt = ed.Entitlement.UpdatedAt
	if err := c.store.PutProfile(ctx, current); err != nil {
		return fmt.Errorf("merge entitlement %s: %w", ed.UserID, err)
	}
	rep.StatesApplied++
	return nil
}

// mergeUsage reconciles one quota counter. A newer window anchor supersedes
// the stored row outright; within the same window the higher count wins, so
// consumption on any device counts everywhere and duplicate deliveries
// cannot inflate the total.
func (c *Coordinator) mergeUsage(ctx context.Context, rep *Report, u model.UsageLedgerEntry) error {
	if u.UserID == "" || u.Feature == "" {
		return c.quarantine(ctx, rep, &model.MalformedRecordError{
			Code: model.CodeMissingField, RecordID: u.UserID + "/" + u.Feature,
			Field: "user_id/feature", Message: "required",
		}, u)
	}
	current, err := c.store.GetUsage(ctx, u.UserID, u.Feature)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("merge usage %s/%s: %w", u.UserID, u.Feature, err)
	}
	switch {
	case u.WindowAnchor.After(current.WindowAnchor):
		// keep the incoming row as-is
	case u.WindowAnchor.Equal(current.WindowAnchor) && u.Count > current.Count:
		// same window, higher count
	default:
		rep.UsageStale++
		return nil
	}
	if err := c.store.PutUsage(ctx, u); err != nil {
		return fmt.Errorf("merge usage %s/%s: %w", u.UserID, u.Feature, err)
	}
	rep.UsageApplied++
	return nil
}

func (c *Coordinator) loadProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	p, err := c.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewUserProfile(userID), nil
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return p, nil
}

// quarantine records one rejected record and logs it. Only storage failures
// propagate; the validation error itself is swallowed into the report.
func (c *Coordinator) quarantine(ctx context.Context, rep *Report, verr error, record any) error {
	var me *model.MalformedRecordError
	if !errors.As(verr, &me) {
		me = &model.MalformedRecordError{Code: "UNKNOWN", Message: verr.Error()}
	}
	payload, _ := json.Marshal(record)
	rec := store.QuarantinedRecord{
		ReceivedAt: c.now(),
		Code:       string(me.Code),
		RecordID:   me.RecordID,
		Detail:     me.Error(),
		Payload:    string(payload),
	}
	if err := c.store.WriteQuarantine(ctx, rec); err != nil {
		return fmt.Errorf("quarantine record %s: %w", me.RecordID, err)
	}
	rep.Quarantined = append(rep.Quarantined, rec)
	c.log.Warn("record quarantined",
		zap.String("code", string(me.Code)),
		zap.String("record_id", me.RecordID),
		zap.String("detail", me.Message))
	return nil
}
