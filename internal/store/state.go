package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kioku-app/kioku/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// PutItemState upserts the derived memory state for one (user, item).
// The entire row is replaced: item state is a cache of a replay result, so
// partial updates are never meaningful.
func (s *Store) PutItemState(ctx context.Context, st model.ItemMemoryState) error {
	status, err := st.Status.MarshalText()
	if err != nil {
		return fmt.Errorf("put item state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO item_states
		(user_id, item_id, status, stability, difficulty, next_review_at, last_review_at,
		 review_count, lapse_count, updated_millis, updated_device)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			status = excluded.status,
			stability = excluded.stability,
			difficulty = excluded.difficulty,
			next_review_at = excluded.next_review_at,
			last_review_at = excluded.last_review_at,
			review_count = excluded.review_count,
			lapse_count = excluded.lapse_count,
			updated_millis = excluded.updated_millis,
			updated_device = excluded.updated_device
	`,
		st.UserID,
		st.ItemID,
		string(status),
		st.Memory.Stability,
		st.Memory.Difficulty,
		millis(st.NextReviewAt),
		millis(st.LastReviewAt),
		st.ReviewCount,
		st.LapseCount,
		st.UpdatedAt.Millis,
		st.UpdatedAt.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("put item state: %w", err)
	}
	return nil
}

// GetItemState returns the stored state for one (user, item).
// Returns ErrNotFound if the item has never been stored.
func (s *Store) GetItemState(ctx context.Context, userID, itemID string) (model.ItemMemoryState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, item_id, status, stability, difficulty, next_review_at, last_review_at,
		       review_count, lapse_count, updated_millis, updated_device
		FROM item_states
		WHERE user_id = ? AND item_id = ?
	`, userID, itemID)

	st, err := scanItemState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ItemMemoryState{}, fmt.Errorf("item state %s/%s: %w", userID, itemID, ErrNotFound)
	}
	if err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("get item state: %w", err)
	}
	return st, nil
}

// ListItemStates returns all stored item states for a user, ordered by item
// ID for deterministic iteration.
func (s *Store) ListItemStates(ctx context.Context, userID string) ([]model.ItemMemoryState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, status, stability, difficulty, next_review_at, last_review_at,
		       review_count, lapse_count, updated_millis, updated_device
		FROM item_states
		WHERE user_id = ?
		ORDER BY item_id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list item states: %w", err)
	}
	defer rows.Close()

	var states []model.ItemMemoryState
	for rows.Next() {
		st, err := scanItemState(rows)
		if err != nil {
			return nil, fmt.Errorf("list item states: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item states: %w", err)
	}
	return states, nil
}

// scanner abstracts sql.Row / sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanItemState(sc scanner) (model.ItemMemoryState, error) {
	var (
		st         model.ItemMemoryState
		status     string
		nextReview int64
		lastReview int64
	)
	err := sc.Scan(
		&st.UserID, &st.ItemID, &status, &st.Memory.Stability, &st.Memory.Difficulty,
		&nextReview, &lastReview, &st.ReviewCount, &st.LapseCount,
		&st.UpdatedAt.Millis, &st.UpdatedAt.DeviceID,
	)
	if err != nil {
		return model.ItemMemoryState{}, err
	}
	if err := st.Status.UnmarshalText([]byte(status)); err != nil {
		return model.ItemMemoryState{}, err
	}
	st.NextReviewAt = fromMillis(nextReview)
	st.LastReviewAt = fromMillis(lastReview)
	return st, nil
}

// PutProfile upserts the user profile row.
func (s *Store) PutProfile(ctx context.Context, p model.UserProfile) error {
	tier, err := p.Tier.MarshalText()
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}

	weights, err := json.Marshal(p.TopicWeights)
	if err != nil {
		return fmt.Errorf("put profile: marshal topic weights: %w", err)
	}

	suppressed := make([]string, 0, len(p.SuppressedItems))
	for id, on := range p.SuppressedItems {
		if on {
			suppressed = append(suppressed, id)
		}
	}
	sort.Strings(suppressed)
	suppressedJSON, err := json.Marshal(suppressed)
	if err != nil {
		return fmt.Errorf("put profile: marshal suppressed items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles
		(user_id, rank, topic_weights, suppressed_items, recent_easy_ratio, cycle_count,
		 tier, tier_verified_at, tier_expires_at, intent_millis, intent_device, tier_millis, tier_device)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			rank = excluded.rank,
			topic_weights = excluded.topic_weights,
			suppressed_items = excluded.suppressed_items,
			recent_easy_ratio = excluded.recent_easy_ratio,
			cycle_count = excluded.cycle_count,
			tier = excluded.tier,
			tier_verified_at = excluded.tier_verified_at,
			tier_expires_at = excluded.tier_expires_at,
			intent_millis = excluded.intent_millis,
			intent_device = excluded.intent_device,
			tier_millis = excluded.tier_millis,
			tier_device = excluded.tier_device
	`,
		p.UserID,
		p.Rank,
		string(weights),
		string(suppressedJSON),
		p.RecentEasyRatio,
		p.CycleCount,
		string(tier),
		millis(p.TierVerifiedAt),
		millis(p.TierExpiresAt),
		p.IntentUpdatedAt.Millis,
		p.IntentUpdatedAt.DeviceID,
		p.TierUpdatedAt.Millis,
		p.TierUpdatedAt.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

// GetProfile returns the stored profile for a user.
// Returns ErrNotFound if the user has no profile row yet.
func (s *Store) GetProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	var (
		p          model.UserProfile
		tier       string
		weights    string
		suppressed string
		verifiedAt int64
		expiresAt  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, rank, topic_weights, suppressed_items, recent_easy_ratio, cycle_count,
		       tier, tier_verified_at, tier_expires_at, intent_millis, intent_device, tier_millis, tier_device
		FROM profiles
		WHERE user_id = ?
	`, userID).Scan(
		&p.UserID, &p.Rank, &weights, &suppressed, &p.RecentEasyRatio, &p.CycleCount,
		&tier, &verifiedAt, &expiresAt,
		&p.IntentUpdatedAt.Millis, &p.IntentUpdatedAt.DeviceID,
		&p.TierUpdatedAt.Millis, &p.TierUpdatedAt.DeviceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}

	if err := p.Tier.UnmarshalText([]byte(tier)); err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(weights), &p.TopicWeights); err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile: unmarshal topic weights: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(suppressed), &ids); err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile: unmarshal suppressed items: %w", err)
	}
	if len(ids) > 0 {
		p.SuppressedItems = make(map[string]bool, len(ids))
		for _, id := range ids {
			p.SuppressedItems[id] = true
		}
	}
	p.TierVerifiedAt = fromMillis(verifiedAt)
	p.TierExpiresAt = fromMillis(expiresAt)
	return p, nil
}

// PutUsage upserts one usage-ledger row.
func (s *Store) PutUsage(ctx context.Context, u model.UsageLedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_ledger (user_id, feature, window_anchor, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, feature) DO UPDATE SET
			window_anchor = excluded.window_anchor,
			count = excluded.count
	`, u.UserID, u.Feature, millis(u.WindowAnchor), u.Count)
	if err != nil {
		return fmt.Errorf("put usage: %w", err)
	}
	return nil
}

// GetUsage returns the usage-ledger row for one (user, feature).
// Returns ErrNotFound if the feature has never been used.
func (s *Store) GetUsage(ctx context.Context, userID, feature string) (model.UsageLedgerEntry, error) {
	var (
		u      model.UsageLedgerEntry
		anchor int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, feature, window_anchor, count
		FROM usage_ledger
		WHERE user_id = ? AND feature = ?
	`, userID, feature).Scan(&u.UserID, &u.Feature, &anchor, &u.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UsageLedgerEntry{}, fmt.Errorf("usage %s/%s: %w", userID, feature, ErrNotFound)
	}
	if err != nil {
		return model.UsageLedgerEntry{}, fmt.Errorf("get usage: %w", err)
	}
	u.WindowAnchor = fromMillis(anchor)
	return u, nil
}

// ListUsage returns every usage-ledger row for a user, ordered by feature
// for deterministic iteration. Used when assembling a sync delta.
func (s *Store) ListUsage(ctx context.Context, userID string) ([]model.UsageLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, feature, window_anchor, count
		FROM usage_ledger
		WHERE user_id = ?
		ORDER BY feature COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []model.UsageLedgerEntry
	for rows.Next() {
		var (
			u      model.UsageLedgerEntry
			anchor int64
		)
		if err := rows.Scan(&u.UserID, &u.Feature, &anchor, &u.Count); err != nil {
			return nil, fmt.Errorf("list usage: %w", err)
		}
		u.WindowAnchor = fromMillis(anchor)
		entries = append(entries, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return entries, nil
}
