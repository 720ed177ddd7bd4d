package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
)

// AppendEvent inserts a review event into the ledger.
// Uses ON CONFLICT(event_id) DO NOTHING for idempotency: appending an event
// that is already present is a no-op, not an error, which makes at-least-once
// delivery from the transport safe. Returns whether a new row was inserted.
func (s *Store) AppendEvent(ctx context.Context, ev model.ReviewEvent) (inserted bool, err error) {
	var prior any
	if len(ev.PriorState) > 0 {
		prior = string(ev.PriorState)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(event_id, user_id, item_id, grade, band, occurred_at, duration_ms, scheduled_days, prior_state, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		ev.EventID,
		ev.UserID,
		ev.ItemID,
		int(ev.Grade),
		ev.Band,
		ev.OccurredAt.UnixMilli(),
		ev.DurationMs,
		ev.ScheduledDays,
		prior,
		ev.DeviceID,
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event: rows affected: %w", err)
	}
	return n > 0, nil
}

// HasEvent reports whether an event with the given ID is already in the
// ledger.
func (s *Store) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE event_id = ?
	`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has event: %w", err)
	}
	return count > 0, nil
}

// EventsForItem returns all events for one (user, item) in the ledger's
// total order: occurred_at ascending, event_id (binary collation) as the
// tie-break. The order is identical on every device regardless of arrival
// order.
func (s *Store) EventsForItem(ctx context.Context, userID, itemID string) ([]model.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, item_id, grade, band, occurred_at, duration_ms, scheduled_days, prior_state, device_id
		FROM events
		WHERE user_id = ? AND item_id = ?
		ORDER BY occurred_at ASC, event_id COLLATE BINARY ASC
	`, userID, itemID)
	if err != nil {
		return nil, fmt.Errorf("events for item: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsForUser returns every event for a user in total order. Used when
// building a full push batch or re-deriving all items.
func (s *Store) EventsForUser(ctx context.Context, userID string) ([]model.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, item_id, grade, band, occurred_at, duration_ms, scheduled_days, prior_state, device_id
		FROM events
		WHERE user_id = ?
		ORDER BY occurred_at ASC, event_id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("events for user: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsSince returns a user's events with occurred_at strictly after the
// given unix-millisecond cursor, in total order. Used for delta extraction
// when pushing to the transport.
func (s *Store) EventsSince(ctx context.Context, userID string, sinceMillis int64) ([]model.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, item_id, grade, band, occurred_at, duration_ms, scheduled_days, prior_state, device_id
		FROM events
		WHERE user_id = ? AND occurred_at > ?
		ORDER BY occurred_at ASC, event_id COLLATE BINARY ASC
	`, userID, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ItemIDsForUser returns the distinct item IDs a user has events for,
// ordered for deterministic iteration.
func (s *Store) ItemIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT item_id FROM events
		WHERE user_id = ?
		ORDER BY item_id COLLATE BINARY ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("item ids for user: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item ids: %w", err)
	}
	return ids, nil
}

// CountEvents returns the total number of ledger rows for a user.
func (s *Store) CountEvents(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// scanEvents reads all rows into events. Callers own rows and close them.
func scanEvents(rows *sql.Rows) ([]model.ReviewEvent, error) {
	var events []model.ReviewEvent
	for rows.Next() {
		var (
			ev         model.ReviewEvent
			grade      int
			occurredAt int64
			prior      sql.NullString
		)
		err := rows.Scan(
			&ev.EventID, &ev.UserID, &ev.ItemID, &grade, &ev.Band, &occurredAt,
			&ev.DurationMs, &ev.ScheduledDays, &prior, &ev.DeviceID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Grade = srs.Grade(grade)
		ev.OccurredAt = fromMillis(occurredAt)
		if prior.Valid && prior.String != "" {
			ev.PriorState = []byte(prior.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
