package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kioku.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(id, itemID string, at time.Time, g srs.Grade) model.ReviewEvent {
	return model.ReviewEvent{
		EventID:    id,
		UserID:     "user-1",
		ItemID:     itemID,
		Grade:      g,
		OccurredAt: at,
		DurationMs: 2500,
		DeviceID:   "device-a",
	}
}

// TestOpenAppliesPragmas tests WAL and foreign key configuration.
func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

// TestOpenIsIdempotent tests that reopening an existing database succeeds.
func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

// TestAppendEventIdempotent tests that a duplicate append is a no-op.
func TestAppendEventIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := testEvent("e1", "食べる", at, srs.Good)

	inserted, err := s.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same event again: no error, not inserted.
	inserted, err = s.AppendEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := s.CountEvents(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestEventsForItemTotalOrder tests ordering by (occurred_at, event_id).
func TestEventsForItemTotalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; two events share the same millisecond.
	_, err := s.AppendEvent(ctx, testEvent("e-bbb", "食べる", at, srs.Good))
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, testEvent("e-aaa", "食べる", at, srs.Again))
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, testEvent("e-000", "食べる", at.Add(-time.Minute), srs.Hard))
	require.NoError(t, err)

	events, err := s.EventsForItem(ctx, "user-1", "食べる")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "e-000", events[0].EventID)
	assert.Equal(t, "e-aaa", events[1].EventID, "event_id breaks the timestamp tie")
	assert.Equal(t, "e-bbb", events[2].EventID)
}

// TestEventRoundTrip tests field fidelity through the ledger.
func TestEventRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 123000000, time.UTC)

	ev := testEvent("e1", "飲む", at, srs.Easy)
	ev.Band = 4
	ev.ScheduledDays = 12
	ev.PriorState = []byte(`{"stability":4.2,"difficulty":5.1}`)

	_, err := s.AppendEvent(ctx, ev)
	require.NoError(t, err)

	events, err := s.EventsForItem(ctx, "user-1", "飲む")
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, srs.Easy, got.Grade)
	assert.True(t, got.OccurredAt.Equal(at), "millisecond precision preserved")
	assert.Equal(t, 4, got.Band)
	assert.Equal(t, int64(2500), got.DurationMs)
	assert.Equal(t, 12, got.ScheduledDays)
	assert.JSONEq(t, string(ev.PriorState), string(got.PriorState))
	assert.Equal(t, "device-a", got.DeviceID)
}

// TestEventsSince tests delta extraction by time cursor.
func TestEventsSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.AppendEvent(ctx, testEvent("e1", "a", at, srs.Good))
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, testEvent("e2", "b", at.Add(time.Hour), srs.Good))
	require.NoError(t, err)

	events, err := s.EventsSince(ctx, "user-1", at.UnixMilli())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].EventID)
}

// TestItemIDsForUser tests distinct, ordered item enumeration.
func TestItemIDsForUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, item := range []string{"b", "a", "b"} {
		_, err := s.AppendEvent(ctx, testEvent([]string{"e1", "e2", "e3"}[i], item, at.Add(time.Duration(i)*time.Second), srs.Good))
		require.NoError(t, err)
	}

	ids, err := s.ItemIDsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

// TestItemStateRoundTrip tests the item_states upsert and scan.
func TestItemStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetItemState(ctx, "user-1", "食べる")
	require.ErrorIs(t, err, ErrNotFound)

	st := model.ItemMemoryState{
		UserID:       "user-1",
		ItemID:       "食べる",
		Status:       model.StatusLearning,
		Memory:       srs.Memory{Stability: 3.7, Difficulty: 5.2},
		NextReviewAt: time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC),
		LastReviewAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ReviewCount:  4,
		LapseCount:   1,
		UpdatedAt:    model.LogicalTime{Millis: 1000, DeviceID: "device-a"},
	}
	require.NoError(t, s.PutItemState(ctx, st))

	got, err := s.GetItemState(ctx, "user-1", "食べる")
	require.NoError(t, err)
	assert.Equal(t, st.Status, got.Status)
	assert.Equal(t, st.Memory, got.Memory)
	assert.True(t, got.NextReviewAt.Equal(st.NextReviewAt))
	assert.Equal(t, 4, got.ReviewCount)
	assert.Equal(t, 1, got.LapseCount)
	assert.Equal(t, st.UpdatedAt, got.UpdatedAt)

	// Upsert replaces the whole row.
	st.Status = model.StatusKnown
	st.ReviewCount = 5
	require.NoError(t, s.PutItemState(ctx, st))

	got, err = s.GetItemState(ctx, "user-1", "食べる")
	require.NoError(t, err)
	assert.Equal(t, model.StatusKnown, got.Status)
	assert.Equal(t, 5, got.ReviewCount)

	states, err := s.ListItemStates(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, states, 1)
}

// TestProfileRoundTrip tests the profiles upsert and scan.
func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "user-1")
	require.ErrorIs(t, err, ErrNotFound)

	p := model.NewUserProfile("user-1")
	p.Rank = 3.25
	p.TopicWeights = map[string]float64{"travel": 0.8, "food": 0.2}
	p.SuppressedItems = map[string]bool{"犬": true}
	p.RecentEasyRatio = 0.4
	p.CycleCount = 7
	p.Tier = model.TierPremium
	p.TierVerifiedAt = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	p.TierExpiresAt = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	p.IntentUpdatedAt = model.LogicalTime{Millis: 500, DeviceID: "device-b"}
	p.TierUpdatedAt = model.LogicalTime{Millis: 800, DeviceID: "device-c"}

	require.NoError(t, s.PutProfile(ctx, p))

	got, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, p.Rank, got.Rank)
	assert.Equal(t, p.TopicWeights, got.TopicWeights)
	assert.Equal(t, p.SuppressedItems, got.SuppressedItems)
	assert.Equal(t, p.RecentEasyRatio, got.RecentEasyRatio)
	assert.Equal(t, p.CycleCount, got.CycleCount)
	assert.Equal(t, model.TierPremium, got.Tier)
	assert.True(t, got.TierVerifiedAt.Equal(p.TierVerifiedAt))
	assert.True(t, got.TierExpiresAt.Equal(p.TierExpiresAt))
	assert.Equal(t, p.IntentUpdatedAt, got.IntentUpdatedAt)
	assert.Equal(t, p.TierUpdatedAt, got.TierUpdatedAt)
}

// TestUsageRoundTrip tests the usage_ledger upsert and scan.
func TestUsageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetUsage(ctx, "user-1", "article_generation")
	require.ErrorIs(t, err, ErrNotFound)

	u := model.UsageLedgerEntry{
		UserID:       "user-1",
		Feature:      "article_generation",
		WindowAnchor: model.WindowEpoch.Add(21 * 24 * time.Hour),
		Count:        2,
	}
	require.NoError(t, s.PutUsage(ctx, u))

	got, err := s.GetUsage(ctx, "user-1", "article_generation")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.True(t, got.WindowAnchor.Equal(u.WindowAnchor))

	u.Count = 3
	require.NoError(t, s.PutUsage(ctx, u))
	got, err = s.GetUsage(ctx, "user-1", "article_generation")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)

	require.NoError(t, s.PutUsage(ctx, model.UsageLedgerEntry{
		UserID: "user-1", Feature: "widget_profile", WindowAnchor: u.WindowAnchor, Count: 1,
	}))
	entries, err := s.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "article_generation", entries[0].Feature)
	assert.Equal(t, "widget_profile", entries[1].Feature)
}

// TestQuarantine tests append and listing of rejected records.
func TestQuarantine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	count, err := s.CountQuarantine(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, s.WriteQuarantine(ctx, QuarantinedRecord{
		ReceivedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Code:       "INVALID_GRADE",
		RecordID:   "e-bad",
		Detail:     "grade 9 outside Again..Easy",
		Payload:    `{"event_id":"e-bad"}`,
	}))

	recs, err := s.ListQuarantine(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "INVALID_GRADE", recs[0].Code)
	assert.Equal(t, "e-bad", recs[0].RecordID)

	count, err = s.CountQuarantine(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestLastLogicalForDevice tests clock-resume across mutable tables.
func TestLastLogicalForDevice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last, err := s.LastLogicalForDevice(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	st := model.NewItemMemoryState("user-1", "a")
	st.Status = model.StatusLearning
	st.UpdatedAt = model.LogicalTime{Millis: 100, DeviceID: "device-a"}
	require.NoError(t, s.PutItemState(ctx, st))

	p := model.NewUserProfile("user-1")
	p.IntentUpdatedAt = model.LogicalTime{Millis: 250, DeviceID: "device-a"}
	p.TierUpdatedAt = model.LogicalTime{Millis: 400, DeviceID: "device-a"}
	require.NoError(t, s.PutProfile(ctx, p))

	// A different device's writes do not count.
	other := model.NewItemMemoryState("user-1", "b")
	other.Status = model.StatusLearning
	other.UpdatedAt = model.LogicalTime{Millis: 900, DeviceID: "device-b"}
	require.NoError(t, s.PutItemState(ctx, other))

	last, err = s.LastLogicalForDevice(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, int64(400), last, "the tier stamp counts toward clock resume")
}

func TestEraseUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	_, err := s.AppendEvent(ctx, testEvent("00000000-0000-0000-0000-000000000001", "a", base, srs.Good))
	require.NoError(t, err)

	st := model.NewItemMemoryState("user-1", "a")
	st.Status = model.StatusLearning
	require.NoError(t, s.PutItemState(ctx, st))
	require.NoError(t, s.PutProfile(ctx, model.NewUserProfile("user-1")))

	require.NoError(t, s.EraseUser(ctx, "user-1"))

	count, err := s.CountEvents(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = s.GetItemState(ctx, "user-1", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetProfile(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
