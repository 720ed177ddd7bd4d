package replay

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
	"github.com/kioku-app/kioku/internal/store"
)

var testBase = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testScheduler(t *testing.T) *srs.Scheduler {
	t.Helper()
	s, err := srs.New(srs.Config{})
	require.NoError(t, err)
	return s
}

func ev(id string, at time.Time, g srs.Grade) model.ReviewEvent {
	return model.ReviewEvent{
		EventID:    id,
		UserID:     "user-1",
		ItemID:     "食べる",
		Grade:      g,
		OccurredAt: at,
		DeviceID:   "device-a",
	}
}

// TestReplayEmptyHistory tests the fixed baseline for an item with no events.
func TestReplayEmptyHistory(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	got := Replay(sched, baseline, nil)
	assert.Equal(t, model.StatusNew, got.Status)
	assert.True(t, got.Memory.IsZero())
	assert.Zero(t, got.ReviewCount)
	assert.True(t, got.NextReviewAt.IsZero())
}

// TestReplayDerivesCounts tests review and lapse counting.
func TestReplayDerivesCounts(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	events := []model.ReviewEvent{
		ev("e1", testBase, srs.Good),
		ev("e2", testBase.AddDate(0, 0, 3), srs.Good),
		ev("e3", testBase.AddDate(0, 0, 10), srs.Again), // lapse: follows a success
		ev("e4", testBase.AddDate(0, 0, 17), srs.Good),
	}
	got := Replay(sched, baseline, events)

	assert.Equal(t, 4, got.ReviewCount)
	assert.Equal(t, 1, got.LapseCount)
	assert.True(t, got.LastReviewAt.Equal(testBase.AddDate(0, 0, 17)))
	assert.False(t, got.Memory.IsZero())
	assert.True(t, got.NextReviewAt.After(got.LastReviewAt))
}

// TestReplayFirstAgainIsNotALapse tests that failing an item before any
// success does not count as a lapse.
func TestReplayFirstAgainIsNotALapse(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	events := []model.ReviewEvent{
		ev("e1", testBase, srs.Again),
		ev("e2", testBase.AddDate(0, 0, 1), srs.Good),
	}
	got := Replay(sched, baseline, events)
	assert.Equal(t, 0, got.LapseCount)
}

// TestReplayPermutationDeterminism tests the core determinism property: any
// arrival order of the same event set yields identical final state.
func TestReplayPermutationDeterminism(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	events := []model.ReviewEvent{
		ev("e1", testBase, srs.Good),
		ev("e2", testBase.AddDate(0, 0, 1), srs.Hard),
		ev("e3", testBase.AddDate(0, 0, 4), srs.Again),
		ev("e4", testBase.AddDate(0, 0, 5), srs.Good),
		ev("e5", testBase.AddDate(0, 0, 12), srs.Easy),
	}
	want := Replay(sched, baseline, events)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := make([]model.ReviewEvent, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Replay(sched, baseline, shuffled)
		require.Equal(t, want, got, "permutation %d diverged", i)
	}
}

// TestReplayInputNotMutated tests that the caller's slice keeps its order.
func TestReplayInputNotMutated(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	events := []model.ReviewEvent{
		ev("e2", testBase.AddDate(0, 0, 1), srs.Good),
		ev("e1", testBase, srs.Good),
	}
	Replay(sched, baseline, events)
	assert.Equal(t, "e2", events[0].EventID)
	assert.Equal(t, "e1", events[1].EventID)
}

// TestReplayTimestampTieBreak tests that two events in the same millisecond
// fold in event-ID order on every device.
func TestReplayTimestampTieBreak(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	a := ev("e-aaa", testBase, srs.Again)
	b := ev("e-bbb", testBase, srs.Easy)

	got1 := Replay(sched, baseline, []model.ReviewEvent{a, b})
	got2 := Replay(sched, baseline, []model.ReviewEvent{b, a})
	require.Equal(t, got1, got2)

	// e-aaa (Again) folds first, e-bbb (Easy) second: the final fold step is
	// a same-day Easy, so the memory reflects Easy last, not Again.
	direct := sched.Review(sched.Review(srs.Memory{}, srs.Again, 0), srs.Easy, 0)
	assert.Equal(t, direct, got1.Memory)
}

// TestReplayIgnoredIntentSurvives tests that explicit Ignored status is never
// overridden by replay.
func TestReplayIgnoredIntentSurvives(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")
	baseline.Status = model.StatusIgnored
	baseline.UpdatedAt = model.LogicalTime{Millis: 99, DeviceID: "device-a"}

	events := []model.ReviewEvent{ev("e1", testBase, srs.Good)}
	got := Replay(sched, baseline, events)

	assert.Equal(t, model.StatusIgnored, got.Status)
	assert.Equal(t, baseline.UpdatedAt, got.UpdatedAt, "status LWW timestamp preserved")
	assert.False(t, got.Memory.IsZero(), "memory still derived under Ignored")
}

// TestReplayStatusGraduation tests Learning -> Known at the interval
// threshold and the return to Learning after a lapse.
func TestReplayStatusGraduation(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	// A run of successes pushes the interval past KnownIntervalDays.
	events := []model.ReviewEvent{
		ev("e1", testBase, srs.Good),
		ev("e2", testBase.AddDate(0, 0, 4), srs.Good),
		ev("e3", testBase.AddDate(0, 0, 16), srs.Good),
	}
	known := Replay(sched, baseline, events)
	require.Equal(t, model.StatusKnown, known.Status)

	// A lapse pulls the interval back under the threshold.
	events = append(events, ev("e4", testBase.AddDate(0, 0, 40), srs.Again))
	lapsed := Replay(sched, baseline, events)
	assert.Equal(t, model.StatusLearning, lapsed.Status)
	assert.Equal(t, 1, lapsed.LapseCount)
}

// TestReplayIgnoresPriorStateSnapshots tests that a corrupt cached snapshot
// embedded in an event never influences the fold result.
func TestReplayIgnoresPriorStateSnapshots(t *testing.T) {
	sched := testScheduler(t)
	baseline := model.NewItemMemoryState("user-1", "食べる")

	clean := []model.ReviewEvent{ev("e1", testBase, srs.Good)}
	dirty := []model.ReviewEvent{ev("e1", testBase, srs.Good)}
	dirty[0].PriorState = []byte(`{"stability": "not even a number"`)

	assert.Equal(t, Replay(sched, baseline, clean), Replay(sched, baseline, dirty))
}

// TestEngineReplayItem tests the store-backed rebuild path.
func TestEngineReplayItem(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "kioku.db"))
	require.NoError(t, err)
	defer st.Close()

	sched := testScheduler(t)
	eng := NewEngine(sched, st)

	e1 := ev("7c9250d8-3a44-4f6a-9f2e-000000000001", testBase, srs.Good)
	e2 := ev("7c9250d8-3a44-4f6a-9f2e-000000000002", testBase.AddDate(0, 0, 3), srs.Good)
	for _, e := range []model.ReviewEvent{e1, e2} {
		_, err := st.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	got, err := eng.ReplayItem(ctx, "user-1", "食べる")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReviewCount)

	// The persisted row matches the returned result.
	stored, err := st.GetItemState(ctx, "user-1", "食べる")
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	// Corrupt cached state: overwrite the row with garbage, then re-replay.
	bad := stored
	bad.Memory = srs.Memory{Stability: -999, Difficulty: 42}
	bad.ReviewCount = 7777
	require.NoError(t, st.PutItemState(ctx, bad))

	repaired, err := eng.ReplayItem(ctx, "user-1", "食べる")
	require.NoError(t, err)
	assert.Equal(t, got.Memory, repaired.Memory)
	assert.Equal(t, 2, repaired.ReviewCount)
}

// TestEngineReplayAll tests user-wide re-derivation.
func TestEngineReplayAll(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "kioku.db"))
	require.NoError(t, err)
	defer st.Close()

	eng := NewEngine(testScheduler(t), st)

	items := []string{"食べる", "飲む", "読む"}
	for i, item := range items {
		e := ev("7c9250d8-3a44-4f6a-9f2e-00000000000"+string(rune('1'+i)), testBase, srs.Good)
		e.ItemID = item
		_, err := st.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	n, err := eng.ReplayAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	states, err := st.ListItemStates(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, states, 3)
}
