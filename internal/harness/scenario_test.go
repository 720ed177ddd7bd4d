package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
)

func TestOfflineDevicesConverge(t *testing.T) {
	devices := Run(t, Scenario{
		Name:    "offline-then-exchange",
		UserID:  "u1",
		Devices: []string{"phone", "tablet"},
		Steps: []Step{
			{Device: "phone", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Good, Band: 3}},
			{Device: "phone", Advance: 24 * time.Hour},
			{Device: "phone", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Good, Band: 3}},
			{Device: "tablet", Advance: 2 * time.Hour},
			{Device: "tablet", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Again, Band: 3}},
			{Device: "phone", SyncFrom: "tablet"},
			{Device: "tablet", SyncFrom: "phone"},
		},
	})

	ctx := context.Background()
	ok, diff := Converged(ctx, devices, "u1", "word-inu")
	assert.True(t, ok, diff)

	state, err := devices["phone"].Store.GetItemState(ctx, "u1", "word-inu")
	require.NoError(t, err)
	assert.Equal(t, 3, state.ReviewCount)
	assert.Equal(t, 1, state.LapseCount)
}

func TestRepeatedSyncIsStable(t *testing.T) {
	devices := Run(t, Scenario{
		Name:    "repeated-merge",
		UserID:  "u1",
		Devices: []string{"phone", "tablet"},
		Steps: []Step{
			{Device: "phone", Grade: &GradeStep{ItemID: "word-neko", Grade: srs.Easy, Band: 2}},
			{Device: "tablet", SyncFrom: "phone"},
			{Device: "tablet", SyncFrom: "phone"},
			{Device: "phone", SyncFrom: "tablet"},
		},
	})

	ctx := context.Background()
	ok, diff := Converged(ctx, devices, "u1", "word-neko")
	assert.True(t, ok, diff)

	count, err := devices["tablet"].Store.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "repeated merges never duplicate events")
}

func TestIgnoreIntentWinsAcrossDevices(t *testing.T) {
	devices := Run(t, Scenario{
		Name:    "conflicting-intent",
		UserID:  "u1",
		Devices: []string{"phone", "tablet"},
		Steps: []Step{
			{Device: "phone", Grade: &GradeStep{ItemID: "word-tori", Grade: srs.Good, Band: 3}},
			{Device: "tablet", SyncFrom: "phone"},
			// The tablet suppresses the item later than any phone write.
			{Device: "tablet", Advance: time.Minute},
			{Device: "tablet", SetStatus: &SetStatusStep{ItemID: "word-tori", Status: model.StatusIgnored}},
			{Device: "phone", SyncFrom: "tablet"},
			{Device: "tablet", SyncFrom: "phone"},
		},
	})

	ctx := context.Background()
	for id, dev := range devices {
		state, err := dev.Store.GetItemState(ctx, "u1", "word-tori")
		require.NoError(t, err, id)
		assert.Equal(t, model.StatusIgnored, state.Status, id)
		assert.Equal(t, 1, state.ReviewCount, id)
	}
}

func TestThreeDeviceConvergence(t *testing.T) {
	devices := Run(t, Scenario{
		Name:    "three-devices",
		UserID:  "u1",
		Devices: []string{"phone", "tablet", "laptop"},
		Steps: []Step{
			{Device: "phone", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Good, Band: 3}},
			{Device: "tablet", Advance: time.Hour},
			{Device: "tablet", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Hard, Band: 3}},
			{Device: "laptop", Advance: 2 * time.Hour},
			{Device: "laptop", Grade: &GradeStep{ItemID: "word-inu", Grade: srs.Easy, Band: 3}},
			// Gossip in an arbitrary pattern.
			{Device: "tablet", SyncFrom: "phone"},
			{Device: "laptop", SyncFrom: "tablet"},
			{Device: "phone", SyncFrom: "laptop"},
			{Device: "tablet", SyncFrom: "laptop"},
		},
	})

	ctx := context.Background()
	ok, diff := Converged(ctx, devices, "u1", "word-inu")
	assert.True(t, ok, diff)

	ok, diff = ProfilesConverged(ctx, devices, "u1")
	assert.True(t, ok, diff)

	p, err := devices["phone"].Engine.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, p.CycleCount, "rank folds the merged ledger, not just local grades")
}
