package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-app/kioku/internal/srs"
)

func validEvent() ReviewEvent {
	return ReviewEvent{
		EventID:    "7c9250d8-3a44-4f6a-9f2e-000000000001",
		UserID:     "user-1",
		ItemID:     "食べる",
		Grade:      srs.Good,
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:   "device-a",
	}
}

// TestLogicalTimeOrdering tests LWW ordering including the device tie-break.
func TestLogicalTimeOrdering(t *testing.T) {
	a := LogicalTime{Millis: 100, DeviceID: "device-a"}
	b := LogicalTime{Millis: 101, DeviceID: "device-a"}
	assert.True(t, b.After(a))
	assert.False(t, a.After(b))

	// Exact millisecond tie: lexicographically larger device wins.
	x := LogicalTime{Millis: 100, DeviceID: "device-a"}
	y := LogicalTime{Millis: 100, DeviceID: "device-b"}
	assert.True(t, y.After(x))
	assert.False(t, x.After(y))

	// Identity.
	assert.Equal(t, 0, x.Compare(x))
	assert.False(t, x.After(x))
}

// TestDeviceClockMonotonic tests that the clock never steps backward even when
// the wall clock does.
func TestDeviceClockMonotonic(t *testing.T) {
	c := NewDeviceClock("device-a", 0)
	wall := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return wall }

	first := c.Now()
	assert.Equal(t, wall.UnixMilli(), first.Millis)
	assert.Equal(t, "device-a", first.DeviceID)

	// Wall clock regresses by an hour: logical time still advances.
	wall = wall.Add(-time.Hour)
	second := c.Now()
	assert.True(t, second.After(first), "clock must not step backward")
	assert.Equal(t, first.Millis+1, second.Millis)
}

// TestDeviceClockResume tests resuming from a persisted high-water mark.
func TestDeviceClockResume(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UnixMilli()
	c := NewDeviceClock("device-a", future)
	got := c.Now()
	assert.Equal(t, future+1, got.Millis)
}

// TestEventTotalOrder tests the (OccurredAt, EventID) total order.
func TestEventTotalOrder(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e1 := ReviewEvent{EventID: "aaa", OccurredAt: at}
	e2 := ReviewEvent{EventID: "bbb", OccurredAt: at} // same millisecond
	e3 := ReviewEvent{EventID: "000", OccurredAt: at.Add(time.Millisecond)}

	assert.True(t, e1.Less(e2), "event ID breaks timestamp ties")
	assert.False(t, e2.Less(e1))
	assert.True(t, e2.Less(e3), "timestamp dominates event ID")

	events := []ReviewEvent{e3, e2, e1}
	SortEvents(events)
	require.Equal(t, []string{"aaa", "bbb", "000"}, []string{events[0].EventID, events[1].EventID, events[2].EventID})
}

// TestNormalizeItemID tests NFC normalization of item keys.
func TestNormalizeItemID(t *testing.T) {
	// "が" as precomposed vs base + combining dakuten.
	composed := "が"
	decomposed := "が"
	assert.Equal(t, NormalizeItemID(composed), NormalizeItemID(decomposed))
	assert.Equal(t, "食べる", NormalizeItemID("  食べる "))
}

type itemSet map[string]bool

func (s itemSet) KnownItem(id string) bool { return s[id] }

// TestEventValidate tests the per-record validation taxonomy.
func TestEventValidate(t *testing.T) {
	require.NoError(t, validEvent().Validate(nil))

	cases := []struct {
		name   string
		mutate func(*ReviewEvent)
		code   MalformedCode
	}{
		{"missing event id", func(e *ReviewEvent) { e.EventID = "" }, CodeMissingField},
		{"missing user id", func(e *ReviewEvent) { e.UserID = "" }, CodeMissingField},
		{"missing item id", func(e *ReviewEvent) { e.ItemID = "" }, CodeMissingField},
		{"missing device id", func(e *ReviewEvent) { e.DeviceID = "" }, CodeMissingField},
		{"non-uuid event id", func(e *ReviewEvent) { e.EventID = "not-a-uuid" }, CodeBadEventID},
		{"invalid grade", func(e *ReviewEvent) { e.Grade = srs.Grade(9) }, CodeInvalidGrade},
		{"zero timestamp", func(e *ReviewEvent) { e.OccurredAt = time.Time{} }, CodeBadTimestamp},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev := validEvent()
			c.mutate(&ev)
			err := ev.Validate(nil)
			require.Error(t, err)
			require.True(t, IsMalformed(err))
			var me *MalformedRecordError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, c.code, me.Code)
		})
	}
}

// TestEventValidateUnknownItem tests rejection against a static item set.
func TestEventValidateUnknownItem(t *testing.T) {
	items := itemSet{"食べる": true}
	require.NoError(t, validEvent().Validate(items))

	ev := validEvent()
	ev.ItemID = "幽霊語"
	err := ev.Validate(items)
	require.Error(t, err)
	var me *MalformedRecordError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, CodeUnknownItem, me.Code)
}

// TestSkewAnomaly tests the clock-skew flag.
func TestSkewAnomaly(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := validEvent()
	ev.OccurredAt = now
	assert.False(t, ev.SkewAnomaly(now))

	// A few weeks in the past is a normal late sync, not an anomaly.
	ev.OccurredAt = now.Add(-30 * 24 * time.Hour)
	assert.False(t, ev.SkewAnomaly(now))

	ev.OccurredAt = now.Add(MaxFutureSkew + time.Hour)
	assert.True(t, ev.SkewAnomaly(now))

	ev.OccurredAt = now.Add(-MaxPastSkew - time.Hour)
	assert.True(t, ev.SkewAnomaly(now))
}

// TestWindowAnchor tests deterministic quota window boundaries.
func TestWindowAnchor(t *testing.T) {
	day := 24 * time.Hour

	// Day 0 and day 6 share an anchor; day 7 starts the next window.
	day0 := WindowEpoch.Add(3 * time.Hour)
	assert.Equal(t, WindowEpoch, WindowAnchor(day0, DefaultWindow))
	assert.Equal(t, WindowEpoch, WindowAnchor(WindowEpoch.Add(6*day), DefaultWindow))
	assert.Equal(t, WindowEpoch.Add(7*day), WindowAnchor(WindowEpoch.Add(7*day), DefaultWindow))

	// Anchor depends only on now, never on counter creation time.
	a := WindowAnchor(WindowEpoch.Add(100*day+5*time.Hour), DefaultWindow)
	b := WindowAnchor(WindowEpoch.Add(100*day+23*time.Hour), DefaultWindow)
	assert.Equal(t, a, b)

	// Pre-epoch clamps to the epoch.
	assert.Equal(t, WindowEpoch, WindowAnchor(WindowEpoch.Add(-time.Hour), DefaultWindow))

	// Zero window falls back to the default.
	assert.Equal(t, WindowEpoch, WindowAnchor(day0, 0))
}

// TestStatusAndTierRoundTrip tests enum text marshaling.
func TestStatusAndTierRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusLearning, StatusKnown, StatusIgnored} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := Status(0).MarshalText()
	assert.Error(t, err)

	for _, tr := range []Tier{TierFree, TierPremium} {
		text, err := tr.MarshalText()
		require.NoError(t, err)
		var back Tier
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, tr, back)
	}
	var tr Tier
	assert.Error(t, tr.UnmarshalText([]byte("Gold")))
}

// TestProfileClone tests deep copy of map fields.
func TestProfileClone(t *testing.T) {
	p := NewUserProfile("user-1")
	p.TopicWeights = map[string]float64{"travel": 0.8}
	p.SuppressedItems = map[string]bool{"犬": true}

	c := p.Clone()
	c.TopicWeights["travel"] = 0.1
	c.SuppressedItems["猫"] = true

	assert.Equal(t, 0.8, p.TopicWeights["travel"])
	assert.False(t, p.SuppressedItems["猫"])
}
