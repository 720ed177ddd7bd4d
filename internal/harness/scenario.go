// Package harness runs scripted multi-device scenarios against real engines
// backed by temporary databases. Scenarios express the interesting sync
// shapes (offline edits, conflicting intents, repeated merges) as data, and
// the harness drives the engines and checks convergence.
package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kioku-app/kioku/internal/engine"
	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/srs"
	"github.com/kioku-app/kioku/internal/store"
	"github.com/kioku-app/kioku/internal/testutil"
)

// Step is one scripted action on one device.
type Step struct {
	Device string

	// Exactly one of the following is set.
	Grade     *GradeStep
	SetStatus *SetStatusStep
	Advance   time.Duration // move the device's wall clock forward
	SyncFrom  string        // pull and merge the named device's full delta
}

// GradeStep records one review.
type GradeStep struct {
	ItemID string
	Grade  srs.Grade
	Band   rank.Band
}

// SetStatusStep applies an explicit status change.
type SetStatusStep struct {
	ItemID string
	Status model.Status
}

// Scenario is a scripted run over a set of devices sharing one user.
type Scenario struct {
	Name    string
	UserID  string
	Devices []string
	Steps   []Step
}

// TB is the subset of testing.TB the harness needs.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
	TempDir() string
	Cleanup(func())
}

// Device is one simulated device: an engine over its own database with a
// controllable clock.
type Device struct {
	ID     string
	Engine *engine.Engine
	Store  *store.Store
	Clock  *testutil.Clock
}

// Run executes the scenario and returns the devices for assertions.
func Run(t TB, sc Scenario) map[string]*Device {
	t.Helper()

	startAt := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	devices := make(map[string]*Device, len(sc.Devices))
	for i, id := range sc.Devices {
		devices[id] = newDevice(t, id, uint32(i+1), startAt)
	}

	ctx := context.Background()
	for i, step := range sc.Steps {
		dev, ok := devices[step.Device]
		if !ok {
			t.Fatalf("scenario %s step %d: unknown device %q", sc.Name, i, step.Device)
		}
		if err := apply(ctx, sc, devices, dev, step); err != nil {
			t.Fatalf("scenario %s step %d on %s: %v", sc.Name, i, step.Device, err)
		}
	}
	return devices
}

func apply(ctx context.Context, sc Scenario, devices map[string]*Device, dev *Device, step Step) error {
	switch {
	case step.Grade != nil:
		_, err := dev.Engine.Grade(ctx, engine.GradeRequest{
			UserID: sc.UserID,
			ItemID: step.Grade.ItemID,
			Grade:  step.Grade.Grade,
			Band:   step.Grade.Band,
		})
		return err
	case step.SetStatus != nil:
		_, err := dev.Engine.SetStatus(ctx, sc.UserID, step.SetStatus.ItemID, step.SetStatus.Status)
		return err
	case step.Advance != 0:
		dev.Clock.Advance(step.Advance)
		return nil
	case step.SyncFrom != "":
		src, ok := devices[step.SyncFrom]
		if !ok {
			return fmt.Errorf("unknown sync source %q", step.SyncFrom)
		}
		delta, err := src.Engine.BuildDelta(ctx, sc.UserID, 0)
		if err != nil {
			return err
		}
		_, err = dev.Engine.ApplyBatch(ctx, sc.UserID, delta)
		return err
	default:
		return fmt.Errorf("empty step")
	}
}

// Converged reports whether every device holds identical derived state for
// the item. Returns a description of the first divergence found.
func Converged(ctx context.Context, devices map[string]*Device, userID, itemID string) (bool, string) {
	var (
		first   *model.ItemMemoryState
		firstID string
	)
	for id, dev := range devices {
		state, err := dev.Store.GetItemState(ctx, userID, itemID)
		if err != nil {
			return false, fmt.Sprintf("%s: %v", id, err)
		}
		if first == nil {
			first = &state
			firstID = id
			continue
		}
		if state != *first {
			return false, fmt.Sprintf("%s and %s diverge on %s: %+v vs %+v",
				firstID, id, itemID, *first, state)
		}
	}
	return true, ""
}

// ProfilesConverged reports whether every device derives the same
// proficiency signals and tier for the user.
func ProfilesConverged(ctx context.Context, devices map[string]*Device, userID string) (bool, string) {
	var (
		first   *model.UserProfile
		firstID string
	)
	for id, dev := range devices {
		p, err := dev.Engine.Profile(ctx, userID)
		if err != nil {
			return false, fmt.Sprintf("%s: %v", id, err)
		}
		if first == nil {
			first = &p
			firstID = id
			continue
		}
		if p.Rank != first.Rank || p.RecentEasyRatio != first.RecentEasyRatio ||
			p.CycleCount != first.CycleCount || p.Tier != first.Tier {
			return false, fmt.Sprintf("%s and %s diverge on profile: %+v vs %+v",
				firstID, id, *first, p)
		}
	}
	return true, ""
}

func newDevice(t TB, id string, namespace uint32, startAt time.Time) *Device {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), id+".db"))
	if err != nil {
		t.Fatalf("open store for %s: %v", id, err)
	}
	t.Cleanup(func() { st.Close() })

	sched, err := srs.New(srs.Config{})
	if err != nil {
		t.Fatalf("scheduler for %s: %v", id, err)
	}

	clock := testutil.NewClock(startAt)
	ids := testutil.NewIDSequenceIn(namespace)
	eng, err := engine.New(engine.Options{
		Store:     st,
		Scheduler: sched,
		Clock:     model.NewDeviceClock(id, 0),
		Now:       clock.Now,
		NewID:     ids.Next,
	})
	if err != nil {
		t.Fatalf("engine for %s: %v", id, err)
	}
	return &Device{ID: id, Engine: eng, Store: st, Clock: clock}
}
