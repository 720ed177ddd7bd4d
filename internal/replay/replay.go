package replay

import (
	"time"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
)

// KnownIntervalDays is the scheduled interval at which an item counts as
// Known. Crossing it graduates Learning -> Known; a lapse that pulls the
// interval back under it returns the item to Learning.
const KnownIntervalDays = 21

// Replay folds all events for one item through the scheduler from the fixed
// zero baseline and returns the fully derived state.
//
// Pure function: identical event sets always produce identical output,
// independent of arrival order (the input is sorted internally), of wall
// clock, and of which device runs it. The baseline argument contributes only
// identity and explicit intent (an Ignored status survives replay); its
// memory parameters are deliberately discarded.
func Replay(sched *srs.Scheduler, baseline model.ItemMemoryState, events []model.ReviewEvent) model.ItemMemoryState {
	out := model.NewItemMemoryState(baseline.UserID, baseline.ItemID)
	out.UpdatedAt = baseline.UpdatedAt

	if len(events) == 0 {
		if baseline.Status == model.StatusIgnored {
			out.Status = model.StatusIgnored
		}
		return out
	}

	// Sort a copy: callers may hold the slice in arrival order.
	ordered := make([]model.ReviewEvent, len(events))
	copy(ordered, events)
	model.SortEvents(ordered)

	var (
		memory    srs.Memory
		last      time.Time
		succeeded bool
	)
	for _, ev := range ordered {
		var elapsedDays float64
		if !last.IsZero() {
			elapsedDays = ev.OccurredAt.Sub(last).Hours() / 24.0
			if elapsedDays < 0 {
				elapsedDays = 0
			}
		}
		memory = sched.Review(memory, ev.Grade, elapsedDays)
		last = ev.OccurredAt

		out.ReviewCount++
		if ev.Grade == srs.Again && succeeded {
			out.LapseCount++
		}
		if ev.Grade.IsSuccess() {
			succeeded = true
		}
	}

	interval := sched.Interval(memory)

	out.Memory = memory
	out.LastReviewAt = last
	out.NextReviewAt = last.Add(time.Duration(interval) * 24 * time.Hour)
	out.Status = deriveStatus(baseline.Status, interval)
	return out
}

// deriveStatus maps the replayed interval onto the scheduling status.
// Ignored is explicit user intent and is never overridden by replay.
func deriveStatus(intent model.Status, intervalDays int) model.Status {
	if intent == model.StatusIgnored {
		return model.StatusIgnored
	}
	if intervalDays >= KnownIntervalDays {
		return model.StatusKnown
	}
	return model.StatusLearning
}
