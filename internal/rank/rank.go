package rank

import (
	"math"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
)

// Proficiency-signal tuning. The step bound keeps a single outlier review
// from swinging the estimate; the decay constants set how fast the signals
// track recent evidence.
const (
	// RankMin and RankMax bound the proficiency scale.
	RankMin = 0.0
	RankMax = 10.0

	// MaxRankStep is the largest movement one review may cause.
	MaxRankStep = 0.35

	// rankAlpha is the EWMA decay for the proficiency rank.
	rankAlpha = 0.12

	// easyAlpha is the EWMA decay for the recent-easy ratio.
	easyAlpha = 0.2
)

// Band buckets items by lexical difficulty, 1 (easiest) through 5 (hardest).
// Bands come from the static item data; out-of-range values clamp.
type Band int

const (
	BandMin Band = 1
	BandMax Band = 5
)

func (b Band) clamp() Band {
	if b < BandMin {
		return BandMin
	}
	if b > BandMax {
		return BandMax
	}
	return b
}

// gradeScore maps a grade to recall evidence in [0, 1].
func gradeScore(g srs.Grade) float64 {
	switch g {
	case srs.Hard:
		return 0.4
	case srs.Good:
		return 0.7
	case srs.Easy:
		return 1.0
	default: // Again and anything invalid
		return 0.0
	}
}

// ObserveReview folds one graded review into the profile's proficiency
// signals and returns the updated profile. The input is not mutated.
//
// The rank moves toward the evidence of this single trial (grade outcome
// scaled by the item's difficulty band) with EWMA decay, and the per-event
// movement is clamped to MaxRankStep so one outlier cannot cause
// oscillation.
func ObserveReview(p model.UserProfile, g srs.Grade, band Band) model.UserProfile {
	out := p.Clone()

	// Evidence on the rank scale: succeeding on a hard item argues for a
	// high rank, failing an easy one for a low rank.
	evidence := float64(band.clamp()) / float64(BandMax) * RankMax * gradeScore(g)

	step := rankAlpha * (evidence - out.Rank)
	if step > MaxRankStep {
		step = MaxRankStep
	}
	if step < -MaxRankStep {
		step = -MaxRankStep
	}
	out.Rank = clampRank(out.Rank + step)

	easy := 0.0
	if g == srs.Easy {
		easy = 1.0
	}
	out.RecentEasyRatio += easyAlpha * (easy - out.RecentEasyRatio)

	out.CycleCount++
	return out
}

func clampRank(r float64) float64 {
	return math.Min(math.Max(r, RankMin), RankMax)
}

// FoldHistory recomputes the proficiency signals from scratch over the full
// event history, which must already be in ledger order. Devices holding the
// same ledger compute identical signals regardless of which device graded
// which review. Intent and entitlement fields pass through untouched.
func FoldHistory(p model.UserProfile, events []model.ReviewEvent) model.UserProfile {
	out := p.Clone()
	out.Rank = 0
	out.RecentEasyRatio = 0
	out.CycleCount = 0
	for _, ev := range events {
		out = ObserveReview(out, ev.Grade, Band(ev.Band))
	}
	return out
}
