package srs

import (
	"fmt"
	"math"
)

// Retention decay constants fixed by the FSRS-4.5 model.
const (
	decay  = -0.5
	factor = 19.0 / 81.0 // 0.9^(1/decay) - 1
)

// Memory is the per-item memory state the scheduler evolves. The zero value
// means "never reviewed"; the first Review initializes both fields.
type Memory struct {
	Stability  float64 `json:"stability"`
	Difficulty float64 `json:"difficulty"`
}

// IsZero reports whether m is the never-reviewed baseline.
func (m Memory) IsZero() bool {
	return m.Stability == 0 && m.Difficulty == 0
}

// Config configures a Scheduler. Zero values produce sensible defaults.
type Config struct {
	Weights          Weights `json:"weights" yaml:"weights"`                     // zero → DefaultWeights
	DesiredRetention float64 `json:"desired_retention" yaml:"desired_retention"` // zero → 0.9
	MaximumInterval  int     `json:"maximum_interval" yaml:"maximum_interval"`   // zero → 36500 days
}

// Scheduler evaluates the memory model. It is a pure value: methods never
// mutate the scheduler or their inputs, and never read the clock.
type Scheduler struct {
	w                Weights
	desiredRetention float64
	maximumInterval  int
}

// New creates a Scheduler from the given config.
// Zero-value fields are filled with defaults; invalid values return an error.
func New(cfg Config) (*Scheduler, error) {
	w := cfg.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	dr := cfg.DesiredRetention
	if dr == 0 {
		dr = 0.9
	}
	if dr <= 0 || dr >= 1 {
		return nil, fmt.Errorf("%w: desired retention %f outside (0, 1)", ErrInvalidConfig, dr)
	}

	maxIvl := cfg.MaximumInterval
	if maxIvl == 0 {
		maxIvl = 36500
	}
	if maxIvl < 1 {
		return nil, fmt.Errorf("%w: maximum interval %d must be at least 1 day", ErrInvalidConfig, maxIvl)
	}

	return &Scheduler{w: w, desiredRetention: dr, maximumInterval: maxIvl}, nil
}

// Review folds one graded review into the memory state. elapsedDays is the
// time since the previous review of the same item; values below one day use
// the same-day stability update.
func (s *Scheduler) Review(m Memory, g Grade, elapsedDays float64) Memory {
	if !g.IsValid() {
		g = Again
	}
	if m.IsZero() {
		return Memory{
			Stability:  s.initStability(g),
			Difficulty: s.initDifficulty(g),
		}
	}

	var stability float64
	if elapsedDays < 1 {
		stability = s.sameDayStability(m.Stability, g)
	} else {
		r := s.Retrievability(m, elapsedDays)
		if g == Again {
			stability = s.forgetStability(m.Difficulty, m.Stability, r)
		} else {
			stability = s.recallStability(m.Difficulty, m.Stability, r, g)
		}
	}

	return Memory{
		Stability:  clampStability(stability),
		Difficulty: s.nextDifficulty(m.Difficulty, g),
	}
}

// Interval returns the next review interval in whole days for the memory
// state, targeting the configured retention. Result is clamped to
// [1, MaximumInterval].
func (s *Scheduler) Interval(m Memory) int {
	if m.IsZero() {
		return 1
	}
	ivl := m.Stability / factor * (math.Pow(s.desiredRetention, 1.0/decay) - 1)
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > s.maximumInterval {
		days = s.maximumInterval
	}
	return days
}

// Retrievability returns the modeled probability of recall after elapsedDays.
// Returns 0 for a never-reviewed memory.
func (s *Scheduler) Retrievability(m Memory, elapsedDays float64) float64 {
	if m.IsZero() {
		return 0
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return math.Pow(1+factor*elapsedDays/m.Stability, decay)
}

// initStability returns S₀(G) = clamp(w[G-1]).
func (s *Scheduler) initStability(g Grade) float64 {
	return clampStability(s.w[g-1])
}

// initDifficulty returns D₀(G) = w[4] - w[5]·(G-3), clamped to [1, 10].
func (s *Scheduler) initDifficulty(g Grade) float64 {
	return clampDifficulty(s.w[4] - s.w[5]*float64(g-3))
}

// nextDifficulty applies the linear-damped delta and mean reversion toward
// D₀(Easy).
func (s *Scheduler) nextDifficulty(d float64, g Grade) float64 {
	deltaD := -s.w[6] * (float64(g) - 3)
	damped := d + deltaD*(10-d)/9
	target := s.w[4] - s.w[5]*float64(Easy-3)
	return clampDifficulty(s.w[7]*target + (1-s.w[7])*damped)
}

// recallStability computes stability after a successful recall.
// S' = S · (1 + e^w[8] · (11-D) · S^(-w[9]) · (e^((1-R)·w[10]) - 1) · penalty · bonus)
func (s *Scheduler) recallStability(d, stab, r float64, g Grade) float64 {
	penalty := 1.0
	if g == Hard {
		penalty = s.w[15]
	}
	bonus := 1.0
	if g == Easy {
		bonus = s.w[16]
	}
	return stab * (1 + math.Exp(s.w[8])*
		(11-d)*
		math.Pow(stab, -s.w[9])*
		(math.Exp((1-r)*s.w[10])-1)*
		penalty*bonus)
}

// forgetStability computes stability after a lapse.
// S'_f = w[11] · D^(-w[12]) · ((S+1)^w[13] - 1) · e^((1-R)·w[14]),
// never exceeding the prior stability.
func (s *Scheduler) forgetStability(d, stab, r float64) float64 {
	sf := s.w[11] *
		math.Pow(d, -s.w[12]) *
		(math.Pow(stab+1, s.w[13]) - 1) *
		math.Exp((1-r)*s.w[14])
	return math.Min(sf, stab)
}

// sameDayStability applies the short-term update for reviews under a day apart.
// S' = S · e^(w[17]·(G-3+w[18]))
func (s *Scheduler) sameDayStability(stab float64, g Grade) float64 {
	return stab * math.Exp(s.w[17]*(float64(g)-3+s.w[18]))
}

// clampStability keeps stability positive.
func clampStability(v float64) float64 {
	return math.Max(v, 0.01)
}

// clampDifficulty keeps difficulty in [1, 10].
func clampDifficulty(v float64) float64 {
	return math.Min(math.Max(v, 1), 10)
}
