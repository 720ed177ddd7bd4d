package srs

import "fmt"

// WeightCount is the number of free parameters in the scheduling model.
const WeightCount = 19

// Weights holds the model parameters. Indices follow the FSRS-4.5 layout:
// w[0..3] initial stability per grade, w[4..6] difficulty update, w[7] mean
// reversion, w[8..10] recall stability, w[11..14] forget stability, w[15]
// hard penalty, w[16] easy bonus, w[17..18] same-day stability.
type Weights [WeightCount]float64

// DefaultWeights are the published FSRS-4.5 defaults. They are a reasonable
// population-level fit; personalized weights may replace them via config.
var DefaultWeights = Weights{
	0.4872, 1.4003, 3.7145, 13.8206, // w[0..3]  initial stability S₀(G)
	5.1618, 1.2298, 0.8975, 0.0310, // w[4..7]  difficulty
	1.6474, 0.1367, 1.0461, // w[8..10] recall stability
	2.1072, 0.0793, 0.3246, 1.5870, // w[11..14] forget stability
	0.2272, 2.8755, // w[15..16] hard penalty, easy bonus
	0.0563, 1.0664, // w[17..18] same-day stability
}

// lowerBounds and upperBounds delimit the valid range per weight.
var lowerBounds = Weights{
	0.01, 0.01, 0.01, 0.01,
	1.0, 0.1, 0.1, 0.0,
	0.0, 0.0, 0.01,
	0.1, 0.01, 0.01, 0.01,
	0.0, 1.0,
	0.0, 0.0,
}

var upperBounds = Weights{
	100.0, 100.0, 100.0, 100.0,
	10.0, 5.0, 5.0, 0.75,
	4.5, 0.8, 3.5,
	5.0, 0.25, 0.9, 4.0,
	1.0, 6.0,
	2.0, 2.0,
}

// Validate checks that every weight lies within its allowed bounds.
func (w Weights) Validate() error {
	for i := 0; i < WeightCount; i++ {
		if w[i] < lowerBounds[i] || w[i] > upperBounds[i] {
			return fmt.Errorf("%w: w[%d] = %f, bounds [%f, %f]",
				ErrInvalidWeights, i, w[i], lowerBounds[i], upperBounds[i])
		}
	}
	return nil
}
