package srs

import "errors"

// Sentinel errors for the srs package.
// Use errors.Is to check: errors.Is(err, srs.ErrInvalidGrade)
var (
	ErrInvalidGrade   = errors.New("srs: invalid grade")
	ErrInvalidWeights = errors.New("srs: weights out of bounds")
	ErrInvalidConfig  = errors.New("srs: invalid scheduler config")
)
