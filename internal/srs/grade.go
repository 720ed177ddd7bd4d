package srs

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Grade is the user's assessment of recall quality for one review.
type Grade int

const (
	Again Grade = iota + 1 // Failed to recall.
	Hard                   // Recalled with significant difficulty.
	Good                   // Recalled with some effort.
	Easy                   // Recalled effortlessly.
)

var (
	gradeNames  = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}
	gradeByName = map[string]Grade{
		"Again": Again,
		"Hard":  Hard,
		"Good":  Good,
		"Easy":  Easy,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Grade(0)
	_ json.Marshaler           = Grade(0)
	_ json.Unmarshaler         = (*Grade)(nil)
	_ encoding.TextMarshaler   = Grade(0)
	_ encoding.TextUnmarshaler = (*Grade)(nil)
)

// String returns the name of the grade ("Again", "Hard", "Good", "Easy").
// For invalid values it returns "Grade(n)".
func (g Grade) String() string {
	if g.IsValid() {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// IsValid reports whether g is a valid grade (Again through Easy).
func (g Grade) IsValid() bool {
	return g >= Again && g <= Easy
}

// IsSuccess reports whether the grade counts as a successful recall.
func (g Grade) IsSuccess() bool {
	return g >= Hard && g <= Easy
}

// MarshalText implements encoding.TextMarshaler.
func (g Grade) MarshalText() ([]byte, error) {
	if !g.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGrade, int(g))
	}
	return []byte(gradeNames[g]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Grade) UnmarshalText(text []byte) error {
	v, ok := gradeByName[string(text)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidGrade, text)
	}
	*g = v
	return nil
}

// MarshalJSON implements json.Marshaler. Grade serializes as a JSON string.
func (g Grade) MarshalJSON() ([]byte, error) {
	text, err := g.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Expects a JSON string.
func (g *Grade) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidGrade, data)
	}
	return g.UnmarshalText([]byte(s))
}
