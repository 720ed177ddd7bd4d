package model

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Status is the learning stage of an item for one user.
//
// New, Learning, and Known are derived from review history. Ignored carries
// explicit user intent, is merged independently of replay, and is terminal
// with respect to scheduling until the user reactivates the item.
type Status int

const (
	StatusNew      Status = iota + 1 // Never reviewed.
	StatusLearning                   // In the active review cycle.
	StatusKnown                      // Graduated: long-interval maintenance.
	StatusIgnored                    // Excluded from scheduling by the user.
)

var (
	statusNames = [...]string{
		StatusNew:      "New",
		StatusLearning: "Learning",
		StatusKnown:    "Known",
		StatusIgnored:  "Ignored",
	}
	statusByName = map[string]Status{
		"New":      StatusNew,
		"Learning": StatusLearning,
		"Known":    StatusKnown,
		"Ignored":  StatusIgnored,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Status(0)
	_ json.Marshaler           = Status(0)
	_ json.Unmarshaler         = (*Status)(nil)
	_ encoding.TextMarshaler   = Status(0)
	_ encoding.TextUnmarshaler = (*Status)(nil)
)

// IsValid reports whether s is a defined status.
func (s Status) IsValid() bool {
	return s >= StatusNew && s <= StatusIgnored
}

// String returns the status name. For invalid values it returns "Status(n)".
func (s Status) String() string {
	if s.IsValid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("model: invalid status: %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v, ok := statusByName[string(text)]
	if !ok {
		return fmt.Errorf("model: invalid status: %q", text)
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler. Status serializes as a JSON string.
func (s Status) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Expects a JSON string.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("model: invalid status: %s", data)
	}
	return s.UnmarshalText([]byte(str))
}
