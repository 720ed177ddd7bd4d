package model

import (
	"encoding"
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the user's entitlement level.
type Tier int

const (
	TierFree Tier = iota + 1
	TierPremium
)

var (
	tierNames  = [...]string{TierFree: "Free", TierPremium: "Premium"}
	tierByName = map[string]Tier{"Free": TierFree, "Premium": TierPremium}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Tier(0)
	_ json.Marshaler           = Tier(0)
	_ json.Unmarshaler         = (*Tier)(nil)
	_ encoding.TextMarshaler   = Tier(0)
	_ encoding.TextUnmarshaler = (*Tier)(nil)
)

// IsValid reports whether t is a defined tier.
func (t Tier) IsValid() bool {
	return t == TierFree || t == TierPremium
}

// String returns the tier name. For invalid values it returns "Tier(n)".
func (t Tier) String() string {
	if t.IsValid() {
		return tierNames[t]
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("model: invalid tier: %d", int(t))
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	v, ok := tierByName[string(text)]
	if !ok {
		return fmt.Errorf("model: invalid tier: %q", text)
	}
	*t = v
	return nil
}

// MarshalJSON implements json.Marshaler. Tier serializes as a JSON string.
func (t Tier) MarshalJSON() ([]byte, error) {
	text, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Expects a JSON string.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("model: invalid tier: %s", data)
	}
	return t.UnmarshalText([]byte(s))
}

// Entitlement is the externally verified subscription fact. The core never
// verifies it cryptographically; it is merged as one more LWW field and the
// gate only ever reads the last-merged value.
type Entitlement struct {
	Tier       Tier        `json:"tier"`
	VerifiedAt time.Time   `json:"verified_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	UpdatedAt  LogicalTime `json:"updated_at"`
}
