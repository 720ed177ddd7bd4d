package model

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kioku-app/kioku/internal/srs"
)

// ReviewEvent is the immutable record of one graded review. Identity is
// EventID; an event is created exactly once, on the device that performed the
// review, and is never mutated or deleted afterward.
type ReviewEvent struct {
	EventID       string          `json:"event_id"` // UUID, client-generated
	UserID        string          `json:"user_id"`
	ItemID        string          `json:"item_id"` // NFC-normalized lemma key
	Grade         srs.Grade       `json:"grade"`
	Band          int             `json:"band,omitempty"` // lexical difficulty band at grading
	OccurredAt    time.Time       `json:"occurred_at"`    // UTC, millisecond precision
	DurationMs    int64           `json:"duration_ms"`
	ScheduledDays int             `json:"scheduled_days"`        // interval that was in effect at grading
	PriorState    json.RawMessage `json:"prior_state,omitempty"` // informational snapshot, never authoritative
	DeviceID      string          `json:"device_id"`
}

// Less reports whether e orders before other in the ledger's total order
// (OccurredAt, EventID). EventID breaks timestamp ties so the order is
// identical on every device.
func (e ReviewEvent) Less(other ReviewEvent) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	return e.EventID < other.EventID
}

// NormalizeItemID canonicalizes an item key so that devices with different
// input methods produce byte-identical IDs: trims surrounding whitespace and
// applies Unicode NFC normalization.
func NormalizeItemID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// SortEvents sorts events in place into the ledger's total order.
func SortEvents(events []ReviewEvent) {
	// Insertion sort: per-item event counts are single digits to low tens.
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && events[j].Less(events[j-1]) {
			events[j], events[j-1] = events[j-1], events[j]
			j--
		}
	}
}
