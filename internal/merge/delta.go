package merge

import (
	"fmt"

	"github.com/kioku-app/kioku/internal/model"
)

// StatusDelta is an explicit status intent from another device. It competes
// last-writer-wins on UpdatedAt; the review history behind the item travels
// separately as events.
type StatusDelta struct {
	UserID    string            `json:"user_id"`
	ItemID    string            `json:"item_id"`
	Status    model.Status      `json:"status"`
	UpdatedAt model.LogicalTime `json:"updated_at"`
}

// key identifies the record in quarantine entries.
func (d StatusDelta) key() string {
	return d.UserID + "/" + d.ItemID
}

// Validate returns a *model.MalformedRecordError for the first problem
// found, or nil.
func (d StatusDelta) Validate() error {
	switch {
	case d.UserID == "":
		return &model.MalformedRecordError{Code: model.CodeMissingField, RecordID: d.key(), Field: "user_id", Message: "required"}
	case d.ItemID == "":
		return &model.MalformedRecordError{Code: model.CodeMissingField, RecordID: d.key(), Field: "item_id", Message: "required"}
	case d.UpdatedAt.IsZero():
		return &model.MalformedRecordError{Code: model.CodeBadTimestamp, RecordID: d.key(), Field: "updated_at", Message: "zero logical time"}
	}
	if !d.Status.IsValid() {
		return &model.MalformedRecordError{Code: model.CodeInvalidStatus, RecordID: d.key(), Field: "status",
			Message: fmt.Sprintf("status %d outside defined set", int(d.Status))}
	}
	return nil
}

// ProfileDelta carries the user-authored profile fields. The whole group
// competes on one UpdatedAt; there is no per-field merge.
type ProfileDelta struct {
	UserID          string             `json:"user_id"`
	TopicWeights    map[string]float64 `json:"topic_weights,omitempty"`
	SuppressedItems []string           `json:"suppressed_items,omitempty"`
	UpdatedAt       model.LogicalTime  `json:"updated_at"`
}

// EntitlementDelta is a verified subscription fact relayed from another
// device. The core does not re-verify it; it is merged as intent.
type EntitlementDelta struct {
	UserID      string            `json:"user_id"`
	Entitlement model.Entitlement `json:"entitlement"`
}

// Delta is the unit of sync exchange: everything one device sends another.
// All slices may be empty; an empty delta merges to a no-op. Usage rows let
// quota consumption on one device count against every device: within a
// window the highest count wins, and a newer window supersedes an older one.
type Delta struct {
	Events       []model.ReviewEvent      `json:"events,omitempty"`
	Statuses     []StatusDelta            `json:"statuses,omitempty"`
	Profile      *ProfileDelta            `json:"profile,omitempty"`
	Entitlement  *EntitlementDelta        `json:"entitlement,omitempty"`
	Usage        []model.UsageLedgerEntry `json:"usage,omitempty"`
	SourceDevice string                   `json:"source_device,omitempty"`
}

// IsEmpty reports whether the delta carries nothing to merge.
func (d Delta) IsEmpty() bool {
	return len(d.Events) == 0 && len(d.Statuses) == 0 &&
		d.Profile == nil && d.Entitlement == nil && len(d.Usage) == 0
}
