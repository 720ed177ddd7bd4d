package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MalformedCode categorizes per-record validation failures.
type MalformedCode string

const (
	// CodeMissingField indicates a required field is empty.
	CodeMissingField MalformedCode = "MISSING_FIELD"

	// CodeBadEventID indicates the event ID is not a valid UUID.
	CodeBadEventID MalformedCode = "BAD_EVENT_ID"

	// CodeInvalidGrade indicates a grade outside Again..Easy.
	CodeInvalidGrade MalformedCode = "INVALID_GRADE"

	// CodeBadTimestamp indicates a zero or unparseable timestamp.
	CodeBadTimestamp MalformedCode = "BAD_TIMESTAMP"

	// CodeUnknownItem indicates an item ID not present in the static item set.
	CodeUnknownItem MalformedCode = "UNKNOWN_ITEM"

	// CodeInvalidStatus indicates a status value outside the defined set.
	CodeInvalidStatus MalformedCode = "INVALID_STATUS"
)

// MalformedRecordError reports why a single remote record was rejected.
// Rejection is always per-record: a malformed record is quarantined and the
// rest of the batch continues.
type MalformedRecordError struct {
	Code     MalformedCode
	RecordID string // EventID or user/item key of the offending record
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %s: %s (record=%s)", e.Code, e.Field, e.Message, e.RecordID)
	}
	return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.RecordID)
}

// IsMalformed reports whether err is a per-record validation failure.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	var me *MalformedRecordError
	return errors.As(err, &me)
}

// ItemResolver answers whether an item ID refers to a known static item.
// A nil resolver accepts every item.
type ItemResolver interface {
	KnownItem(itemID string) bool
}

// Clock-skew tolerances. An event dated further in the future than
// MaxFutureSkew, or further in the past than MaxPastSkew, is flagged as an
// anomaly. The past bound is generous because a device can legitimately sync
// weeks after going offline. Flagged events are still accepted: ordering also
// uses the event ID tie-break, so skew never blocks replay.
const (
	MaxFutureSkew = 48 * time.Hour
	MaxPastSkew   = 5 * 365 * 24 * time.Hour
)

// Validate checks the event's required fields. It returns a
// *MalformedRecordError describing the first problem found, or nil.
func (e ReviewEvent) Validate(items ItemResolver) error {
	switch {
	case e.EventID == "":
		return &MalformedRecordError{Code: CodeMissingField, Field: "event_id", Message: "required"}
	case e.UserID == "":
		return &MalformedRecordError{Code: CodeMissingField, RecordID: e.EventID, Field: "user_id", Message: "required"}
	case e.ItemID == "":
		return &MalformedRecordError{Code: CodeMissingField, RecordID: e.EventID, Field: "item_id", Message: "required"}
	case e.DeviceID == "":
		return &MalformedRecordError{Code: CodeMissingField, RecordID: e.EventID, Field: "device_id", Message: "required"}
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return &MalformedRecordError{Code: CodeBadEventID, RecordID: e.EventID, Field: "event_id", Message: err.Error()}
	}
	if !e.Grade.IsValid() {
		return &MalformedRecordError{Code: CodeInvalidGrade, RecordID: e.EventID, Field: "grade",
			Message: fmt.Sprintf("grade %d outside Again..Easy", int(e.Grade))}
	}
	if e.OccurredAt.IsZero() {
		return &MalformedRecordError{Code: CodeBadTimestamp, RecordID: e.EventID, Field: "occurred_at", Message: "zero timestamp"}
	}
	if items != nil && !items.KnownItem(e.ItemID) {
		return &MalformedRecordError{Code: CodeUnknownItem, RecordID: e.EventID, Field: "item_id",
			Message: fmt.Sprintf("item %q not in static item set", e.ItemID)}
	}
	return nil
}

// SkewAnomaly reports whether the event timestamp is implausibly far from
// now. Informational only; callers log flagged events but still apply them.
func (e ReviewEvent) SkewAnomaly(now time.Time) bool {
	if e.OccurredAt.After(now.Add(MaxFutureSkew)) {
		return true
	}
	return e.OccurredAt.Before(now.Add(-MaxPastSkew))
}
