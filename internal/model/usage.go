package model

import "time"

// WindowEpoch is the fixed origin from which quota windows are counted.
// Every device derives window boundaries from this constant, so two devices
// computing an anchor for the same instant always agree.
var WindowEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultWindow is the rolling quota window length.
const DefaultWindow = 7 * 24 * time.Hour

// UsageLedgerEntry is a per-user, per-feature rolling-window counter.
// WindowAnchor is a pure function of wall-clock time and the window length,
// never of when the counter happened to be created.
type UsageLedgerEntry struct {
	UserID       string    `json:"user_id"`
	Feature      string    `json:"feature"`
	WindowAnchor time.Time `json:"window_anchor"`
	Count        int       `json:"count"`
}

// WindowAnchor floors now to the start of its quota window: the largest
// WindowEpoch + k·window that is not after now. Times before the epoch clamp
// to the epoch.
func WindowAnchor(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultWindow
	}
	elapsed := now.Sub(WindowEpoch)
	if elapsed < 0 {
		return WindowEpoch
	}
	return WindowEpoch.Add(elapsed / window * window)
}
