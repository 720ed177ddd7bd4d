package model

import (
	"fmt"
	"sync"
	"time"
)

// LogicalTime is the last-writer-wins timestamp attached to every mutable
// intent field. Ordering is by Millis first; on an exact millisecond tie the
// lexicographically larger DeviceID wins, so two devices that wrote at the
// same instant still converge to one winner without coordination.
type LogicalTime struct {
	Millis   int64  `json:"millis"`
	DeviceID string `json:"device_id"`
}

// Compare returns -1 if t orders before other, +1 if after, 0 if identical.
func (t LogicalTime) Compare(other LogicalTime) int {
	switch {
	case t.Millis < other.Millis:
		return -1
	case t.Millis > other.Millis:
		return 1
	case t.DeviceID < other.DeviceID:
		return -1
	case t.DeviceID > other.DeviceID:
		return 1
	default:
		return 0
	}
}

// After reports whether t wins over other under LWW ordering.
func (t LogicalTime) After(other LogicalTime) bool {
	return t.Compare(other) > 0
}

// IsZero reports whether t carries no write at all.
func (t LogicalTime) IsZero() bool {
	return t.Millis == 0 && t.DeviceID == ""
}

func (t LogicalTime) String() string {
	return fmt.Sprintf("%d@%s", t.Millis, t.DeviceID)
}

// DeviceClock issues logical timestamps for one device. It follows the wall
// clock but never steps backward: if the wall clock regresses (NTP jump,
// manual change) the clock keeps counting forward from its high-water mark,
// preserving the per-device total order of writes.
//
// Thread-safety: all methods are safe for concurrent use.
type DeviceClock struct {
	deviceID string

	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewDeviceClock creates a clock for the given device, resuming from the
// highest millisecond value this device has previously issued (0 for a fresh
// device).
func NewDeviceClock(deviceID string, resumeFrom int64) *DeviceClock {
	return &DeviceClock{
		deviceID: deviceID,
		last:     resumeFrom,
		now:      time.Now,
	}
}

// Now returns the next logical timestamp, strictly greater than any timestamp
// previously issued by this clock.
func (c *DeviceClock) Now() LogicalTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return LogicalTime{Millis: ms, DeviceID: c.deviceID}
}

// DeviceID returns the device this clock stamps for.
func (c *DeviceClock) DeviceID() string {
	return c.deviceID
}
