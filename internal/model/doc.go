// Package model defines the shared data model of the sync core: immutable
// review events, derived per-item memory state, the per-user profile, and
// usage-ledger entries, together with logical timestamps and the per-record
// validation applied to anything arriving from another device.
//
// Two ordering rules defined here are correctness-relevant for the whole
// engine and must never change silently:
//
//   - Events are totally ordered by (OccurredAt, EventID). The ID tie-break
//     makes the order identical on every device even under clock skew.
//   - LWW fields are ordered by (logical millis, DeviceID). The device-ID
//     tie-break makes concurrent writers converge without communication.
package model
