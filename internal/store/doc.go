// Package store provides SQLite-backed durable storage for the sync core:
// the append-only review-event ledger plus the mutable shadow rows (item
// memory state, user profile, usage ledger) and a quarantine table for
// rejected remote records.
//
// The ledger is the single source of truth. Every mutable row is a cache of
// a replay or merge result and can be discarded and rebuilt from the ledger
// at any time.
//
// All appends are idempotent by primary key (ON CONFLICT DO NOTHING), which
// is what makes at-least-once delivery from the transport safe. Reads return
// events in the total order (occurred_at, event_id), identical on every
// device.
package store
