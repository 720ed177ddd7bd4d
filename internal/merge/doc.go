// Package merge reconciles a remote delta into the local store.
//
// Events are a grow-only set: applying a delta unions its events into the
// ledger via idempotent appends, so merging the same delta twice, or two
// deltas in either order, converges to the same state. Intent fields
// (status, profile, entitlement) reconcile last-writer-wins on their logical
// timestamps with a device-ID tie-break. Every item whose event set changed
// is replayed before the merge reports completion, so derived state never
// lags the ledger.
//
// Malformed remote records never abort a batch. Each one is quarantined
// individually with a reason code and the rest of the delta proceeds.
package merge
