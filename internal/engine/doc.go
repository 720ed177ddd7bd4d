// Package engine is the single-owner orchestration layer. It serializes all
// mutations for one user behind a per-user lock, so the grading path, merge,
// and replay never interleave for the same user while different users
// proceed concurrently.
//
// Grading is the hot path: one durable event append plus a per-item fold,
// synchronous and never waiting on sync. Merge and replay are restartable;
// cancelling them mid-flight leaves the store consistent because every write
// they perform is idempotent.
package engine
