// Package rank derives the slow-moving per-user signals from settled state:
// the estimated proficiency rank, the recent-easy ratio, and the
// entitlement-gate decisions backed by rolling-window usage counters.
//
// Everything here is a pure function over already-merged state. Gate checks
// in particular never touch the network: tier and counters are refreshed by
// the sync path, and a check reads only the last-merged values, so two
// offline devices given the same state return the same answer.
package rank
