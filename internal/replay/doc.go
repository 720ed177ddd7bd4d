// Package replay recomputes per-item memory state by folding the item's full
// event history through the scheduling function from a fixed baseline.
//
// Replay is the sole authority for scheduler state. Cached ItemMemoryState
// rows and the PriorState snapshots embedded in events are conveniences; when
// they disagree with a replay result, the replay result wins. Replay is
// always run to completion, never patched incrementally: the scheduling
// function is history-sensitive, so one inserted historical event can change
// every later derived value.
package replay
