// Package srs implements the memory-scheduling function used by the replay
// engine: a pure fold step that maps (prior memory state, grade, elapsed days)
// to the next memory state, plus the interval computation that turns a memory
// state into a next-review distance.
//
// The rest of the engine treats this package as an externally-specified pure
// function. Nothing here reads the clock, touches storage, or keeps mutable
// state: identical inputs always produce identical outputs, which is what
// makes cross-device replay bit-for-bit reproducible.
package srs
