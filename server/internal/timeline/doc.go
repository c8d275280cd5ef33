// Package timeline replays raw signal samples in time order and derives
// discrete state intervals from them.
//
// Walk is the shared replay loop: it seeds a Snapshot from the samples at or
// before the window start, then applies every later sample in ascending
// timestamp order. Samples that share a timestamp are applied together
// before the visitor runs, so a visitor never sees a half-applied instant.
//
// Replay builds labelled intervals from an Evaluator (the rule engine).
// Segment builds numeric level intervals from a single tracked value
// (feed-rate override and similar) without an Evaluator.
//
// Produced intervals are contiguous, ordered by start, and closed at the
// window end (or at now when the window is unbounded).
package timeline
