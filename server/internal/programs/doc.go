// Package programs tracks program executions on a device.
//
// Track drives a two-level state machine over a timeline replay: the outer
// level follows the program name signal, the inner level follows the label
// of the "Program Status" rule. Each Program carries the ordered list of
// rule-labelled events observed while it ran.
package programs
