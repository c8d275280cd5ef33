// Package types defines the shared data model read from the persistence
// layer: devices, their component topology, signal definitions and the raw
// time-stamped samples. Values are immutable once read.
package types
