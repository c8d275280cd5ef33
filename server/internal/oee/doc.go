// Package oee computes Availability, Performance and Overall Equipment
// Effectiveness for one device over a time window.
//
// Availability replays the "Status" rule and counts Active time against the
// planned production time. Performance segments the feed-rate override and
// weights each level by its overlap with Active time. OEE multiplies the two
// ratios, optionally per fixed-size bucket.
//
// Times are reported in seconds rounded to 3 decimals, ratios to 5 decimals,
// using banker's rounding.
package oee
