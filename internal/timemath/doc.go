// Package timemath holds the small time helpers every timer policy shares:
// converting configured cycles to seconds, epoch second conversions,
// countdown and timestamp formatting, and calendar bucket boundaries.
package timemath
