// Package logic turns raw device and variable values into boolean inputs.
//
// Evaluate is pure: identical value and Logic always give identical results,
// and coercion failures are returned to the caller rather than logged here.
package logic
