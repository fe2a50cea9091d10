package timemath

import (
	"fmt"
	"math"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// TimestampLayout is the layout of published timestamp strings.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// Seconds converts a configured duration to seconds.
// Unknown or empty units count as seconds and negative cycles as zero.
func Seconds(d timer.Duration) float64 {
	if d.Cycles <= 0 {
		return 0
	}

	multiplier := int64(1)

	switch d.Unit {
	case timer.UnitMinutes:
		multiplier = secondsPerMinute
	case timer.UnitHours:
		multiplier = secondsPerHour
	case timer.UnitDays:
		multiplier = secondsPerDay
	case timer.UnitSeconds:
	}

	return float64(d.Cycles * multiplier)
}

// Epoch converts t to epoch seconds.
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts epoch seconds back to a time in loc.
func Time(epoch float64, loc *time.Location) time.Time {
	sec, frac := math.Modf(epoch)

	t := time.Unix(int64(sec), int64(frac*float64(time.Second)))
	if loc != nil {
		t = t.In(loc)
	}

	return t
}

// FormatSeconds renders a duration in seconds as H:MM:SS, or D-HH:MM:SS past one day.
// Negative values render as zero.
func FormatSeconds(value float64) string {
	total := int64(math.Round(value))
	if total < 0 {
		total = 0
	}

	days, remainder := total/secondsPerDay, total%secondsPerDay
	hours, remainder := remainder/secondsPerHour, remainder%secondsPerHour
	minutes, seconds := remainder/secondsPerMinute, remainder%secondsPerMinute

	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}

	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

// FormatTimestamp renders epoch seconds in loc, or an empty string for the zero epoch.
func FormatTimestamp(epoch float64, loc *time.Location) string {
	if epoch == 0 {
		return ""
	}

	return Time(epoch, loc).Format(TimestampLayout)
}
