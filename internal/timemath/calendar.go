package timemath

import "time"

// Calendar is a calendar aligned accumulation granularity.
type Calendar int

// Calendar granularities.
const (
	Hour Calendar = iota
	Day
	Week
	Month
	Year
)

// BucketStart returns the start of the calendar bucket containing t, in t's location.
// Weeks start on Monday.
func BucketStart(c Calendar, t time.Time) time.Time {
	loc := t.Location()
	year, month, day := t.Date()

	switch c {
	case Hour:
		return time.Date(year, month, day, t.Hour(), 0, 0, 0, loc)
	case Day:
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(year, month, day-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(year, month, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// NextBucket returns the start of the bucket following the one that starts at start.
func NextBucket(c Calendar, start time.Time) time.Time {
	switch c {
	case Hour:
		return BucketStart(Hour, start.Add(time.Hour))
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}
