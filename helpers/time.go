package helpers

import (
	"time"
)

// timestampLayout is ISO-8601 with millisecond precision and a literal Z suffix
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatUnixMillis converts epoch milliseconds to a UTC ISO-8601 timestamp string
func FormatUnixMillis(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(timestampLayout)
}

// DayPartition returns the UTC calendar date of t, used to name day-partitioned indices
func DayPartition(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
