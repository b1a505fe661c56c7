package util

import (
	"strconv"
	"time"
)

const dayLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// CandleIndex numbers candle buckets of the given length since the unix epoch.
func CandleIndex(t time.Time, tf time.Duration) int64 {
	if tf <= 0 {
		tf = time.Minute
	}
	return t.Unix() / int64(tf/time.Second)
}

// CandlesBetween counts whole candle boundaries crossed from `from` to `to`. Never negative.
func CandlesBetween(from, to time.Time, tf time.Duration) int {
	n := CandleIndex(to, tf) - CandleIndex(from, tf)
	if n < 0 {
		return 0
	}
	return int(n)
}

// DayKey is the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// ResetBoundary returns the most recent daily reset instant at or before now, for a reset
// scheduled at the given UTC hour.
func ResetBoundary(now time.Time, hour int) time.Time {
	now = now.UTC()
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// ResetDue reports whether a daily reset scheduled at `hour` UTC has passed since lastReset.
func ResetDue(lastReset, now time.Time, hour int) bool {
	return lastReset.Before(ResetBoundary(now, hour))
}
