package util

import "time"

// DateLayout is the storage and log format for calendar days.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar day.
func Today() time.Time {
	return Day(time.Now())
}

// AddDays shifts a calendar day by n days.
func AddDays(d time.Time, n int) time.Time {
	return Day(d).AddDate(0, 0, n)
}

// DayToMillis returns the Unix millisecond timestamp of d's UTC midnight.
func DayToMillis(d time.Time) int64 {
	return Day(d).UnixMilli()
}

// MillisToDay returns the UTC calendar day containing the Unix millisecond
// timestamp ms.
func MillisToDay(ms int64) time.Time {
	return Day(time.UnixMilli(ms))
}

// ParseDay parses a YYYY-MM-DD string as a UTC calendar day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDay formats d as YYYY-MM-DD.
func FormatDay(d time.Time) string {
	return Day(d).Format(DateLayout)
}

// EachDay calls fn for every calendar day in [start, end] in order. Crypto
// spot markets trade every day, so no session calendar applies.
func EachDay(start, end time.Time, fn func(day time.Time)) {
	last := Day(end)
	for d := Day(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}
