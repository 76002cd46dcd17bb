// Package dates parses the loose date inputs plans carry and does calendar-day arithmetic on them.
package dates

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DateLayout is the canonical YYYY-MM-DD form dates are rendered in.
const DateLayout = "2006-01-02"

var (
	locationMu sync.RWMutex
	location   = time.Local

	isoPrefix = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)

	// day-first layouts; "2" and "1" accept one or two digits
	dayFirstLayouts = []string{
		"2/1/2006",
		"2-1-2006",
	}
)

// SetLocation sets the zone that "local" dates are built in. Defaults to time.Local.
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	location = loc
}

func Location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return location
}

// ParseLocalDate converts the input into a local-midnight date. It accepts time.Time,
// epoch milliseconds, ISO strings (only the YYYY-MM-DD prefix is used, so no zone shift
// happens) and day-first D/M/YYYY or D-M-YYYY strings. Anything else, including
// out-of-range days like 31/02/2025, yields false.
func ParseLocalDate(input any) (time.Time, bool) {
	loc := Location()

	switch v := input.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return StartOfDay(v.In(loc)), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return ParseLocalDate(*v)
	case int64:
		return StartOfDay(time.UnixMilli(v).In(loc)), true
	case int:
		return ParseLocalDate(int64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		return ParseLocalDate(int64(v))
	case string:
		return parseString(v, loc)
	case *string:
		if v == nil {
			return time.Time{}, false
		}
		return parseString(*v, loc)
	}
	return time.Time{}, false
}

func parseString(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if m := isoPrefix.FindStringSubmatch(value); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return build(year, month, day, loc)
	}

	for _, layout := range dayFirstLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func build(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// StartOfDay truncates t to midnight in its own zone.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Today is the local calendar date containing now.
func Today(now time.Time) time.Time {
	return StartOfDay(now.In(Location()))
}

// DaysBetween returns floor((to - from) / 1 day). Both sides are projected onto UTC using their
// wall-clock fields so DST transitions never produce a 23 or 25 hour day.
func DaysBetween(from, to time.Time) int {
	diff := wallClockUTC(to).Sub(wallClockUTC(from))
	return int(math.Floor(diff.Hours() / 24))
}

// DaysRemaining is DaysBetween clamped at zero.
func DaysRemaining(today, end time.Time) int {
	if days := DaysBetween(today, end); days > 0 {
		return days
	}
	return 0
}

func wallClockUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	return ya == yb && ma == mb && da == db
}

// AddDays moves t by n calendar days keeping wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

func Format(t time.Time) string {
	return t.Format(DateLayout)
}

// Normalize reformats any parseable input as YYYY-MM-DD.
func Normalize(input any) (string, bool) {
	t, ok := ParseLocalDate(input)
	if !ok {
		return "", false
	}
	return Format(t), true
}
