// Package timeline turns reporting periods into concrete date windows
// and per-period time buckets.
package timeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Range is a supported reporting period length.
type Range string

const (
	// RangeWeek is a rolling 7-day period ending today.
	RangeWeek Range = "week"
	// RangeMonth is a calendar month.
	RangeMonth Range = "month"
	// RangeQuarter is a calendar quarter.
	RangeQuarter Range = "quarter"
)

// ErrUnknownRange reports an unsupported range name.
var ErrUnknownRange = errors.New("unknown range: expected week, month, or quarter")

// ParseRange parses a range name, case-insensitively.
func ParseRange(raw string) (Range, error) {
	switch Range(strings.ToLower(strings.TrimSpace(raw))) {
	case RangeWeek:
		return RangeWeek, nil
	case RangeMonth:
		return RangeMonth, nil
	case RangeQuarter:
		return RangeQuarter, nil
	}
	return "", fmt.Errorf("%w (got %q)", ErrUnknownRange, raw)
}

// PeriodRange returns the inclusive start and end days of the period
// `offset` steps before the current one; offset 0 is the current
// period. Weeks are rolling 7-day blocks ending today; months and
// quarters follow the calendar, with the current period truncated at
// today.
func PeriodRange(r Range, offset int, now time.Time) (time.Time, time.Time, error) {
	if offset < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("offset must be >= 0")
	}
	today := truncateToDay(now)

	switch r {
	case RangeWeek:
		end := today.AddDate(0, 0, -7*offset)
		return end.AddDate(0, 0, -6), end, nil
	case RangeMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -offset, 0)
		if offset == 0 {
			return first, today, nil
		}
		return first, first.AddDate(0, 1, -1), nil
	case RangeQuarter:
		quarterMonth := time.Month((int(today.Month())-1)/3*3 + 1)
		first := time.Date(today.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -3*offset, 0)
		if offset == 0 {
			return first, today, nil
		}
		return first, first.AddDate(0, 3, -1), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w (got %q)", ErrUnknownRange, string(r))
}

func truncateToDay(ts time.Time) time.Time {
	utc := ts.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
