package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const searchDateLayout = "2006-01-02"

// ValidationError reports invalid caller-supplied input, as opposed to
// an upstream or internal failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidationError reports whether err stems from bad caller input.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Window is an inclusive date window for activity aggregation. Start and
// End are midnights in UTC; End names the last day that belongs to the
// window.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow normalizes both bounds to midnight UTC.
func NewWindow(start, end time.Time) Window {
	return Window{
		Start: truncateToDay(start),
		End:   truncateToDay(end),
	}
}

// ParseWindow parses inclusive YYYY-MM-DD date bounds. Malformed dates
// and inverted ranges are validation errors, not upstream failures.
func ParseWindow(startDate, endDate string) (Window, error) {
	start, err := time.Parse(searchDateLayout, strings.TrimSpace(startDate))
	if err != nil {
		return Window{}, &ValidationError{Message: fmt.Sprintf("invalid start_date %q: expected YYYY-MM-DD", startDate)}
	}
	end, err := time.Parse(searchDateLayout, strings.TrimSpace(endDate))
	if err != nil {
		return Window{}, &ValidationError{Message: fmt.Sprintf("invalid end_date %q: expected YYYY-MM-DD", endDate)}
	}
	if end.Before(start) {
		return Window{}, &ValidationError{Message: "start_date must not be after end_date"}
	}
	return NewWindow(start, end), nil
}

// UntilExclusive returns the first instant after the window: the start of
// the day following End. Using it as an exclusive upper bound keeps the
// whole end day inside the window.
func (w Window) UntilExclusive() time.Time {
	return w.End.AddDate(0, 0, 1)
}

// SearchRange renders the window as an inclusive GitHub search range
// qualifier value, e.g. "2026-08-01..2026-08-07".
func (w Window) SearchRange() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(searchDateLayout), w.End.Format(searchDateLayout))
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return !ts.Before(w.Start) && ts.Before(w.UntilExclusive())
}

// Days returns the number of calendar days the window spans.
func (w Window) Days() int {
	return int(w.UntilExclusive().Sub(w.Start).Hours() / 24)
}

func truncateToDay(ts time.Time) time.Time {
	utc := ts.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
