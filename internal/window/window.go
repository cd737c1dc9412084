// Package window models the caller-requested output window and the
// historical/in-window row partition that generated scanners perform.
package window

import (
	"fmt"
	"strings"
	"time"

	"scanforge/internal/types"
)

// DateLayout is the ISO-8601 calendar date layout accepted for window bounds.
const DateLayout = "2006-01-02"

// Range is a closed date interval [Start, End].
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseDate accepts "2006-01-02" or RFC3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q (want YYYY-MM-DD or RFC3339)", types.ErrInvalidRequest, s)
	}
	return t, nil
}

// Parse builds a validated Range from two date strings.
func Parse(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, err
	}
	r := Range{Start: s, End: e}
	return r, r.Validate()
}

// Validate enforces start <= end.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: output window requires both start and end", types.ErrInvalidRequest)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: output window start %s is after end %s",
			types.ErrInvalidRequest, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Contains reports whether t falls inside the closed interval. Only the
// calendar date of End is compared so rows stamped later that day still count.
func (r Range) Contains(t time.Time) bool {
	if t.Before(r.Start) {
		return false
	}
	endOfDay := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), r.End.Location())
	return !t.After(endOfDay)
}

// HistoryStart returns the first date to fetch so lookback indicators have
// `days` calendar days of data before the window opens.
func (r Range) HistoryStart(days int) time.Time {
	return r.Start.AddDate(0, 0, -days)
}

func (r Range) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Map renders the range for result metadata.
func (r Range) Map() map[string]string {
	return map[string]string{
		"start": r.Start.Format(DateLayout),
		"end":   r.End.Format(DateLayout),
	}
}
