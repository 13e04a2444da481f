package domain

import (
	"fmt"
	"time"

	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

// DateLayout is the wire and config format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC-midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.WrapConfigError(err, "malformed date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf returns the calendar date of t (in t's location) as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a date by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween returns the number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Slice is a DateRange sized for a single API call.
type Slice = DateRange

// NewDateRange builds a range, rejecting from > to.
func NewDateRange(from, to time.Time) (DateRange, error) {
	from, to = DateOf(from), DateOf(to)
	if from.After(to) {
		return DateRange{}, apperrors.NewConfigError("invalid date range: from %s is after to %s", FormatDate(from), FormatDate(to))
	}
	return DateRange{From: from, To: to}, nil
}

// Days returns the number of dates covered, both ends included.
func (r DateRange) Days() int {
	return DaysBetween(r.From, r.To) + 1
}

// Dates lists every date in the range in ascending order.
func (r DateRange) Dates() []time.Time {
	dates := make([]time.Time, 0, r.Days())
	for d := r.From; !d.After(r.To); d = AddDays(d, 1) {
		dates = append(dates, d)
	}
	return dates
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", FormatDate(r.From), FormatDate(r.To))
}
