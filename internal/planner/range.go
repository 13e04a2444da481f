package planner

import (
	"time"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

const (
	// DefaultFromDaysAgo is how far back from_date defaults to.
	DefaultFromDaysAgo = 2
	// DefaultGuessFetchDays caps the span used when guessing a schema.
	DefaultGuessFetchDays = 7
)

// RequestedRange resolves from_date and fetch_days into a [from, to] span.
// An empty fromDate defaults to two days ago; fetchDays == 0 means
// "through yesterday". The result may reach past yesterday; Plan clamps it.
func RequestedRange(fromDate string, fetchDays int, today time.Time) (time.Time, time.Time, error) {
	today = domain.DateOf(today)

	from := domain.AddDays(today, -DefaultFromDaysAgo)
	if fromDate != "" {
		parsed, err := domain.ParseDate(fromDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if fetchDays < 0 {
		return time.Time{}, time.Time{}, apperrors.NewConfigError("fetch_days should be larger than 0, got %d", fetchDays)
	}
	if fetchDays == 0 {
		to := domain.AddDays(today, -1)
		if to.Before(from) {
			to = from
		}
		return from, to, nil
	}
	return from, domain.AddDays(from, fetchDays-1), nil
}
