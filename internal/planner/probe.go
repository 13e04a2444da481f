package planner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

// probeOffsets grow geometrically so wide sparse spans need few calls.
var probeOffsets = []int{1, 10, 100, 1000, 10000}

// SampleFetcher returns a small sample of values for a range
type SampleFetcher func(ctx context.Context, r domain.DateRange) ([]any, error)

// Candidates lists the end dates tried for a probe starting at from:
// from+1, +10, +100, +1000, +10000 that are not after yesterday, then
// yesterday itself.
func Candidates(from, yesterday time.Time) []time.Time {
	from, yesterday = domain.DateOf(from), domain.DateOf(yesterday)

	var dates []time.Time
	for _, offset := range probeOffsets {
		d := domain.AddDays(from, offset)
		if d.After(yesterday) {
			break
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 || !dates[len(dates)-1].Equal(yesterday) {
		dates = append(dates, yesterday)
	}
	return dates
}

// RangeProbe finds the smallest window starting at a date that has data
type RangeProbe struct {
	fetch     SampleFetcher
	yesterday time.Time
	log       zerolog.Logger
}

// NewRangeProbe creates a probe bounded by yesterday
func NewRangeProbe(fetch SampleFetcher, yesterday time.Time, log zerolog.Logger) *RangeProbe {
	return &RangeProbe{
		fetch:     fetch,
		yesterday: domain.DateOf(yesterday),
		log:       log,
	}
}

// Probe returns [from, candidate] for the first candidate whose sample is
// non-empty.
func (p *RangeProbe) Probe(ctx context.Context, from time.Time) (domain.DateRange, error) {
	from = domain.DateOf(from)
	if from.After(p.yesterday) {
		return domain.DateRange{}, apperrors.NewConfigError("from_date %s must be before today", domain.FormatDate(from))
	}

	for _, to := range Candidates(from, p.yesterday) {
		r := domain.DateRange{From: from, To: to}
		p.log.Debug().Str("range", r.String()).Msg("probing for data")

		values, err := p.fetch(ctx, r)
		if err != nil {
			return domain.DateRange{}, err
		}
		if len(values) > 0 {
			return r, nil
		}
	}
	return domain.DateRange{}, apperrors.NewConfigError(
		"no data found between %s and %s; the script or filters may match nothing, check them",
		domain.FormatDate(from), domain.FormatDate(p.yesterday))
}
