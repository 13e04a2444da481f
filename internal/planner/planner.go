// Package planner splits requested date spans into API-sized slices and
// finds the first non-empty window for schema discovery.
package planner

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

// DefaultSliceRange is the default slice size in days.
const DefaultSliceRange = 7

// Today returns the current date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	return domain.DateOf(now.In(loc))
}

// Plan is the ordered slicing of a requested span
type Plan struct {
	// Range is the clamped span; nil when nothing is fetchable.
	Range *domain.DateRange
	// Slices partition Range in ascending order.
	Slices []domain.Slice
	// Dropped holds the requested dates at or after today.
	Dropped *domain.DateRange
}

// Empty reports whether the plan has no slices.
func (p *Plan) Empty() bool {
	return len(p.Slices) == 0
}

// Last returns the final slice.
func (p *Plan) Last() (domain.Slice, bool) {
	if p.Empty() {
		return domain.Slice{}, false
	}
	return p.Slices[len(p.Slices)-1], true
}

// Planner plans slices relative to a fixed "today"
type Planner struct {
	today time.Time
	log   zerolog.Logger
}

// New creates a planner; today is the current date in the source timezone.
func New(today time.Time, log zerolog.Logger) *Planner {
	return &Planner{
		today: domain.DateOf(today),
		log:   log,
	}
}

// Today returns the planner's notion of today.
func (p *Planner) Today() time.Time {
	return p.today
}

// Yesterday is the latest date the API can have complete data for.
func (p *Planner) Yesterday() time.Time {
	return domain.AddDays(p.today, -1)
}

// Plan splits [from, to] into slices of at most sliceSize days. Dates at or
// after today are dropped with a warning.
func (p *Planner) Plan(from, to time.Time, sliceSize int) (*Plan, error) {
	if sliceSize < 1 {
		return nil, apperrors.NewConfigError("slice_range must be 1 or larger, got %d", sliceSize)
	}
	requested, err := domain.NewDateRange(from, to)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	yesterday := p.Yesterday()
	from, to = requested.From, requested.To

	if to.After(yesterday) {
		dropFrom := from
		if !dropFrom.After(yesterday) {
			dropFrom = p.today
		}
		plan.Dropped = &domain.DateRange{From: dropFrom, To: to}
		p.log.Warn().
			Str("dropped", plan.Dropped.String()).
			Int("days", plan.Dropped.Days()).
			Msg("dates at or after today have no data yet and are skipped")
		to = yesterday
	}

	if from.After(to) {
		p.log.Warn().Str("from_date", domain.FormatDate(from)).Msg("nothing to fetch before today")
		return plan, nil
	}

	plan.Range = &domain.DateRange{From: from, To: to}
	for start := from; !start.After(to); start = domain.AddDays(start, sliceSize) {
		end := domain.AddDays(start, sliceSize-1)
		if end.After(to) {
			end = to
		}
		plan.Slices = append(plan.Slices, domain.Slice{From: start, To: end})
	}
	return plan, nil
}

// NextStart is the first date the next run should fetch.
func NextStart(last domain.Slice) time.Time {
	return domain.AddDays(last.To, 1)
}
