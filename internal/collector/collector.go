package collector

import (
	"context"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// Collector fetches raw values for one date slice from a Mixpanel endpoint
type Collector interface {
	// Mode reports which endpoint shape the values come from
	Mode() domain.Mode

	// Fetch retrieves every value for the range
	Fetch(ctx context.Context, r domain.DateRange) ([]any, error)

	// FetchSample retrieves a size-capped sample for the range, used by
	// previews, range probing and schema guessing
	FetchSample(ctx context.Context, r domain.DateRange) ([]any, error)
}
