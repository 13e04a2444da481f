// Package timezone converts local wall-clock epochs reported by Mixpanel
// into UTC epochs.
//
// Mixpanel reports event times as seconds since the epoch measured in the
// project's timezone, so a value must be shifted by the UTC offset that
// was in effect at that wall-clock instant.
package timezone

import (
	"time"
	_ "time/tzdata"

	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

const gapShift = int64(time.Hour / time.Second)

// Adjuster converts local epochs of one zone to UTC
type Adjuster struct {
	name string
	loc  *time.Location
}

// Validate reports whether name is a known IANA zone identifier.
func Validate(name string) error {
	_, err := load(name)
	return err
}

// NewAdjuster resolves the zone eagerly so a bad name fails at startup.
func NewAdjuster(name string) (*Adjuster, error) {
	loc, err := load(name)
	if err != nil {
		return nil, err
	}
	return &Adjuster{name: name, loc: loc}, nil
}

func load(name string) (*time.Location, error) {
	if name == "" {
		return nil, apperrors.NewConfigError("timezone is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperrors.WrapConfigError(err, "'%s' is invalid timezone", name)
	}
	return loc, nil
}

// Name returns the zone identifier.
func (a *Adjuster) Name() string {
	return a.name
}

// Location returns the resolved zone.
func (a *Adjuster) Location() *time.Location {
	return a.loc
}

// ToUTC subtracts the UTC offset in effect at the local wall-clock instant.
// Ambiguous instants (clocks moved back) resolve to the daylight saving
// period. Instants inside a spring-forward gap do not exist locally: the
// input is advanced by one hour and converted from there. That is an
// approximation, and downstream watermarks depend on it staying exactly so.
func (a *Adjuster) ToUTC(localEpoch int64) int64 {
	if offset, ok := a.localOffset(localEpoch); ok {
		return localEpoch - offset
	}
	advanced := localEpoch + gapShift
	offset, ok := a.localOffset(advanced)
	if !ok {
		_, off := time.Unix(advanced, 0).In(a.loc).Zone()
		offset = int64(off)
	}
	return advanced - offset
}

// localOffset finds the offset whose UTC instant maps back onto the given
// wall clock. ok is false inside a gap.
func (a *Adjuster) localOffset(localEpoch int64) (offset int64, ok bool) {
	var candidates []int64
	for _, probe := range []int64{localEpoch - 86400, localEpoch, localEpoch + 86400} {
		_, off := time.Unix(probe, 0).In(a.loc).Zone()
		if !containsOffset(candidates, int64(off)) {
			candidates = append(candidates, int64(off))
		}
	}

	found := false
	for _, off := range candidates {
		t := time.Unix(localEpoch-off, 0).In(a.loc)
		_, actual := t.Zone()
		if int64(actual) != off {
			continue
		}
		if t.IsDST() {
			return off, true
		}
		if !found {
			offset, found = off, true
		}
	}
	return offset, found
}

func containsOffset(offsets []int64, v int64) bool {
	for _, o := range offsets {
		if o == v {
			return true
		}
	}
	return false
}
