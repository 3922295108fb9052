package timeline

import (
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
)

// Range returns the earliest and latest instants covered by the samples.
// The upper bound always extends to now when now is later than the last
// sample, so charts and statistics reflect ongoing state rather than
// stopping at the last poll.
func Range(samples []types.Sample, now time.Time) (time.Time, time.Time) {
	if len(samples) == 0 {
		return now, now
	}

	min := samples[0].Timestamp
	max := samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp.Before(min) {
			min = s.Timestamp
		}
		if s.Timestamp.After(max) {
			max = s.Timestamp
		}
	}

	if now.After(max) {
		max = now
	}
	return min, max
}

// WithNowPoint appends a synthetic sample at now carrying the last known
// state forward, when now is later than the last sample. The returned bool
// reports whether a synthetic point was added so callers can exclude it from
// real-sample counts while still including it in duration math. An empty
// timeline is returned unchanged.
func WithNowPoint(samples []types.Sample, now time.Time) ([]types.Sample, bool) {
	if len(samples) == 0 {
		return samples, false
	}

	last := samples[len(samples)-1]
	if !now.After(last.Timestamp) {
		return samples, false
	}

	extended := make([]types.Sample, len(samples), len(samples)+1)
	copy(extended, samples)
	extended = append(extended, types.Sample{
		Timestamp:      now,
		HasElectricity: last.HasElectricity,
	})
	return extended, true
}
