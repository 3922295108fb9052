package timeline

import (
	"sort"

	"github.com/gridwatch/gridwatch/pkg/types"
)

// Compress sorts the samples ascending by timestamp and reduces them to
// change points only: the first sample, the last sample, and every sample
// whose state differs from the previously kept one. The first and last
// samples are retained even when they repeat the preceding state so that
// consumers can interpolate across the full window.
//
// Compress is idempotent: compressing an already-compressed timeline yields
// the same timeline. The input slice is not modified.
func Compress(samples []types.Sample) []types.Sample {
	if len(samples) <= 1 {
		return append([]types.Sample(nil), samples...)
	}

	sorted := append([]types.Sample(nil), samples...)
	// stable so equal timestamps keep their original order
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	kept := make([]types.Sample, 0, 2)
	var lastState bool
	for i, s := range sorted {
		first := i == 0
		last := i == len(sorted)-1
		if first || last || s.HasElectricity != lastState {
			kept = append(kept, s)
			lastState = s.HasElectricity
		}
	}
	return kept
}
