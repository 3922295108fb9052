package timeline

import (
	"fmt"
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
)

// Calculate converts a boundary-point timeline into duration-weighted on/off
// totals and percentages evaluated at now. When syntheticNow is true the
// last sample is a synthetic point and is excluded from pairwise iteration;
// the duration up to now is still attributed to the last real state.
//
// Duration weighting (rather than sample counting) is what keeps the numbers
// honest under change-point compression, where sampling density varies by
// construction.
func Calculate(samples []types.Sample, syntheticNow bool, now time.Time) types.Stats {
	points := samples
	if syntheticNow && len(points) > 0 {
		points = points[:len(points)-1]
	}

	var onTime, offTime time.Duration
	for i := 0; i < len(points)-1; i++ {
		d := points[i+1].Timestamp.Sub(points[i].Timestamp)
		if points[i].HasElectricity {
			onTime += d
		} else {
			offTime += d
		}
	}

	// the last real point's state carries through to now
	if len(points) > 0 {
		last := points[len(points)-1]
		if d := now.Sub(last.Timestamp); d > 0 {
			if last.HasElectricity {
				onTime += d
			} else {
				offTime += d
			}
		}
	}

	total := onTime + offTime
	onPercent := "0.0"
	offPercent := "0.0"
	if total > 0 {
		onPercent = fmt.Sprintf("%.1f", float64(onTime)/float64(total)*100)
		offPercent = fmt.Sprintf("%.1f", float64(offTime)/float64(total)*100)
	}

	return types.Stats{
		OnTime:     onTime,
		OffTime:    offTime,
		OnPercent:  onPercent,
		OffPercent: offPercent,
	}
}
