package timeline

import (
	"testing"
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		stats := Calculate(nil, false, base)
		assert.Equal(t, time.Duration(0), stats.OnTime)
		assert.Equal(t, time.Duration(0), stats.OffTime)
		assert.Equal(t, "0.0", stats.OnPercent, "zero total must not divide by zero")
		assert.Equal(t, "0.0", stats.OffPercent)
	})

	t.Run("EvenSplit", func(t *testing.T) {
		samples := []types.Sample{
			sample(0, true),
			sample(60*time.Second, false),
		}
		now := base.Add(120 * time.Second)
		stats := Calculate(samples, false, now)
		assert.Equal(t, 60*time.Second, stats.OnTime)
		assert.Equal(t, 60*time.Second, stats.OffTime)
		assert.Equal(t, "50.0", stats.OnPercent)
		assert.Equal(t, "50.0", stats.OffPercent)
	})

	t.Run("SyntheticPointExcludedFromIteration", func(t *testing.T) {
		samples := []types.Sample{
			sample(0, true),
			sample(60*time.Second, false),
		}
		now := base.Add(120 * time.Second)
		extended, injected := WithNowPoint(samples, now)
		require.True(t, injected)

		// the synthetic point is stripped but the time up to now still counts
		stats := Calculate(extended, true, now)
		assert.Equal(t, 60*time.Second, stats.OnTime)
		assert.Equal(t, 60*time.Second, stats.OffTime)
	})

	t.Run("DurationWeightedNotPointCounted", func(t *testing.T) {
		// many off samples but almost all elapsed time is on
		samples := []types.Sample{
			sample(0, true),
			sample(55*time.Minute, false),
			sample(56*time.Minute, true),
			sample(57*time.Minute, false),
			sample(58*time.Minute, true),
		}
		now := base.Add(time.Hour)
		stats := Calculate(samples, false, now)
		assert.Equal(t, 58*time.Minute, stats.OnTime)
		assert.Equal(t, 2*time.Minute, stats.OffTime)
		assert.Equal(t, "96.7", stats.OnPercent)
		assert.Equal(t, "3.3", stats.OffPercent)
	})

	t.Run("LastStateCarriesToNow", func(t *testing.T) {
		samples := []types.Sample{sample(0, false)}
		now := base.Add(30 * time.Minute)
		stats := Calculate(samples, false, now)
		assert.Equal(t, time.Duration(0), stats.OnTime)
		assert.Equal(t, 30*time.Minute, stats.OffTime)
		assert.Equal(t, "0.0", stats.OnPercent)
		assert.Equal(t, "100.0", stats.OffPercent)
	})
}
