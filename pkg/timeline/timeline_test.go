package timeline

import (
	"testing"
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange(t *testing.T) {
	t.Run("ExtendsToNow", func(t *testing.T) {
		samples := []types.Sample{
			sample(0, true),
			sample(30*time.Minute, false),
		}
		now := base.Add(2 * time.Hour)
		min, max := Range(samples, now)
		assert.Equal(t, base, min)
		assert.Equal(t, now, max, "range should extend past the last sample to now")
	})

	t.Run("NowInsideWindow", func(t *testing.T) {
		samples := []types.Sample{
			sample(0, true),
			sample(30*time.Minute, false),
		}
		now := base.Add(10 * time.Minute)
		min, max := Range(samples, now)
		assert.Equal(t, base, min)
		assert.Equal(t, base.Add(30*time.Minute), max)
	})

	t.Run("Empty", func(t *testing.T) {
		now := base
		min, max := Range(nil, now)
		assert.Equal(t, now, min)
		assert.Equal(t, now, max)
	})
}

func TestWithNowPoint(t *testing.T) {
	t.Run("AppendsSynthetic", func(t *testing.T) {
		samples := []types.Sample{
			sample(0, true),
			sample(time.Hour, false),
		}
		now := base.Add(2 * time.Hour)
		out, injected := WithNowPoint(samples, now)
		require.True(t, injected)
		require.Len(t, out, 3)
		assert.Equal(t, now, out[2].Timestamp)
		assert.False(t, out[2].HasElectricity, "synthetic point carries the last known state forward")
		assert.Len(t, samples, 2, "input must not be mutated")
	})

	t.Run("NowNotAfterLast", func(t *testing.T) {
		samples := []types.Sample{sample(time.Hour, true)}
		out, injected := WithNowPoint(samples, base)
		assert.False(t, injected)
		assert.Equal(t, samples, out)
	})

	t.Run("Empty", func(t *testing.T) {
		out, injected := WithNowPoint(nil, base)
		assert.False(t, injected)
		assert.Empty(t, out)
	})
}
