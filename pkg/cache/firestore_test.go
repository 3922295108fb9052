package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStore(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreStore{
		projectID: "test-project-id",
		database:  randDB,
		loc:       func() *time.Location { return time.UTC },
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("RoundTrip", func(t *testing.T) {
		const day = "2025-06-10"
		samples := []types.Sample{
			daySample(t, day, 12, 0, false),
			daySample(t, day, 8, 0, true),
		}
		f.Put(ctx, day, samples)

		got, ok := f.Get(ctx, day, time.Hour)
		require.True(t, ok)
		require.Len(t, got, 2)
		assert.True(t, got[0].Timestamp.Equal(daySample(t, day, 8, 0, true).Timestamp))
		assert.True(t, got[0].HasElectricity)
		assert.False(t, got[1].HasElectricity)
	})

	t.Run("Miss", func(t *testing.T) {
		_, ok := f.Get(ctx, "2025-01-01", time.Hour)
		assert.False(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		const day = "2025-06-11"
		f.Put(ctx, day, []types.Sample{daySample(t, day, 8, 0, true)})
		f.Put(ctx, day, []types.Sample{
			daySample(t, day, 9, 0, false),
			daySample(t, day, 23, 15, true),
		})

		got, ok := f.Get(ctx, day, time.Hour)
		require.True(t, ok)
		require.Len(t, got, 2)
		assert.False(t, got[0].HasElectricity)
	})

	t.Run("TodayFreshness", func(t *testing.T) {
		today := time.Now().UTC().Format(types.DateKeyFormat)
		f.Put(ctx, today, []types.Sample{
			{Timestamp: time.Now().UTC().Add(-time.Minute), HasElectricity: true},
		})

		_, ok := f.Get(ctx, today, 5*time.Minute)
		assert.True(t, ok, "freshly written today entry should hit")

		// backdate updatedAt past the freshness window
		_, err := f.days().Doc(today).Update(ctx, []firestore.Update{
			{Path: "updatedAt", Value: time.Now().Add(-10 * time.Minute)},
		})
		require.NoError(t, err)

		_, ok = f.Get(ctx, today, 5*time.Minute)
		assert.False(t, ok, "stale today entry should miss")
	})

	t.Run("IsComplete", func(t *testing.T) {
		const truncated = "2025-06-12"
		f.Put(ctx, truncated, []types.Sample{daySample(t, truncated, 20, 0, true)})
		assert.False(t, f.IsComplete(ctx, truncated))

		const full = "2025-06-13"
		f.Put(ctx, full, []types.Sample{
			daySample(t, full, 8, 0, true),
			daySample(t, full, 23, 30, true),
		})
		assert.True(t, f.IsComplete(ctx, full))

		assert.False(t, f.IsComplete(ctx, "2025-06-14"), "missing day is incomplete")
	})

	t.Run("EvictOlderThan", func(t *testing.T) {
		now := time.Now().UTC()
		oldDay := now.AddDate(0, 0, -40).Format(types.DateKeyFormat)
		recentDay := now.AddDate(0, 0, -5).Format(types.DateKeyFormat)

		f.Put(ctx, oldDay, []types.Sample{{Timestamp: now.AddDate(0, 0, -40), HasElectricity: true}})
		f.Put(ctx, recentDay, []types.Sample{{Timestamp: now.AddDate(0, 0, -5), HasElectricity: true}})

		f.EvictOlderThan(ctx, 30)

		_, ok := f.Get(ctx, oldDay, time.Hour)
		assert.False(t, ok, "old day should be evicted")
		_, ok = f.Get(ctx, recentDay, time.Hour)
		assert.True(t, ok, "recent day should survive")
	})
}
