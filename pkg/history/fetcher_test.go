package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gridwatch/gridwatch/pkg/cache"
	"github.com/gridwatch/gridwatch/pkg/inverter"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	days  map[string][]types.Sample
	errs  map[string]error
	calls map[string]int
	loc   *time.Location
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		days:  map[string][]types.Sample{},
		errs:  map[string]error{},
		calls: map[string]int{},
		loc:   time.UTC,
	}
}

func (s *fakeSource) GetStatus(ctx context.Context, serial string) (types.GridStatus, error) {
	return types.GridStatus{}, errors.New("not implemented")
}

func (s *fakeSource) FetchDay(ctx context.Context, serial, dateKey string) ([]types.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[dateKey]++
	if err := s.errs[dateKey]; err != nil {
		return nil, err
	}
	return s.days[dateKey], nil
}

func (s *fakeSource) Location() *time.Location {
	return s.loc
}

func (s *fakeSource) Serial() string {
	return "INV1"
}

func (s *fakeSource) fetchCount(dateKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[dateKey]
}

func at(t *testing.T, dateKey string, hour, min int, on bool) types.Sample {
	t.Helper()
	day, err := time.ParseInLocation(types.DateKeyFormat, dateKey, time.UTC)
	require.NoError(t, err)
	return types.Sample{
		Timestamp:      day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute),
		HasElectricity: on,
	}
}

func newTestFetcher(t *testing.T, src *fakeSource) (*Fetcher, cache.Store) {
	t.Helper()
	store := cache.NewFileStore(t.TempDir(), time.UTC)
	require.NoError(t, store.Init())
	return NewFetcher(src, store, 10, 15*time.Minute), store
}

func TestDateKeys(t *testing.T) {
	start := time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 12, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"2025-06-10", "2025-06-11", "2025-06-12"}, dateKeys(start, end, time.UTC))

	t.Run("SingleDay", func(t *testing.T) {
		d := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
		assert.Equal(t, []string{"2025-06-10"}, dateKeys(d, d.Add(time.Hour), time.UTC))
	})

	t.Run("TimezoneShiftsDay", func(t *testing.T) {
		// 23:00 UTC on the 10th is already the 11th in Kyiv
		kyiv, err := time.LoadLocation("Europe/Kyiv")
		require.NoError(t, err)
		d := time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
		assert.Equal(t, []string{"2025-06-11"}, dateKeys(d, d.Add(time.Hour), kyiv))
	})
}

func TestGetHistoryMergesCachedAndFetched(t *testing.T) {
	src := newFakeSource()
	f, store := newTestFetcher(t, src)
	ctx := context.Background()

	// day 1 is cached and complete, so it must not hit the source
	store.Put(ctx, "2025-06-10", []types.Sample{
		at(t, "2025-06-10", 8, 0, true),
		at(t, "2025-06-10", 23, 30, true),
	})
	// day 2 comes from the source
	src.days["2025-06-11"] = []types.Sample{
		at(t, "2025-06-11", 6, 0, true),
		at(t, "2025-06-11", 12, 0, false),
		at(t, "2025-06-11", 18, 0, true),
	}
	// day 3 has no upstream record

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 12, 23, 59, 0, 0, time.UTC)
	got, err := f.GetHistory(ctx, "INV1", start, end)
	require.NoError(t, err)

	assert.Equal(t, 0, src.fetchCount("2025-06-10"), "complete cached day should not be fetched")
	assert.Equal(t, 1, src.fetchCount("2025-06-11"))
	assert.Equal(t, 1, src.fetchCount("2025-06-12"))

	// merged range compresses to first point, the off transition, and the
	// on transition
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Equal(at(t, "2025-06-10", 8, 0, true).Timestamp))
	assert.False(t, got[1].HasElectricity)
	assert.True(t, got[len(got)-1].Timestamp.Equal(at(t, "2025-06-11", 18, 0, true).Timestamp))

	// the fetched day ended up cached
	cached, ok := store.Get(ctx, "2025-06-11", time.Hour)
	require.True(t, ok)
	assert.Len(t, cached, 3)
}

func TestGetHistoryRefetchesIncompleteDay(t *testing.T) {
	src := newFakeSource()
	f, store := newTestFetcher(t, src)
	ctx := context.Background()

	// cached but truncated before 23:00, so it should be re-fetched
	store.Put(ctx, "2025-06-10", []types.Sample{at(t, "2025-06-10", 8, 0, true)})
	src.days["2025-06-10"] = []types.Sample{
		at(t, "2025-06-10", 8, 0, true),
		at(t, "2025-06-10", 23, 45, false),
	}

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	got, err := f.GetHistory(ctx, "INV1", start, start.Add(24*time.Hour-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetchCount("2025-06-10"))
	require.Len(t, got, 2)
	assert.True(t, store.IsComplete(ctx, "2025-06-10"))
}

func TestGetHistoryFiltersToRange(t *testing.T) {
	src := newFakeSource()
	f, _ := newTestFetcher(t, src)
	ctx := context.Background()

	src.days["2025-06-10"] = []types.Sample{
		at(t, "2025-06-10", 1, 0, true),
		at(t, "2025-06-10", 12, 0, false),
		at(t, "2025-06-10", 23, 0, true),
	}

	start := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	got, err := f.GetHistory(ctx, "INV1", start, end)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(at(t, "2025-06-10", 12, 0, false).Timestamp))
}

func TestGetHistorySkipsFailedDay(t *testing.T) {
	src := newFakeSource()
	f, _ := newTestFetcher(t, src)
	ctx := context.Background()

	src.days["2025-06-10"] = []types.Sample{at(t, "2025-06-10", 8, 0, true)}
	src.errs["2025-06-11"] = errors.New("upstream exploded")
	src.days["2025-06-12"] = []types.Sample{at(t, "2025-06-12", 8, 0, false)}

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 12, 23, 0, 0, 0, time.UTC)
	got, err := f.GetHistory(ctx, "INV1", start, end)
	require.NoError(t, err, "a single broken day must not fail the range")
	require.Len(t, got, 2)
}

func TestGetHistoryAbortsOnAuthFailure(t *testing.T) {
	src := newFakeSource()
	f, _ := newTestFetcher(t, src)
	ctx := context.Background()

	src.days["2025-06-10"] = []types.Sample{at(t, "2025-06-10", 8, 0, true)}
	src.errs["2025-06-11"] = fmt.Errorf("login: %w", inverter.ErrAuthFailed)

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 11, 23, 0, 0, 0, time.UTC)
	_, err := f.GetHistory(ctx, "INV1", start, end)
	require.ErrorIs(t, err, inverter.ErrAuthFailed)
}

func TestGetHistoryCompressesAcrossDays(t *testing.T) {
	src := newFakeSource()
	f, _ := newTestFetcher(t, src)
	ctx := context.Background()

	// same state straddling midnight collapses at the seam
	src.days["2025-06-10"] = []types.Sample{
		at(t, "2025-06-10", 20, 0, true),
		at(t, "2025-06-10", 22, 0, true),
		at(t, "2025-06-10", 23, 30, true),
	}
	src.days["2025-06-11"] = []types.Sample{
		at(t, "2025-06-11", 1, 0, true),
		at(t, "2025-06-11", 3, 0, true),
		at(t, "2025-06-11", 5, 0, false),
	}

	start := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 11, 23, 0, 0, 0, time.UTC)
	got, err := f.GetHistory(ctx, "INV1", start, end)
	require.NoError(t, err)

	// only the first point and the off transition survive
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(at(t, "2025-06-10", 20, 0, true).Timestamp))
	assert.False(t, got[1].HasElectricity)
	assert.True(t, got[1].Timestamp.Equal(at(t, "2025-06-11", 5, 0, false).Timestamp))
}
