// Package history assembles grid-presence timelines spanning multiple
// calendar days, combining the day cache with on-demand inverter fetches.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gridwatch/gridwatch/pkg/cache"
	"github.com/gridwatch/gridwatch/pkg/inverter"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/timeline"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Fetcher retrieves per-day samples cache-first and merges them into one
// compressed timeline. A day that fails to fetch contributes nothing; the
// rest of the range is still returned. Only a total authentication failure
// (inverter.ErrAuthFailed) aborts the whole request, since every remaining
// day would fail the same way.
type Fetcher struct {
	source      inverter.Source
	store       cache.Store
	batchSize   int
	todayMaxAge time.Duration
}

// Configured sets up a Fetcher and registers its flags.
func Configured(source inverter.Source, store cache.Store) *Fetcher {
	batchSize := lflag.Int("history-fetch-batch", 10, "Number of days to fetch concurrently")
	todayMaxAge := lflag.Duration("history-today-max-age", 15*time.Minute, "How long today's cached samples stay fresh")

	f := &Fetcher{source: source, store: store}

	lflag.Do(func() {
		f.batchSize = *batchSize
		f.todayMaxAge = *todayMaxAge
	})

	return f
}

// NewFetcher returns a Fetcher with the given batching parameters.
func NewFetcher(source inverter.Source, store cache.Store, batchSize int, todayMaxAge time.Duration) *Fetcher {
	return &Fetcher{
		source:      source,
		store:       store,
		batchSize:   batchSize,
		todayMaxAge: todayMaxAge,
	}
}

// dateKeys enumerates every provider-local calendar date touched by
// [start, end], oldest first.
func dateKeys(start, end time.Time, loc *time.Location) []string {
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	e := end.In(loc)

	var keys []string
	for !day.After(e) {
		keys = append(keys, day.Format(types.DateKeyFormat))
		day = day.AddDate(0, 0, 1)
	}
	return keys
}

// getDay returns the samples for one date key, consulting the cache first.
// A cached day is only trusted when the store also considers it complete;
// otherwise we re-fetch to pick up the tail the upstream truncated.
func (f *Fetcher) getDay(ctx context.Context, serial, dateKey string) ([]types.Sample, error) {
	if samples, ok := f.store.Get(ctx, dateKey, f.todayMaxAge); ok && f.store.IsComplete(ctx, dateKey) {
		return samples, nil
	}

	samples, err := f.source.FetchDay(ctx, serial, dateKey)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		f.store.Put(ctx, dateKey, samples)
	}
	return samples, nil
}

// GetHistory returns the compressed timeline of samples with timestamps in
// [start, end] for the given inverter serial.
func (f *Fetcher) GetHistory(ctx context.Context, serial string, start, end time.Time) ([]types.Sample, error) {
	keys := dateKeys(start, end, f.source.Location())

	byDay := make([][]types.Sample, len(keys))
	errs := make([]error, len(keys))

	batch := f.batchSize
	if batch < 1 {
		batch = 1
	}
	for i := 0; i < len(keys); i += batch {
		endIdx := i + batch
		if endIdx > len(keys) {
			endIdx = len(keys)
		}

		var wg sync.WaitGroup
		for j := i; j < endIdx; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				byDay[j], errs[j] = f.getDay(ctx, serial, keys[j])
			}(j)
		}
		wg.Wait()

		// stop paging through days once login itself is broken
		for j := i; j < endIdx; j++ {
			if errors.Is(errs[j], inverter.ErrAuthFailed) {
				return nil, errs[j]
			}
		}
	}

	var merged []types.Sample
	for i, day := range byDay {
		if errs[i] != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping failed history day",
				slog.String("date", keys[i]), slog.Any("error", errs[i]))
			continue
		}
		for _, s := range day {
			if s.Timestamp.Before(start) || s.Timestamp.After(end) {
				continue
			}
			merged = append(merged, s)
		}
	}

	return timeline.Compress(merged), nil
}
