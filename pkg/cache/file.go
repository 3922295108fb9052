package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/timeline"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// FileStore persists each day as <dir>/<dateKey>.json containing a JSON
// array of samples. The file's modification time is the freshness signal
// for the current date. Safe for concurrent use across days because each
// date key maps to an independent file; no cross-day locking exists, and a
// miss caused by eviction racing a read just feeds a re-fetch.
type FileStore struct {
	dir string
	loc func() *time.Location
}

// configuredFile sets up the file store and registers its flags.
func configuredFile(loc func() *time.Location) *FileStore {
	dir := lflag.String("cache-dir", "history-cache", "Directory for per-day history cache files")

	f := &FileStore{loc: loc}

	lflag.Do(func() {
		f.dir = *dir
	})

	return f
}

// NewFileStore returns a store writing under dir in the given location.
func NewFileStore(dir string, loc *time.Location) *FileStore {
	return &FileStore{dir: dir, loc: func() *time.Location { return loc }}
}

// Init creates the cache directory.
func (f *FileStore) Init() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir (%s): %w", f.dir, err)
	}
	return nil
}

func (f *FileStore) path(dateKey string) string {
	return filepath.Join(f.dir, dateKey+".json")
}

func (f *FileStore) today() string {
	return time.Now().In(f.loc()).Format(types.DateKeyFormat)
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, dateKey string, maxAgeForToday time.Duration) ([]types.Sample, bool) {
	path := f.path(dateKey)

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Ctx(ctx).WarnContext(ctx, "failed to stat cache file", slog.String("date", dateKey), slog.Any("error", err))
		}
		return nil, false
	}

	if dateKey == f.today() {
		if age := time.Since(info.ModTime()); age >= maxAgeForToday {
			log.Ctx(ctx).DebugContext(ctx, "today's cache is stale",
				slog.String("date", dateKey), slog.Duration("age", age))
			return nil, false
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read cache file", slog.String("date", dateKey), slog.Any("error", err))
		return nil, false
	}

	var samples []types.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "corrupt cache file, treating as miss",
			slog.String("date", dateKey), slog.Any("error", err))
		return nil, false
	}
	if len(samples) == 0 {
		return nil, false
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, true
}

// IsComplete implements Store.
func (f *FileStore) IsComplete(ctx context.Context, dateKey string) bool {
	if dateKey == f.today() {
		// today is re-fetched on Get's freshness window instead
		return true
	}

	samples, ok := f.Get(ctx, dateKey, 0)
	if !ok {
		return false
	}
	return hasLateSample(samples, dateKey, f.loc())
}

// hasLateSample reports whether any sample inside the calendar day falls at
// hour 23 or later, the heuristic for "the upstream gave us the whole day".
func hasLateSample(samples []types.Sample, dateKey string, loc *time.Location) bool {
	dayStart, err := time.ParseInLocation(types.DateKeyFormat, dateKey, loc)
	if err != nil {
		return false
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	for _, s := range samples {
		ts := s.Timestamp.In(loc)
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		if ts.Hour() >= 23 {
			return true
		}
	}
	return false
}

// Put implements Store. The day is compressed to change points and written
// atomically so concurrent readers never observe a partial file.
func (f *FileStore) Put(ctx context.Context, dateKey string, samples []types.Sample) {
	compressed := timeline.Compress(samples)

	data, err := json.MarshalIndent(compressed, "", "  ")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to marshal cache day", slog.String("date", dateKey), slog.Any("error", err))
		return
	}

	path := f.path(dateKey)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write cache file", slog.String("date", dateKey), slog.Any("error", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to replace cache file", slog.String("date", dateKey), slog.Any("error", err))
		return
	}

	if len(compressed) < len(samples) {
		log.Ctx(ctx).DebugContext(ctx, "compressed day to change points",
			slog.String("date", dateKey),
			slog.Int("samples", len(samples)),
			slog.Int("points", len(compressed)))
	}
}

// EvictOlderThan implements Store.
func (f *FileStore) EvictOlderThan(ctx context.Context, retainDays int) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list cache dir", slog.Any("error", err))
		return
	}

	loc := f.loc()
	cutoff := time.Now().In(loc).AddDate(0, 0, -retainDays)

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		day, err := time.ParseInLocation(types.DateKeyFormat, strings.TrimSuffix(name, ".json"), loc)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(f.dir, name)); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to evict cache file", slog.String("file", name), slog.Any("error", err))
				continue
			}
			log.Ctx(ctx).DebugContext(ctx, "evicted old cache day", slog.String("file", name))
		}
	}
}

// Close implements Store.
func (f *FileStore) Close() error {
	return nil
}
