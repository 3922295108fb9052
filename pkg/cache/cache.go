package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Store persists one compressed calendar day of samples per date key
// (types.DateKeyFormat, provider-local). The cache is an optimization and
// never a correctness dependency: every implementation swallows and logs
// read/write errors, degrading to a miss or a no-op.
type Store interface {
	// Get returns the cached day, sorted ascending. For the current calendar
	// date only, the entry is treated as a miss once its age exceeds
	// maxAgeForToday, because today's data is still accumulating upstream.
	Get(ctx context.Context, dateKey string, maxAgeForToday time.Duration) ([]types.Sample, bool)

	// IsComplete reports whether a cached past day appears fully ingested:
	// it must contain at least one sample at hour 23 or later, since
	// upstream pagination sometimes truncates a day before midnight. The
	// current date is governed by Get's freshness window instead and always
	// reports complete here.
	IsComplete(ctx context.Context, dateKey string) bool

	// Put compresses the samples to change points and persists them,
	// replacing any previous entry for the day.
	Put(ctx context.Context, dateKey string, samples []types.Sample)

	// EvictOlderThan removes cached days older than the retention horizon.
	EvictOlderThan(ctx context.Context, retainDays int)

	// Lifecycle
	Close() error
}

// Configured sets up the cache store based on flags. loc supplies the
// provider-local timezone once flags are resolved.
func Configured(loc func() *time.Location) Store {
	provider := lflag.String("cache-provider", "file", "Cache provider to use (available: file, firestore)")

	var p struct{ Store }

	fileStore := configuredFile(loc)
	fs := configuredFirestore(loc)

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := fileStore.Init(); err != nil {
				panic(fmt.Sprintf("file cache init failed: %v", err))
			}
			p.Store = fileStore
		case "firestore":
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore cache init failed: %v", err))
			}
			p.Store = fs
		default:
			panic(fmt.Sprintf("unknown cache provider: %s", *provider))
		}
	})

	return &p
}
