package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/timeline"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreDaysCollection = "history_days"

// FirestoreStore implements Store on a Firestore collection with one
// document per date key. The document's updatedAt field is the freshness
// signal for the current date.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
	database  string
	loc       func() *time.Location
}

// configuredFirestore sets up the Firestore store and registers its flags.
func configuredFirestore(loc func() *time.Location) *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for the Firestore cache")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreStore{loc: loc}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how the firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client. Must be called before use.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) days() *firestore.CollectionRef {
	return f.client.Collection(firestoreDaysCollection)
}

func (f *FirestoreStore) today() string {
	return time.Now().In(f.loc()).Format(types.DateKeyFormat)
}

// readDay fetches and decodes one day document. The second return is false
// on any error, including NotFound.
func (f *FirestoreStore) readDay(ctx context.Context, dateKey string) ([]types.Sample, time.Time, bool) {
	doc, err := f.days().Doc(dateKey).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			log.Ctx(ctx).WarnContext(ctx, "failed to fetch cache day doc", slog.String("date", dateKey), slog.Any("error", err))
		}
		return nil, time.Time{}, false
	}

	var updatedAt time.Time
	if v, err := doc.DataAt("updatedAt"); err == nil {
		if t, ok := v.(time.Time); ok {
			updatedAt = t
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "cache day doc missing json", slog.String("date", dateKey))
		return nil, time.Time{}, false
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "cache day doc json not string", slog.String("date", dateKey))
		return nil, time.Time{}, false
	}

	var samples []types.Sample
	if err := json.Unmarshal([]byte(jsonStr), &samples); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "corrupt cache day doc, treating as miss",
			slog.String("date", dateKey), slog.Any("error", err))
		return nil, time.Time{}, false
	}
	return samples, updatedAt, true
}

// Get implements Store.
func (f *FirestoreStore) Get(ctx context.Context, dateKey string, maxAgeForToday time.Duration) ([]types.Sample, bool) {
	samples, updatedAt, ok := f.readDay(ctx, dateKey)
	if !ok || len(samples) == 0 {
		return nil, false
	}

	if dateKey == f.today() && !updatedAt.IsZero() {
		if age := time.Since(updatedAt); age >= maxAgeForToday {
			log.Ctx(ctx).DebugContext(ctx, "today's cache is stale",
				slog.String("date", dateKey), slog.Duration("age", age))
			return nil, false
		}
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, true
}

// IsComplete implements Store.
func (f *FirestoreStore) IsComplete(ctx context.Context, dateKey string) bool {
	if dateKey == f.today() {
		return true
	}
	samples, _, ok := f.readDay(ctx, dateKey)
	if !ok {
		return false
	}
	return hasLateSample(samples, dateKey, f.loc())
}

// Put implements Store.
func (f *FirestoreStore) Put(ctx context.Context, dateKey string, samples []types.Sample) {
	compressed := timeline.Compress(samples)

	data, err := json.Marshal(compressed)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to marshal cache day", slog.String("date", dateKey), slog.Any("error", err))
		return
	}

	_, err = f.days().Doc(dateKey).Set(ctx, map[string]interface{}{
		"json":      string(data),
		"updatedAt": time.Now(),
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to save cache day", slog.String("date", dateKey), slog.Any("error", err))
		return
	}

	if len(compressed) < len(samples) {
		log.Ctx(ctx).DebugContext(ctx, "compressed day to change points",
			slog.String("date", dateKey),
			slog.Int("samples", len(samples)),
			slog.Int("points", len(compressed)))
	}
}

// EvictOlderThan implements Store. Date keys sort lexicographically, so a
// document-ID range query finds everything older than the horizon.
func (f *FirestoreStore) EvictOlderThan(ctx context.Context, retainDays int) {
	cutoffKey := time.Now().In(f.loc()).AddDate(0, 0, -retainDays).Format(types.DateKeyFormat)

	coll := f.days()
	iter := coll.Where(firestore.DocumentID, "<", coll.Doc(cutoffKey)).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to iterate cache days for eviction", slog.Any("error", err))
			return
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to evict cache day", slog.String("date", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "evicted old cache day", slog.String("date", doc.Ref.ID))
	}
}
