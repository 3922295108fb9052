package inverter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/types"
)

// historyRow is one record of the paginated day endpoint. The voltage field
// has been observed both as a JSON number and as a quoted string, and the
// time field in several formats, so both are decoded leniently.
type historyRow struct {
	Time string          `json:"time"`
	VacR json.RawMessage `json:"vacr"`
}

// decodeSample turns one raw upstream record into a normalized Sample.
// Returns false when the record is structurally undecodable; such records
// are skipped without failing the rest of the page. HasElectricity is
// simply "grid voltage reported above zero" at this layer; the live-status
// voltage/frequency thresholds belong to the runtime path, not history.
func decodeSample(ctx context.Context, raw json.RawMessage, loc *time.Location, now time.Time) (types.Sample, bool) {
	var row historyRow
	if err := json.Unmarshal(raw, &row); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping undecodable history record", slog.Any("error", err))
		return types.Sample{}, false
	}

	ts, err := parseTimestamp(row.Time, loc)
	if err != nil {
		// last resort: anchor the record at now so it is not silently lost
		log.Ctx(ctx).WarnContext(ctx, "history record has unusable timestamp, falling back to now",
			slog.String("time", row.Time), slog.Any("error", err))
		ts = now
	}

	return types.Sample{
		Timestamp:      ts,
		HasElectricity: parseVoltage(row.VacR) > 0,
	}, true
}

// parseVoltage reads the raw voltage field, tolerating quoted values.
// Unparseable values decode as 0 (state off) rather than failing the record.
func parseVoltage(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// timestampLayouts are the zone-less layouts tried after RFC3339, in
// priority order. Legacy records use a space instead of the T separator,
// which is normalized before parsing.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseTimestamp normalizes the upstream's inconsistent timestamp formats
// to an absolute instant. Strategies, in order: RFC3339 with zone, ISO
// without zone (provider-local), legacy space-separated local time (space
// replaced with T first).
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	normalized := strings.Replace(s, " ", "T", 1)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, normalized, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
