package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/types"
)

// loadState reads the persisted monitor state. Any failure (missing file,
// corrupt JSON) starts a fresh session instead of failing the monitor.
func loadState(ctx context.Context, path string, now time.Time) types.MonitorState {
	fresh := types.MonitorState{
		StatusChangeTime: now,
		SessionStartTime: now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Ctx(ctx).WarnContext(ctx, "failed to read monitor state, starting fresh",
				slog.String("path", path), slog.Any("error", err))
		}
		return fresh
	}

	var st types.MonitorState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "corrupt monitor state, starting fresh",
			slog.String("path", path), slog.Any("error", err))
		return fresh
	}
	if st.SessionStartTime.IsZero() {
		st.SessionStartTime = now
	}
	if st.StatusChangeTime.IsZero() {
		st.StatusChangeTime = now
	}
	return st
}

// saveState persists the monitor state atomically. Failures are logged and
// otherwise ignored; the monitor keeps running on in-memory state.
func saveState(ctx context.Context, path string, st types.MonitorState) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to marshal monitor state", slog.Any("error", err))
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write monitor state", slog.String("path", path), slog.Any("error", err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to replace monitor state", slog.String("path", path), slog.Any("error", err))
	}
}
