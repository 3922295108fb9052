package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridwatch/gridwatch/pkg/inverter"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/timeline"
	"github.com/gridwatch/gridwatch/pkg/types"
)

type statusResponse struct {
	types.GridStatus
	Monitor types.MonitorState `json:"monitor"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := s.source.GetStatus(ctx, s.source.Serial())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get grid status", slog.Any("error", err))
		writeJSONError(w, "failed to get grid status", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, max-age=30")
	if err := json.NewEncoder(w).Encode(statusResponse{
		GridStatus: status,
		Monitor:    s.monitor.State(),
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

type historyResponse struct {
	Samples    []types.Sample `json:"samples"`
	RangeStart time.Time      `json:"rangeStart"`
	RangeEnd   time.Time      `json:"rangeEnd"`
}

// getTimeline fetches the compressed window and, when the window reaches
// the present, extends it with a synthetic point at now so the last state
// carries forward. evalAt is the instant the timeline is evaluated at.
func (s *Server) getTimeline(r *http.Request, start, end time.Time) ([]types.Sample, bool, time.Time, error) {
	ctx := r.Context()

	samples, err := s.fetcher.GetHistory(ctx, s.source.Serial(), start, end)
	if err != nil {
		return nil, false, time.Time{}, err
	}

	now := time.Now()
	evalAt := end
	synthetic := false
	if !end.Before(now) {
		evalAt = now
		samples, synthetic = timeline.WithNowPoint(samples, now)
	}
	return samples, synthetic, evalAt, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	samples, _, evalAt, err := s.getTimeline(r, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get history", slog.Any("error", err))
		if errors.Is(err, inverter.ErrAuthFailed) {
			writeJSONError(w, "upstream authentication failed", http.StatusBadGateway)
			return
		}
		writeJSONError(w, "failed to get history", http.StatusInternalServerError)
		return
	}

	rangeStart, rangeEnd := timeline.Range(samples, evalAt)

	w.Header().Set("Content-Type", "application/json")
	setHistoryCacheControl(w, end)
	if err := json.NewEncoder(w).Encode(historyResponse{
		Samples:    samples,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

type statsResponse struct {
	types.Stats
	RangeStart time.Time `json:"rangeStart"`
	RangeEnd   time.Time `json:"rangeEnd"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	samples, synthetic, evalAt, err := s.getTimeline(r, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get history for stats", slog.Any("error", err))
		if errors.Is(err, inverter.ErrAuthFailed) {
			writeJSONError(w, "upstream authentication failed", http.StatusBadGateway)
			return
		}
		writeJSONError(w, "failed to get stats", http.StatusInternalServerError)
		return
	}

	rangeStart, rangeEnd := timeline.Range(samples, evalAt)

	w.Header().Set("Content-Type", "application/json")
	setHistoryCacheControl(w, end)
	if err := json.NewEncoder(w).Encode(statsResponse{
		Stats:      timeline.Calculate(samples, synthetic, evalAt),
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// setHistoryCacheControl caches finished windows for a day and windows that
// reach the present briefly.
func setHistoryCacheControl(w http.ResponseWriter, end time.Time) {
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > 31*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 31 days")
	}

	return start, end, nil
}
