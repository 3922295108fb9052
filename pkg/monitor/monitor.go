// Package monitor polls the inverter for live grid state, tracks on/off
// transitions across restarts, and fans transitions out to notifiers.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gridwatch/gridwatch/pkg/cache"
	"github.com/gridwatch/gridwatch/pkg/inverter"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/gridwatch/gridwatch/pkg/notify"
	"github.com/gridwatch/gridwatch/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Monitor owns the poll loop. Run is the only loop entry point; State may
// be read concurrently.
type Monitor struct {
	source     inverter.Source
	store      cache.Store
	notifiers  []notify.Notifier
	interval   time.Duration
	statePath  string
	retainDays int

	mu           sync.Mutex
	state        types.MonitorState
	lastEvictDay string
}

// Configured sets up the monitor and registers its flags.
func Configured(source inverter.Source, store cache.Store, notifiers ...notify.Notifier) *Monitor {
	interval := lflag.Duration("poll-interval", time.Minute, "How often to poll the inverter for grid status")
	statePath := lflag.String("monitor-state-path", "monitor-state.json", "File persisting monitor state across restarts")
	retainDays := lflag.Int("cache-retain-days", 30, "Days of history cache to retain")

	m := &Monitor{source: source, store: store, notifiers: notifiers}

	lflag.Do(func() {
		m.interval = *interval
		m.statePath = *statePath
		m.retainDays = *retainDays
	})

	return m
}

// New returns a Monitor with the given polling parameters.
func New(source inverter.Source, store cache.Store, interval time.Duration, statePath string, retainDays int, notifiers ...notify.Notifier) *Monitor {
	return &Monitor{
		source:     source,
		store:      store,
		notifiers:  notifiers,
		interval:   interval,
		statePath:  statePath,
		retainDays: retainDays,
	}
}

// State returns a copy of the current monitor state.
func (m *Monitor) State() types.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// step performs one poll. A failed poll leaves the state untouched so the
// next successful one attributes the whole gap to the last known status.
func (m *Monitor) step(ctx context.Context, now time.Time) {
	status, err := m.source.GetStatus(ctx, m.source.Serial())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "grid status poll failed", slog.Any("error", err))
		return
	}

	on := status.HasElectricity

	m.mu.Lock()
	if m.state.CurrentStatus == nil {
		// first observation seeds the state without notifying
		m.state.CurrentStatus = &on
		m.state.StatusChangeTime = now
		st := m.state
		m.mu.Unlock()
		saveState(ctx, m.statePath, st)
		log.Ctx(ctx).InfoContext(ctx, "monitor seeded", slog.Bool("hasElectricity", on))
		return
	}

	if *m.state.CurrentStatus == on {
		m.mu.Unlock()
		return
	}

	elapsed := now.Sub(m.state.StatusChangeTime)
	if *m.state.CurrentStatus {
		m.state.TotalOnTime += elapsed
	} else {
		m.state.TotalOffTime += elapsed
	}
	m.state.CurrentStatus = &on
	m.state.StatusChangeTime = now
	st := m.state
	m.mu.Unlock()
	saveState(ctx, m.statePath, st)

	log.Ctx(ctx).InfoContext(ctx, "grid state changed",
		slog.Bool("hasElectricity", on),
		slog.Duration("previousStateFor", elapsed),
		slog.Float64("gridPowerW", status.GridPowerW))

	for _, n := range m.notifiers {
		var err error
		if on {
			err = n.GridUp(ctx, status.GridPowerW)
		} else {
			err = n.GridDown(ctx)
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "notifier failed", slog.Any("error", err))
		}
	}
}

// maybeEvict runs cache eviction at most once per provider-local day.
func (m *Monitor) maybeEvict(ctx context.Context, now time.Time) {
	day := now.In(m.source.Location()).Format(types.DateKeyFormat)
	if day == m.lastEvictDay {
		return
	}
	m.lastEvictDay = day
	m.store.EvictOlderThan(ctx, m.retainDays)
}

// Run polls until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	m.state = loadState(ctx, m.statePath, time.Now())
	m.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "monitor started",
		slog.String("serial", m.source.Serial()),
		slog.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.step(ctx, time.Now())
		m.maybeEvict(ctx, time.Now())

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
