// Package notify pushes grid state transitions to external consumers.
package notify

import "context"

// Notifier receives grid state transitions. Implementations should be fast
// or internally buffered; the monitor calls them inline on its poll loop.
type Notifier interface {
	// GridUp signals that grid electricity returned, with the grid power
	// reading (watts) observed at the transition.
	GridUp(ctx context.Context, powerW float64) error

	// GridDown signals that grid electricity was lost.
	GridDown(ctx context.Context) error

	Close()
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) GridUp(context.Context, float64) error { return nil }
func (Noop) GridDown(context.Context) error        { return nil }
func (Noop) Close()                                {}
