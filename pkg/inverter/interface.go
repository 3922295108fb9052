package inverter

import (
	"context"
	"time"

	"github.com/gridwatch/gridwatch/pkg/types"
)

// Source reads live and historical grid state from an inverter vendor API.
type Source interface {
	// GetStatus returns the current grid status for the given inverter serial.
	GetStatus(ctx context.Context, serial string) (types.GridStatus, error)

	// FetchDay retrieves and decodes every sample the upstream holds for one
	// calendar day (dateKey formatted as types.DateKeyFormat). A day the
	// upstream has no record for returns an empty slice and no error.
	FetchDay(ctx context.Context, serial, dateKey string) ([]types.Sample, error)

	// Location returns the provider-local timezone used for day bucketing.
	Location() *time.Location

	// Serial returns the configured default inverter serial.
	Serial() string
}

// Authenticator obtains a fresh upstream session. Implementations must be
// safe for concurrent use; overlapping logins are tolerated and the latest
// session wins.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
}
