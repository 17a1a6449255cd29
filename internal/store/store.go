package store

import (
	"context"
	"errors"
	"time"
)

// Record is the durable projection of the supervisor's state: the current
// lifecycle variant, when it was entered, and the consecutive sensor
// failure count. It is overwritten as a whole after every tick and read
// once at startup so a previously throttled or killed worker is not
// silently forgotten across supervisor restarts.
type Record struct {
	State          string    `json:"state"`
	EnteredAt      time.Time `json:"enteredAt"`
	SensorFailures int       `json:"sensorFailures"`
}

// ErrNotFound is returned by Load when no record has been persisted yet;
// the caller initializes a fresh Normal state.
var ErrNotFound = errors.New("no persisted supervisor state")

// Store persists the single supervisor state record. Implementations must
// replace the record atomically: a partial write must never corrupt it.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Close() error
}
