package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reading is one instantaneous device-temperature sample. It is created
// once per sample and discarded after the state machine folds it in.
type Reading struct {
	Value  float64   `json:"value"` // degrees Celsius
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// ErrSensor is returned by Sampler.Sample when every configured source
// failed. It is transient by contract: callers count it, never crash on it.
var ErrSensor = errors.New("temperature sensor unavailable")

// Source is a strategy that produces one temperature value.
// Implementations may shell out to a vendor tool or read a sysfs path.
// A missing tool or path is a failure outcome, not a fatal condition.
type Source interface {
	// Read returns the current temperature in degrees Celsius.
	Read(ctx context.Context) (float64, error)
	// Describe returns a human-readable description of the source.
	Describe() string
}

// Sampler tries its sources in order and returns the first successful
// reading. Only when all sources fail does Sample return ErrSensor.
type Sampler struct {
	sources []Source
	now     func() time.Time
}

// New builds a Sampler over the given sources, tried in order.
func New(sources ...Source) *Sampler {
	return &Sampler{sources: sources, now: time.Now}
}

// Default returns the Raspberry Pi sampler: vcgencmd first, then the
// thermal zone sysfs fallback.
func Default() *Sampler {
	return New(VCGenCmd{}, ThermalZone{})
}

// Sample reads one temperature value with fallback across sources.
func (s *Sampler) Sample(ctx context.Context) (Reading, error) {
	var lastErr error
	for _, src := range s.sources {
		v, err := src.Read(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return Reading{Value: v, Source: src.Describe(), At: s.now().UTC()}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no sources configured")
	}
	return Reading{}, fmt.Errorf("%w: %v", ErrSensor, lastErr)
}
