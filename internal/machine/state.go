package machine

import (
	"fmt"
	"strings"
	"time"
)

// State is the supervisor lifecycle variant for the managed worker.
// Exactly one state is active at any time.
type State string

const (
	// StateNormal means the worker runs at normal priority.
	StateNormal State = "normal"
	// StateThrottled means the worker runs at reduced priority while the
	// device cools; entry time bounds how long throttling may last.
	StateThrottled State = "throttled"
	// StateKilled means the worker session was terminated and stays down
	// until the device cools below the resume threshold.
	StateKilled State = "killed"
	// StateCoolingWait is a killed worker observed to be cooling. Older
	// state records may carry it; evaluation treats it exactly like
	// StateKilled.
	StateCoolingWait State = "cooling_wait"
)

// ParseState converts a persisted state string back into a State.
func ParseState(s string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateNormal:
		return StateNormal, nil
	case StateThrottled:
		return StateThrottled, nil
	case StateKilled:
		return StateKilled, nil
	case StateCoolingWait:
		return StateCoolingWait, nil
	}
	return "", fmt.Errorf("unknown supervisor state %q", s)
}

// Thresholds are the fixed thermal limits the state machine evaluates
// against. They are supplied at startup and immutable afterwards.
type Thresholds struct {
	Throttle    float64       `mapstructure:"throttle_c"`    // °C at which the worker is throttled
	Kill        float64       `mapstructure:"kill_c"`        // °C at which the worker is killed
	Cool        float64       `mapstructure:"cool_c"`        // °C below which a throttled/killed worker may resume
	ThrottleMax time.Duration `mapstructure:"throttle_max"`  // max time in Throttled before killing anyway
}

// DefaultThresholds match the Raspberry Pi deployment the supervisor was
// built for: throttle at 85°C, kill at 90°C, resume below 60°C, and give
// throttling five minutes to work before killing.
func DefaultThresholds() Thresholds {
	return Thresholds{Throttle: 85, Kill: 90, Cool: 60, ThrottleMax: 5 * time.Minute}
}

// Validate rejects threshold combinations the transition table cannot
// evaluate sensibly.
func (t Thresholds) Validate() error {
	if t.Kill < t.Throttle {
		return fmt.Errorf("kill threshold %.1f°C below throttle threshold %.1f°C", t.Kill, t.Throttle)
	}
	if t.Cool >= t.Throttle {
		return fmt.Errorf("cool threshold %.1f°C must be below throttle threshold %.1f°C", t.Cool, t.Throttle)
	}
	if t.ThrottleMax <= 0 {
		return fmt.Errorf("throttle_max must be > 0, got %v", t.ThrottleMax)
	}
	return nil
}

// Snapshot is a read-only copy of the machine's current state.
type Snapshot struct {
	State          State     `json:"state"`
	EnteredAt      time.Time `json:"enteredAt"`
	SensorFailures int       `json:"sensorFailures"`
}
