package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SamatmaAB/thermoguard/internal/metrics"
	"github.com/SamatmaAB/thermoguard/internal/sensor"
)

// MaxConsecutiveSensorFailures is the run length of failed samples after
// which a sensor alert is emitted and the counter resets.
const MaxConsecutiveSensorFailures = 5

// Controller is the process-control surface the state machine drives.
// Every operation is idempotent with respect to the worker's observable
// state; failures are reported, never panicked.
type Controller interface {
	Start(ctx context.Context) error
	Throttle(ctx context.Context) error
	Unthrottle(ctx context.Context) error
	Kill(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Notifier delivers a human-readable alert. Best-effort and
// fire-and-forget: the machine neither retries nor blocks on failure.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Machine is the supervisor's decision core. It exclusively owns the
// lifecycle state; one Evaluate call consumes one temperature sample (or
// sample failure) and applies at most one transition from the table.
type Machine struct {
	mu             sync.Mutex
	state          State
	enteredAt      time.Time
	sensorFailures int

	thresholds Thresholds
	ctrl       Controller
	notifier   Notifier
	log        *slog.Logger
}

// New builds a Machine in StateNormal entered at now.
func New(th Thresholds, ctrl Controller, n Notifier, log *slog.Logger, now time.Time) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		state:      StateNormal,
		enteredAt:  now.UTC(),
		thresholds: th,
		ctrl:       ctrl,
		notifier:   n,
		log:        log,
	}
}

// Restore resumes a previously persisted state so a throttled or killed
// worker is not silently forgotten across supervisor restarts.
func (m *Machine) Restore(st State, enteredAt time.Time, sensorFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.enteredAt = enteredAt.UTC()
	m.sensorFailures = sensorFailures
	metrics.SetCurrentState(string(st))
}

// Snapshot returns a copy of the current state for persistence and the
// status endpoint.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, EnteredAt: m.enteredAt, SensorFailures: m.sensorFailures}
}

// Evaluate consumes one sample. sampleErr non-nil means the sensor chain
// failed; the reading is then ignored. Kill-threshold checks run before
// the throttle-timeout check, which runs before the cool-down check, so
// a reading hot enough to kill always kills.
func (m *Machine) Evaluate(ctx context.Context, r sensor.Reading, sampleErr error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sampleErr != nil {
		m.observeSensorFailure(ctx, sampleErr)
		return
	}
	if m.sensorFailures != 0 {
		m.sensorFailures = 0
		metrics.SetSensorFailures(0)
	}

	t := r.Value
	th := m.thresholds
	m.log.Debug("temperature sample", "celsius", t, "source", r.Source, "state", string(m.state))

	switch m.state {
	case StateNormal:
		switch {
		case t >= th.Kill:
			m.transition(ctx, StateKilled, now, m.ctrl.Kill, "kill",
				fmt.Sprintf("💀 Worker killed: temperature %.1f°C reached the %.1f°C kill threshold.", t, th.Kill))
		case t >= th.Throttle:
			m.transition(ctx, StateThrottled, now, m.ctrl.Throttle, "throttle",
				fmt.Sprintf("🔥 Device overheating at %.1f°C. Throttling worker to cool down.", t))
		}
	case StateThrottled:
		switch {
		case t >= th.Kill:
			m.transition(ctx, StateKilled, now, m.ctrl.Kill, "kill",
				fmt.Sprintf("💀 Worker killed: temperature %.1f°C reached the %.1f°C kill threshold.", t, th.Kill))
		case now.Sub(m.enteredAt) >= th.ThrottleMax:
			m.transition(ctx, StateKilled, now, m.ctrl.Kill, "kill",
				fmt.Sprintf("💀 Worker killed after %s of throttling without cooling (temperature %.1f°C).",
					now.Sub(m.enteredAt).Round(time.Second), t))
		case t < th.Cool:
			m.transition(ctx, StateNormal, now, m.ctrl.Unthrottle, "unthrottle",
				fmt.Sprintf("❄️ Device cooled down to %.1f°C. Removing worker throttle.", t))
		}
	case StateKilled, StateCoolingWait:
		switch {
		case t < th.Cool:
			m.transition(ctx, StateNormal, now, m.ctrl.Restart, "restart",
				fmt.Sprintf("❄️ Device cooled down to %.1f°C. Restarting worker.", t))
		case t >= th.Kill:
			// Worker is already down; re-issue the idempotent kill so a
			// previously failed kill is retried while conditions persist.
			if err := m.ctrl.Kill(ctx); err != nil {
				m.controlFailed(ctx, "kill", err)
			}
		}
	}
}

// transition moves the machine to next, issues the controller command and
// emits the alert. The recorded state always reflects the intended
// transition even when the command fails, so the next tick can retry.
func (m *Machine) transition(ctx context.Context, next State, now time.Time, op func(context.Context) error, opName, alert string) {
	from := m.state
	m.state = next
	m.enteredAt = now.UTC()
	metrics.IncTransition(string(from), string(next))
	metrics.SetCurrentState(string(next))
	m.log.Info("state transition", "from", string(from), "to", string(next), "command", opName)
	if err := op(ctx); err != nil {
		m.controlFailed(ctx, opName, err)
	}
	m.notify(ctx, alert)
}

func (m *Machine) observeSensorFailure(ctx context.Context, err error) {
	m.sensorFailures++
	metrics.IncSensorFailure()
	metrics.SetSensorFailures(m.sensorFailures)
	m.log.Warn("could not read temperature", "consecutive", m.sensorFailures, "error", err)
	if m.sensorFailures >= MaxConsecutiveSensorFailures {
		m.notify(ctx, fmt.Sprintf("⚠️ Temperature sensor error: %d consecutive failed reads. Please investigate.",
			m.sensorFailures))
		m.sensorFailures = 0
		metrics.SetSensorFailures(0)
	}
}

func (m *Machine) controlFailed(ctx context.Context, opName string, err error) {
	m.log.Error("process control command failed", "command", opName, "error", err)
	m.notify(ctx, fmt.Sprintf("⚠️ Process control error: %s failed: %v", opName, err))
}

func (m *Machine) notify(ctx context.Context, msg string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, msg)
}
