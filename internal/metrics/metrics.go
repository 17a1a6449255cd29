package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	temperature = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "thermoguard",
			Subsystem: "sensor",
			Name:      "temperature_celsius",
			Help:      "Last sampled device temperature.",
		},
	)
	sensorFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thermoguard",
			Subsystem: "sensor",
			Name:      "failures_total",
			Help:      "Number of failed temperature samples.",
		},
	)
	consecutiveSensorFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "thermoguard",
			Subsystem: "sensor",
			Name:      "consecutive_failures",
			Help:      "Current run length of back-to-back failed samples.",
		},
	)
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thermoguard",
			Subsystem: "supervisor",
			Name:      "ticks_total",
			Help:      "Number of completed supervisor ticks.",
		},
	)
	persistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thermoguard",
			Subsystem: "supervisor",
			Name:      "persist_failures_total",
			Help:      "Number of failed state persist attempts.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thermoguard",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between lifecycle states.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "thermoguard",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thermoguard",
			Subsystem: "worker",
			Name:      "control_commands_total",
			Help:      "Process control commands issued against the worker session.",
		}, []string{"command", "outcome"},
	)
)

var knownStates = []string{"normal", "throttled", "killed", "cooling_wait"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		temperature, sensorFailuresTotal, consecutiveSensorFailures,
		ticksTotal, persistFailuresTotal, stateTransitions, currentState, controlCommands,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers against the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func SetTemperature(celsius float64) {
	if regOK.Load() {
		temperature.Set(celsius)
	}
}

func IncSensorFailure() {
	if regOK.Load() {
		sensorFailuresTotal.Inc()
	}
}

func SetSensorFailures(n int) {
	if regOK.Load() {
		consecutiveSensorFailures.Set(float64(n))
	}
}

func IncTick() {
	if regOK.Load() {
		ticksTotal.Inc()
	}
}

func IncPersistFailure() {
	if regOK.Load() {
		persistFailuresTotal.Inc()
	}
}

func IncTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state active and all other known states inactive.
func SetCurrentState(state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		currentState.WithLabelValues(s).Set(v)
	}
}

func IncControlCommand(command string, err error) {
	if !regOK.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	controlCommands.WithLabelValues(command, outcome).Inc()
}
