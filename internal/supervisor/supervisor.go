package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SamatmaAB/thermoguard/internal/machine"
	"github.com/SamatmaAB/thermoguard/internal/metrics"
	"github.com/SamatmaAB/thermoguard/internal/notifier"
	"github.com/SamatmaAB/thermoguard/internal/sensor"
	"github.com/SamatmaAB/thermoguard/internal/server"
	"github.com/SamatmaAB/thermoguard/internal/store"
)

// DefaultPollInterval is the cadence between temperature checks.
const DefaultPollInterval = 10 * time.Second

// TemperatureSampler reads one instantaneous temperature value.
type TemperatureSampler interface {
	Sample(ctx context.Context) (sensor.Reading, error)
}

// WorkerController is the controller surface the loop needs: the machine's
// command set plus identity and liveness for the status endpoint.
type WorkerController interface {
	machine.Controller
	Name() string
	Alive() (bool, int)
}

// Loop is the scheduling driver: it ticks at a fixed interval, samples the
// temperature, feeds the state machine and persists the resulting state.
// The loop solely owns the state record and the worker session for the
// lifetime of the process; ticks never overlap, so the machine always sees
// a single consistent timeline.
type Loop struct {
	interval time.Duration
	sampler  TemperatureSampler
	machine  *machine.Machine
	store    store.Store
	notify   notifier.Notifier
	ctrl     WorkerController
	log      *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	lastReading    *sensor.Reading
	persistFailing bool // alert once per persist-error streak
}

// Options wires the loop's collaborators.
type Options struct {
	Interval time.Duration
	Sampler  TemperatureSampler
	Machine  *machine.Machine
	Store    store.Store
	Notifier notifier.Notifier
	Ctrl     WorkerController
	Log      *slog.Logger
}

// New builds a Loop. All collaborators except Log are required.
func New(o Options) (*Loop, error) {
	if o.Sampler == nil || o.Machine == nil || o.Store == nil || o.Notifier == nil || o.Ctrl == nil {
		return nil, errors.New("supervisor loop requires sampler, machine, store, notifier and controller")
	}
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Loop{
		interval: o.Interval,
		sampler:  o.Sampler,
		machine:  o.Machine,
		store:    o.Store,
		notify:   o.Notifier,
		ctrl:     o.Ctrl,
		log:      o.Log,
		now:      time.Now,
	}, nil
}

// Run executes the supervisor until ctx is cancelled. On cancellation the
// in-flight tick completes, the final state is persisted and the shutdown
// alert is emitted; the worker is never left half-managed.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.resume(ctx); err != nil {
		return err
	}

	l.notify.Notify(ctx, fmt.Sprintf("🌡️ Temperature monitor online. Worker %q will be managed automatically.", l.ctrl.Name()))
	l.log.Info("supervisor started", "worker", l.ctrl.Name(), "interval", l.interval)

	l.reconcileWorker(ctx)

	// First tick immediately; the ticker paces the rest.
	l.tick(ctx)

	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-t.C:
			l.tick(ctx)
		}
	}
}

// resume loads the persisted record so a previously throttled or killed
// worker is not silently forgotten. A missing record means first run; a
// corrupt one is alerted and replaced by a fresh Normal state.
func (l *Loop) resume(ctx context.Context) error {
	rec, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.log.Info("no persisted state, starting fresh")
			return nil
		}
		l.log.Error("failed to load persisted state", "error", err)
		l.notify.Notify(ctx, fmt.Sprintf("⚠️ Persisted supervisor state unreadable (%v); starting fresh.", err))
		return nil
	}
	st, err := machine.ParseState(rec.State)
	if err != nil {
		l.log.Error("persisted state invalid", "error", err)
		l.notify.Notify(ctx, fmt.Sprintf("⚠️ Persisted supervisor state invalid (%v); starting fresh.", err))
		return nil
	}
	l.machine.Restore(st, rec.EnteredAt, rec.SensorFailures)
	l.log.Info("resumed persisted state", "state", string(st), "entered_at", rec.EnteredAt, "sensor_failures", rec.SensorFailures)
	return nil
}

// reconcileWorker brings the worker session in line with the resumed
// state: start it unless the state says it was killed, and re-apply the
// throttle when resuming mid-Throttled.
func (l *Loop) reconcileWorker(ctx context.Context) {
	snap := l.machine.Snapshot()
	switch snap.State {
	case machine.StateKilled, machine.StateCoolingWait:
		// Worker stays down until the device cools.
		return
	case machine.StateThrottled:
		if err := l.ctrl.Start(ctx); err != nil {
			l.controlFailed(ctx, "start", err)
			return
		}
		if err := l.ctrl.Throttle(ctx); err != nil {
			l.controlFailed(ctx, "throttle", err)
		}
	default:
		if err := l.ctrl.Start(ctx); err != nil {
			l.controlFailed(ctx, "start", err)
		}
	}
}

// tick performs one sample → evaluate → persist cycle. Every error kind is
// handled locally; nothing here may crash the loop.
func (l *Loop) tick(ctx context.Context) {
	now := l.now()
	r, err := l.sampler.Sample(ctx)
	if err == nil {
		metrics.SetTemperature(r.Value)
		l.mu.Lock()
		rc := r
		l.lastReading = &rc
		l.mu.Unlock()
	}
	l.machine.Evaluate(ctx, r, err, now)
	l.persist(ctx)
	metrics.IncTick()
}

func (l *Loop) persist(ctx context.Context) {
	snap := l.machine.Snapshot()
	rec := store.Record{
		State:          string(snap.State),
		EnteredAt:      snap.EnteredAt,
		SensorFailures: snap.SensorFailures,
	}
	if err := l.store.Save(ctx, rec); err != nil {
		metrics.IncPersistFailure()
		l.log.Error("failed to persist supervisor state", "error", err)
		l.mu.Lock()
		alerted := l.persistFailing
		l.persistFailing = true
		l.mu.Unlock()
		if !alerted {
			// In-memory state stays authoritative; a restart would lose the
			// last transition, which must not pass silently.
			l.notify.Notify(ctx, fmt.Sprintf("⚠️ Failed to persist supervisor state: %v. A restart would lose the last transition.", err))
		}
		return
	}
	l.mu.Lock()
	l.persistFailing = false
	l.mu.Unlock()
}

// shutdown runs after cancellation: final persist, shutdown alert.
func (l *Loop) shutdown() {
	ctx := context.Background()
	l.persist(ctx)
	l.notify.Notify(ctx, "🛑 Temperature monitor stopped. The worker is no longer managed.")
	l.log.Info("supervisor shutting down")
}

func (l *Loop) controlFailed(ctx context.Context, opName string, err error) {
	l.log.Error("process control command failed", "command", opName, "error", err)
	l.notify.Notify(ctx, fmt.Sprintf("⚠️ Process control error: %s failed: %v", opName, err))
}

// Status implements server.Source for the read-only HTTP surface.
func (l *Loop) Status() server.Status {
	snap := l.machine.Snapshot()
	running, pid := l.ctrl.Alive()
	st := server.Status{
		State:          snap.State,
		EnteredAt:      snap.EnteredAt,
		SensorFailures: snap.SensorFailures,
		Worker:         server.WorkerStatus{Name: l.ctrl.Name(), Running: running, PID: pid},
	}
	l.mu.Lock()
	if l.lastReading != nil {
		rc := *l.lastReading
		st.LastReading = &rc
	}
	l.mu.Unlock()
	return st
}
