// Package thermoguard supervises a single worker process on a
// thermally constrained device: it samples the device temperature on a
// fixed cadence and throttles, kills or restarts the worker as the
// temperature crosses the configured thresholds, persisting its state so
// a throttled or killed worker survives supervisor restarts.
package thermoguard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SamatmaAB/thermoguard/internal/config"
	"github.com/SamatmaAB/thermoguard/internal/controller"
	"github.com/SamatmaAB/thermoguard/internal/machine"
	"github.com/SamatmaAB/thermoguard/internal/metrics"
	"github.com/SamatmaAB/thermoguard/internal/notifier"
	"github.com/SamatmaAB/thermoguard/internal/sensor"
	"github.com/SamatmaAB/thermoguard/internal/server"
	"github.com/SamatmaAB/thermoguard/internal/store"
	"github.com/SamatmaAB/thermoguard/internal/store/factory"
	"github.com/SamatmaAB/thermoguard/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type State = machine.State

type Snapshot = machine.Snapshot

type Thresholds = machine.Thresholds

type Reading = sensor.Reading

type Record = store.Record

const (
	StateNormal      = machine.StateNormal
	StateThrottled   = machine.StateThrottled
	StateKilled      = machine.StateKilled
	StateCoolingWait = machine.StateCoolingWait
)

// LoadConfig reads and validates the TOML configuration at path.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// OpenStore opens the state store selected by the config's DSN, for
// read-only inspection (the status command) as well as the supervisor.
func OpenStore(cfg *Config) (store.Store, error) {
	return factory.NewFromDSN(cfg.Supervisor.StateDSN, cfg.Worker.Name)
}

// Supervisor bundles the assembled loop with its optional HTTP surfaces.
type Supervisor struct {
	loop          *supervisor.Loop
	store         store.Store
	cfg           *Config
	metricsServer *http.Server
	statusServer  *http.Server
}

// New assembles a Supervisor from the configuration. Failure to set up
// the state store is the one fatal condition: the loop cannot run
// without durable state.
func New(cfg *Config) (*Supervisor, error) {
	log := cfg.Log.Setup()

	ctrl, err := controller.New(cfg.Worker, log)
	if err != nil {
		return nil, err
	}

	sampler := sensor.New(
		sensor.VCGenCmd{Binary: cfg.Sensor.VCGenCmd},
		sensor.ThermalZone{Path: cfg.Sensor.ThermalZone},
	)

	notify := notifier.Multi{notifier.Slog{Log: log}}
	if cfg.Notify.Discord.Enabled {
		notify = append(notify, &notifier.Discord{
			Token:      cfg.Notify.Discord.Token,
			ChannelIDs: cfg.Notify.Discord.ChannelIDs,
			Log:        log,
		})
	}

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prepare state store: %w", err)
	}

	m := machine.New(cfg.Thresholds, ctrl, notify, log, time.Now())

	loop, err := supervisor.New(supervisor.Options{
		Interval: cfg.Supervisor.PollInterval,
		Sampler:  sampler,
		Machine:  m,
		Store:    st,
		Notifier: notify,
		Ctrl:     ctrl,
		Log:      log,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Supervisor{loop: loop, store: st, cfg: cfg}, nil
}

// Run executes the supervisor until ctx is cancelled, serving the
// optional metrics and status listeners alongside the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:              s.cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() { _ = s.metricsServer.ListenAndServe() }()
	}
	if s.cfg.Server.Enabled {
		s.statusServer = server.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.loop)
	}

	err := s.loop.Run(ctx)

	if s.metricsServer != nil {
		_ = s.metricsServer.Close()
	}
	if s.statusServer != nil {
		_ = s.statusServer.Close()
	}
	_ = s.store.Close()
	return err
}

// Status returns the current read-only snapshot.
func (s *Supervisor) Status() server.Status { return s.loop.Status() }
