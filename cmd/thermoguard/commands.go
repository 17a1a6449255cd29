package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SamatmaAB/thermoguard"
	"github.com/SamatmaAB/thermoguard/internal/store"
)

// command binds the CLI flag structs to supervisor operations.
type command struct{}

// Run loads the config and runs the supervisor until SIGINT or SIGTERM.
func (c command) Run(f *RunFlags) error {
	cfg, err := thermoguard.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}

	s, err := thermoguard.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return s.Run(ctx)
}

// Status loads the persisted state record and prints it as JSON.
func (c command) Status(f *StatusFlags) error {
	cfg, err := thermoguard.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}

	st, err := thermoguard.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rec, err := st.Load(context.Background())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no state recorded yet for worker %q", cfg.Worker.Name)
	}
	if err != nil {
		return err
	}

	printJSON(rec)
	return nil
}
