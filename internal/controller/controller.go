package controller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/SamatmaAB/thermoguard/internal/metrics"
)

// killReapTimeout bounds how long Kill waits for the process group to be
// reaped before giving up best-effort.
const killReapTimeout = 2 * time.Second

// Controller owns the worker session for the lifetime of the supervisor.
// All operations are idempotent with respect to the worker's observable
// state and safe to retry on the next tick; failures are returned, never
// escalated to a crash.
type Controller struct {
	mu        sync.Mutex
	spec      Spec
	log       *slog.Logger
	pid       int           // last known worker PID (launched or adopted via pidfile)
	throttled bool
	waitDone  chan struct{} // closed by the reaper when the launched worker exits
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

// New builds a Controller for the given worker spec.
func New(spec Spec, log *slog.Logger) (*Controller, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.ThrottleNice == 0 {
		spec.ThrottleNice = DefaultThrottleNice
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{spec: spec, log: log}, nil
}

// Name returns the worker session name.
func (c *Controller) Name() string { return c.spec.Name }

// Alive reports whether the worker session is currently running and, if
// so, its PID. A supervisor restart adopts a still-running worker through
// the pidfile.
func (c *Controller) Alive() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid := c.alivePIDLocked()
	return pid != 0, pid
}

// Start launches the worker in its own process group. It is a no-op when
// the session is already running.
func (c *Controller) Start(ctx context.Context) (err error) {
	defer func() { metrics.IncControlCommand("start", err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	if pid := c.alivePIDLocked(); pid != 0 {
		c.log.Info("worker already running", "name", c.spec.Name, "pid", pid)
		return nil
	}

	cmd := c.spec.BuildCommand()
	if c.spec.WorkDir != "" {
		cmd.Dir = c.spec.WorkDir
	}
	if len(c.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), c.spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if c.spec.Log.Dir != "" || c.spec.Log.StdoutPath != "" || c.spec.Log.StderrPath != "" {
		if c.spec.Log.Dir != "" {
			_ = os.MkdirAll(c.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := c.spec.Log.WorkerWriters(c.spec.Name)
		c.outCloser, c.errCloser = outW, errW
		if outW != nil {
			cmd.Stdout = outW
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			cmd.Stderr = errW
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %q: %w", c.spec.Name, err)
	}
	c.pid = cmd.Process.Pid
	c.throttled = false
	c.waitDone = make(chan struct{})
	c.writePIDFileLocked()
	c.log.Info("worker started", "name", c.spec.Name, "pid", c.pid)

	go c.reap(cmd.Wait, c.waitDone)
	return nil
}

// reap waits for the launched worker to exit and releases its resources.
func (c *Controller) reap(wait func() error, done chan struct{}) {
	err := wait()
	close(done)
	c.mu.Lock()
	if c.outCloser != nil {
		_ = c.outCloser.Close()
		c.outCloser = nil
	}
	if c.errCloser != nil {
		_ = c.errCloser.Close()
		c.errCloser = nil
	}
	name := c.spec.Name
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("worker exited", "name", name, "error", err)
	} else {
		c.log.Info("worker exited", "name", name)
	}
}

// Throttle reduces the worker process group's priority without stopping
// it. Reversible via Unthrottle; a no-op when already throttled.
func (c *Controller) Throttle(ctx context.Context) (err error) {
	defer func() { metrics.IncControlCommand("throttle", err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.throttled {
		return nil
	}
	pid := c.alivePIDLocked()
	if pid == 0 {
		return fmt.Errorf("throttle: worker session %q not running", c.spec.Name)
	}
	if err := syscall.Setpriority(syscall.PRIO_PGRP, pid, c.spec.ThrottleNice); err != nil {
		return fmt.Errorf("throttle: setpriority pgrp %d: %w", pid, err)
	}
	c.throttled = true
	c.log.Info("worker throttled", "name", c.spec.Name, "pid", pid, "nice", c.spec.ThrottleNice)
	return nil
}

// Unthrottle restores the worker process group to normal priority.
func (c *Controller) Unthrottle(ctx context.Context) (err error) {
	defer func() { metrics.IncControlCommand("unthrottle", err) }()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.throttled {
		return nil
	}
	pid := c.alivePIDLocked()
	if pid == 0 {
		// Nothing left to restore; clear the flag so a fresh start runs unthrottled.
		c.throttled = false
		return nil
	}
	if err := syscall.Setpriority(syscall.PRIO_PGRP, pid, 0); err != nil {
		return fmt.Errorf("unthrottle: setpriority pgrp %d: %w", pid, err)
	}
	c.throttled = false
	c.log.Info("worker unthrottled", "name", c.spec.Name, "pid", pid)
	return nil
}

// Kill forcibly terminates the worker's process group. Safe to call on an
// already-stopped worker.
func (c *Controller) Kill(ctx context.Context) (err error) {
	defer func() { metrics.IncControlCommand("kill", err) }()
	c.mu.Lock()
	pid := c.alivePIDLocked()
	if pid == 0 {
		c.throttled = false
		c.mu.Unlock()
		c.log.Info("worker not running, kill is a no-op", "name", c.spec.Name)
		return nil
	}
	wd := c.waitDone
	c.mu.Unlock()

	c.log.Warn("killing worker", "name", c.spec.Name, "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	if wd != nil {
		select {
		case <-wd:
			// reaped
		case <-time.After(killReapTimeout):
			// best-effort
		}
	} else {
		// Adopted process: nothing to reap here, poll liveness briefly.
		deadline := time.Now().Add(killReapTimeout)
		for time.Now().Before(deadline) && pidAlive(pid) {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if pidAlive(pid) {
		return fmt.Errorf("kill: worker session %q (pid %d) still alive", c.spec.Name, pid)
	}

	c.mu.Lock()
	c.pid = 0
	c.throttled = false
	c.waitDone = nil
	c.removePIDFileLocked()
	c.mu.Unlock()
	return nil
}

// Restart is Kill followed by Start.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Kill(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// alivePIDLocked returns the PID of the running worker session or 0.
// It first consults the launched process, then adopts from the pidfile so
// a worker survives supervisor restarts.
func (c *Controller) alivePIDLocked() int {
	if c.pid != 0 && pidAlive(c.pid) {
		return c.pid
	}
	if pf := c.pidFilePathLocked(); pf != "" {
		if b, err := os.ReadFile(pf); err == nil {
			if pid, err := strconv.Atoi(string(bytes.TrimSpace(b))); err == nil && pid > 0 && pidAlive(pid) {
				c.pid = pid
				return pid
			}
		}
	}
	return 0
}

func (c *Controller) pidFilePathLocked() string { return c.spec.PIDFile }

func (c *Controller) writePIDFileLocked() {
	pf := c.pidFilePathLocked()
	if pf == "" || c.pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pf), 0o750)
	_ = os.WriteFile(pf, []byte(strconv.Itoa(c.pid)), 0o600)
}

func (c *Controller) removePIDFileLocked() {
	if pf := c.pidFilePathLocked(); pf != "" {
		_ = os.Remove(pf)
	}
}

// pidAlive probes liveness via signal 0, treating Linux zombies as dead so
// a quickly-exiting worker is not mistaken for a running one.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
