package controller

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/SamatmaAB/thermoguard/internal/logger"
)

// Spec describes the single worker session the supervisor manages.
type Spec struct {
	Name         string        `mapstructure:"name"`    // stable session name; also names the pidfile and logs
	Command      string        `mapstructure:"command"` // command to start the worker (shell-aware)
	WorkDir      string        `mapstructure:"workdir"` // optional working dir
	Env          []string      `mapstructure:"env"`     // optional extra env (KEY=VALUE)
	PIDFile      string        `mapstructure:"pidfile"` // pidfile path; defaults to <data_dir>/<name>.pid
	ThrottleNice int           `mapstructure:"throttle_nice"`
	Log          logger.Config `mapstructure:"-"` // worker stdout/stderr destinations
}

// DefaultThrottleNice mirrors `renice +10`: enough to yield CPU without
// starving the worker completely.
const DefaultThrottleNice = 10

// Validate checks the minimal invariants for managing a session.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("worker spec requires a name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("worker spec requires a command")
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec's command string.
// It avoids invoking a shell when not necessary, and it also respects an
// explicit shell invocation already present in the command string,
// avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the argument after "-c", with one
// wrapping pair of quotes stripped when present.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := strings.TrimSpace(trim[len(p):])
			if len(after) >= 2 {
				if (after[0] == '\'' && after[len(after)-1] == '\'') ||
					(after[0] == '"' && after[len(after)-1] == '"') {
					after = after[1 : len(after)-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
