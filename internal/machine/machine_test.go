package machine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamatmaAB/thermoguard/internal/sensor"
)

type mockController struct {
	calls []string
	fail  map[string]error
}

func (m *mockController) op(name string) error {
	m.calls = append(m.calls, name)
	if m.fail != nil {
		return m.fail[name]
	}
	return nil
}

func (m *mockController) Start(context.Context) error      { return m.op("start") }
func (m *mockController) Throttle(context.Context) error   { return m.op("throttle") }
func (m *mockController) Unthrottle(context.Context) error { return m.op("unthrottle") }
func (m *mockController) Kill(context.Context) error       { return m.op("kill") }
func (m *mockController) Restart(context.Context) error    { return m.op("restart") }

type mockNotifier struct {
	msgs []string
}

func (m *mockNotifier) Notify(_ context.Context, message string) {
	m.msgs = append(m.msgs, message)
}

func newTestMachine(t0 time.Time) (*Machine, *mockController, *mockNotifier) {
	ctrl := &mockController{}
	n := &mockNotifier{}
	m := New(DefaultThresholds(), ctrl, n, nil, t0)
	return m, ctrl, n
}

func reading(t float64, at time.Time) sensor.Reading {
	return sensor.Reading{Value: t, Source: "test", At: at}
}

var t0 = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func TestNormalStaysNormalBelowThrottle(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	for i, temp := range []float64{20, 59.9, 60, 70, 84.9} {
		m.Evaluate(context.Background(), reading(temp, t0.Add(time.Duration(i)*10*time.Second)), nil, t0.Add(time.Duration(i)*10*time.Second))
	}
	snap := m.Snapshot()
	assert.Equal(t, StateNormal, snap.State)
	assert.Empty(t, ctrl.calls, "no controller command may be issued on a no-op tick")
	assert.Empty(t, n.msgs)
	assert.Equal(t, t0, snap.EnteredAt, "enteredAt must not move on no-op ticks")
}

func TestScenarioA_NormalTo86Throttles(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(86, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateThrottled, snap.State)
	assert.Equal(t, now, snap.EnteredAt)
	assert.Equal(t, []string{"throttle"}, ctrl.calls)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "Throttling")
}

func TestScenarioB_ThrottleTimeoutKills(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	now := t0
	step := 10 * time.Second

	// Enter Throttled.
	now = now.Add(step)
	m.Evaluate(context.Background(), reading(87, now), nil, now)
	enteredThrottled := now
	require.Equal(t, StateThrottled, m.Snapshot().State)
	ctrl.calls = nil
	n.msgs = nil

	// Stay at 87°C; at elapsed >= 300s the worker is killed.
	for {
		now = now.Add(step)
		m.Evaluate(context.Background(), reading(87, now), nil, now)
		if now.Sub(enteredThrottled) < DefaultThresholds().ThrottleMax {
			require.Equal(t, StateThrottled, m.Snapshot().State, "must stay throttled before the timeout")
			require.Empty(t, ctrl.calls)
			continue
		}
		break
	}
	assert.Equal(t, 300*time.Second, now.Sub(enteredThrottled))
	snap := m.Snapshot()
	assert.Equal(t, StateKilled, snap.State)
	assert.Equal(t, now, snap.EnteredAt)
	assert.Equal(t, []string{"kill"}, ctrl.calls)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "throttling")
}

func TestScenarioC_KilledRecoversBelowCool(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	m.Restore(StateKilled, t0, 0)

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(55, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateNormal, snap.State)
	assert.Equal(t, []string{"restart"}, ctrl.calls)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "Restarting")
}

func TestScenarioD_FiveSensorFailuresAlertOnce(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	sensErr := fmt.Errorf("sample: %w", sensor.ErrSensor)

	now := t0
	for i := 1; i <= 5; i++ {
		now = now.Add(10 * time.Second)
		m.Evaluate(context.Background(), sensor.Reading{}, sensErr, now)
		if i < 5 {
			assert.Empty(t, n.msgs, "no alert before the 5th consecutive failure")
			assert.Equal(t, i, m.Snapshot().SensorFailures)
		}
	}
	snap := m.Snapshot()
	assert.Equal(t, StateNormal, snap.State, "sensor failure never transitions")
	assert.Equal(t, 0, snap.SensorFailures, "counter resets after the alert")
	assert.Equal(t, t0, snap.EnteredAt)
	assert.Empty(t, ctrl.calls, "sensor failure never touches the worker")
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "sensor")
}

func TestSuccessfulReadingResetsFailureCounter(t *testing.T) {
	m, _, n := newTestMachine(t0)
	sensErr := errors.New("unreadable")

	m.Evaluate(context.Background(), sensor.Reading{}, sensErr, t0.Add(10*time.Second))
	m.Evaluate(context.Background(), sensor.Reading{}, sensErr, t0.Add(20*time.Second))
	require.Equal(t, 2, m.Snapshot().SensorFailures)

	m.Evaluate(context.Background(), reading(50, t0.Add(30*time.Second)), nil, t0.Add(30*time.Second))
	assert.Equal(t, 0, m.Snapshot().SensorFailures)
	assert.Empty(t, n.msgs)
}

func TestKillThresholdWinsEverywhere(t *testing.T) {
	// A reading hot enough to both throttle and kill always kills.
	for _, from := range []State{StateNormal, StateThrottled} {
		m, ctrl, _ := newTestMachine(t0)
		m.Restore(from, t0, 0)
		now := t0.Add(10 * time.Second)
		m.Evaluate(context.Background(), reading(90, now), nil, now)

		snap := m.Snapshot()
		assert.Equal(t, StateKilled, snap.State, "from %s", from)
		assert.Equal(t, []string{"kill"}, ctrl.calls, "from %s", from)
	}
}

func TestKilledStaysKilledWhileWarm(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	m.Restore(StateKilled, t0, 0)

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(75, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateKilled, snap.State)
	assert.Equal(t, t0, snap.EnteredAt, "no-op tick must not move enteredAt")
	assert.Empty(t, ctrl.calls)
	assert.Empty(t, n.msgs)
}

func TestKilledReissuesIdempotentKillAboveKillThreshold(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	m.Restore(StateKilled, t0, 0)

	for i := 1; i <= 2; i++ {
		now := t0.Add(time.Duration(i) * 10 * time.Second)
		m.Evaluate(context.Background(), reading(95, now), nil, now)
	}
	snap := m.Snapshot()
	assert.Equal(t, StateKilled, snap.State)
	assert.Equal(t, t0, snap.EnteredAt, "re-issued kill is not a transition")
	assert.Equal(t, []string{"kill", "kill"}, ctrl.calls)
	assert.Empty(t, n.msgs, "idempotent re-kill must not duplicate alerts")
}

func TestThrottledRecoversBelowCool(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	m.Restore(StateThrottled, t0, 0)

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(59, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateNormal, snap.State)
	assert.Equal(t, []string{"unthrottle"}, ctrl.calls)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "Removing worker throttle")
}

func TestThrottledBetweenCoolAndThrottleHolds(t *testing.T) {
	m, ctrl, _ := newTestMachine(t0)
	m.Restore(StateThrottled, t0, 0)

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(70, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateThrottled, snap.State)
	assert.Equal(t, t0, snap.EnteredAt, "timer keeps running from original entry")
	assert.Empty(t, ctrl.calls)
}

func TestTimeoutBeatsCoolDownWhenBothApply(t *testing.T) {
	// Deliberate tie-break: after the throttle window has elapsed, a
	// simultaneously cool reading still kills rather than resumes.
	m, ctrl, _ := newTestMachine(t0)
	m.Restore(StateThrottled, t0, 0)

	now := t0.Add(DefaultThresholds().ThrottleMax)
	m.Evaluate(context.Background(), reading(55, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateKilled, snap.State)
	assert.Equal(t, []string{"kill"}, ctrl.calls)
}

func TestCoolingWaitBehavesLikeKilled(t *testing.T) {
	m, ctrl, _ := newTestMachine(t0)
	m.Restore(StateCoolingWait, t0, 0)

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(55, now), nil, now)

	assert.Equal(t, StateNormal, m.Snapshot().State)
	assert.Equal(t, []string{"restart"}, ctrl.calls)
}

func TestControlFailureStillRecordsIntendedTransition(t *testing.T) {
	m, ctrl, n := newTestMachine(t0)
	ctrl.fail = map[string]error{"kill": errors.New("session not found")}

	now := t0.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(95, now), nil, now)

	snap := m.Snapshot()
	assert.Equal(t, StateKilled, snap.State, "state reflects the intended transition")
	require.Len(t, n.msgs, 2)
	assert.Contains(t, n.msgs[0], "Process control error")
	assert.Contains(t, strings.ToLower(n.msgs[1]), "killed")

	// Next tick retries the kill while conditions persist.
	ctrl.calls = nil
	now = now.Add(10 * time.Second)
	m.Evaluate(context.Background(), reading(95, now), nil, now)
	assert.Equal(t, []string{"kill"}, ctrl.calls)
}

func TestRestoreResumesMidState(t *testing.T) {
	m, _, _ := newTestMachine(t0)
	entered := t0.Add(-2 * time.Minute)
	m.Restore(StateThrottled, entered, 3)

	snap := m.Snapshot()
	assert.Equal(t, StateThrottled, snap.State)
	assert.Equal(t, entered, snap.EnteredAt)
	assert.Equal(t, 3, snap.SensorFailures)
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateNormal, StateThrottled, StateKilled, StateCoolingWait} {
		got, err := ParseState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseState(" Throttled ")
	require.NoError(t, err)
	assert.Equal(t, StateThrottled, got)
	_, err = ParseState("melted")
	assert.Error(t, err)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	bad := DefaultThresholds()
	bad.Kill = 80
	assert.Error(t, bad.Validate())
	bad = DefaultThresholds()
	bad.Cool = 85
	assert.Error(t, bad.Validate())
	bad = DefaultThresholds()
	bad.ThrottleMax = 0
	assert.Error(t, bad.Validate())
}
