package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetTemperature(61.5)
	IncSensorFailure()
	SetSensorFailures(2)
	IncTick()
	IncPersistFailure()
	IncTransition("normal", "throttled")
	SetCurrentState("throttled")
	IncControlCommand("throttle", nil)
	IncControlCommand("kill", errors.New("boom"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"thermoguard_sensor_temperature_celsius":        false,
		"thermoguard_sensor_failures_total":             false,
		"thermoguard_sensor_consecutive_failures":       false,
		"thermoguard_supervisor_ticks_total":            false,
		"thermoguard_supervisor_persist_failures_total": false,
		"thermoguard_supervisor_state_transitions_total": false,
		"thermoguard_supervisor_current_state":          false,
		"thermoguard_worker_control_commands_total":     false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestCurrentStateIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}

	SetCurrentState("killed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "thermoguard_supervisor_current_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			state := m.GetLabel()[0].GetValue()
			got := m.GetGauge().GetValue()
			want := 0.0
			if state == "killed" {
				want = 1.0
			}
			if got != want {
				t.Fatalf("state %s: got %v want %v", state, got, want)
			}
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Ensure collectors are registered with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncTick()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "thermoguard_supervisor_ticks_total") {
		t.Fatalf("metrics output missing ticks_total")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncTick()
			IncSensorFailure()
			IncTransition("normal", "throttled")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	// These must not panic.
	SetTemperature(90)
	IncTransition("throttled", "killed")
	SetCurrentState("normal")
	IncControlCommand("restart", nil)
}
