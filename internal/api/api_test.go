package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenwick-energy/phase-switcher/internal/config"
	"fenwick-energy/phase-switcher/internal/evse"
	"fenwick-energy/phase-switcher/internal/hardware"
	"fenwick-energy/phase-switcher/internal/logic"
	"fenwick-energy/phase-switcher/internal/meter"
	"fenwick-energy/phase-switcher/internal/mqttpub"
	"fenwick-energy/phase-switcher/internal/scheduler"
	"fenwick-energy/phase-switcher/internal/switcher"
	"fenwick-energy/phase-switcher/internal/telemetry"
)

func t0() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

func testConfig(enabled bool) logic.Config {
	return logic.Config{
		Enabled:       enabled,
		OperatingMode: logic.OneTwoThreeDynamic,
		DelayUp:       30 * time.Second,
		DelayDown:     30 * time.Second,
		MinDuration:   60 * time.Second,
		PauseTime:     30 * time.Second,
	}
}

// newTestServer wires a Switcher against a Harness running for real (its
// Defer channel is what handlers block on), matching internal/web's
// httptest.NewServer pattern.
func newTestServer(t *testing.T, enabled bool) (*httptest.Server, *Server, *scheduler.Harness) {
	t.Helper()
	logrus.SetLevel(logrus.PanicLevel)

	cfg := testConfig(enabled)
	sw := switcher.New(t0(), cfg, switcher.Deps{
		EVSE:      evse.NewFakeClient(nil),
		Meter:     meter.NewFakeReader(0, false),
		Relay:     hardware.NewFakeRelay(),
		DigitalIn: hardware.NewFakeDigitalIn(),
		Publisher: mqttpub.NewFakePublisher(),
		Recorder:  telemetry.NewRecorder(),
		Log:       logrus.StandardLogger(),
	})

	store := config.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	_, err := store.Save(cfg)
	require.NoError(t, err)

	harness := scheduler.New(scheduler.Callbacks{
		Tick:            func(time.Time) {},
		PublishSnapshot: func(time.Time) {},
		RecordTelemetry: func(time.Time) {},
	}, func() time.Time { return t0() }, logrus.StandardLogger())
	go harness.Run()
	t.Cleanup(harness.Stop)

	srv := New(Deps{
		Switcher:    sw,
		Scheduler:   harness,
		ConfigStore: store,
		Recorder:    telemetry.NewRecorder(),
		Now:         t0,
		Log:         logrus.StandardLogger(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, harness
}

func TestHandleStateReturnsSnapshotEnvelope(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/phase_switcher/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body stateJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, logic.Inactive.String(), body.PhaseSwitcher.SequencerState)
}

func TestHandleAvailablePowerAcceptedWhenEnabled(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(availablePowerRequest{PowerW: 7000}))

	resp, err := http.Post(ts.URL+"/phase_switcher/available_charging_power", "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleAvailablePowerRejectedWhenDisabled(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(availablePowerRequest{PowerW: 7000}))

	resp, err := http.Post(ts.URL+"/phase_switcher/available_charging_power", "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleStartQuickChargingReportsAcceptance(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/phase_switcher/start_quick_charging", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "accepted")
}

func TestHandleConfigRoundTrip(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/phase_switcher/config")
	require.NoError(t, err)
	var got configJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.EqualValues(t, 30, got.DelayUpS)

	got.DelayUpS = 45
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(got))

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/phase_switcher/config", &buf)
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	resp2, err := http.Get(ts.URL + "/phase_switcher/config")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var got2 configJSON
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got2))
	assert.EqualValues(t, 45, got2.DelayUpS)
}

func TestHandlePutConfigReloadsClampedValueNotRawRequest(t *testing.T) {
	ts, srv, harness := newTestServer(t, true)

	body := configJSON{DelayUpS: 1, DelayDownS: 30, MinDurationS: 60, PauseTimeS: 30}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/phase_switcher/config", &buf)
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	done := make(chan logic.Config, 1)
	harness.Defer(func() { done <- srv.deps.Switcher.ConfigInUse() })
	inUse := <-done

	assert.Equal(t, 10*time.Second, inUse.DelayUp, "live sequencer must reload the clamped value (min 10s), not the raw 1s request")
}

func TestHandleHistoryEndpointsReturnFullLengthSeries(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	for _, path := range []string{
		"/phase_switcher/requested_power_history",
		"/phase_switcher/charging_power_history",
		"/phase_switcher/requested_phases_history",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		var series []*int
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&series))
		resp.Body.Close()
		assert.Lenf(t, series, telemetry.Capacity, "%s: unexpected series length", path)
		for _, v := range series {
			assert.Nilf(t, v, "%s: expected an all-null series on a fresh recorder", path)
		}
	}
}

func TestHandleInvalidJSONBodyRejected(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/phase_switcher/available_charging_power", "application/json", bytes.NewBufferString("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSHeadersPresent(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/phase_switcher/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
