package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/roadsim/odotelem/internal/config"
	"github.com/roadsim/odotelem/internal/eventstore"
	"github.com/roadsim/odotelem/internal/fleet"
	"github.com/roadsim/odotelem/internal/sim"
	"github.com/roadsim/odotelem/internal/telemetry"
	"github.com/roadsim/odotelem/internal/version"
)

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, config.Config{}, nil, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected body %q", string(body))
	}

	// Ensure /api alias also works.
	respAPI, err := http.Get(ts.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("GET /api/healthz failed: %v", err)
	}
	respAPI.Body.Close()
	if respAPI.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for /api/healthz, got %d", respAPI.StatusCode)
	}
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	scenario := testScenario()
	vehicles := fleet.FromScenario(scenario)

	// Runner not configured -> degraded.
	_, ts := newTestHTTPServer(t, cfg, vehicles, nil, nil)
	defer ts.Close()

	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "runner_not_configured")
	assertReadyz(t, ts.URL+"/api/readyz", http.StatusServiceUnavailable, "degraded", "runner_not_configured")

	// Runner configured but not ticking yet -> initializing.
	runner := newTestRunner(t, scenario)
	_, tsInit := newTestHTTPServer(t, cfg, vehicles, runner, nil)
	defer tsInit.Close()

	assertReadyz(t, tsInit.URL+"/readyz", http.StatusServiceUnavailable, "initializing", "waiting_for_first_tick")

	// Now run the simulation and expect ready.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = runner.Run(ctx)
	}()

	waitFor(t, 2*time.Second, runner.Ready)
	assertReadyz(t, tsInit.URL+"/readyz", http.StatusOK, "ok", "")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})

	cfg := defaultTestConfig()
	_, ts := newTestHTTPServer(t, cfg, nil, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/version")
	if err != nil {
		t.Fatalf("GET /api/version failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var info version.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if info.Version != "v0.0.1" || info.Commit != "abc123" || info.BuildTime != "now" {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestServiceIndexServed(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	_, ts := newTestHTTPServer(t, cfg, nil, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var index map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if index["service"] != "odotelem" {
		t.Fatalf("unexpected service name %v", index["service"])
	}

	respMissing, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	respMissing.Body.Close()
	if respMissing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", respMissing.StatusCode)
	}
}

func TestAPIVehicles(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	vehicles := []fleet.Info{
		{ID: "veh-1", Name: "first", Plate: "AB-123"},
	}

	_, ts := newTestHTTPServer(t, cfg, vehicles, nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/vehicles")
	if err != nil {
		t.Fatalf("GET /api/vehicles failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var payload []fleet.Info
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(payload) != 1 || payload[0].ID != "veh-1" {
		t.Fatalf("unexpected vehicle payload %+v", payload)
	}
}

func TestAPIVehicleTelemetry(t *testing.T) {
	t.Parallel()

	scenario := testScenario()
	scenario.Meta.RunTime = 1
	runner := newTestRunner(t, scenario)
	if err := runner.RunSync(context.Background()); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	cfg := defaultTestConfig()
	vehicles := fleet.FromScenario(scenario)
	_, ts := newTestHTTPServer(t, cfg, vehicles, runner, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/vehicles/veh-1/telemetry?units=kmph")
	if err != nil {
		t.Fatalf("GET telemetry failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var payload telemetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}

	if payload.VehicleID != "veh-1" || !payload.HasSnapshot {
		t.Fatalf("unexpected telemetry payload %+v", payload)
	}
	if payload.SpeedUnit != "kmph" {
		t.Fatalf("unexpected speed unit %q", payload.SpeedUnit)
	}
	if payload.Snapshot.SpeedMPS <= 0 {
		t.Fatalf("expected positive speed, got %v", payload.Snapshot.SpeedMPS)
	}
	if math.Abs(payload.Speed-payload.Snapshot.SpeedMPS*3.6) > 1e-9 {
		t.Fatalf("speed conversion mismatch: %v vs %v m/s", payload.Speed, payload.Snapshot.SpeedMPS)
	}
	if !payload.Completed {
		t.Fatalf("expected completed scenario")
	}

	respBad, err := http.Get(ts.URL + "/api/vehicles/veh-1/telemetry?units=warp")
	if err != nil {
		t.Fatalf("GET telemetry with bad units failed: %v", err)
	}
	respBad.Body.Close()
	if respBad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad units, got %d", respBad.StatusCode)
	}

	respUnknown, err := http.Get(ts.URL + "/api/vehicles/ghost/telemetry")
	if err != nil {
		t.Fatalf("GET unknown telemetry failed: %v", err)
	}
	respUnknown.Body.Close()
	if respUnknown.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown vehicle, got %d", respUnknown.StatusCode)
	}
}

func TestAPIVehicleViolations(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	vehicles := []fleet.Info{{ID: "veh-1", Name: "first"}}

	// Persistence disabled -> 503.
	_, tsNoStore := newTestHTTPServer(t, cfg, vehicles, nil, nil)
	defer tsNoStore.Close()

	respDisabled, err := http.Get(tsNoStore.URL + "/api/vehicles/veh-1/violations")
	if err != nil {
		t.Fatalf("GET violations failed: %v", err)
	}
	respDisabled.Body.Close()
	if respDisabled.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without event store, got %d", respDisabled.StatusCode)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := eventstore.Open(filepath.Join(t.TempDir(), "events.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	wall := time.Now().UTC()
	if err := store.Insert(telemetry.ViolationEvent{
		ID:          uuid.NewString(),
		VehicleID:   "veh-1",
		Zone:        "urban",
		LimitMPS:    10,
		MaxSpeedMPS: 14,
		MinSpeedMPS: 11,
		Duration:    1.5,
		SimStart:    3,
		SimEnd:      4.5,
		WallStart:   wall,
		WallEnd:     wall.Add(1500 * time.Millisecond),
		Severity:    telemetry.SeverityWarning,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	_, ts := newTestHTTPServer(t, cfg, vehicles, nil, store)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/vehicles/veh-1/violations?limit=10")
	if err != nil {
		t.Fatalf("GET violations failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var events []telemetry.ViolationEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode violations: %v", err)
	}
	if len(events) != 1 || events[0].Zone != "urban" {
		t.Fatalf("unexpected violations payload %+v", events)
	}

	respBad, err := http.Get(ts.URL + "/api/vehicles/veh-1/violations?limit=-1")
	if err != nil {
		t.Fatalf("GET violations with bad limit failed: %v", err)
	}
	respBad.Body.Close()
	if respBad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", respBad.StatusCode)
	}
}

func TestAPIVehiclePublishRate(t *testing.T) {
	t.Parallel()

	scenario := testScenario()
	runner := newTestRunner(t, scenario)

	cfg := defaultTestConfig()
	vehicles := fleet.FromScenario(scenario)
	_, ts := newTestHTTPServer(t, cfg, vehicles, runner, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/vehicles/veh-1/publish_rate")
	if err != nil {
		t.Fatalf("GET publish_rate failed: %v", err)
	}
	var current publishRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&current); err != nil {
		t.Fatalf("decode publish_rate: %v", err)
	}
	resp.Body.Close()
	if current.Hz != cfg.PublishHz {
		t.Fatalf("unexpected initial rate %v", current.Hz)
	}

	putRate := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/vehicles/veh-1/publish_rate", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("build PUT request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT publish_rate failed: %v", err)
		}
		return resp
	}

	respPut := putRate(`{"hz": 2.5}`)
	defer respPut.Body.Close()
	if respPut.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respPut.StatusCode)
	}
	var updated publishRateResponse
	if err := json.NewDecoder(respPut.Body).Decode(&updated); err != nil {
		t.Fatalf("decode updated rate: %v", err)
	}
	if updated.Hz != 2.5 {
		t.Fatalf("rate update failed, got %v", updated.Hz)
	}

	respInvalid := putRate(`{"hz": 0}`)
	respInvalid.Body.Close()
	if respInvalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive rate, got %d", respInvalid.StatusCode)
	}
}

func TestWebSocketHelloAndTelemetry(t *testing.T) {
	t.Parallel()

	scenario := testScenario()
	runner := newTestRunner(t, scenario)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = runner.Run(ctx) }()

	cfg := defaultTestConfig()
	vehicles := fleet.FromScenario(scenario)
	_, ts := newTestHTTPServer(t, cfg, vehicles, runner, nil)
	defer ts.Close()

	wsURL := toWebsocketURL(ts.URL + "/ws")
	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()

	conn, _, err := websocket.Dial(cctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	helloType, helloData, err := conn.Read(cctx)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if helloType != websocket.MessageText {
		t.Fatalf("unexpected hello type %v", helloType)
	}

	var helloMsg map[string]interface{}
	if err := json.Unmarshal(helloData, &helloMsg); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if helloMsg["type"] != "hello" {
		t.Fatalf("expected hello message, got %q", helloMsg["type"])
	}

	// Next message should be a telemetry broadcast for the default vehicle.
	telemType, telemData, err := conn.Read(cctx)
	if err != nil {
		t.Fatalf("read telemetry: %v", err)
	}
	if telemType != websocket.MessageText {
		t.Fatalf("unexpected telemetry type %v", telemType)
	}

	var telemMsg map[string]interface{}
	if err := json.Unmarshal(telemData, &telemMsg); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if telemMsg["type"] != "telemetry" {
		t.Fatalf("expected telemetry message, got %q", telemMsg["type"])
	}
	if telemMsg["vehicle_id"] != "veh-1" {
		t.Fatalf("unexpected vehicle id %v", telemMsg["vehicle_id"])
	}
}

func testScenario() sim.Scenario {
	limit := 10.0
	return sim.Scenario{
		Meta: sim.Meta{Name: "loop", TimeStep: 0.005, RunTime: 60},
		Route: []sim.Segment{
			{LengthM: 1000, Zone: "urban", LimitMPS: &limit},
		},
		Vehicles: []sim.VehicleSpec{
			{
				ID:        "veh-1",
				Name:      "first",
				AccelMPS2: 2,
				DecelMPS2: 4,
				Phases: []sim.Phase{
					{DurationS: 60, TargetSpeedMPS: 15},
				},
			},
		},
	}
}

func newTestRunner(t *testing.T, scenario sim.Scenario) *sim.Runner {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := sim.NewRunner(scenario, sim.RunnerConfig{
		PublishHz:    200,
		DistanceUnit: "m",
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewRunner error: %v", err)
	}
	return runner
}

func newTestHTTPServer(t *testing.T, cfg config.Config, vehicles []fleet.Info, runner *sim.Runner, store *eventstore.Store) (*Server, *httptest.Server) {
	t.Helper()

	if cfg.ListenAddr == "" {
		cfg = defaultTestConfig()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, vehicles, runner, store)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d for %s, got %d", expectedStatus, url, resp.StatusCode)
	}

	var payload readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readyz response: %v", err)
	}

	if payload.Status != expected {
		t.Fatalf("expected status %q, got %q", expected, payload.Status)
	}
	if reason == "" {
		if payload.Reason != "" {
			t.Fatalf("expected empty reason, got %q", payload.Reason)
		}
	} else if payload.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, payload.Reason)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func defaultTestConfig() config.Config {
	return config.Config{
		ListenAddr:     ":0",
		PublishHz:      200,
		DistanceUnit:   "m",
		AllowedOrigins: []string{"*"},
		DefaultVehicle: "auto",
		WS: config.WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}
}

func toWebsocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return httpURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
