package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/live"
	"github.com/sweeney/ward-monitor/internal/metrics"
	"github.com/sweeney/ward-monitor/internal/reading"
	"github.com/sweeney/ward-monitor/internal/report"
	"github.com/sweeney/ward-monitor/internal/status"
	"github.com/sweeney/ward-monitor/internal/store"
)

type testEnv struct {
	ts      *httptest.Server
	tracker *status.Tracker
	store   *store.FileStore
}

func newTestServer(t *testing.T, mutate func(*Deps)) testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st, err := store.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tr := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{
		StorageMode: store.ModeFile,
		Broker:      "tcp://localhost:1883",
		HTTPAddr:    ":8080",
	})
	svc := ingest.NewService(st, logger, ingest.WithListener(tr))

	deps := Deps{
		Ingester: svc,
		Readings: st,
		Tracker:  tr,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := New(":0", deps, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, tracker: tr, store: st}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

func TestReceiveAndLatest(t *testing.T) {
	env := newTestServer(t, nil)

	resp := post(t, env.ts.URL+"/iot/receive", `{"device_id":"simulator-001","timestamp":"2026-03-01T10:00:00Z","temperature":22.4,"co2":"812"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var ok OKJSON
	decode(t, resp, &ok)
	if ok.Status != "ok" {
		t.Errorf("status: got %q, want ok", ok.Status)
	}

	resp = get(t, env.ts.URL+"/iot/latest")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var rd reading.Reading
	decode(t, resp, &rd)
	if rd.DeviceID != "simulator-001" {
		t.Errorf("DeviceID: got %q", rd.DeviceID)
	}
	if rd.CO2 == nil || *rd.CO2 != 812 {
		t.Errorf("CO2: got %v, want 812", rd.CO2)
	}
	if rd.Humidity != nil {
		t.Errorf("Humidity: got %v, want nil", *rd.Humidity)
	}
	if rd.ReceivedAt == nil {
		t.Error("expected received_at to be stamped")
	}

	if got := env.tracker.Snapshot().Counts.Accepted; got != 1 {
		t.Errorf("tracker Accepted: got %d, want 1", got)
	}
}

func TestReceiveRejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"empty body", "", ingest.ReasonEmptyPayload},
		{"not json", "temperature=21", ingest.ReasonMalformedInput},
		{"json array", "[1,2,3]", ingest.ReasonMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, nil)

			resp := post(t, env.ts.URL+"/iot/receive", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}
			var e ErrorJSON
			decode(t, resp, &e)
			if e.Status != "error" || e.Message != tt.wantMsg {
				t.Errorf("body: got %+v, want message %q", e, tt.wantMsg)
			}

			if resp := get(t, env.ts.URL+"/iot/latest"); resp.StatusCode != http.StatusNotFound {
				t.Errorf("latest after rejection: got %d, want 404", resp.StatusCode)
			}
		})
	}
}

type brokenIngester struct{}

func (brokenIngester) Ingest(context.Context, []byte) (reading.Reading, error) {
	return reading.Reading{}, &ingest.StorageFailure{Err: errors.New("disk full")}
}

func TestReceiveStorageFailure(t *testing.T) {
	env := newTestServer(t, func(d *Deps) { d.Ingester = brokenIngester{} })

	resp := post(t, env.ts.URL+"/iot/receive", `{"temperature":20}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	var e ErrorJSON
	decode(t, resp, &e)
	if e.Message != ingest.ReasonStorageFailure {
		t.Errorf("message: got %q", e.Message)
	}
}

func TestReceiveTooLarge(t *testing.T) {
	env := newTestServer(t, nil)

	body := `{"device_id":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	resp := post(t, env.ts.URL+"/iot/receive", body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", resp.StatusCode)
	}
}

func TestLatestNoData(t *testing.T) {
	env := newTestServer(t, nil)

	resp := get(t, env.ts.URL+"/iot/latest")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	var e ErrorJSON
	decode(t, resp, &e)
	if e.Message != "no data yet" {
		t.Errorf("message: got %q, want no data yet", e.Message)
	}
}

func TestHistory(t *testing.T) {
	env := newTestServer(t, nil)
	for i := 1; i <= 5; i++ {
		body := fmt.Sprintf(`{"timestamp":"2026-03-01T10:%02d:00Z","co2":%d}`, i, i*100)
		if resp := post(t, env.ts.URL+"/iot/receive", body); resp.StatusCode != http.StatusOK {
			t.Fatalf("receive %d: got %d", i, resp.StatusCode)
		}
	}

	resp := get(t, env.ts.URL+"/iot/history?limit=3")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var history []reading.Reading
	decode(t, resp, &history)
	if len(history) != 3 {
		t.Fatalf("len: got %d, want 3", len(history))
	}
	for i, want := range []int64{300, 400, 500} {
		if history[i].CO2 == nil || *history[i].CO2 != want {
			t.Errorf("history[%d].CO2: got %v, want %d", i, history[i].CO2, want)
		}
	}

	resp = get(t, env.ts.URL+"/iot/history")
	decode(t, resp, &history)
	if len(history) != 5 {
		t.Errorf("default limit: got %d readings, want 5", len(history))
	}
}

func TestHistoryEmptyIsArray(t *testing.T) {
	env := newTestServer(t, nil)

	resp := get(t, env.ts.URL+"/iot/history")
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestHistoryBadLimit(t *testing.T) {
	env := newTestServer(t, nil)

	for _, q := range []string{"0", "-4", "ten"} {
		resp := get(t, env.ts.URL+"/iot/history?limit="+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", q, resp.StatusCode)
		}
	}
}

type countingReadings struct {
	store.Store
	limit int
}

func (c *countingReadings) GetHistory(_ context.Context, limit int) ([]reading.Reading, error) {
	c.limit = limit
	return []reading.Reading{}, nil
}

func TestHistoryLimitIsCapped(t *testing.T) {
	rd := &countingReadings{}
	env := newTestServer(t, func(d *Deps) {
		d.Readings = rd
		d.MaxHistoryLimit = 50
	})

	get(t, env.ts.URL+"/iot/history?limit=100000")
	if rd.limit != 50 {
		t.Errorf("limit: got %d, want 50", rd.limit)
	}

	get(t, env.ts.URL+"/iot/history")
	if rd.limit != 50 {
		t.Errorf("default limit above max should be capped: got %d, want 50", rd.limit)
	}
}

func seedMetricsDB(t *testing.T, stmts ...string) *metrics.Dashboard {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlog.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(metrics.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
	db.Close()

	src, err := metrics.OpenSQLSource(path)
	if err != nil {
		t.Fatalf("OpenSQLSource: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return metrics.NewDashboard(src)
}

func TestMetricsEndpoints(t *testing.T) {
	dash := seedMetricsDB(t,
		`INSERT INTO backlog_items (id, sprint_id, code, title, priority, points) VALUES (1, '1', 'US-01', 'Admit', 'high', 5), (2, '1', 'US-02', 'Discharge', 'low', 8)`,
		`INSERT INTO sprint_financials (sprint_id, ev, ac, pv) VALUES ('1', 50, 100, 40), ('2', 30, 0, 20)`,
		`INSERT INTO burndown_points (sprint_id, log_date, ideal_points, actual_points) VALUES ('1', '2024-01-01', 10, 10), ('1', '2024-01-02', 5, 8)`,
		`INSERT INTO sprint_risks (id, sprint_id, risk, probability, impact, mitigation_action) VALUES (1, '1', 'staffing', 'high', 'high', 'cross-train')`,
	)
	env := newTestServer(t, func(d *Deps) { d.Metrics = dash })

	var velocity map[string]int
	decode(t, get(t, env.ts.URL+"/metrics/velocity"), &velocity)
	if velocity["velocity"] != 13 {
		t.Errorf("velocity: got %v, want 13", velocity)
	}

	var cpi map[string]*float64
	decode(t, get(t, env.ts.URL+"/metrics/cpi"), &cpi)
	if cpi["cpi"] == nil || *cpi["cpi"] != 0.8 {
		t.Errorf("cpi: got %v, want 0.8", cpi["cpi"])
	}

	var spi map[string]*float64
	decode(t, get(t, env.ts.URL+"/metrics/spi"), &spi)
	if spi["spi"] == nil || *spi["spi"] != 1.33 {
		t.Errorf("spi: got %v, want 1.33", spi["spi"])
	}

	var burndown metrics.Burndown
	decode(t, get(t, env.ts.URL+"/metrics/burndown"), &burndown)
	if len(burndown.Ideal) != 2 || len(burndown.Actual) != 2 {
		t.Errorf("burndown: got %+v", burndown)
	}

	var aligned []metrics.AlignedSprint
	decode(t, get(t, env.ts.URL+"/metrics/burndown/aligned"), &aligned)
	if len(aligned) != 1 || len(aligned[0].Dates) != 2 {
		t.Errorf("aligned: got %+v", aligned)
	}

	var backlog []metrics.BacklogItem
	decode(t, get(t, env.ts.URL+"/metrics/backlog"), &backlog)
	if len(backlog) != 2 || backlog[0].Code != "US-01" {
		t.Errorf("backlog: got %+v", backlog)
	}

	var risks []metrics.RiskEntry
	decode(t, get(t, env.ts.URL+"/metrics/risks"), &risks)
	if len(risks) != 1 || risks[0].Risk != "staffing" {
		t.Errorf("risks: got %+v", risks)
	}

	var summary metrics.Summary
	decode(t, get(t, env.ts.URL+"/metrics/summary"), &summary)
	if summary.Velocity != 13 || !summary.HasFinancials {
		t.Errorf("summary: got %+v", summary)
	}
}

func TestRatioEndpointsWithoutFinancials(t *testing.T) {
	dash := seedMetricsDB(t)
	env := newTestServer(t, func(d *Deps) { d.Metrics = dash })

	for _, path := range []string{"/metrics/cpi", "/metrics/spi"} {
		resp := get(t, env.ts.URL+path)
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("%s: got %d, want 204", path, resp.StatusCode)
		}
	}
}

func TestRatioEndpointZeroDenominator(t *testing.T) {
	dash := seedMetricsDB(t, `INSERT INTO sprint_financials (sprint_id, ev, ac, pv) VALUES ('1', 10, 0, 0)`)
	env := newTestServer(t, func(d *Deps) { d.Metrics = dash })

	resp := get(t, env.ts.URL+"/metrics/cpi")
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"cpi":null}` {
		t.Errorf("body: got %s, want {\"cpi\":null}", body)
	}
}

type failingMetrics struct{ Metrics }

func (failingMetrics) Velocity(context.Context) (int, error) {
	return 0, errors.New("database is locked")
}

func TestMetricsSourceFailure(t *testing.T) {
	env := newTestServer(t, func(d *Deps) { d.Metrics = failingMetrics{} })

	resp := get(t, env.ts.URL+"/metrics/velocity")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}

	// Ingestion keeps working while the metrics source is down.
	if resp := post(t, env.ts.URL+"/iot/receive", `{"temperature":21}`); resp.StatusCode != http.StatusOK {
		t.Errorf("receive: got %d, want 200", resp.StatusCode)
	}
}

func TestMetricsNotConfigured(t *testing.T) {
	env := newTestServer(t, nil)

	resp := get(t, env.ts.URL+"/metrics/backlog")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
}

type fakeGenerator struct {
	out     []byte
	err     error
	kind    string
	payload []byte
}

func (f *fakeGenerator) Generate(_ context.Context, kind string, payload []byte) ([]byte, error) {
	f.kind = kind
	f.payload = payload
	return f.out, f.err
}

func TestReports(t *testing.T) {
	tests := []struct {
		name     string
		gen      *fakeGenerator
		wantCode int
	}{
		{"ok", &fakeGenerator{out: []byte(`{"titulo":"Status"}`)}, http.StatusOK},
		{"unknown kind", &fakeGenerator{err: report.ErrUnknownKind}, http.StatusNotFound},
		{"timeout", &fakeGenerator{err: report.ErrTimeout}, http.StatusGatewayTimeout},
		{"bad output", &fakeGenerator{err: &report.OutputError{Raw: "Traceback"}}, http.StatusBadGateway},
		{"exec failure", &fakeGenerator{err: errors.New("exec: not found")}, http.StatusBadGateway},
		{"not configured", &fakeGenerator{err: report.ErrNotConfigured}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, func(d *Deps) { d.Reports = tt.gen })

			resp := post(t, env.ts.URL+"/reports/lessons", `{"kpis":{}}`)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.gen.kind != "lessons" {
				t.Errorf("kind: got %q, want lessons", tt.gen.kind)
			}
			if string(tt.gen.payload) != `{"kpis":{}}` {
				t.Errorf("payload: got %s", tt.gen.payload)
			}
		})
	}
}

func TestReportBadOutputCarriesRaw(t *testing.T) {
	gen := &fakeGenerator{err: &report.OutputError{Raw: "SyntaxError: bad"}}
	env := newTestServer(t, func(d *Deps) { d.Reports = gen })

	var e ErrorJSON
	decode(t, post(t, env.ts.URL+"/reports/report", ""), &e)
	if e.Raw != "SyntaxError: bad" {
		t.Errorf("raw: got %q", e.Raw)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	env.tracker.SetMQTTConnected(true)
	post(t, env.ts.URL+"/iot/receive", `{"device_id":"ward-3","temperature":21}`)
	post(t, env.ts.URL+"/iot/receive", `nope`)

	resp := get(t, env.ts.URL+"/status.json")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var sj status.StatusJSON
	decode(t, resp, &sj)

	if sj.Status.Counts.Accepted != 1 {
		t.Errorf("Counts.Accepted: got %d, want 1", sj.Status.Counts.Accepted)
	}
	if sj.Status.Counts.MalformedInput != 1 {
		t.Errorf("Counts.MalformedInput: got %d, want 1", sj.Status.Counts.MalformedInput)
	}
	if sj.Status.LastDevice != "ward-3" {
		t.Errorf("LastDevice: got %q, want ward-3", sj.Status.LastDevice)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.StorageMode != store.ModeFile {
		t.Errorf("Config.StorageMode: got %q", sj.Status.Config.StorageMode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestServer(t, nil)

	resp := get(t, env.ts.URL+"/status.json")
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/status.json", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id: got %q, want abc-123", got)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestServer(t, nil)

	if resp := get(t, env.ts.URL+"/nonexistent"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path: got %d, want 404", resp.StatusCode)
	}
	if resp := get(t, env.ts.URL+"/iot/receive"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /iot/receive: got %d, want 405", resp.StatusCode)
	}
}

func TestLiveDisabled(t *testing.T) {
	env := newTestServer(t, nil)

	if resp := get(t, env.ts.URL+"/ws"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
}

func TestLiveRouteReachesHub(t *testing.T) {
	hub := live.NewHub(zaptest.NewLogger(t))
	env := newTestServer(t, func(d *Deps) { d.Live = hub })

	// A plain GET is not a websocket handshake; the hub rejects it itself.
	resp := get(t, env.ts.URL+"/ws")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	env := newTestServer(t, func(d *Deps) { d.Readings = panicReadings{} })

	resp := get(t, env.ts.URL+"/iot/latest")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", resp.StatusCode)
	}
	// The server is still up.
	if resp := get(t, env.ts.URL+"/status.json"); resp.StatusCode != http.StatusOK {
		t.Errorf("status after panic: got %d", resp.StatusCode)
	}
}

type panicReadings struct{ store.Store }

func (panicReadings) GetLatest(context.Context) (reading.Reading, error) {
	panic("boom")
}

func TestRoutesServeOverListener(t *testing.T) {
	srv := New("127.0.0.1:0", Deps{Tracker: status.NewTracker(time.Now(), status.Config{})}, nil)
	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.Start()
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status.json", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status.json: got %d, want 405", resp.StatusCode)
	}
}
