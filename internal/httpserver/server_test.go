package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/runmerge/internal/duckdb"
	"github.com/tinytelemetry/runmerge/internal/metrics"
	"github.com/tinytelemetry/runmerge/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *duckdb.Store, http.Handler) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	m.Pair(metrics.StatusProcessed)

	srv := NewServer("", store, WithGatherer(m.Registry()), WithNotFound(duckdb.ErrRunNotFound))
	srv.startTime = time.Now()
	return srv, store, srv.Handler()
}

func seedRun(t *testing.T, store *duckdb.Store) {
	t.Helper()
	base := time.Date(2025, 6, 1, 21, 44, 26, 0, time.UTC)
	merged := model.NewStream(model.Metric)
	for i := 0; i < 3; i++ {
		r := model.NewRecord(model.Metric, base.Add(time.Duration(i)*time.Second))
		r.Fields.Set("pci", 1)
		r.Fields.Set("ue_dl_brate", "45.3Mbps")
		merged.Append(r)
	}
	run := &model.ProcessedRun{
		RunID:       "20250601_214426",
		BatchID:     "b1",
		PrimaryLog:  "20250601_214426_gnb.log",
		ToolLog:     "20250601_214426_iperf3.log",
		ProcessedAt: base,
		Metadata: model.Metadata{
			Config:      []model.Pair{{Key: "cell_cfg.pci", Value: "1"}},
			ToolCommand: "iperf3 -c 10.45.0.1",
		},
		Tables: []model.NamedStream{{Name: "merged", Stream: merged}},
	}
	if err := store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decode(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["run_count"] != float64(1) || body["row_count"] != float64(3) {
		t.Errorf("counts = %v/%v, want 1/3", body["run_count"], body["row_count"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, _, h := newTestServer(t)

	w := doRequest(t, h, http.MethodPost, "/api/health", "")
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	_, store, h := newTestServer(t)

	w := doRequest(t, h, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("runs status = %d", w.Code)
	}
	if got := decode(t, w)["count"]; got != float64(0) {
		t.Errorf("empty count = %v, want 0", got)
	}

	seedRun(t, store)
	w = doRequest(t, h, http.MethodGet, "/api/runs", "")
	body := decode(t, w)
	runs, ok := body["runs"].([]interface{})
	if !ok || len(runs) != 1 {
		t.Fatalf("runs = %v, want one entry", body["runs"])
	}
	first := runs[0].(map[string]interface{})
	if first["run_id"] != "20250601_214426" || first["row_count"] != float64(3) {
		t.Errorf("run = %v", first)
	}
}

func TestRunEndpoint(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodGet, "/api/runs/20250601_214426", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d; body: %s", w.Code, w.Body.String())
	}
	meta := decode(t, w)["metadata"].([]interface{})
	if len(meta) != 2 {
		t.Fatalf("metadata = %v, want config key and tool command", meta)
	}
	if kv := meta[0].(map[string]interface{}); kv["key"] != "cell_cfg.pci" || kv["value"] != "1" {
		t.Errorf("first metadata pair = %v", kv)
	}
}

func TestRunEndpoint_NotFound(t *testing.T) {
	_, _, h := newTestServer(t)

	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/rows"} {
		w := doRequest(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func TestRowsEndpoint(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodGet, "/api/runs/20250601_214426/rows?table=merged&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rows status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	rows := body["rows"].([]interface{})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	row := rows[1].(map[string]interface{})
	fields := row["fields"].(map[string]interface{})
	if fields["ue_dl_brate"] != "45.3Mbps" {
		t.Errorf("fields = %v", fields)
	}
	if _, ok := row["time"]; !ok {
		t.Error("timed row should carry time")
	}
}

func TestRowsEndpoint_BadLimit(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	for _, limit := range []string{"0", "-3", "many"} {
		w := doRequest(t, h, http.MethodGet, "/api/runs/20250601_214426/rows?limit="+limit, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, w.Code)
		}
	}
}

func TestRatesEndpoint(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodGet, "/api/rates", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rates status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["field"] != DefaultRateField {
		t.Errorf("field = %v, want %s", body["field"], DefaultRateField)
	}
	runs := body["runs"].([]interface{})
	if len(runs) != 1 {
		t.Fatalf("runs = %v, want one", runs)
	}
	r := runs[0].(map[string]interface{})
	mean, _ := r["mean_mbps"].(float64)
	if r["samples"] != float64(3) || math.Abs(mean-45.3) > 1e-9 || r["max_mbps"] != 45.3 {
		t.Errorf("rate = %v", r)
	}

	w = doRequest(t, h, http.MethodGet, "/api/rates?field=nope", "")
	if got := decode(t, w)["runs"].([]interface{}); len(got) != 0 {
		t.Errorf("unknown field runs = %v, want none", got)
	}
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodPost, "/api/query", `{"sql": "SELECT COUNT(*) AS cnt FROM run_rows"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d; body: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["row_count"]; got != float64(1) {
		t.Errorf("row_count = %v, want 1", got)
	}
}

func TestQueryEndpoint_ValidWith(t *testing.T) {
	_, store, h := newTestServer(t)
	seedRun(t, store)

	w := doRequest(t, h, http.MethodPost, "/api/query", `{"sql": "WITH c AS (SELECT COUNT(*) AS cnt FROM runs) SELECT cnt FROM c"}`)
	if w.Code != http.StatusOK {
		t.Errorf("query WITH status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestQueryEndpoint_Rejected(t *testing.T) {
	_, _, h := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"insert", `{"sql": "INSERT INTO runs (run_id) VALUES ('x')"}`},
		{"drop", `{"sql": "DROP TABLE runs"}`},
		{"copy", `{"sql": "SELECT 1; COPY runs TO '/tmp/evil.csv'"}`},
		{"attach", `{"sql": "SELECT 1; ATTACH '/tmp/evil.db'"}`},
		{"empty", `{"sql": ""}`},
		{"not json", `sql=SELECT 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/api/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestSchemaEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)

	w := doRequest(t, h, http.MethodGet, "/api/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("schema status = %d", w.Code)
	}
	tables := decode(t, w)["tables"].(map[string]interface{})
	for _, name := range []string{"runs", "run_config", "run_rows"} {
		if _, ok := tables[name]; !ok {
			t.Errorf("schema missing table %s", name)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)

	w := doRequest(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "runmerge_pairs_total") {
		t.Errorf("metrics output missing runmerge_pairs_total:\n%s", w.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	_, store, _ := newTestServer(t)
	srv := NewServer("127.0.0.1:0", store)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	w := doRequest(t, srv.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("metrics without gatherer status = %d, want 404", w.Code)
	}
}
