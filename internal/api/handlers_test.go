package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func createDataset(t *testing.T, s *Server, body string) string {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.DatasetsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("dataset create: got %d body %s", rr.Code, rr.Body.String())
	}
	var ds struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &ds); err != nil || ds.ID == "" {
		t.Fatalf("dataset create: bad body %s", rr.Body.String())
	}
	return ds.ID
}

const demoDataset = `{"name":"demo",
	"suppliers":[{"id":"S1","lat":40.0,"lng":-74.0}],
	"customers":[{"id":"C1","lat":41.0,"lng":-73.0}],
	"shipments":[
		{"origin":"S1","destination":"Warehouse","volume":100},
		{"origin":"Warehouse","destination":"C1","volume":50}]}`

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestDatasetLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := createDataset(t, s, demoDataset)

	rr := httptest.NewRecorder()
	s.DatasetsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/datasets?limit=5", nil))
	if rr.Code != 200 {
		t.Fatalf("datasets list: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.DatasetByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/datasets/"+id, nil))
	if rr.Code != 200 {
		t.Fatalf("dataset get: got %d", rr.Code)
	}
	var ds struct {
		NodeCount   int     `json:"nodeCount"`
		TotalVolume float64 `json:"totalVolume"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &ds)
	if ds.NodeCount != 2 || ds.TotalVolume != 150 {
		t.Fatalf("dataset summary: %+v", ds)
	}

	rr = httptest.NewRecorder()
	s.DatasetByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/datasets/"+id+"/nodes", nil))
	if rr.Code != 200 {
		t.Fatalf("nodes: got %d", rr.Code)
	}
	var nodes struct {
		Items []struct {
			ID     string  `json:"id"`
			Kind   string  `json:"kind"`
			Volume float64 `json:"volume"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &nodes)
	if len(nodes.Items) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes.Items))
	}

	rr = httptest.NewRecorder()
	s.DatasetByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/datasets/"+id, nil))
	if rr.Code != 204 {
		t.Fatalf("dataset delete: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.DatasetByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/datasets/"+id, nil))
	if rr.Code != 404 {
		t.Fatalf("deleted dataset get: got %d", rr.Code)
	}
}

func TestDatasetCSVUpload(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{
		"name":         "csv",
		"suppliersCsv": "Supplier_ID,Latitude,Longitude\nS1,40.0,-74.0\n",
		"customersCsv": "Customer_ID,Latitude,Longitude\nC1,41.0,-73.0\n",
		"shipmentsCsv": "Origin,Destination,Volume_m3\nS1,Warehouse,100\nWarehouse,C1,50\n",
	}
	b, _ := json.Marshal(body)
	id := createDataset(t, s, string(b))
	rr := httptest.NewRecorder()
	s.DatasetByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/datasets/"+id, nil))
	var ds struct {
		NodeCount   int     `json:"nodeCount"`
		TotalVolume float64 `json:"totalVolume"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &ds)
	if ds.NodeCount != 2 || ds.TotalVolume != 150 {
		t.Fatalf("csv dataset summary: %+v", ds)
	}
}

func TestSolveFlow(t *testing.T) {
	s := newTestServer(t)
	id := createDataset(t, s, demoDataset)

	b, _ := json.Marshal(map[string]any{"datasetId": id})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	s.SolveHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("solve: %d body %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Solve struct {
			ID        string `json:"id"`
			Converged bool   `json:"converged"`
			BestLocation struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"bestLocation"`
		} `json:"solve"`
		Trace []struct {
			Iteration int `json:"iteration"`
		} `json:"trace"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode solve: %v", err)
	}
	if !res.Solve.Converged || len(res.Trace) == 0 {
		t.Fatalf("unexpected solve result: %+v", res.Solve)
	}
	if res.Solve.BestLocation.Lat < 40.0 || res.Solve.BestLocation.Lat > 41.0 {
		t.Fatalf("best location out of range: %+v", res.Solve.BestLocation)
	}

	// stored views
	rr = httptest.NewRecorder()
	s.SolveByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solves/"+res.Solve.ID, nil))
	if rr.Code != 200 {
		t.Fatalf("solve get: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.SolveByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solves/"+res.Solve.ID+"/trace", nil))
	if rr.Code != 200 {
		t.Fatalf("trace get: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.SolveByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solves/"+res.Solve.ID+"/geojson", nil))
	if rr.Code != 200 {
		t.Fatalf("geojson get: %d", rr.Code)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode geojson: %v", err)
	}
	// 2 nodes + trace line + best point
	if fc.Type != "FeatureCollection" || len(fc.Features) < 3 {
		t.Fatalf("unexpected feature collection: %+v", fc)
	}

	rr = httptest.NewRecorder()
	s.SolvesIndexHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solves?datasetId="+id, nil))
	if rr.Code != 200 {
		t.Fatalf("solves list: %d", rr.Code)
	}
}

func TestSolveErrors(t *testing.T) {
	s := newTestServer(t)

	// unknown dataset
	b, _ := json.Marshal(map[string]any{"datasetId": "missing"})
	rr := httptest.NewRecorder()
	s.SolveHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b)))
	if rr.Code != 404 {
		t.Fatalf("missing dataset: got %d", rr.Code)
	}

	// zero total volume
	id := createDataset(t, s, `{"name":"zero",
		"suppliers":[{"id":"S1","lat":40.0,"lng":-74.0}],
		"customers":[],
		"shipments":[{"origin":"S1","destination":"Warehouse","volume":0}]}`)
	b, _ = json.Marshal(map[string]any{"datasetId": id})
	rr = httptest.NewRecorder()
	s.SolveHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero volume: got %d body %s", rr.Code, rr.Body.String())
	}

	// bad algorithm rejected before the store is hit
	b, _ = json.Marshal(map[string]any{"datasetId": id, "algorithm": "annealing"})
	rr = httptest.NewRecorder()
	s.SolveHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b)))
	if rr.Code != 400 {
		t.Fatalf("bad algorithm: got %d", rr.Code)
	}
}

func TestSolverConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.SolverConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solver/config", nil))
	if rr.Code != 200 {
		t.Fatalf("solver config: %d", rr.Code)
	}
	var cfg struct {
		Defaults map[string]any `json:"defaults"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &cfg)
	if cfg.Defaults["algorithm"] != "weiszfeld" {
		t.Fatalf("default algorithm: %v", cfg.Defaults["algorithm"])
	}

	// admin override
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/solver/config", strings.NewReader(`{"algorithm":"neldermead"}`))
	s.AdminSolverConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("admin config put: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.SolverConfigHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solver/config", nil))
	_ = json.Unmarshal(rr.Body.Bytes(), &cfg)
	if cfg.Defaults["algorithm"] != "neldermead" {
		t.Fatalf("overridden algorithm: %v", cfg.Defaults["algorithm"])
	}

	// the override steers runs, not just the defaults display
	id := createDataset(t, s, demoDataset)
	b, _ := json.Marshal(map[string]any{"datasetId": id})
	rr = httptest.NewRecorder()
	sreq := httptest.NewRequest(http.MethodPost, "/v1/solve", bytes.NewReader(b))
	sreq.Header.Set("Content-Type", "application/json")
	s.SolveHandler(rr, sreq)
	if rr.Code != 200 {
		t.Fatalf("solve under override: %d body %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Solve struct {
			Algorithm string `json:"algorithm"`
		} `json:"solve"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode solve: %v", err)
	}
	if res.Solve.Algorithm != "neldermead" {
		t.Fatalf("solve ignored tenant config, ran %q", res.Solve.Algorithm)
	}
}

func TestRoleEnforcement(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", strings.NewReader(demoDataset))
	req.Header.Set("X-Role", "viewer")
	s.DatasetsHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("viewer dataset create: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/solve-stats", nil)
	req.Header.Set("X-Role", "planner")
	s.SolveStatsHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("planner admin stats: got %d", rr.Code)
	}
}

// sseRecorder implements http.Flusher so the SSE handler can stream.
type sseRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *sseRecorder) Flush() {}

func (r *sseRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *sseRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func TestDatasetEventsStream(t *testing.T) {
	s := newTestServer(t)
	id := createDataset(t, s, demoDataset)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/"+id+"/events/stream", nil).WithContext(ctx)
	rec := &sseRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		s.DatasetByIDHandler(rec, req)
		close(done)
	}()

	// wait for the subscription, then publish
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(rec.body(), "stream.open") {
		if time.Now().After(deadline) {
			t.Fatal("stream never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Broker.Publish(id, SSEEvent{Type: "solve.completed", Data: map[string]any{"solveId": "x"}})

	for !strings.Contains(rec.body(), "solve.completed") {
		if time.Now().After(deadline) {
			t.Fatal("event never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
