package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"facloc/internal/ingest"
	"facloc/internal/metrics"
	"facloc/internal/model"
	"facloc/internal/opt"
	"facloc/internal/store"
)

// datasetUpload is the POST /v1/datasets payload. Coordinate tables and
// shipments come either as structured JSON or as inline CSV in the shape the
// planning spreadsheets export.
type datasetUpload struct {
	model.DatasetIn
	SuppliersCSV string `json:"suppliersCsv,omitempty"`
	CustomersCSV string `json:"customersCsv,omitempty"`
	ShipmentsCSV string `json:"shipmentsCsv,omitempty"`
}

// DatasetsHandler handles POST/GET /v1/datasets
func (s *Server) DatasetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanPlan() {
			writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		var req datasetUpload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if err := req.parseCSV(); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
			return
		}
		nodes, err := ingest.Aggregate(req.DatasetIn)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid dataset", err.Error(), r.URL.Path)
			return
		}
		ds, err := s.Store.CreateDataset(r.Context(), req.TenantID, req.Name, nodes)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create dataset failed", err.Error(), r.URL.Path)
			return
		}
		s.Broker.Publish(ds.ID, SSEEvent{Type: "dataset.created", Data: map[string]any{"datasetId": ds.ID, "nodeCount": ds.NodeCount}})
		_ = s.Pub.Emit(r.Context(), ds.TenantID, "dataset.created", map[string]any{"datasetId": ds.ID, "nodeCount": ds.NodeCount, "totalVolume": ds.TotalVolume})
		writeJSON(w, http.StatusCreated, ds)
	case http.MethodGet:
		p := s.getPrincipal(r)
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListDatasets(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List datasets failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (u *datasetUpload) parseCSV() error {
	if u.SuppliersCSV != "" {
		rows, err := ingest.ParseSuppliers(strings.NewReader(u.SuppliersCSV))
		if err != nil {
			return err
		}
		u.Suppliers = append(u.Suppliers, rows...)
	}
	if u.CustomersCSV != "" {
		rows, err := ingest.ParseCustomers(strings.NewReader(u.CustomersCSV))
		if err != nil {
			return err
		}
		u.Customers = append(u.Customers, rows...)
	}
	if u.ShipmentsCSV != "" {
		rows, err := ingest.ParseShipments(strings.NewReader(u.ShipmentsCSV))
		if err != nil {
			return err
		}
		u.Shipments = append(u.Shipments, rows...)
	}
	return nil
}

// DatasetByIDHandler handles /v1/datasets/{id} and /v1/datasets/{id}/nodes
// and /v1/datasets/{id}/events/stream.
func (s *Server) DatasetByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/datasets/")
	if rest == "" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			ds, err := s.Store.GetDataset(r.Context(), p.Tenant, id)
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, 404, "Not Found", "dataset "+id, r.URL.Path)
				return
			}
			if err != nil {
				writeProblem(w, 500, "Get dataset failed", err.Error(), r.URL.Path)
				return
			}
			writeJSON(w, 200, ds)
		case http.MethodDelete:
			if !p.CanPlan() {
				writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
				return
			}
			if err := s.Store.DeleteDataset(r.Context(), p.Tenant, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeProblem(w, 404, "Not Found", "dataset "+id, r.URL.Path)
					return
				}
				writeProblem(w, 500, "Delete dataset failed", err.Error(), r.URL.Path)
				return
			}
			w.WriteHeader(204)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "nodes":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		nodes, err := s.Store.ListNodes(r.Context(), p.Tenant, id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Not Found", "dataset "+id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, 500, "List nodes failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": nodes})
	case "events/stream":
		s.eventsStream(w, r, id)
	default:
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
	}
}

// SolveHandler handles POST /v1/solve
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path)
		return
	}
	var req model.SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID == "" {
		req.TenantID = p.Tenant
	}
	solve, trace, err := s.Store.RunSolve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, 404, "Not Found", "dataset "+req.DatasetID, r.URL.Path)
		case errors.Is(err, opt.ErrNoNodes), errors.Is(err, opt.ErrZeroVolume):
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid input", err.Error(), r.URL.Path)
		default:
			writeProblem(w, http.StatusInternalServerError, "Solve failed", err.Error(), r.URL.Path)
		}
		return
	}
	metrics.ObserveSolve(solve.Algorithm, solve.Converged, solve.Iterations)
	s.Broker.Publish(req.DatasetID, SSEEvent{Type: "solve.completed", Data: map[string]any{
		"solveId": solve.ID, "bestLocation": solve.BestLocation, "bestCost": solve.BestCost, "converged": solve.Converged,
	}})
	_ = s.Pub.Emit(r.Context(), solve.TenantID, "solve.completed", map[string]any{
		"solveId": solve.ID, "datasetId": solve.DatasetID, "algorithm": solve.Algorithm,
		"bestLocation": solve.BestLocation, "bestCost": solve.BestCost,
		"converged": solve.Converged, "iterations": solve.Iterations,
	})
	writeJSON(w, http.StatusOK, map[string]any{"solve": solve, "trace": trace})
}

// SolvesIndexHandler handles GET /v1/solves
func (s *Server) SolvesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	cursor := r.URL.Query().Get("cursor")
	datasetID := r.URL.Query().Get("datasetId")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListSolves(r.Context(), p.Tenant, datasetID, cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List solves failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// SolveByIDHandler handles /v1/solves/{id}, /v1/solves/{id}/trace,
// /v1/solves/{id}/geojson and /v1/solves/{id}/trace/ws.
func (s *Server) SolveByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/solves/")
	if rest == "" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	switch sub {
	case "":
		solve, err := s.Store.GetSolve(r.Context(), p.Tenant, id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Not Found", "solve "+id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, 500, "Get solve failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, solve)
	case "trace":
		trace, err := s.Store.GetTrace(r.Context(), p.Tenant, id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, 404, "Not Found", "solve "+id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, 500, "Get trace failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": trace})
	case "geojson":
		s.solveGeoJSON(w, r, p.Tenant, id)
	case "trace/ws":
		s.TraceWSHandler(w, r, p.Tenant, id)
	default:
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
	}
}

// SolverConfigHandler returns effective solver defaults for the tenant.
func (s *Server) SolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/solver/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	defaults := map[string]any{
		"algorithm":       opt.AlgWeiszfeld,
		"toleranceDeg":    opt.DefaultToleranceDeg,
		"maxIterations":   opt.DefaultMaxIterations,
		"boundsMarginDeg": opt.DefaultBoundsMarginDeg,
	}
	p := s.getPrincipal(r)
	cfg, _ := s.Store.GetSolverConfig(r.Context(), p.Tenant)
	for k, v := range cfg {
		defaults[k] = v
	}
	writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// AdminSolverConfigHandler gets/sets the tenant solver config.
func (s *Server) AdminSolverConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solver/config" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, _ := s.Store.GetSolverConfig(r.Context(), p.Tenant)
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, 200, cfg)
	case http.MethodPut:
		var cfg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveSolverConfig(r.Context(), p.Tenant, cfg); err != nil {
			writeProblem(w, 500, "Save config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.IsAdmin() {
			writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, 400, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 201, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler deletes a subscription (admin).
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(204)
}

// eventsStream serves SSE for one dataset's solve events.
func (s *Server) eventsStream(w http.ResponseWriter, r *http.Request, datasetID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(datasetID)
	defer s.Broker.Unsubscribe(datasetID, ch)
	fmt.Fprintf(w, "event: stream.open\ndata: {\"datasetId\":%q}\n\n", datasetID)
	fl.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			fl.Flush()
		}
	}
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(405)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// WebhookDLQHandler lists dead-lettered deliveries (admin).
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-dlq" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	items, err := s.Store.ListWebhookDLQ(r.Context(), p.Tenant)
	if err != nil {
		writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookMetricsHandler summarizes delivery outcomes by event type (admin).
func (s *Server) WebhookMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	items, _, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, r.URL.Query().Get("status"), "", 500)
	if err != nil {
		writeProblem(w, 500, "Webhook metrics failed", err.Error(), r.URL.Path)
		return
	}
	type bucket struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Retry     int `json:"retry"`
		Delivered int `json:"delivered"`
		Failed    int `json:"failed"`
	}
	byType := map[string]*bucket{}
	for _, it := range items {
		typ, _ := it["eventType"].(string)
		st, _ := it["status"].(string)
		b := byType[typ]
		if b == nil {
			b = &bucket{}
			byType[typ] = b
		}
		b.Total++
		switch st {
		case "pending":
			b.Pending++
		case "retry":
			b.Retry++
		case "delivered":
			b.Delivered++
		case "failed":
			b.Failed++
		}
	}
	writeJSON(w, 200, map[string]any{"eventTypes": byType})
}

// SolveMetricsHandler returns per-algorithm run metrics (admin).
func (s *Server) SolveMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solve-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	datasetID := r.URL.Query().Get("datasetId")
	writeJSON(w, 200, opt.GetMetrics(p.Tenant, datasetID))
}

// SolveStatsHandler aggregates stored solves (admin).
func (s *Server) SolveStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/solve-stats" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	stats, err := s.Store.SolveStats(r.Context(), p.Tenant, r.URL.Query().Get("datasetId"))
	if err != nil {
		writeProblem(w, 500, "Solve stats failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, stats)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using the Postgres store
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
