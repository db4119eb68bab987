package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"facloc/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	datasets map[string]model.Dataset        // id -> dataset
	dsByTen  map[string][]string             // tenant -> dataset ids
	nodes    map[string][]model.WeightedNode // dataset id -> nodes
	solves   map[string]model.Solve          // id -> solve
	slByTen  map[string][]string             // tenant -> solve ids
	traces   map[string][]model.TracePoint   // solve id -> trace
	subs     map[string][]model.Subscription // tenant -> subscriptions
	// webhook queue state
	deliveries         map[string]*memDelivery
	deliveriesByTenant map[string][]string
	dlq                []map[string]any
	solverCfg          map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		datasets:           map[string]model.Dataset{},
		dsByTen:            map[string][]string{},
		nodes:              map[string][]model.WeightedNode{},
		solves:             map[string]model.Solve{},
		slByTen:            map[string][]string{},
		traces:             map[string][]model.TracePoint{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		dlq:                []map[string]any{},
		solverCfg:          map[string]map[string]any{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateDataset(ctx context.Context, tenantID, name string, nodes []model.WeightedNode) (model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, n := range nodes {
		total += n.Volume
	}
	ds := model.Dataset{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        name,
		NodeCount:   len(nodes),
		TotalVolume: total,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	m.datasets[ds.ID] = ds
	m.dsByTen[tenantID] = append(m.dsByTen[tenantID], ds.ID)
	m.nodes[ds.ID] = append([]model.WeightedNode(nil), nodes...)
	return ds, nil
}

func (m *Memory) GetDataset(ctx context.Context, tenantID, id string) (model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok || ds.TenantID != tenantID {
		return model.Dataset{}, ErrNotFound
	}
	return ds, nil
}

func (m *Memory) ListDatasets(ctx context.Context, tenantID, cursor string, limit int) ([]model.Dataset, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.dsByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Dataset{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.datasets[ids[i]])
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteDataset(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok || ds.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.datasets, id)
	delete(m.nodes, id)
	ids := m.dsByTen[tenantID]
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	m.dsByTen[tenantID] = out
	return nil
}

func (m *Memory) ListNodes(ctx context.Context, tenantID, datasetID string) ([]model.WeightedNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[datasetID]
	if !ok || ds.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return append([]model.WeightedNode(nil), m.nodes[datasetID]...), nil
}

func (m *Memory) RunSolve(ctx context.Context, req model.SolveRequest) (model.Solve, []model.TracePoint, error) {
	nodes, err := m.ListNodes(ctx, req.TenantID, req.DatasetID)
	if err != nil {
		return model.Solve{}, nil, err
	}
	if cfg, err := m.GetSolverConfig(ctx, req.TenantID); err == nil {
		req = applySolverConfig(req, cfg)
	}
	solve, trace, err := executeSolve(req, nodes)
	if err != nil {
		return model.Solve{}, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	solve.ID = uuid.New().String()
	m.solves[solve.ID] = solve
	m.slByTen[req.TenantID] = append(m.slByTen[req.TenantID], solve.ID)
	m.traces[solve.ID] = trace
	return solve, trace, nil
}

func (m *Memory) GetSolve(ctx context.Context, tenantID, id string) (model.Solve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.solves[id]
	if !ok || s.TenantID != tenantID {
		return model.Solve{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSolves(ctx context.Context, tenantID, datasetID, cursor string, limit int) ([]model.Solve, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.slByTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Solve{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		s := m.solves[ids[i]]
		if datasetID == "" || s.DatasetID == datasetID {
			out = append(out, s)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) GetTrace(ctx context.Context, tenantID, solveID string) ([]model.TracePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.solves[solveID]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return append([]model.TracePoint(nil), m.traces[solveID]...), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, lst := range m.deliveriesByTenant {
		for _, id := range lst {
			d := m.deliveries[id]
			if d == nil {
				continue
			}
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.WebhookDelivery)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	tenantID := ""
	if d != nil {
		d.Status = "failed"
		tenantID = d.TenantID
	}
	m.dlq = append(m.dlq, map[string]any{"id": id, "tenantId": tenantID, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, e := range m.dlq {
		if e["tenantId"] == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.solverCfg[tenantID]; ok {
		return cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solverCfg[tenantID] = cfg
	return nil
}

func (m *Memory) SolveStats(ctx context.Context, tenantID, datasetID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, converged := 0, 0
	sumIters := 0
	best := 0.0
	haveBest := false
	for _, id := range m.slByTen[tenantID] {
		s := m.solves[id]
		if datasetID != "" && s.DatasetID != datasetID {
			continue
		}
		total++
		sumIters += s.Iterations
		if s.Converged {
			converged++
		}
		if !haveBest || s.BestCost < best {
			best = s.BestCost
			haveBest = true
		}
	}
	avg := 0.0
	if total > 0 {
		avg = float64(sumIters) / float64(total)
	}
	out := map[string]any{"solves": total, "converged": converged, "avgIterations": avg}
	if haveBest {
		out["bestCost"] = best
	}
	return out, nil
}
