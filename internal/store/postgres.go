package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"facloc/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Files already
// recorded in schema_migrations are skipped, so restarts are safe.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil { return err }
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		var done int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE name=$1`, name).Scan(&done)
		if err == nil { continue }
		if !errors.Is(err, sql.ErrNoRows) { return err }
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil { return err }
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil { return err }
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil { return err }
	}
	return nil
}

func (p *Postgres) CreateDataset(ctx context.Context, tenantID, name string, nodes []model.WeightedNode) (model.Dataset, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return model.Dataset{}, err }
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	total := 0.0
	for _, n := range nodes {
		total += n.Volume
	}
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `INSERT INTO datasets (id, tenant_id, name, node_count, total_volume) VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		id, tenantID, name, len(nodes), total).Scan(&createdAt)
	if err != nil { return model.Dataset{}, err }
	for _, n := range nodes {
		_, err = tx.ExecContext(ctx, `INSERT INTO nodes (id, tenant_id, dataset_id, node_id, kind, lat, lng, volume) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			uuid.New().String(), tenantID, id, n.ID, n.Kind, n.Lat, n.Lng, n.Volume)
		if err != nil { return model.Dataset{}, err }
	}
	if err := tx.Commit(); err != nil { return model.Dataset{}, err }
	return model.Dataset{ID: id, TenantID: tenantID, Name: name, NodeCount: len(nodes), TotalVolume: total, CreatedAt: createdAt.UTC().Format(time.RFC3339)}, nil
}

func (p *Postgres) GetDataset(ctx context.Context, tenantID, id string) (model.Dataset, error) {
	var ds model.Dataset
	var createdAt time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, name, node_count, total_volume, created_at FROM datasets WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&ds.ID, &ds.Name, &ds.NodeCount, &ds.TotalVolume, &createdAt)
	if errors.Is(err, sql.ErrNoRows) { return model.Dataset{}, ErrNotFound }
	if err != nil { return model.Dataset{}, err }
	ds.TenantID = tenantID
	ds.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return ds, nil
}

func (p *Postgres) ListDatasets(ctx context.Context, tenantID, cursor string, limit int) ([]model.Dataset, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, node_count, total_volume, created_at FROM datasets WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, node_count, total_volume, created_at FROM datasets WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.Dataset{}
	var last string
	for rows.Next() {
		var ds model.Dataset
		var createdAt time.Time
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.NodeCount, &ds.TotalVolume, &createdAt); err != nil { return nil, "", err }
		ds.TenantID = tenantID
		ds.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		out = append(out, ds)
		last = ds.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) DeleteDataset(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM datasets WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

func (p *Postgres) ListNodes(ctx context.Context, tenantID, datasetID string) ([]model.WeightedNode, error) {
	if _, err := p.GetDataset(ctx, tenantID, datasetID); err != nil { return nil, err }
	rows, err := p.db.QueryContext(ctx, `SELECT node_id, kind, lat, lng, volume FROM nodes WHERE tenant_id=$1 AND dataset_id=$2 ORDER BY node_id`, tenantID, datasetID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.WeightedNode{}
	for rows.Next() {
		var n model.WeightedNode
		if err := rows.Scan(&n.ID, &n.Kind, &n.Lat, &n.Lng, &n.Volume); err != nil { return nil, err }
		out = append(out, n)
	}
	return out, nil
}

func (p *Postgres) RunSolve(ctx context.Context, req model.SolveRequest) (model.Solve, []model.TracePoint, error) {
	nodes, err := p.ListNodes(ctx, req.TenantID, req.DatasetID)
	if err != nil { return model.Solve{}, nil, err }
	if cfg, err := p.GetSolverConfig(ctx, req.TenantID); err == nil { req = applySolverConfig(req, cfg) }
	solve, trace, err := executeSolve(req, nodes)
	if err != nil { return model.Solve{}, nil, err }

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return model.Solve{}, nil, err }
	defer func() { _ = tx.Rollback() }()

	solve.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx, `INSERT INTO solves (id, tenant_id, dataset_id, algorithm, best_lat, best_lng, best_cost, converged, iterations, duration_ms) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		solve.ID, solve.TenantID, solve.DatasetID, solve.Algorithm, solve.BestLocation.Lat, solve.BestLocation.Lng, solve.BestCost, solve.Converged, solve.Iterations, solve.DurationMs)
	if err != nil { return model.Solve{}, nil, err }
	for _, t := range trace {
		_, err = tx.ExecContext(ctx, `INSERT INTO solve_trace (solve_id, iteration, lat, lng, cost) VALUES ($1,$2,$3,$4,$5)`,
			solve.ID, t.Iteration, t.Location.Lat, t.Location.Lng, t.Cost)
		if err != nil { return model.Solve{}, nil, err }
	}
	if err := tx.Commit(); err != nil { return model.Solve{}, nil, err }
	return solve, trace, nil
}

func (p *Postgres) GetSolve(ctx context.Context, tenantID, id string) (model.Solve, error) {
	var s model.Solve
	var createdAt time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, dataset_id::text, algorithm, best_lat, best_lng, best_cost, converged, iterations, duration_ms, created_at FROM solves WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&s.ID, &s.DatasetID, &s.Algorithm, &s.BestLocation.Lat, &s.BestLocation.Lng, &s.BestCost, &s.Converged, &s.Iterations, &s.DurationMs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) { return model.Solve{}, ErrNotFound }
	if err != nil { return model.Solve{}, err }
	s.TenantID = tenantID
	s.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return s, nil
}

func (p *Postgres) ListSolves(ctx context.Context, tenantID, datasetID, cursor string, limit int) ([]model.Solve, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, dataset_id::text, algorithm, best_lat, best_lng, best_cost, converged, iterations, duration_ms, created_at FROM solves WHERE tenant_id=$1`
	args := []any{tenantID}
	if datasetID != "" {
		args = append(args, datasetID)
		q += ` AND dataset_id=$2`
	}
	if cursor != "" {
		args = append(args, cursor)
		q += ` AND id::text > $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	q += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.Solve{}
	var last string
	for rows.Next() {
		var s model.Solve
		var createdAt time.Time
		if err := rows.Scan(&s.ID, &s.DatasetID, &s.Algorithm, &s.BestLocation.Lat, &s.BestLocation.Lng, &s.BestCost, &s.Converged, &s.Iterations, &s.DurationMs, &createdAt); err != nil { return nil, "", err }
		s.TenantID = tenantID
		s.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) GetTrace(ctx context.Context, tenantID, solveID string) ([]model.TracePoint, error) {
	if _, err := p.GetSolve(ctx, tenantID, solveID); err != nil { return nil, err }
	rows, err := p.db.QueryContext(ctx, `SELECT iteration, lat, lng, cost FROM solve_trace WHERE solve_id=$1 ORDER BY iteration`, solveID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.TracePoint{}
	for rows.Next() {
		var t model.TracePoint
		if err := rows.Scan(&t.Iteration, &t.Location.Lat, &t.Location.Lng, &t.Cost); err != nil { return nil, err }
		out = append(out, t)
	}
	return out, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil { return model.Subscription{}, err }
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	ev, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, ev)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
		s.TenantID = tenantID
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil { return "", err }
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
		out = append(out, d)
	}
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
		SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts+1, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
	var rows *sql.Rows
	var err error
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		rows, err = p.db.QueryContext(ctx, q, tenantID, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		rows, err = p.db.QueryContext(ctx, q, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
		if lastErr != "" { m["lastError"] = lastErr }
		out = append(out, m)
		last = id
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, tenantID string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, delivery_id::text, event_type, url, attempts, COALESCE(last_error,''), created_at FROM webhook_dlq WHERE tenant_id=$1 ORDER BY created_at DESC LIMIT 500`, tenantID)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var id, deliveryID, typ, url, lastErr string
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &deliveryID, &typ, &url, &attempts, &lastErr, &createdAt); err != nil { return nil, err }
		m := map[string]any{"id": id, "deliveryId": deliveryID, "eventType": typ, "url": url, "attempts": attempts, "createdAt": createdAt}
		if lastErr != "" { m["lastError"] = lastErr }
		out = append(out, m)
	}
	return out, nil
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT config FROM solver_config WHERE tenant_id=$1`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) { return nil, nil }
	if err != nil { return nil, err }
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil { return nil, err }
	return cfg, nil
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	raw, err := json.Marshal(cfg)
	if err != nil { return err }
	_, err = p.db.ExecContext(ctx, `INSERT INTO solver_config (tenant_id, config, updated_at) VALUES ($1,$2,now())
		ON CONFLICT (tenant_id) DO UPDATE SET config=EXCLUDED.config, updated_at=now()`, tenantID, raw)
	return err
}

func (p *Postgres) SolveStats(ctx context.Context, tenantID, datasetID string) (map[string]any, error) {
	q := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN converged THEN 1 ELSE 0 END),0), COALESCE(AVG(iterations),0), COALESCE(MIN(best_cost),0) FROM solves WHERE tenant_id=$1`
	args := []any{tenantID}
	if datasetID != "" {
		args = append(args, datasetID)
		q += ` AND dataset_id=$2`
	}
	var total, converged int
	var avgIters, bestCost float64
	if err := p.db.QueryRowContext(ctx, q, args...).Scan(&total, &converged, &avgIters, &bestCost); err != nil { return nil, err }
	out := map[string]any{"solves": total, "converged": converged, "avgIterations": avgIters}
	if total > 0 { out["bestCost"] = bestCost }
	return out, nil
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
