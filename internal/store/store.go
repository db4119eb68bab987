package store

import (
	"context"
	"errors"
	"time"

	"facloc/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Datasets
	CreateDataset(ctx context.Context, tenantID, name string, nodes []model.WeightedNode) (model.Dataset, error)
	GetDataset(ctx context.Context, tenantID, id string) (model.Dataset, error)
	ListDatasets(ctx context.Context, tenantID, cursor string, limit int) ([]model.Dataset, string, error)
	DeleteDataset(ctx context.Context, tenantID, id string) error
	ListNodes(ctx context.Context, tenantID, datasetID string) ([]model.WeightedNode, error)

	// Solves. RunSolve loads the dataset's nodes, runs the optimizer
	// synchronously, and persists the result together with its trace.
	RunSolve(ctx context.Context, req model.SolveRequest) (model.Solve, []model.TracePoint, error)
	GetSolve(ctx context.Context, tenantID, id string) (model.Solve, error)
	ListSolves(ctx context.Context, tenantID, datasetID, cursor string, limit int) ([]model.Solve, string, error)
	GetTrace(ctx context.Context, tenantID, solveID string) ([]model.TracePoint, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
	ListWebhookDLQ(ctx context.Context, tenantID string) ([]map[string]any, error)

	// Solver config per tenant
	GetSolverConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveSolverConfig(ctx context.Context, tenantID string, cfg map[string]any) error

	// Admin stats
	SolveStats(ctx context.Context, tenantID, datasetID string) (map[string]any, error)
}

// WebhookDelivery is a queued outbound notification.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
