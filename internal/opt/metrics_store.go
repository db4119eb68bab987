package opt

import "sync"

// RunMetrics summarizes one solver run for the admin surface.
type RunMetrics struct {
	Algorithm  string  `json:"algorithm"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	StartCost  float64 `json:"startCost"`
	BestCost   float64 `json:"bestCost"`
	DurationMs int     `json:"durationMs"`
}

type key struct {
	Tenant  string
	Dataset string
	Algo    string
}

var (
	mu    sync.Mutex
	store = map[key]RunMetrics{}
)

// RecordMetrics keeps the latest run metrics per tenant/dataset/algorithm.
func RecordMetrics(tenant, datasetID, algo string, m RunMetrics) {
	mu.Lock()
	store[key{Tenant: tenant, Dataset: datasetID, Algo: algo}] = m
	mu.Unlock()
}

// GetMetrics returns recorded metrics for a tenant's dataset keyed by algorithm.
func GetMetrics(tenant, datasetID string) map[string]RunMetrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]RunMetrics{}
	for k, v := range store {
		if k.Tenant == tenant && k.Dataset == datasetID {
			out[k.Algo] = v
		}
	}
	return out
}
