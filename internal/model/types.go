package model

// Core domain types shared between the API and the stores.

// GeoPoint is a WGS84 coordinate pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SupplierIn is one row of the supplier coordinate table.
type SupplierIn struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CustomerIn is one row of the customer coordinate table.
type CustomerIn struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ShipmentIn is a raw shipment record. Origin or Destination is the
// warehouse placeholder; the other side references a supplier or customer.
type ShipmentIn struct {
	ID          string  `json:"id,omitempty"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Volume      float64 `json:"volume"`
}

// WeightedNode is a supplier or customer with its aggregate shipped volume.
// Immutable once the dataset is created.
type WeightedNode struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"` // supplier, customer
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Volume float64 `json:"volume"`
}

// DatasetIn is the upload payload: coordinate tables plus shipments. The
// ingest layer aggregates these into weighted nodes before storage.
type DatasetIn struct {
	TenantID   string         `json:"tenantId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Suppliers  []SupplierIn   `json:"suppliers"`
	Customers  []CustomerIn   `json:"customers"`
	Shipments  []ShipmentIn   `json:"shipments"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Dataset is the stored read model for an aggregated node set.
type Dataset struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenantId"`
	Name        string  `json:"name,omitempty"`
	NodeCount   int     `json:"nodeCount"`
	TotalVolume float64 `json:"totalVolume"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

// SolveRequest configures one optimization run.
type SolveRequest struct {
	TenantID        string    `json:"tenantId"`
	DatasetID       string    `json:"datasetId"`
	Algorithm       string    `json:"algorithm,omitempty"` // weiszfeld, neldermead
	ToleranceDeg    float64   `json:"toleranceDeg,omitempty"`
	MaxIterations   int       `json:"maxIterations,omitempty"`
	Start           *GeoPoint `json:"start,omitempty"`
	BoundsMarginDeg float64   `json:"boundsMarginDeg,omitempty"`
}

// TracePoint is one recorded candidate of a run, in evaluation order.
type TracePoint struct {
	Iteration int      `json:"iteration"`
	Location  GeoPoint `json:"location"`
	Cost      float64  `json:"cost"`
}

// Solve is the stored result of an optimization run.
type Solve struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenantId"`
	DatasetID    string   `json:"datasetId"`
	Algorithm    string   `json:"algorithm"`
	BestLocation GeoPoint `json:"bestLocation"`
	BestCost     float64  `json:"bestCost"`
	Converged    bool     `json:"converged"`
	Iterations   int      `json:"iterations"`
	DurationMs   int      `json:"durationMs,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
