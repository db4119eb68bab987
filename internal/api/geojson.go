package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"facloc/internal/store"
)

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

// Geometry holds a Point ([lng, lat]) or LineString ([[lng, lat], ...]).
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// solveGeoJSON renders a solve as a FeatureCollection: one Point per node,
// one Point for the best location, and the trace as a LineString.
func (s *Server) solveGeoJSON(w http.ResponseWriter, r *http.Request, tenant, solveID string) {
	solve, err := s.Store.GetSolve(r.Context(), tenant, solveID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, 404, "Not Found", "solve "+solveID, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, 500, "Get solve failed", err.Error(), r.URL.Path)
		return
	}
	nodes, err := s.Store.ListNodes(r.Context(), tenant, solve.DatasetID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, 500, "List nodes failed", err.Error(), r.URL.Path)
		return
	}
	trace, err := s.Store.GetTrace(r.Context(), tenant, solveID)
	if err != nil {
		writeProblem(w, 500, "Get trace failed", err.Error(), r.URL.Path)
		return
	}

	fc := FeatureCollection{Type: "FeatureCollection"}
	for _, n := range nodes {
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Properties: map[string]any{"id": n.ID, "kind": n.Kind, "volume": n.Volume},
			Geometry:   Geometry{Type: "Point", Coordinates: []float64{n.Lng, n.Lat}},
		})
	}
	if len(trace) > 1 {
		coords := make([][]float64, len(trace))
		for i, t := range trace {
			coords[i] = []float64{t.Location.Lng, t.Location.Lat}
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Properties: map[string]any{"kind": "trace", "iterations": solve.Iterations},
			Geometry:   Geometry{Type: "LineString", Coordinates: coords},
		})
	}
	fc.Features = append(fc.Features, Feature{
		Type: "Feature",
		Properties: map[string]any{
			"kind": "best", "cost": solve.BestCost,
			"algorithm": solve.Algorithm, "converged": solve.Converged,
		},
		Geometry: Geometry{Type: "Point", Coordinates: []float64{solve.BestLocation.Lng, solve.BestLocation.Lat}},
	})
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(200)
	_ = json.NewEncoder(w).Encode(fc)
}
