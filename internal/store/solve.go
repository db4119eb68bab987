package store

import (
	"time"

	"facloc/internal/model"
	"facloc/internal/opt"
)

// applySolverConfig fills unset request fields from the tenant's stored
// solver config, so admin overrides steer runs and not just the defaults
// display. Fields the caller set explicitly always win. Numbers arrive as
// float64 because the config round-trips through JSON.
func applySolverConfig(req model.SolveRequest, cfg map[string]any) model.SolveRequest {
	if cfg == nil {
		return req
	}
	if req.Algorithm == "" {
		if v, ok := cfg["algorithm"].(string); ok {
			req.Algorithm = v
		}
	}
	if req.ToleranceDeg == 0 {
		if v, ok := cfg["toleranceDeg"].(float64); ok {
			req.ToleranceDeg = v
		}
	}
	if req.MaxIterations == 0 {
		if v, ok := cfg["maxIterations"].(float64); ok {
			req.MaxIterations = int(v)
		}
	}
	if req.BoundsMarginDeg == 0 {
		if v, ok := cfg["boundsMarginDeg"].(float64); ok {
			req.BoundsMarginDeg = v
		}
	}
	return req
}

// executeSolve runs the optimizer for an already-loaded node set and shapes
// the outcome into the persistence models. Both store implementations share
// it so the numeric behavior never diverges between backends.
func executeSolve(req model.SolveRequest, nodes []model.WeightedNode) (model.Solve, []model.TracePoint, error) {
	p := opt.Problem{
		Nodes:           make([]opt.Node, len(nodes)),
		Algorithm:       req.Algorithm,
		ToleranceDeg:    req.ToleranceDeg,
		MaxIterations:   req.MaxIterations,
		BoundsMarginDeg: req.BoundsMarginDeg,
	}
	for i, n := range nodes {
		p.Nodes[i] = opt.Node{ID: n.ID, Kind: n.Kind, Lat: n.Lat, Lng: n.Lng, Volume: n.Volume}
	}
	if req.Start != nil {
		p.Start = &[2]float64{req.Start.Lat, req.Start.Lng}
	}

	started := time.Now()
	res, err := opt.Solve(p)
	if err != nil {
		return model.Solve{}, nil, err
	}
	durationMs := int(time.Since(started).Milliseconds())

	algo := req.Algorithm
	if algo == "" {
		algo = opt.AlgWeiszfeld
	}
	records := res.Trace.Records()
	trace := make([]model.TracePoint, len(records))
	for i, r := range records {
		trace[i] = model.TracePoint{Iteration: r.Iteration, Location: model.GeoPoint{Lat: r.Lat, Lng: r.Lng}, Cost: r.Cost}
	}
	solve := model.Solve{
		TenantID:     req.TenantID,
		DatasetID:    req.DatasetID,
		Algorithm:    algo,
		BestLocation: model.GeoPoint{Lat: res.Lat, Lng: res.Lng},
		BestCost:     res.Cost,
		Converged:    res.Converged,
		Iterations:   res.Iterations,
		DurationMs:   durationMs,
		CreatedAt:    started.UTC().Format(time.RFC3339),
	}
	startCost := 0.0
	if len(records) > 0 {
		startCost = records[0].Cost
	}
	opt.RecordMetrics(req.TenantID, req.DatasetID, algo, opt.RunMetrics{
		Algorithm:  algo,
		Iterations: res.Iterations,
		Converged:  res.Converged,
		StartCost:  startCost,
		BestCost:   res.Cost,
		DurationMs: durationMs,
	})
	return solve, trace, nil
}
