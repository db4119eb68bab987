package opt

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/optimize"

	"facloc/internal/geo"
)

// nelderMead minimizes the objective with gonum's derivative-free simplex,
// started at the weighted centroid and kept near the node bounding box
// (expanded by the configured margin) via a quadratic penalty. Every
// objective evaluation is recorded in the trace with its unpenalized cost.
func nelderMead(p Problem, startLat, startLng float64) (Result, error) {
	bounds := NodeBounds(p.Nodes).Expand(p.BoundsMarginDeg)
	tr := &Trace{}
	obj := func(x []float64) float64 {
		lat, lng := x[0], x[1]
		c := Cost(p.Nodes, lat, lng)
		tr.append(lat, lng, c)
		return c + boxPenalty(bounds, lat, lng)
	}
	prob := optimize.Problem{Func: obj}
	settings := &optimize.Settings{
		MajorIterations: p.MaxIterations,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 30},
	}
	res, err := optimize.Minimize(prob, []float64{startLat, startLng}, settings, &optimize.NelderMead{})
	if res == nil {
		if err != nil {
			return Result{}, fmt.Errorf("neldermead: %w", err)
		}
		return Result{}, errors.New("neldermead: minimizer returned no result")
	}
	lat, lng := res.X[0], res.X[1]
	out := Result{
		Lat:        lat,
		Lng:        lng,
		Cost:       Cost(p.Nodes, lat, lng),
		Converged:  err == nil && res.Status == optimize.FunctionConvergence,
		Iterations: res.Stats.MajorIterations,
		Trace:      tr,
	}
	return out, nil
}

// boxPenalty is zero inside the box and grows quadratically with the
// coordinate excursion outside it, scaled to dominate any realistic
// objective value.
func boxPenalty(b geo.Bounds, lat, lng float64) float64 {
	const scale = 1e9
	pen := 0.0
	if lat < b.MinLat {
		pen += (b.MinLat - lat) * (b.MinLat - lat)
	} else if lat > b.MaxLat {
		pen += (lat - b.MaxLat) * (lat - b.MaxLat)
	}
	if lng < b.MinLng {
		pen += (b.MinLng - lng) * (b.MinLng - lng)
	} else if lng > b.MaxLng {
		pen += (lng - b.MaxLng) * (lng - b.MaxLng)
	}
	return scale * pen
}
