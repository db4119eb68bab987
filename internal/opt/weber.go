// Package opt implements the single-facility Weber problem on the sphere:
// locate one warehouse minimizing the volume-weighted sum of great-circle
// distances to a set of supplier/customer nodes.
package opt

import (
	"errors"
	"fmt"
	"math"

	"facloc/internal/geo"
)

const (
	AlgWeiszfeld  = "weiszfeld"
	AlgNelderMead = "neldermead"

	DefaultToleranceDeg    = 1e-6
	DefaultMaxIterations   = 1000
	DefaultBoundsMarginDeg = 1.0

	// epsKm floors near-zero distances in the weighted-average update so a
	// candidate sitting on a node never divides by zero.
	epsKm = 1e-9
)

var (
	ErrNoNodes    = errors.New("node set is empty")
	ErrZeroVolume = errors.New("all node volumes are zero")
)

// Problem is one solver run over an immutable node set.
type Problem struct {
	Nodes           []Node
	Algorithm       string      // weiszfeld (default) or neldermead
	ToleranceDeg    float64     // convergence displacement, degrees
	MaxIterations   int
	Start           *[2]float64 // lat,lng; nil means weighted centroid
	BoundsMarginDeg float64     // bounding-box margin for neldermead
}

// Result is the outcome of a run. Converged=false with a nil error means the
// iteration budget ran out; the best-found candidate is still returned since
// a near-optimal location is a usable answer.
type Result struct {
	Lat        float64
	Lng        float64
	Cost       float64
	Converged  bool
	Iterations int
	Trace      *Trace
}

// Solve validates the problem and runs the selected algorithm. Validation
// failures surface before any iteration; non-convergence does not.
func Solve(p Problem) (Result, error) {
	if len(p.Nodes) == 0 {
		return Result{}, ErrNoNodes
	}
	totalVolume := 0.0
	for _, n := range p.Nodes {
		if n.Volume < 0 {
			return Result{}, fmt.Errorf("node %s has negative volume %g", n.ID, n.Volume)
		}
		totalVolume += n.Volume
	}
	if totalVolume == 0 {
		return Result{}, ErrZeroVolume
	}
	if p.ToleranceDeg <= 0 {
		p.ToleranceDeg = DefaultToleranceDeg
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.BoundsMarginDeg <= 0 {
		p.BoundsMarginDeg = DefaultBoundsMarginDeg
	}
	startLat, startLng := WeightedCentroid(p.Nodes)
	if p.Start != nil {
		startLat, startLng = p.Start[0], p.Start[1]
		if !geo.ValidPoint(startLat, startLng) {
			return Result{}, fmt.Errorf("start point (%g,%g) outside lat/lng domain", startLat, startLng)
		}
	}
	switch p.Algorithm {
	case "", AlgWeiszfeld:
		return weiszfeld(p, startLat, startLng), nil
	case AlgNelderMead:
		return nelderMead(p, startLat, startLng)
	default:
		return Result{}, fmt.Errorf("unknown algorithm: %s", p.Algorithm)
	}
}

// weiszfeld runs the fixed-point iteration: the next candidate is the
// volume/distance-weighted average of the node coordinates. Distances are
// floored at epsKm, so when the candidate lands on a node that node's weight
// dominates and the iteration stays put, which is the optimum in that case.
func weiszfeld(p Problem, lat, lng float64) Result {
	tr := &Trace{}
	bestLat, bestLng := lat, lng
	bestCost := Cost(p.Nodes, lat, lng)
	tr.append(lat, lng, bestCost)
	converged := false
	iters := 0
	for iters < p.MaxIterations {
		iters++
		var sumW, sumLat, sumLng float64
		for _, n := range p.Nodes {
			if n.Volume == 0 {
				continue
			}
			d := geo.Haversine(lat, lng, n.Lat, n.Lng)
			if d < epsKm {
				d = epsKm
			}
			w := n.Volume / d
			sumW += w
			sumLat += w * n.Lat
			sumLng += w * n.Lng
		}
		nextLat := sumLat / sumW
		nextLng := sumLng / sumW
		c := Cost(p.Nodes, nextLat, nextLng)
		tr.append(nextLat, nextLng, c)
		if c < bestCost {
			bestCost = c
			bestLat, bestLng = nextLat, nextLng
		}
		disp := math.Hypot(nextLat-lat, nextLng-lng)
		lat, lng = nextLat, nextLng
		if disp < p.ToleranceDeg {
			converged = true
			break
		}
	}
	return Result{Lat: bestLat, Lng: bestLng, Cost: bestCost, Converged: converged, Iterations: iters, Trace: tr}
}
