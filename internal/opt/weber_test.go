package opt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"facloc/internal/geo"
)

func twoNodeSet() []Node {
	return []Node{
		{ID: "S1", Kind: "supplier", Lat: 40.0, Lng: -74.0, Volume: 100},
		{ID: "C1", Kind: "customer", Lat: 41.0, Lng: -73.0, Volume: 50},
	}
}

func TestSolveEmptyNodeSet(t *testing.T) {
	_, err := Solve(Problem{})
	require.ErrorIs(t, err, ErrNoNodes)
}

func TestSolveAllZeroVolumes(t *testing.T) {
	_, err := Solve(Problem{Nodes: []Node{
		{ID: "a", Lat: 10, Lng: 10, Volume: 0},
		{ID: "b", Lat: 20, Lng: 20, Volume: 0},
	}})
	require.ErrorIs(t, err, ErrZeroVolume)
}

func TestSolveRejectsBadStartAndAlgorithm(t *testing.T) {
	nodes := twoNodeSet()
	_, err := Solve(Problem{Nodes: nodes, Start: &[2]float64{120, 0}})
	require.Error(t, err)
	_, err = Solve(Problem{Nodes: nodes, Algorithm: "annealing"})
	require.Error(t, err)
}

func TestSingleNodeOptimum(t *testing.T) {
	res, err := Solve(Problem{Nodes: []Node{{ID: "only", Lat: 48.85, Lng: 2.35, Volume: 42}}})
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Equal(t, 48.85, res.Lat)
	require.Equal(t, 2.35, res.Lng)
	require.Equal(t, 0.0, res.Cost)
}

func TestDegenerateSingleNonzeroVolume(t *testing.T) {
	res, err := Solve(Problem{Nodes: []Node{
		{ID: "hot", Lat: 52.52, Lng: 13.40, Volume: 7},
		{ID: "cold", Lat: 40.0, Lng: -74.0, Volume: 0},
	}})
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Equal(t, 52.52, res.Lat)
	require.Equal(t, 13.40, res.Lng)
	require.Equal(t, 0.0, res.Cost)
}

func TestEqualWeightsOptimumOnSegment(t *testing.T) {
	nodes := []Node{
		{ID: "a", Lat: 40.0, Lng: -74.0, Volume: 100},
		{ID: "b", Lat: 41.0, Lng: -73.0, Volume: 100},
	}
	res, err := Solve(Problem{Nodes: nodes})
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.GreaterOrEqual(t, res.Lat, 40.0)
	require.LessOrEqual(t, res.Lat, 41.0)
	require.GreaterOrEqual(t, res.Lng, -74.0)
	require.LessOrEqual(t, res.Lng, -73.0)
	// For two equal weights the minimized cost equals volume * separation.
	sep := geo.Haversine(40.0, -74.0, 41.0, -73.0)
	require.InDelta(t, 100*sep, res.Cost, 1e-3)
}

func TestConcreteTwoNodeScenario(t *testing.T) {
	res, err := Solve(Problem{Nodes: twoNodeSet()})
	require.NoError(t, err)
	require.True(t, res.Converged)

	// Optimum sits between the nodes, on the heavier side.
	require.GreaterOrEqual(t, res.Lat, 40.0)
	require.Less(t, res.Lat, 41.0)
	require.GreaterOrEqual(t, res.Lng, -74.0)
	require.Less(t, res.Lng, -73.0)
	dS1 := geo.Haversine(res.Lat, res.Lng, 40.0, -74.0)
	dC1 := geo.Haversine(res.Lat, res.Lng, 41.0, -73.0)
	require.Less(t, dS1, dC1)

	// Reported cost matches the weighted-distance formula at the returned
	// coordinates within 1e-4 km.
	require.InDelta(t, Cost(twoNodeSet(), res.Lat, res.Lng), res.Cost, 1e-4)
}

func TestMonotonicityUnderVolumeIncrease(t *testing.T) {
	base := []Node{
		{ID: "a", Lat: 40.0, Lng: -74.0, Volume: 100},
		{ID: "b", Lat: 41.0, Lng: -73.0, Volume: 50},
		{ID: "c", Lat: 39.5, Lng: -72.5, Volume: 80},
	}
	resOld, err := Solve(Problem{Nodes: base})
	require.NoError(t, err)

	bumped := append([]Node(nil), base...)
	bumped[1].Volume = 500
	resNew, err := Solve(Problem{Nodes: bumped})
	require.NoError(t, err)

	// Re-optimizing under the new weights can only do at least as well as
	// evaluating those weights at the old optimum.
	costAtOld := Cost(bumped, resOld.Lat, resOld.Lng)
	require.LessOrEqual(t, resNew.Cost, costAtOld+1e-6)

	// And the optimum moves toward the heavier node.
	before := geo.Haversine(resOld.Lat, resOld.Lng, base[1].Lat, base[1].Lng)
	after := geo.Haversine(resNew.Lat, resNew.Lng, base[1].Lat, base[1].Lng)
	require.LessOrEqual(t, after, before+1e-9)
}

func TestIdempotentRuns(t *testing.T) {
	p := Problem{Nodes: twoNodeSet(), ToleranceDeg: 1e-6, MaxIterations: 500}
	r1, err := Solve(p)
	require.NoError(t, err)
	r2, err := Solve(p)
	require.NoError(t, err)
	require.Equal(t, r1.Lat, r2.Lat)
	require.Equal(t, r1.Lng, r2.Lng)
	require.Equal(t, r1.Cost, r2.Cost)
	require.Equal(t, r1.Iterations, r2.Iterations)
	require.Equal(t, r1.Trace.Records(), r2.Trace.Records())
}

func TestIterationBudgetExhaustionIsNotAnError(t *testing.T) {
	res, err := Solve(Problem{Nodes: twoNodeSet(), MaxIterations: 1, ToleranceDeg: 1e-12})
	require.NoError(t, err)
	require.False(t, res.Converged)
	require.Equal(t, 1, res.Iterations)
	// Best-found candidate is still returned and priced.
	require.InDelta(t, Cost(twoNodeSet(), res.Lat, res.Lng), res.Cost, 1e-9)
}

func TestTraceOrderingAndImmutability(t *testing.T) {
	res, err := Solve(Problem{Nodes: twoNodeSet()})
	require.NoError(t, err)
	recs := res.Trace.Records()
	require.NotEmpty(t, recs)
	for i := 1; i < len(recs); i++ {
		require.Less(t, recs[i-1].Iteration, recs[i].Iteration)
	}
	require.LessOrEqual(t, recs[len(recs)-1].Cost, recs[0].Cost)

	// Records hands out copies; the trace itself stays intact.
	recs[0].Cost = -1
	again := res.Trace.Records()
	require.NotEqual(t, -1.0, again[0].Cost)
}

func TestNelderMeadAgreesWithWeiszfeld(t *testing.T) {
	w, err := Solve(Problem{Nodes: twoNodeSet(), Algorithm: AlgWeiszfeld})
	require.NoError(t, err)
	nm, err := Solve(Problem{Nodes: twoNodeSet(), Algorithm: AlgNelderMead, MaxIterations: 2000})
	require.NoError(t, err)
	require.InEpsilon(t, w.Cost, nm.Cost, 0.01)
	require.NotZero(t, nm.Trace.Len())
}
