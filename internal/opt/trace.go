package opt

// TracePoint is one evaluated candidate: iteration index, coordinates, and
// objective value at that candidate.
type TracePoint struct {
	Iteration int
	Lat       float64
	Lng       float64
	Cost      float64
}

// Trace accumulates evaluated candidates in evaluation order. It is owned by
// the solver while a run is in flight and read-only once the run's Result is
// returned; the ordering matters because callers render it as a path.
type Trace struct {
	points []TracePoint
}

func (t *Trace) append(lat, lng, cost float64) {
	t.points = append(t.points, TracePoint{Iteration: len(t.points), Lat: lat, Lng: lng, Cost: cost})
}

// Len returns the number of recorded candidates.
func (t *Trace) Len() int { return len(t.points) }

// Records returns a copy of the recorded candidates, so the sequence can be
// iterated any number of times without re-running the solver.
func (t *Trace) Records() []TracePoint {
	out := make([]TracePoint, len(t.points))
	copy(out, t.points)
	return out
}

// Last returns the most recent record and whether one exists.
func (t *Trace) Last() (TracePoint, bool) {
	if len(t.points) == 0 {
		return TracePoint{}, false
	}
	return t.points[len(t.points)-1], true
}
