package opt

import "facloc/internal/geo"

// Node is a weighted input point for the solver.
type Node struct {
	ID     string
	Kind   string // supplier, customer
	Lat    float64
	Lng    float64
	Volume float64
}

// Cost is the weighted-sum-of-distances objective: for a candidate warehouse
// at (lat,lng) it returns sum over nodes of volume * distanceKm. Evaluable at
// any point of the lat/lng domain, mid-ocean included.
func Cost(nodes []Node, lat, lng float64) float64 {
	total := 0.0
	for _, n := range nodes {
		total += n.Volume * geo.Haversine(lat, lng, n.Lat, n.Lng)
	}
	return total
}

// WeightedCentroid returns the volume-weighted mean coordinate, the default
// starting point of the search. Falls back to the plain mean when all
// volumes are zero.
func WeightedCentroid(nodes []Node) (lat, lng float64) {
	var sumW, sumLat, sumLng float64
	for _, n := range nodes {
		sumW += n.Volume
		sumLat += n.Volume * n.Lat
		sumLng += n.Volume * n.Lng
	}
	if sumW > 0 {
		return sumLat / sumW, sumLng / sumW
	}
	for _, n := range nodes {
		sumLat += n.Lat
		sumLng += n.Lng
	}
	return sumLat / float64(len(nodes)), sumLng / float64(len(nodes))
}

// NodeBounds returns the bounding box of the input nodes.
func NodeBounds(nodes []Node) geo.Bounds {
	b := geo.Bounds{MinLat: nodes[0].Lat, MaxLat: nodes[0].Lat, MinLng: nodes[0].Lng, MaxLng: nodes[0].Lng}
	for _, n := range nodes[1:] {
		if n.Lat < b.MinLat {
			b.MinLat = n.Lat
		}
		if n.Lat > b.MaxLat {
			b.MaxLat = n.Lat
		}
		if n.Lng < b.MinLng {
			b.MinLng = n.Lng
		}
		if n.Lng > b.MaxLng {
			b.MaxLng = n.Lng
		}
	}
	return b
}
