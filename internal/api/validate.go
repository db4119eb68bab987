package api

import (
	"fmt"

	"facloc/internal/geo"
	"facloc/internal/model"
	"facloc/internal/opt"
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.DatasetID == "" {
		return fmt.Errorf("datasetId is required")
	}
	if req.Algorithm != "" && req.Algorithm != opt.AlgWeiszfeld && req.Algorithm != opt.AlgNelderMead {
		return fmt.Errorf("invalid algorithm: %s", req.Algorithm)
	}
	if req.ToleranceDeg < 0 {
		return fmt.Errorf("toleranceDeg must be >= 0")
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if req.BoundsMarginDeg < 0 {
		return fmt.Errorf("boundsMarginDeg must be >= 0")
	}
	if req.Start != nil && !geo.ValidPoint(req.Start.Lat, req.Start.Lng) {
		return fmt.Errorf("start must be a valid lat/lng pair")
	}
	return nil
}
