// Package bottom predicts seabed type from nearby historical observations
package bottom

import (
	"math"
	"sort"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/geo"
)

// DefaultSearchRadiusM is used when Predict is called with a non-positive radius
const DefaultSearchRadiusM = 1000.0

// distanceScaleM controls how fast an observation's vote decays with distance
const distanceScaleM = 100.0

type nearby struct {
	obs      pkg.BottomObservation
	distance float64
}

// Predict infers the bottom type at location from observations within
// searchRadiusM meters. Each observation votes with weight
// 1/(1+d/100) scaled by its confidence. On an exact weight tie the type seen
// first in nearest-first order wins. Returns nil when nothing is in range or
// location is not a valid coordinate. Invalid observations are skipped.
func Predict(location pkg.Geopoint, observations []pkg.BottomObservation, searchRadiusM float64) *pkg.BottomTypePrediction {
	if location.Validate() != nil {
		return nil
	}
	if !(searchRadiusM > 0) || math.IsInf(searchRadiusM, 0) {
		searchRadiusM = DefaultSearchRadiusM
	}

	found := make([]nearby, 0)
	for _, obs := range observations {
		if !obs.BottomType.Valid() || obs.Point().Validate() != nil {
			continue
		}
		d := geo.Distance(location, obs.Point())
		if d <= searchRadiusM {
			found = append(found, nearby{obs: obs, distance: d})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].distance < found[j].distance })

	var (
		weights     = make(map[pkg.BottomType]float64)
		order       []pkg.BottomType
		totalWeight float64
		totalDist   float64
	)
	for _, n := range found {
		w := (1 / (1 + n.distance/distanceScaleM)) * n.obs.Confidence.Weight()
		if _, seen := weights[n.obs.BottomType]; !seen {
			order = append(order, n.obs.BottomType)
		}
		weights[n.obs.BottomType] += w
		totalWeight += w
		totalDist += n.distance
	}

	winner := order[0]
	for _, t := range order[1:] {
		if weights[t] > weights[winner] {
			winner = t
		}
	}

	count := len(found)
	avgDist := totalDist / float64(count)

	countFactor := math.Min(float64(count)/10, 1)
	proximityFactor := math.Max(0, 1-avgDist/searchRadiusM)
	shareFactor := 0.0
	if totalWeight > 0 {
		shareFactor = weights[winner] / totalWeight
	}

	return &pkg.BottomTypePrediction{
		BottomType:            winner,
		Confidence:            0.3*countFactor + 0.4*proximityFactor + 0.3*shareFactor,
		NearbyRecordCount:     count,
		AverageDistanceMeters: avgDist,
	}
}
