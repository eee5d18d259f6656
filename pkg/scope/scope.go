// Package scope computes anchor scope, swing radius and a suggested drag threshold
package scope

import (
	"errors"
	"fmt"
	"math"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/geo"
)

// ErrInvalidInput is returned for negative, NaN or infinite measurements
var ErrInvalidInput = errors.New("invalid scope input")

// Common scope ratios
const (
	RatioChain     = 5.0
	RatioRope      = 7.0
	RatioStorm     = 10.0
	MinSafeRatio   = 3.0
	defaultMarginM = 5.0
)

func check(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s=%v", ErrInvalidInput, name, v)
	}
	return nil
}

func checkAll(values map[string]float64) error {
	for _, name := range []string{"rode", "depth", "bow_height", "boat_length", "ratio", "radius", "accuracy"} {
		if v, ok := values[name]; ok {
			if err := check(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ratio returns rode / (depth + bowHeight)
func Ratio(rodeM, depthM, bowHeightM float64) (float64, error) {
	if err := checkAll(map[string]float64{"rode": rodeM, "depth": depthM, "bow_height": bowHeightM}); err != nil {
		return 0, err
	}
	vertical := depthM + bowHeightM
	if vertical == 0 {
		return 0, fmt.Errorf("%w: depth plus bow height is zero", ErrInvalidInput)
	}
	return rodeM / vertical, nil
}

// RequiredRode returns the rode length needed for ratio in the given depth
func RequiredRode(ratio, depthM, bowHeightM float64) (float64, error) {
	if err := checkAll(map[string]float64{"ratio": ratio, "depth": depthM, "bow_height": bowHeightM}); err != nil {
		return 0, err
	}
	return ratio * (depthM + bowHeightM), nil
}

// SwingRadius is the horizontal reach of the rode plus the boat length.
// A rode no longer than the vertical distance contributes nothing.
func SwingRadius(rodeM, depthM, bowHeightM, boatLengthM float64) (float64, error) {
	if err := checkAll(map[string]float64{"rode": rodeM, "depth": depthM, "bow_height": bowHeightM, "boat_length": boatLengthM}); err != nil {
		return 0, err
	}
	vertical := depthM + bowHeightM
	horizontal := 0.0
	if rodeM > vertical {
		horizontal = math.Sqrt(rodeM*rodeM - vertical*vertical)
	}
	return horizontal + boatLengthM, nil
}

// RecommendedThreshold pads the swing radius with the GPS error margin.
// A nil or small accuracy still adds a fixed minimum margin.
func RecommendedThreshold(swingRadiusM float64, accuracyM *float64) (float64, error) {
	if err := check("radius", swingRadiusM); err != nil {
		return 0, err
	}
	margin := defaultMarginM
	if accuracyM != nil {
		if err := check("accuracy", *accuracyM); err != nil {
			return 0, err
		}
		margin = math.Max(margin, *accuracyM)
	}
	return math.Ceil(swingRadiusM + margin), nil
}

// SwingCircle returns segments points on the circle of radiusM around anchor,
// starting due north and running clockwise
func SwingCircle(anchor pkg.Geopoint, radiusM float64, segments int) ([]pkg.Geopoint, error) {
	if err := anchor.Validate(); err != nil {
		return nil, err
	}
	if err := check("radius", radiusM); err != nil {
		return nil, err
	}
	if segments < 3 {
		segments = 3
	}

	points := make([]pkg.Geopoint, 0, segments)
	for i := 0; i < segments; i++ {
		points = append(points, geo.Destination(anchor, float64(i)*360/float64(segments), radiusM))
	}
	return points, nil
}

// Plan is the combined result for one anchoring setup
type Plan struct {
	Ratio                float64 `json:"ratio"`
	SwingRadiusM         float64 `json:"swing_radius_m"`
	RecommendedThreshold float64 `json:"recommended_threshold_m"`
	RodeFor5to1M         float64 `json:"rode_for_5_to_1_m"`
	RodeFor7to1M         float64 `json:"rode_for_7_to_1_m"`
	Adequate             bool    `json:"adequate"`
}

// Calculate runs every scope formula for one setup
func Calculate(rodeM, depthM, bowHeightM, boatLengthM float64, accuracyM *float64) (*Plan, error) {
	ratio, err := Ratio(rodeM, depthM, bowHeightM)
	if err != nil {
		return nil, err
	}
	radius, err := SwingRadius(rodeM, depthM, bowHeightM, boatLengthM)
	if err != nil {
		return nil, err
	}
	threshold, err := RecommendedThreshold(radius, accuracyM)
	if err != nil {
		return nil, err
	}
	rode5, _ := RequiredRode(RatioChain, depthM, bowHeightM)
	rode7, _ := RequiredRode(RatioRope, depthM, bowHeightM)

	return &Plan{
		Ratio:                ratio,
		SwingRadiusM:         radius,
		RecommendedThreshold: threshold,
		RodeFor5to1M:         rode5,
		RodeFor7to1M:         rode7,
		Adequate:             ratio >= MinSafeRatio,
	}, nil
}
