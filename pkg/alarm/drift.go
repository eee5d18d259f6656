package alarm

import (
	"math"
	"time"

	"github.com/sajari/regression"
)

// DefaultDriftSamples is how many distance samples feed the drift estimate
const DefaultDriftSamples = 60

type distanceSample struct {
	at       time.Time
	distance float64
}

// DriftEstimate is the least-squares trend of distance from anchor over time
type DriftEstimate struct {
	RateMPerMin float64 `json:"rate_m_per_min"`
	R2          float64 `json:"r2"`
	Samples     int     `json:"samples"`
}

// estimateDrift fits distance = a + b*minutes and returns b.
// It needs at least three samples spread over a non-zero time span.
func estimateDrift(samples []distanceSample) (DriftEstimate, bool) {
	if len(samples) < 3 {
		return DriftEstimate{}, false
	}
	origin := samples[0].at
	if !samples[len(samples)-1].at.After(origin) {
		return DriftEstimate{}, false
	}

	var r regression.Regression
	r.SetObserved("distance_m")
	r.SetVar(0, "minutes")
	for _, s := range samples {
		r.Train(regression.DataPoint(s.distance, []float64{s.at.Sub(origin).Minutes()}))
	}
	if err := r.Run(); err != nil {
		return DriftEstimate{}, false
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 || math.IsNaN(coeffs[1]) || math.IsInf(coeffs[1], 0) {
		return DriftEstimate{}, false
	}
	r2 := r.R2
	if math.IsNaN(r2) {
		r2 = 0
	}
	return DriftEstimate{RateMPerMin: coeffs[1], R2: r2, Samples: len(samples)}, true
}
