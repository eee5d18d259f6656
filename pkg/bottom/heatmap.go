package bottom

import (
	"math"

	"github.com/anchorwatch/anchorwatch/pkg"
)

const (
	// HeatmapSearchRadiusM is the per-cell prediction radius
	HeatmapSearchRadiusM = 500.0
	// HeatmapMinConfidence is the confidence a cell must exceed to be kept
	HeatmapMinConfidence = 0.3
	// MaxGridSize bounds the lattice, the cost is gridSize² predictions
	MaxGridSize = 100

	kmPerDegreeLat = 111.0
)

// HeatmapCell is one lattice point with its predicted bottom type
type HeatmapCell struct {
	Location   pkg.Geopoint   `json:"location"`
	BottomType pkg.BottomType `json:"bottom_type"`
	Confidence float64        `json:"confidence"`
}

// Heatmap lays a gridSize × gridSize lattice over a square of side 2·radiusKm
// centered on center and predicts the bottom type at each point. Only cells
// with confidence above HeatmapMinConfidence are returned, row by row from the
// south-west corner.
func Heatmap(center pkg.Geopoint, radiusKm float64, gridSize int, observations []pkg.BottomObservation) []HeatmapCell {
	if center.Validate() != nil || !(radiusKm > 0) || math.IsInf(radiusKm, 0) || gridSize < 1 || len(observations) == 0 {
		return nil
	}
	if gridSize > MaxGridSize {
		gridSize = MaxGridSize
	}

	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}

	latStep := (2 * radiusKm / float64(gridSize)) / kmPerDegreeLat
	lonStep := latStep / cosLat
	latOrigin := center.Latitude - radiusKm/kmPerDegreeLat
	lonOrigin := center.Longitude - (radiusKm/kmPerDegreeLat)/cosLat

	var cells []HeatmapCell
	for i := 0; i < gridSize; i++ {
		lat := latOrigin + float64(i)*latStep
		if lat < -90 || lat > 90 {
			continue
		}
		for j := 0; j < gridSize; j++ {
			lon := lonOrigin + float64(j)*lonStep
			point := pkg.Geopoint{Latitude: lat, Longitude: wrapLongitude(lon)}

			p := Predict(point, observations, HeatmapSearchRadiusM)
			if p == nil || p.Confidence <= HeatmapMinConfidence {
				continue
			}
			cells = append(cells, HeatmapCell{Location: point, BottomType: p.BottomType, Confidence: p.Confidence})
		}
	}
	return cells
}

func wrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	return math.Mod(lon+540, 360) - 180
}
