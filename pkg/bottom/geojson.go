package bottom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// HeatmapGeoJSON renders heatmap cells as a FeatureCollection of points
func HeatmapGeoJSON(cells []HeatmapCell) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range cells {
		f := geojson.NewFeature(orb.Point{c.Location.Longitude, c.Location.Latitude})
		info := c.BottomType.Info()
		f.Properties["bottom_type"] = info.Name
		f.Properties["holding"] = info.Holding
		f.Properties["confidence"] = c.Confidence
		fc.Append(f)
	}
	return fc
}
