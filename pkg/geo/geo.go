// Package geo implements great-circle math on a spherical Earth
package geo

import (
	"math"

	"github.com/anchorwatch/anchorwatch/pkg"
)

// EarthRadiusM is the mean Earth radius used by every formula in this package
const EarthRadiusM = 6371000.0

// MetersPerDegreeLat is the rough length of one degree of latitude
const MetersPerDegreeLat = 111000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine great-circle distance between a and b in meters
func Distance(a, b pkg.Geopoint) float64 {
	lat1Rad := toRad(a.Latitude)
	lat2Rad := toRad(b.Latitude)
	deltaLatRad := toRad(b.Latitude - a.Latitude)
	deltaLonRad := toRad(b.Longitude - a.Longitude)

	h := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)
	// rounding can push h a hair outside [0,1] for antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// Bearing returns the initial bearing from a to b in degrees, [0, 360).
// 0 is north and 90 is east. Coincident points yield 0.
func Bearing(a, b pkg.Geopoint) float64 {
	lat1Rad := toRad(a.Latitude)
	lat2Rad := toRad(b.Latitude)
	deltaLonRad := toRad(b.Longitude - a.Longitude)

	y := math.Sin(deltaLonRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLonRad)

	return normalizeBearing(toDeg(math.Atan2(y, x)))
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Destination returns the point reached by travelling distanceM meters from p
// along the initial bearing bearingDeg. Accuracy and timestamp are not carried.
func Destination(p pkg.Geopoint, bearingDeg, distanceM float64) pkg.Geopoint {
	lat1 := toRad(p.Latitude)
	lon1 := toRad(p.Longitude)
	brng := toRad(bearingDeg)
	delta := distanceM / EarthRadiusM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
		math.Cos(lat1)*math.Sin(delta)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

	lon := math.Mod(toDeg(lon2)+540, 360) - 180
	return pkg.Geopoint{Latitude: toDeg(lat2), Longitude: lon}
}

// MetersToDegreesLat converts a north-south distance to degrees of latitude
func MetersToDegreesLat(meters float64) float64 {
	return meters / MetersPerDegreeLat
}

// MetersToDegreesLon converts an east-west distance at latitude lat to degrees of longitude
func MetersToDegreesLon(meters, lat float64) float64 {
	cos := math.Cos(toRad(lat))
	if cos < 1e-9 {
		return 0
	}
	return meters / (MetersPerDegreeLat * cos)
}
