package ctdf

import (
	"math"

	"github.com/golang/geo/s2"
)

const EarthRadiusMeters = 6371000.0

// Location is a GeoJSON point, coordinates are stored as [longitude, latitude]
type Location struct {
	Type        string    `json:"-" groups:"basic"`
	Coordinates []float64 `json:"coordinates" groups:"basic"`
}

func NewLocation(latitude float64, longitude float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[1]
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[0]
}

func (l Location) IsValid() bool {
	if len(l.Coordinates) != 2 {
		return false
	}

	lat, lon := l.Latitude(), l.Longitude()
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}

	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func (l Location) point() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(l.Latitude(), l.Longitude()))
}

func locationFromPoint(p s2.Point) Location {
	latLng := s2.LatLngFromPoint(p)
	return NewLocation(latLng.Lat.Degrees(), latLng.Lng.Degrees())
}

// Distance is the great circle distance in metres
func (l Location) Distance(other Location) float64 {
	return l.point().Distance(other.point()).Radians() * EarthRadiusMeters
}

// ProjectOntoLine finds the closest point to l on the segment a->b.
// fraction is how far along the segment that point sits (0 at a, 1 at b) and
// deviation is the distance in metres from l to it.
func (l Location) ProjectOntoLine(a Location, b Location) (fraction float64, deviation float64) {
	x := l.point()
	pa := a.point()
	pb := b.point()

	segmentLength := pa.Distance(pb).Radians()
	if segmentLength == 0 {
		return 0, x.Distance(pa).Radians() * EarthRadiusMeters
	}

	projected := s2.Project(x, pa, pb)
	fraction = pa.Distance(projected).Radians() / segmentLength
	fraction = math.Max(0, math.Min(1, fraction))

	return fraction, x.Distance(projected).Radians() * EarthRadiusMeters
}

// Interpolate returns the point a fraction of the way along a->b
func Interpolate(a Location, b Location, fraction float64) Location {
	if fraction <= 0 {
		return NewLocation(a.Latitude(), a.Longitude())
	}
	if fraction >= 1 {
		return NewLocation(b.Latitude(), b.Longitude())
	}

	return locationFromPoint(s2.Interpolate(fraction, a.point(), b.point()))
}
