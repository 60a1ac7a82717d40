package geo

import (
	"math"

	"github.com/uber/h3-go/v4"
)

const earthRadiusKm = 6371.0

// CellResolution is the h3 resolution used to index posts. Cells at this
// resolution have an edge of roughly 174 m.
const CellResolution = 9

const cellEdgeKm = 0.174

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceKm is HaversineKm over two points.
func DistanceKm(a, b Point) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// IsValidLatLon validates geographic coordinates.
func IsValidLatLon(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lng < -180 || lng > 180 {
		return false
	}
	return true
}

func (p Point) Valid() bool {
	return IsValidLatLon(p.Lat, p.Lng)
}

// Cell returns the h3 cell containing p at CellResolution.
func Cell(p Point) (h3.Cell, error) {
	return h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), CellResolution)
}

// CellsWithin returns the cells of the grid disk around p that is wide enough
// to contain every point within radiusKm of p. It only narrows candidates;
// callers still check the exact distance.
func CellsWithin(p Point, radiusKm float64) ([]h3.Cell, error) {
	origin, err := Cell(p)
	if err != nil {
		return nil, err
	}
	k := int(math.Ceil(radiusKm/cellEdgeKm)) + 1
	return h3.GridDisk(origin, k)
}
