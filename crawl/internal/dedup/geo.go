package dedup

import (
	"math"

	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

const earthRadiusMeters = 6_371_000.0

// Distance returns the great-circle distance in meters (haversine).
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// BoundingBox returns a box containing every point within meters of
// (lat, lng). Near the poles the longitude span covers the full circle.
func BoundingBox(lat, lng, meters float64) *store.Box {
	dLat := meters / earthRadiusMeters * 180 / math.Pi
	cos := math.Cos(lat * math.Pi / 180)
	dLng := 180.0
	if cos > 1e-6 {
		dLng = math.Min(180, dLat/cos)
	}
	return &store.Box{
		MinLat: lat - dLat,
		MaxLat: lat + dLat,
		MinLng: lng - dLng,
		MaxLng: lng + dLng,
	}
}
