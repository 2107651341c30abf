package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const (
	// EarthRadiusM is the mean Earth radius in meters
	EarthRadiusM = 6371000.0

	MetersPerNM = 1852.0
	FeetPerM    = 3.28084
)

// Haversine returns the great-circle ground distance in meters between two
// lat/lon points in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0

	lat1Rad := lat1 * rad
	lat2Rad := lat2 * rad
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad

	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusM * c
}

// HaversineNM returns the great-circle distance in nautical miles.
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / MetersPerNM
}

// MagneticVariation returns the magnetic declination in degrees (+East,
// -West) for a position and time. Returns 0 if the model evaluation fails,
// which leaves headings uncorrected rather than wrong.
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	altM := altFt / FeetPerM

	loc := egm96.NewLocationGeodetic(lat, lon, altM)
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// NormalizeHeading wraps a heading in degrees to [0, 360).
func NormalizeHeading(hdg float64) float64 {
	hdg = math.Mod(hdg, 360)
	if hdg < 0 {
		hdg += 360
	}
	return hdg
}
