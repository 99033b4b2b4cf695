package geo

import (
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// MagneticVariation calculates the magnetic declination at p for the given time.
// Returns declination in degrees (+East, -West), or 0 if the model cannot be evaluated.
func MagneticVariation(p Point, at time.Time) float64 {
	altM := 0.0
	if p.Alt != nil {
		altM = *p.Alt
	}

	loc := egm96.NewLocationGeodetic(p.Lat, p.Lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, at)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// TrueToMagnetic converts a true bearing to a magnetic one given the local variation
func TrueToMagnetic(trueBearing, variation float64) float64 {
	return NormalizeHeading(trueBearing - variation)
}
