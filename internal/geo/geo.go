// Package geo converts global GNSS coordinates into the local NED frame the
// estimator works in. The projection is azimuthal equidistant on a spherical
// Earth, which is accurate to well under a centimeter at landing-approach
// distances.
package geo

import "math"

// earthRadiusM is the spherical Earth radius used by the projection.
const earthRadiusM = 6371000.0

// NED returns the north/east/down offset of (latDeg, lonDeg, altM) relative
// to the origin (originLatDeg, originLonDeg, originAltM). Down is positive
// below the origin altitude.
func NED(latDeg, lonDeg, altM, originLatDeg, originLonDeg, originAltM float64) (north, east, down float64) {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	lat0 := originLatDeg * math.Pi / 180
	lon0 := originLonDeg * math.Pi / 180

	sinLat, cosLat := math.Sincos(lat)
	sinLat0, cosLat0 := math.Sincos(lat0)
	dLon := lon - lon0
	sinDLon, cosDLon := math.Sincos(dLon)

	cosC := sinLat0*sinLat + cosLat0*cosLat*cosDLon
	cosC = math.Max(-1, math.Min(1, cosC))
	c := math.Acos(cosC)

	k := 1.0
	if math.Abs(c) > 1e-12 {
		k = c / math.Sin(c)
	}

	north = k * (cosLat0*sinLat - sinLat0*cosLat*cosDLon) * earthRadiusM
	east = k * cosLat * sinDLon * earthRadiusM
	down = originAltM - altM
	return north, east, down
}

// Global is the inverse of NED: it returns the latitude, longitude and
// altitude of a point given by its NED offset from the origin.
func Global(north, east, down, originLatDeg, originLonDeg, originAltM float64) (latDeg, lonDeg, altM float64) {
	lat0 := originLatDeg * math.Pi / 180
	lon0 := originLonDeg * math.Pi / 180

	xRad := north / earthRadiusM
	yRad := east / earthRadiusM
	c := math.Hypot(xRad, yRad)

	var lat, lon float64
	if c > 1e-12 {
		sinC, cosC := math.Sincos(c)
		lat = math.Asin(cosC*math.Sin(lat0) + xRad*sinC*math.Cos(lat0)/c)
		lon = lon0 + math.Atan2(yRad*sinC, c*math.Cos(lat0)*cosC-xRad*math.Sin(lat0)*sinC)
	} else {
		lat = lat0
		lon = lon0
	}

	return lat * 180 / math.Pi, lon * 180 / math.Pi, originAltM - down
}
