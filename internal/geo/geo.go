package geo

import (
	"math"

	"github.com/shopspring/decimal"
)

// EarthRadiusMiles matches the radius the fare tables were built with.
const EarthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance between two points, rounded to hundredths of a mile.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Sqrt(a))
	return math.Round(EarthRadiusMiles*c*100) / 100
}

// SuggestedPrice is max(distance * ratePerMile, minimumFare) rounded to cents.
func SuggestedPrice(distanceMiles float64, ratePerMile, minimumFare decimal.Decimal) decimal.Decimal {
	price := decimal.NewFromFloat(distanceMiles).Mul(ratePerMile)
	if price.LessThan(minimumFare) {
		price = minimumFare
	}
	return price.Round(2)
}

// ValidCoord rejects coordinates outside the WGS84 range.
func ValidCoord(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
