package oee

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	timePlaces  = 3
	ratioPlaces = 5
)

// round rounds v half-to-even at places decimals. NaN and infinities
// become 0.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).RoundBank(places).Float64()
	return f
}

// ratio returns num/den rounded to ratioPlaces, or 0 when den is not positive.
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return round(num/den, ratioPlaces)
}
