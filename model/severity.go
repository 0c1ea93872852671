package model

import "github.com/shopspring/decimal"

// SeverityBand groups severity scores
type SeverityBand string

const (
	SeverityCritical SeverityBand = "CRITICAL"
	SeverityHigh     SeverityBand = "HIGH"
	SeverityMedium   SeverityBand = "MEDIUM"
	SeverityLow      SeverityBand = "LOW"
)

var (
	criticalFloor = decimal.RequireFromString("9.0")
	highFloor     = decimal.RequireFromString("7.0")
	mediumFloor   = decimal.RequireFromString("4.0")
)

// BandFor maps a score to its band: 9.0-10.0 critical, 7.0-8.9 high,
// 4.0-6.9 medium and low for anything else.
func BandFor(score decimal.Decimal) SeverityBand {
	switch {
	case score.GreaterThanOrEqual(criticalFloor):
		return SeverityCritical
	case score.GreaterThanOrEqual(highFloor):
		return SeverityHigh
	case score.GreaterThanOrEqual(mediumFloor):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
