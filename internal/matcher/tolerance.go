package matcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance evaluators turn raw field deltas into bounded [0,1] scores.
// Each evaluator follows the same shape: exact match scores 1.0, differences
// inside the primary tolerance band decay linearly to the band-edge score,
// differences inside a secondary "reasonable" band decay further, and
// anything beyond floors at a small non-zero score.

const (
	bandEdgeScore       = 0.7
	secondaryStartScore = 0.5
	priceFloorScore     = 0.1
	quantityNoiseScore  = 0.95
	quantityFloorScore  = 0.2
	dateFloorScore      = 0.1
)

// PriceScore scores the delivered/invoiced unit price against the ordered
// unit price. tolerancePercent is the primary band width (wider for fresh
// goods); reasonablePercent bounds the secondary band.
func (mc *MatchingConfig) PriceScore(expected, actual decimal.Decimal, productName string) float64 {
	if expected.Equal(actual) {
		return 1.0
	}

	base := expected.Abs()
	if base.IsZero() {
		// No reference price to compare against; any non-equal price is
		// maximally suspicious.
		return priceFloorScore
	}

	diff := expected.Sub(actual).Abs()
	tolerancePercent := mc.PriceTolerancePercentFor(productName)

	band := base.Mul(decimal.NewFromFloat(tolerancePercent / 100.0))
	if band.IsPositive() && diff.LessThanOrEqual(band) {
		ratio, _ := diff.Div(band).Float64()
		return 1.0 - (1.0-bandEdgeScore)*ratio
	}

	reasonable := base.Mul(decimal.NewFromFloat(mc.ReasonablePricePercent / 100.0))
	if diff.LessThanOrEqual(reasonable) && reasonable.GreaterThan(band) {
		ratio, _ := diff.Sub(band).Div(reasonable.Sub(band)).Float64()
		return secondaryStartScore - (secondaryStartScore-priceFloorScore)*ratio
	}

	return priceFloorScore
}

// QuantityScore scores the delivered quantity against the ordered quantity.
// Differences at or below MinQuantityVariance are treated as counting noise.
func (mc *MatchingConfig) QuantityScore(ordered, delivered decimal.Decimal) float64 {
	if ordered.Equal(delivered) {
		return 1.0
	}

	diff := ordered.Sub(delivered).Abs()
	if diff.LessThanOrEqual(mc.MinQuantityVariance) {
		return quantityNoiseScore
	}

	if ordered.IsZero() {
		return quantityFloorScore
	}

	pct, _ := diff.Div(ordered.Abs()).Mul(decimal.NewFromInt(100)).Float64()

	if mc.QuantityTolerancePercent > 0 && pct <= mc.QuantityTolerancePercent {
		return 1.0 - (1.0-bandEdgeScore)*(pct/mc.QuantityTolerancePercent)
	}

	if pct <= mc.AcceptableQuantityPercent {
		span := mc.AcceptableQuantityPercent - mc.QuantityTolerancePercent
		ratio := (pct - mc.QuantityTolerancePercent) / span
		return secondaryStartScore - (secondaryStartScore-quantityFloorScore)*ratio
	}

	return quantityFloorScore
}

// DateScore scores an actual delivery/invoice date against the requested
// delivery date with the given tolerance window in days.
func DateScore(expected, actual time.Time, toleranceDays int) float64 {
	days := absDays(expected, actual)
	if days == 0 {
		return 1.0
	}

	if toleranceDays <= 0 {
		return dateFloorScore
	}

	tol := float64(toleranceDays)
	if days <= tol {
		return 1.0 - (1.0-bandEdgeScore)*(days/tol)
	}

	if days <= 2*tol {
		return secondaryStartScore - (secondaryStartScore-dateFloorScore)*((days-tol)/tol)
	}

	return dateFloorScore
}

// absDays returns the absolute calendar-day distance between two timestamps.
func absDays(a, b time.Time) float64 {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)

	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return diff.Hours() / 24
}
