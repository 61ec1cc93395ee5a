// Package scoring augments raw match scores with historical and contextual
// signals to produce a final, explainable confidence value.
//
// The scorer consumes the matching engine's discrepancies, derives per-field
// match factors from their severities, blends in historical aggregates
// (supplier reliability, product price history, customer tier) and contextual
// heuristics (seasonality, order complexity, market volatility), and reports
// a weighted confidence plus a full factor breakdown for audit trails.
package scoring

import (
	"fmt"

	"b2b-reconciliation-engine/internal/models"
)

// FactorName identifies one component of the confidence calculation.
type FactorName string

const (
	FactorProductMatch        FactorName = "product_match"
	FactorPriceMatch          FactorName = "price_match"
	FactorQuantityMatch       FactorName = "quantity_match"
	FactorDateMatch           FactorName = "date_match"
	FactorSupplierReliability FactorName = "supplier_reliability"
	FactorProductHistory      FactorName = "product_history"
	FactorSeasonalPattern     FactorName = "seasonal_pattern"
	FactorOrderComplexity     FactorName = "order_complexity"
	FactorMarketVolatility    FactorName = "market_volatility"
	FactorCustomerTier        FactorName = "customer_tier"
)

// FactorSet maps factor names to their [0,1] scores. Only factors that are
// actually present participate in aggregation.
type FactorSet map[FactorName]float64

// Weights maps factor names to their relative importance.
type Weights map[FactorName]float64

// DefaultWeights returns the standard weight map. Match-quality factors carry
// three quarters of the weight; historical and contextual signals share the rest.
func DefaultWeights() Weights {
	return Weights{
		FactorProductMatch:        0.25,
		FactorPriceMatch:          0.20,
		FactorQuantityMatch:       0.20,
		FactorDateMatch:           0.10,
		FactorSupplierReliability: 0.10,
		FactorProductHistory:      0.05,
		FactorSeasonalPattern:     0.03,
		FactorOrderComplexity:     0.03,
		FactorMarketVolatility:    0.02,
		FactorCustomerTier:        0.02,
	}
}

// Validate checks that all weights are non-negative and at least one is positive.
func (w Weights) Validate() error {
	total := 0.0
	for name, weight := range w {
		if weight < 0 {
			return fmt.Errorf("weight for %s cannot be negative: %f", name, weight)
		}
		total += weight
	}
	if total <= 0 {
		return fmt.Errorf("weights must include at least one positive value")
	}
	return nil
}

// WeightedScore aggregates the present factors as a weighted average,
// normalized by the total weight actually used, clamped to [0,1]. Factors
// without a configured weight are ignored.
func WeightedScore(factors FactorSet, weights Weights) float64 {
	var sum, used float64
	for name, score := range factors {
		weight, ok := weights[name]
		if !ok || weight == 0 {
			continue
		}
		sum += score * weight
		used += weight
	}

	if used == 0 {
		return 0
	}
	return clamp01(sum / used)
}

// severityFactor maps a discrepancy severity to the match-factor score for
// its field. The absence of a discrepancy implies a perfect 1.0.
func severityFactor(s models.Severity) float64 {
	switch s {
	case models.SeverityLow:
		return 0.9
	case models.SeverityMedium:
		return 0.7
	case models.SeverityHigh:
		return 0.4
	case models.SeverityCritical:
		return 0.1
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
