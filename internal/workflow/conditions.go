// Package workflow converts a match result's discrepancies into a
// prioritized action plan, materializes the plan as a stateful multi-step
// workflow, executes the automatable steps, and evaluates escalation rules.
package workflow

import (
	"fmt"

	"b2b-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// PriceDirection says which way the actual price moved relative to the order.
type PriceDirection string

const (
	PriceLower  PriceDirection = "lower"
	PriceHigher PriceDirection = "higher"
)

type conditionKind int

const (
	condVarianceAtMost conditionKind = iota
	condVarianceAtLeast
	condPriceDirection
)

// Condition is one structured template predicate over a discrepancy. The
// closed set of variants keeps template matching a pure, total function.
type Condition struct {
	kind      conditionKind
	threshold decimal.Decimal
	direction PriceDirection
}

// VarianceAtMost matches discrepancies whose variance percentage does not
// exceed pct.
func VarianceAtMost(pct float64) Condition {
	return Condition{kind: condVarianceAtMost, threshold: decimal.NewFromFloat(pct)}
}

// VarianceAtLeast matches discrepancies whose variance percentage is at
// least pct.
func VarianceAtLeast(pct float64) Condition {
	return Condition{kind: condVarianceAtLeast, threshold: decimal.NewFromFloat(pct)}
}

// PriceMoved matches price discrepancies where the actual price moved in the
// given direction relative to the ordered price.
func PriceMoved(direction PriceDirection) Condition {
	return Condition{kind: condPriceDirection, direction: direction}
}

// Matches evaluates the condition against a discrepancy.
func (c Condition) Matches(d models.Discrepancy) bool {
	switch c.kind {
	case condVarianceAtMost:
		return d.VariancePct.LessThanOrEqual(c.threshold)
	case condVarianceAtLeast:
		return d.VariancePct.GreaterThanOrEqual(c.threshold)
	case condPriceDirection:
		if d.Type != models.DiscrepancyPrice {
			return false
		}
		expected, err1 := models.ParseDecimalFromString(d.Expected)
		actual, err2 := models.ParseDecimalFromString(d.Actual)
		if err1 != nil || err2 != nil {
			return false
		}
		if c.direction == PriceLower {
			return actual.LessThan(expected)
		}
		return actual.GreaterThan(expected)
	default:
		return false
	}
}

// String describes the condition for logs and audit trails.
func (c Condition) String() string {
	switch c.kind {
	case condVarianceAtMost:
		return fmt.Sprintf("variance <= %s%%", c.threshold.String())
	case condVarianceAtLeast:
		return fmt.Sprintf("variance >= %s%%", c.threshold.String())
	case condPriceDirection:
		return fmt.Sprintf("price moved %s", c.direction)
	default:
		return "unknown condition"
	}
}
