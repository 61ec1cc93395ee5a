// Package matcher pairs order line items against delivery and invoice records.
//
// The engine scores one order line against each candidate in the delivery and
// invoice pools, picks the best candidate per pool, and emits structured
// discrepancies for field-level mismatches that survive independent
// re-examination. Matching combines:
//   - Fuzzy product identification (normalized Levenshtein over code and name)
//   - Tolerance-banded price, quantity and date comparison
//   - Weighted per-candidate aggregation with configurable thresholds
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.PriceTolerancePercent = 2.5
//
//	engine := matcher.NewMatchingEngine(config)
//	result := engine.Match(orderItem, deliveries, invoices)
package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TieBreakMode controls which candidate wins when two candidates produce the
// same overall score.
type TieBreakMode string

const (
	// TieBreakFirstSeen keeps the first candidate encountered in pool order.
	TieBreakFirstSeen TieBreakMode = "first_seen"
	// TieBreakEarliestDate prefers the candidate with the earliest
	// delivery/invoice date.
	TieBreakEarliestDate TieBreakMode = "earliest_date"
)

// IsValid checks if the tie-break mode is valid
func (tb TieBreakMode) IsValid() bool {
	return tb == TieBreakFirstSeen || tb == TieBreakEarliestDate
}

// DeliveryWeights defines the relative importance of each dimension when
// scoring an order line against a delivery item.
type DeliveryWeights struct {
	Product  float64 `json:"product"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Date     float64 `json:"date"`
}

// InvoiceWeights defines the relative importance of each dimension when
// scoring an order line against an invoice item. Invoices carry no quantity
// dimension.
type InvoiceWeights struct {
	Product float64 `json:"product"`
	Price   float64 `json:"price"`
	Date    float64 `json:"date"`
}

// MatchingConfig holds all tolerances, weights and thresholds used by the
// matching engine. Different configurations suit different supplier
// relationships (strict for new suppliers, relaxed for long-standing ones).
type MatchingConfig struct {
	// ProductCodeWeight and ProductNameWeight combine code and name
	// similarity into the product match score.
	ProductCodeWeight float64 `json:"product_code_weight"`
	ProductNameWeight float64 `json:"product_name_weight"`

	// StrictCodeMatch treats product codes as exact-match-only instead of fuzzy.
	StrictCodeMatch bool `json:"strict_code_match"`

	// PriceTolerancePercent is the allowed price deviation for standard goods.
	PriceTolerancePercent float64 `json:"price_tolerance_percent"`

	// FreshPriceTolerancePercent is the wider tolerance for perishable goods,
	// identified by FreshKeywords against the product name.
	FreshPriceTolerancePercent float64 `json:"fresh_price_tolerance_percent"`

	// ReasonablePricePercent bounds the secondary decay band for prices.
	ReasonablePricePercent float64 `json:"reasonable_price_percent"`

	// FreshKeywords marks perishable product names.
	FreshKeywords []string `json:"fresh_keywords"`

	// QuantityTolerancePercent is the allowed quantity deviation.
	QuantityTolerancePercent float64 `json:"quantity_tolerance_percent"`

	// MinQuantityVariance is the absolute unit difference treated as noise.
	MinQuantityVariance decimal.Decimal `json:"min_quantity_variance"`

	// AcceptableQuantityPercent bounds the secondary decay band for quantities.
	AcceptableQuantityPercent float64 `json:"acceptable_quantity_percent"`

	// DeliveryDateToleranceDays is the window for delivery date comparison.
	DeliveryDateToleranceDays int `json:"delivery_date_tolerance_days"`

	// InvoiceDateToleranceDays is the window for invoice date comparison.
	InvoiceDateToleranceDays int `json:"invoice_date_tolerance_days"`

	// NameSimilarityThreshold flags a product discrepancy below this similarity.
	NameSimilarityThreshold float64 `json:"name_similarity_threshold"`

	// AutoApproveThreshold and ManualReviewThreshold map the overall score to
	// a match type; DisputedThreshold separates disputed from missing.
	AutoApproveThreshold  float64 `json:"auto_approve_threshold"`
	ManualReviewThreshold float64 `json:"manual_review_threshold"`
	DisputedThreshold     float64 `json:"disputed_threshold"`

	// TieBreak selects the winner among equally scored candidates.
	TieBreak TieBreakMode `json:"tie_break"`

	// EnableIndexFastPath short-circuits candidate scanning when an
	// exact-code candidate already clears the auto-approve threshold.
	EnableIndexFastPath bool `json:"enable_index_fast_path"`

	DeliveryWeights DeliveryWeights `json:"delivery_weights"`
	InvoiceWeights  InvoiceWeights  `json:"invoice_weights"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		ProductCodeWeight:          0.6,
		ProductNameWeight:          0.4,
		StrictCodeMatch:            false,
		PriceTolerancePercent:      3.0,
		FreshPriceTolerancePercent: 5.0,
		ReasonablePricePercent:     20.0,
		FreshKeywords: []string{
			"fresh", "organic", "vegetable", "fruit", "salad",
			"fish", "seafood", "meat", "dairy", "milk", "bread",
		},
		QuantityTolerancePercent:  2.0,
		MinQuantityVariance:       decimal.NewFromFloat(0.1),
		AcceptableQuantityPercent: 10.0,
		DeliveryDateToleranceDays: 2,
		InvoiceDateToleranceDays:  7,
		NameSimilarityThreshold:   0.8,
		AutoApproveThreshold:      0.95,
		ManualReviewThreshold:     0.7,
		DisputedThreshold:         0.3,
		TieBreak:                  TieBreakFirstSeen,
		EnableIndexFastPath:       true,
		DeliveryWeights: DeliveryWeights{
			Product:  0.40,
			Price:    0.25,
			Quantity: 0.25,
			Date:     0.10,
		},
		InvoiceWeights: InvoiceWeights{
			Product: 0.50,
			Price:   0.35,
			Date:    0.15,
		},
	}
}

// StrictMatchingConfig returns a configuration for new or unreliable
// suppliers: exact product codes and tight tolerances.
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.StrictCodeMatch = true
	config.PriceTolerancePercent = 1.0
	config.FreshPriceTolerancePercent = 2.0
	config.QuantityTolerancePercent = 1.0
	config.DeliveryDateToleranceDays = 1
	config.InvoiceDateToleranceDays = 3
	config.NameSimilarityThreshold = 0.9
	return config
}

// RelaxedMatchingConfig returns a configuration for trusted long-standing
// supplier relationships.
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.PriceTolerancePercent = 5.0
	config.FreshPriceTolerancePercent = 8.0
	config.QuantityTolerancePercent = 4.0
	config.DeliveryDateToleranceDays = 3
	config.InvoiceDateToleranceDays = 14
	config.NameSimilarityThreshold = 0.7
	config.ManualReviewThreshold = 0.6
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.ProductCodeWeight < 0 || mc.ProductNameWeight < 0 {
		return fmt.Errorf("product weights cannot be negative")
	}
	if total := mc.ProductCodeWeight + mc.ProductNameWeight; total < 0.9 || total > 1.1 {
		return fmt.Errorf("product weights should sum to approximately 1.0, got %f", total)
	}

	if mc.PriceTolerancePercent < 0 || mc.PriceTolerancePercent > 100 {
		return fmt.Errorf("price tolerance percent must be between 0 and 100: %f", mc.PriceTolerancePercent)
	}
	if mc.FreshPriceTolerancePercent < mc.PriceTolerancePercent {
		return fmt.Errorf("fresh price tolerance (%f) cannot be tighter than standard tolerance (%f)",
			mc.FreshPriceTolerancePercent, mc.PriceTolerancePercent)
	}
	if mc.ReasonablePricePercent <= mc.FreshPriceTolerancePercent {
		return fmt.Errorf("reasonable price percent (%f) must exceed fresh tolerance (%f)",
			mc.ReasonablePricePercent, mc.FreshPriceTolerancePercent)
	}

	if mc.QuantityTolerancePercent < 0 || mc.QuantityTolerancePercent > 100 {
		return fmt.Errorf("quantity tolerance percent must be between 0 and 100: %f", mc.QuantityTolerancePercent)
	}
	if mc.MinQuantityVariance.IsNegative() {
		return fmt.Errorf("minimum quantity variance cannot be negative: %s", mc.MinQuantityVariance)
	}
	if mc.AcceptableQuantityPercent <= mc.QuantityTolerancePercent {
		return fmt.Errorf("acceptable quantity percent (%f) must exceed quantity tolerance (%f)",
			mc.AcceptableQuantityPercent, mc.QuantityTolerancePercent)
	}

	if mc.DeliveryDateToleranceDays < 0 || mc.InvoiceDateToleranceDays < 0 {
		return fmt.Errorf("date tolerances cannot be negative")
	}

	if mc.NameSimilarityThreshold < 0 || mc.NameSimilarityThreshold > 1 {
		return fmt.Errorf("name similarity threshold must be between 0.0 and 1.0: %f", mc.NameSimilarityThreshold)
	}

	if mc.AutoApproveThreshold <= mc.ManualReviewThreshold {
		return fmt.Errorf("auto-approve threshold (%f) must exceed manual-review threshold (%f)",
			mc.AutoApproveThreshold, mc.ManualReviewThreshold)
	}
	if mc.ManualReviewThreshold <= mc.DisputedThreshold {
		return fmt.Errorf("manual-review threshold (%f) must exceed disputed threshold (%f)",
			mc.ManualReviewThreshold, mc.DisputedThreshold)
	}

	if !mc.TieBreak.IsValid() {
		return fmt.Errorf("invalid tie-break mode: %s", mc.TieBreak)
	}

	if err := validateWeightSum("delivery",
		mc.DeliveryWeights.Product+mc.DeliveryWeights.Price+mc.DeliveryWeights.Quantity+mc.DeliveryWeights.Date); err != nil {
		return err
	}
	return validateWeightSum("invoice",
		mc.InvoiceWeights.Product+mc.InvoiceWeights.Price+mc.InvoiceWeights.Date)
}

func validateWeightSum(name string, total float64) error {
	if total < 0.9 || total > 1.1 {
		return fmt.Errorf("%s weights should sum to approximately 1.0, got %f", name, total)
	}
	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	clone.FreshKeywords = append([]string(nil), mc.FreshKeywords...)
	return &clone
}

// PriceTolerancePercentFor returns the tolerance percent applicable to the
// given product name: wider for perishable goods.
func (mc *MatchingConfig) PriceTolerancePercentFor(productName string) float64 {
	if mc.IsFreshProduct(productName) {
		return mc.FreshPriceTolerancePercent
	}
	return mc.PriceTolerancePercent
}

// IsFreshProduct reports whether the product name matches the fresh-goods
// keyword list.
func (mc *MatchingConfig) IsFreshProduct(productName string) bool {
	normalized := NormalizeProductText(productName)
	for _, kw := range mc.FreshKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{PriceTolerance: %.1f%%/%.1f%% fresh, QuantityTolerance: %.1f%%, DateTolerance: %dd/%dd, AutoApprove: %.2f}",
		mc.PriceTolerancePercent, mc.FreshPriceTolerancePercent, mc.QuantityTolerancePercent,
		mc.DeliveryDateToleranceDays, mc.InvoiceDateToleranceDays, mc.AutoApproveThreshold)
}
