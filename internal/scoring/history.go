package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/cache"
	"b2b-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Neutral defaults used whenever an aggregate source or the cache fails.
// Lookup failures are recovered locally and never propagated.
const (
	defaultSupplierReliability = 0.5
	// Unseen products are deliberately conservative: new products get lower
	// confidence until a purchase history accumulates.
	defaultProductHistory = 0.3
	defaultCustomerBase   = 0.5
)

// HistoryConfig holds the rolling windows and cache TTLs for historical
// factor computation.
type HistoryConfig struct {
	SupplierWindow time.Duration `json:"supplier_window"`
	ProductWindow  time.Duration `json:"product_window"`
	CustomerWindow time.Duration `json:"customer_window"`

	SupplierTTL time.Duration `json:"supplier_ttl"`
	ProductTTL  time.Duration `json:"product_ttl"`
	CustomerTTL time.Duration `json:"customer_ttl"`
}

// DefaultHistoryConfig returns the standard windows (6 months supplier,
// 3 months product and customer) and TTLs (1h / 30m / 24h).
func DefaultHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		SupplierWindow: 180 * 24 * time.Hour,
		ProductWindow:  90 * 24 * time.Hour,
		CustomerWindow: 90 * 24 * time.Hour,
		SupplierTTL:    time.Hour,
		ProductTTL:     30 * time.Minute,
		CustomerTTL:    24 * time.Hour,
	}
}

// HistoricalFactors computes the history-backed confidence factors, caching
// each independently with its own TTL. All methods are safe for concurrent
// use and never return errors: failures fall back to neutral defaults.
type HistoricalFactors struct {
	source HistorySource
	cache  cache.Cache
	config *HistoryConfig
	logger logger.Logger
	now    func() time.Time
}

// NewHistoricalFactors creates a factor calculator. A nil cache disables
// caching; a nil source makes every factor fall back to its default.
func NewHistoricalFactors(source HistorySource, c cache.Cache, config *HistoryConfig) *HistoricalFactors {
	if c == nil {
		c = cache.NopCache{}
	}
	if config == nil {
		config = DefaultHistoryConfig()
	}

	return &HistoricalFactors{
		source: source,
		cache:  c,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("historical_factors"),
		now:    time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (hf *HistoricalFactors) SetClock(now func() time.Time) {
	hf.now = now
}

// SupplierReliability blends average historical confidence (40%),
// one-minus-dispute-rate (30%) and volume sufficiency capped at 100 orders
// (30%) over the supplier's rolling window.
func (hf *HistoricalFactors) SupplierReliability(ctx context.Context, supplierID string) float64 {
	key := fmt.Sprintf("supplier_reliability:%s", supplierID)
	if score, ok := hf.cached(ctx, key); ok {
		return score
	}

	if hf.source == nil {
		return defaultSupplierReliability
	}

	stats, err := hf.source.SupplierStats(ctx, supplierID, hf.config.SupplierWindow)
	if err != nil || stats == nil || stats.OrderCount == 0 {
		if err != nil {
			hf.logger.WithError(err).WithField("supplier_id", supplierID).
				Warn("supplier stats lookup failed, using neutral default")
		}
		return defaultSupplierReliability
	}

	volume := clamp01(float64(stats.OrderCount) / 100.0)
	score := clamp01(0.4*stats.AverageConfidence + 0.3*(1-stats.DisputeRate) + 0.3*volume)

	hf.store(ctx, key, score, hf.config.SupplierTTL)
	return score
}

// ProductHistory blends price stability (40%), transaction frequency capped
// at 30 transactions (30%) and order-interval regularity (30%) for the
// supplier+product pair.
func (hf *HistoricalFactors) ProductHistory(ctx context.Context, supplierID, productCode string) float64 {
	key := fmt.Sprintf("product_history:%s:%s", supplierID, productCode)
	if score, ok := hf.cached(ctx, key); ok {
		return score
	}

	if hf.source == nil {
		return defaultProductHistory
	}

	stats, err := hf.source.ProductStats(ctx, supplierID, productCode, hf.config.ProductWindow)
	if err != nil || stats == nil || stats.TransactionCount == 0 {
		if err != nil {
			hf.logger.WithError(err).WithField("product_code", productCode).
				Warn("product stats lookup failed, using neutral default")
		}
		return defaultProductHistory
	}

	stability := priceStability(stats.MeanPrice, stats.PriceStdDev)
	frequency := clamp01(float64(stats.TransactionCount) / 30.0)
	regularity := intervalRegularity(stats.AverageIntervalDays, stats.IntervalStdDevDays)

	score := clamp01(0.4*stability + 0.3*frequency + 0.3*regularity)

	hf.store(ctx, key, score, hf.config.ProductTTL)
	return score
}

// CustomerTier maps the buyer's rolling order count and total value to a
// tier bonus added to a 0.5 base, clamped to [0.3, 1.0].
func (hf *HistoricalFactors) CustomerTier(ctx context.Context, buyerID string) float64 {
	key := fmt.Sprintf("customer_tier:%s", buyerID)
	if score, ok := hf.cached(ctx, key); ok {
		return score
	}

	if hf.source == nil {
		return clamp(defaultCustomerBase, 0.3, 1.0)
	}

	stats, err := hf.source.CustomerStats(ctx, buyerID, hf.config.CustomerWindow)
	if err != nil || stats == nil {
		if err != nil {
			hf.logger.WithError(err).WithField("buyer_id", buyerID).
				Warn("customer stats lookup failed, using neutral default")
		}
		return clamp(defaultCustomerBase, 0.3, 1.0)
	}

	score := clamp(defaultCustomerBase+tierBonus(stats), 0.3, 1.0)

	hf.store(ctx, key, score, hf.config.CustomerTTL)
	return score
}

// IsVIP reports whether the buyer is tagged VIP in the customer aggregates.
// Lookup failures are treated as not-VIP.
func (hf *HistoricalFactors) IsVIP(ctx context.Context, buyerID string) bool {
	if hf.source == nil {
		return false
	}
	stats, err := hf.source.CustomerStats(ctx, buyerID, hf.config.CustomerWindow)
	if err != nil || stats == nil {
		return false
	}
	return stats.VIP
}

func (hf *HistoricalFactors) cached(ctx context.Context, key string) (float64, bool) {
	var score float64
	ok, err := hf.cache.Get(ctx, key, &score)
	if err != nil {
		hf.logger.WithError(err).WithField("key", key).Warn("cache lookup failed, recomputing")
		return 0, false
	}
	return score, ok
}

func (hf *HistoricalFactors) store(ctx context.Context, key string, score float64, ttl time.Duration) {
	if err := hf.cache.Set(ctx, key, score, ttl); err != nil {
		hf.logger.WithError(err).WithField("key", key).Warn("cache store failed")
	}
}

// priceStability converts the price coefficient of variation into a [0,1]
// stability score.
func priceStability(mean, stdDev decimal.Decimal) float64 {
	if mean.IsZero() {
		return 0
	}
	cov, _ := stdDev.Abs().Div(mean.Abs()).Float64()
	return clamp01(1 - cov)
}

// intervalRegularity converts order-interval variation into a [0,1] score.
func intervalRegularity(avgDays, stdDevDays float64) float64 {
	if avgDays <= 0 {
		return 0
	}
	return clamp01(1 - stdDevDays/avgDays)
}

func tierBonus(stats *CustomerStats) float64 {
	value, _ := stats.TotalValue.Float64()
	switch {
	case stats.OrderCount >= 50 || value >= 500000:
		return 0.5
	case stats.OrderCount >= 20 || value >= 100000:
		return 0.35
	case stats.OrderCount >= 5 || value >= 10000:
		return 0.2
	default:
		return 0.05
	}
}

// Product categories for seasonal lookups, inferred from the product name.
type productCategory string

const (
	categoryVegetables productCategory = "vegetables"
	categorySeafood    productCategory = "seafood"
	categoryMeat       productCategory = "meat"
	categoryDefault    productCategory = "default"
)

var categoryKeywords = map[productCategory][]string{
	categoryVegetables: {"vegetable", "kale", "lettuce", "cabbage", "tomato", "onion", "carrot", "spinach", "salad"},
	categorySeafood:    {"fish", "seafood", "salmon", "tuna", "shrimp", "squid", "crab", "oyster"},
	categoryMeat:       {"meat", "beef", "pork", "chicken", "lamb", "duck"},
}

// seasonalTable holds per-category monthly price-stability factors. Values
// below reflect known volatile periods: leafy vegetables in late summer,
// seafood around year-end demand peaks, meat around holiday seasons.
var seasonalTable = map[productCategory][12]float64{
	categoryVegetables: {0.75, 0.80, 0.85, 0.90, 0.90, 0.85, 0.75, 0.70, 0.70, 0.85, 0.85, 0.75},
	categorySeafood:    {0.70, 0.80, 0.85, 0.85, 0.85, 0.80, 0.80, 0.75, 0.80, 0.80, 0.75, 0.65},
	categoryMeat:       {0.80, 0.85, 0.90, 0.90, 0.85, 0.85, 0.80, 0.80, 0.85, 0.85, 0.80, 0.70},
	categoryDefault:    {0.85, 0.90, 0.90, 0.90, 0.90, 0.90, 0.90, 0.90, 0.90, 0.90, 0.90, 0.85},
}

// SeasonalPattern returns the stability factor for the product's category in
// the given month.
func SeasonalPattern(productName string, month time.Month) float64 {
	return seasonalTable[categorize(productName)][int(month)-1]
}

func categorize(productName string) productCategory {
	normalized := strings.ToLower(productName)
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(normalized, kw) {
				return category
			}
		}
	}
	return categoryDefault
}

// OrderComplexity starts at 1.0 and adjusts for quantity extremes, co-item
// count and line value, clamped to [0,1].
func OrderComplexity(item *models.OrderLineItem) float64 {
	score := 1.0

	qty, _ := item.Quantity.Float64()
	if qty > 100 {
		score += 0.1
	} else if qty < 5 {
		score -= 0.1
	}

	switch {
	case item.CoItemCount > 50:
		score -= 0.2
	case item.CoItemCount > 20:
		score -= 0.1
	}

	if value, _ := item.EffectiveLineTotal().Float64(); value > 10000 {
		score += 0.1
	}

	return clamp01(score)
}

var volatileKeywords = []string{"oil", "imported", "organic", "premium"}
var stableKeywords = []string{"canned", "frozen", "dried", "seasoning"}

// MarketVolatility starts at 0.8 and adjusts for volatile/stable product
// keywords and known high-volatility calendar months (the year-end and
// new-year window), clamped to [0,1].
func MarketVolatility(productName string, month time.Month) float64 {
	score := 0.8
	normalized := strings.ToLower(productName)

	for _, kw := range volatileKeywords {
		if strings.Contains(normalized, kw) {
			score -= 0.2
			break
		}
	}
	for _, kw := range stableKeywords {
		if strings.Contains(normalized, kw) {
			score += 0.1
			break
		}
	}

	if month == time.December || month == time.January {
		score -= 0.1
	}

	return clamp01(score)
}
