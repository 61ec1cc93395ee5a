package scoring

import (
	"context"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/logger"
)

// Thresholds define the confidence bands that drive routing decisions.
type Thresholds struct {
	AutoApprove  float64 `json:"auto_approve"`
	ManualReview float64 `json:"manual_review"`
	Dispute      float64 `json:"dispute"`
}

// DefaultThresholds returns the standard routing bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoApprove:  0.95,
		ManualReview: 0.7,
		Dispute:      0.3,
	}
}

// ConfidenceScorer turns a match result into a final confidence score by
// blending match quality with historical and contextual factors.
type ConfidenceScorer struct {
	weights    Weights
	history    *HistoricalFactors
	thresholds Thresholds
	logger     logger.Logger
	now        func() time.Time
}

// NewConfidenceScorer creates a scorer. A nil history disables historical
// lookups, leaving those factors at their neutral defaults.
func NewConfidenceScorer(weights Weights, history *HistoricalFactors) *ConfidenceScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	if history == nil {
		history = NewHistoricalFactors(nil, nil, nil)
	}

	return &ConfidenceScorer{
		weights:    weights,
		history:    history,
		thresholds: DefaultThresholds(),
		logger:     logger.GetGlobalLogger().WithComponent("confidence_scorer"),
		now:        time.Now,
	}
}

// SetThresholds overrides the routing bands.
func (cs *ConfidenceScorer) SetThresholds(t Thresholds) {
	cs.thresholds = t
}

// SetClock overrides the time source, for tests.
func (cs *ConfidenceScorer) SetClock(now func() time.Time) {
	cs.now = now
}

// Thresholds returns the active routing bands.
func (cs *ConfidenceScorer) Thresholds() Thresholds {
	return cs.thresholds
}

// Score computes the weighted confidence for a match result and returns the
// full factor breakdown used to produce it.
func (cs *ConfidenceScorer) Score(ctx context.Context, mr *models.MatchResult) (float64, FactorSet) {
	factors := cs.collectFactors(ctx, mr)
	score := WeightedScore(factors, cs.weights)

	cs.logger.WithFields(map[string]interface{}{
		"order_id": mr.OrderItem.OrderID,
		"score":    score,
	}).Debug("confidence computed")

	return score, factors
}

func (cs *ConfidenceScorer) collectFactors(ctx context.Context, mr *models.MatchResult) FactorSet {
	factors := FactorSet{}

	cs.addMatchFactors(factors, mr)

	item := mr.OrderItem
	month := cs.referenceMonth(item)

	factors[FactorSupplierReliability] = cs.history.SupplierReliability(ctx, item.SupplierID)
	factors[FactorProductHistory] = cs.history.ProductHistory(ctx, item.SupplierID, item.ProductCode)
	factors[FactorCustomerTier] = cs.history.CustomerTier(ctx, item.BuyerID)
	factors[FactorSeasonalPattern] = SeasonalPattern(item.ProductName, month)
	factors[FactorOrderComplexity] = OrderComplexity(item)
	factors[FactorMarketVolatility] = MarketVolatility(item.ProductName, month)

	return factors
}

// addMatchFactors derives the per-field match factors from discrepancy
// severities. A field with no discrepancy scores a perfect 1.0; an item with
// no candidate documents at all scores zero on every match factor.
func (cs *ConfidenceScorer) addMatchFactors(factors FactorSet, mr *models.MatchResult) {
	if mr.DeliveryItem == nil && mr.InvoiceItem == nil {
		factors[FactorProductMatch] = 0
		factors[FactorPriceMatch] = 0
		factors[FactorDateMatch] = 0
		return
	}

	worst := map[models.DiscrepancyType]models.Severity{}
	for _, d := range mr.Discrepancies {
		if current, ok := worst[d.Type]; !ok || d.Severity.Rank() > current.Rank() {
			worst[d.Type] = d.Severity
		}
	}

	factors[FactorProductMatch] = matchFactor(worst, models.DiscrepancyProduct)
	factors[FactorPriceMatch] = matchFactor(worst, models.DiscrepancyPrice)
	factors[FactorDateMatch] = matchFactor(worst, models.DiscrepancyDate)

	// Quantity is only observable against a physical delivery; invoices
	// restate the ordered quantity and carry no independent signal.
	if mr.DeliveryItem != nil {
		factors[FactorQuantityMatch] = matchFactor(worst, models.DiscrepancyQuantity)
	}
}

func matchFactor(worst map[models.DiscrepancyType]models.Severity, t models.DiscrepancyType) float64 {
	severity, ok := worst[t]
	if !ok {
		return 1.0
	}
	return severityFactor(severity)
}

// referenceMonth prefers the order's requested delivery date over wall-clock
// time so replayed historical batches score consistently.
func (cs *ConfidenceScorer) referenceMonth(item *models.OrderLineItem) time.Month {
	if !item.RequestedDeliveryDate.IsZero() {
		return item.RequestedDeliveryDate.Month()
	}
	return cs.now().Month()
}

// ScoreReport is the explainable breakdown attached to audit trails and
// manual-review queues.
type ScoreReport struct {
	Score           float64    `json:"score"`
	Factors         FactorSet  `json:"factors"`
	Weights         Weights    `json:"weights"`
	Recommendations []string   `json:"recommendations"`
	GeneratedAt     time.Time  `json:"generated_at"`
	Thresholds      Thresholds `json:"thresholds"`
}

// Report scores the match result and annotates it with routing
// recommendations for reviewers.
func (cs *ConfidenceScorer) Report(ctx context.Context, mr *models.MatchResult) *ScoreReport {
	score, factors := cs.Score(ctx, mr)

	var recs []string
	switch {
	case score >= cs.thresholds.AutoApprove:
		recs = append(recs, "auto-approve: confidence exceeds the automatic approval threshold")
	case score >= cs.thresholds.ManualReview:
		recs = append(recs, "escalate for manual review")
	default:
		recs = append(recs, "open a dispute: confidence is below the review threshold")
	}

	if factors[FactorSupplierReliability] < 0.4 {
		recs = append(recs, "increase monitoring of this supplier")
	}
	if factors[FactorProductHistory] <= defaultProductHistory {
		recs = append(recs, "no purchase history for this product, consider manual review")
	}

	return &ScoreReport{
		Score:           score,
		Factors:         factors,
		Weights:         cs.weights,
		Recommendations: recs,
		GeneratedAt:     cs.now(),
		Thresholds:      cs.thresholds,
	}
}
