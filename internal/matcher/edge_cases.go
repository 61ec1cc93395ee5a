package matcher

import (
	"fmt"
	"sort"

	"b2b-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// EdgeCaseHandler covers matching scenarios the per-item scorer cannot see:
// duplicate delivery records and orders fulfilled by several partial
// deliveries.
type EdgeCaseHandler struct {
	Config *MatchingConfig
}

// NewEdgeCaseHandler creates an edge case handler.
func NewEdgeCaseHandler(config *MatchingConfig) *EdgeCaseHandler {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &EdgeCaseHandler{Config: config}
}

// DuplicateDeliveryGroup is a set of delivery records that likely describe
// the same physical delivery twice.
type DuplicateDeliveryGroup struct {
	Deliveries []*models.DeliveryItem
	Confidence float64
	Reason     string
}

// DetectDuplicateDeliveries groups deliveries that share product, quantity
// and delivery date. Duplicate records inflate delivered quantities and must
// be surfaced before matching.
func (ech *EdgeCaseHandler) DetectDuplicateDeliveries(deliveries []*models.DeliveryItem) []DuplicateDeliveryGroup {
	type dupKey struct {
		code string
		qty  string
		date string
	}

	buckets := make(map[dupKey][]*models.DeliveryItem)
	var order []dupKey
	for _, d := range deliveries {
		if d == nil {
			continue
		}
		key := dupKey{
			code: NormalizeProductText(d.ProductCode),
			qty:  d.Quantity.String(),
			date: d.DeliveryDate.Format("2006-01-02"),
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], d)
	}

	var groups []DuplicateDeliveryGroup
	for _, key := range order {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}

		confidence := 0.7
		// A shared batch number is strong evidence of a double-keyed record.
		if sameBatch(members) {
			confidence = 0.95
		}

		groups = append(groups, DuplicateDeliveryGroup{
			Deliveries: members,
			Confidence: confidence,
			Reason: fmt.Sprintf("%d delivery records share product %s, quantity %s and date",
				len(members), members[0].ProductCode, members[0].Quantity.String()),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Confidence > groups[j].Confidence })
	return groups
}

func sameBatch(deliveries []*models.DeliveryItem) bool {
	if deliveries[0].BatchNumber == "" {
		return false
	}
	for _, d := range deliveries[1:] {
		if d.BatchNumber != deliveries[0].BatchNumber {
			return false
		}
	}
	return true
}

// SplitDeliveryResult describes an order line fulfilled across several
// partial deliveries.
type SplitDeliveryResult struct {
	Order      *models.OrderLineItem
	Deliveries []*models.DeliveryItem
	// TotalQuantity is the summed quantity across the partial deliveries.
	TotalQuantity decimal.Decimal
	// QuantityGap is ordered minus delivered, positive when still short.
	QuantityGap decimal.Decimal
	Confidence  float64
}

// FindSplitDelivery checks whether multiple deliveries of the order's
// product together satisfy the ordered quantity when no single delivery
// does. Returns nil when fewer than two partial deliveries exist or the
// combined quantity still misses the tolerance band.
func (ech *EdgeCaseHandler) FindSplitDelivery(order *models.OrderLineItem, deliveries []*models.DeliveryItem) *SplitDeliveryResult {
	if order == nil || order.Quantity.IsZero() {
		return nil
	}

	code := NormalizeProductText(order.ProductCode)
	if code == "" {
		return nil
	}

	var parts []*models.DeliveryItem
	total := decimal.Zero
	for _, d := range deliveries {
		if d == nil || NormalizeProductText(d.ProductCode) != code {
			continue
		}
		// A single full delivery is the normal matching path, not a split.
		if d.Quantity.GreaterThanOrEqual(order.Quantity) {
			return nil
		}
		parts = append(parts, d)
		total = total.Add(d.Quantity)
	}

	if len(parts) < 2 {
		return nil
	}

	gap := order.Quantity.Sub(total)
	gapPct := gap.Abs().Div(order.Quantity).Mul(decimal.NewFromInt(100))
	tolerance := decimal.NewFromFloat(ech.Config.QuantityTolerancePercent)
	if gapPct.GreaterThan(tolerance) {
		return nil
	}

	confidence := 0.9
	if !gap.IsZero() {
		confidence = 0.75
	}

	return &SplitDeliveryResult{
		Order:         order,
		Deliveries:    parts,
		TotalQuantity: total,
		QuantityGap:   gap,
		Confidence:    confidence,
	}
}
