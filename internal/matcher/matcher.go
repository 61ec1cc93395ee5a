package matcher

import (
	"fmt"

	"b2b-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// MatchingEngine pairs order line items against delivery and invoice
// candidate pools. Candidates are loaded once per reconciliation run; Match
// is safe for concurrent use afterwards.
type MatchingEngine struct {
	Config *MatchingConfig

	deliveries []*models.DeliveryItem
	invoices   []*models.InvoiceItem
	index      *CandidateIndex
}

// ComponentScores holds the per-field similarity scores for one candidate.
type ComponentScores struct {
	Product  float64 `json:"product"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Date     float64 `json:"date"`
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config: config,
		index:  NewCandidateIndex(nil, nil),
	}
}

// LoadCandidates loads the delivery and invoice pools for a reconciliation
// run and builds the product-code index.
func (me *MatchingEngine) LoadCandidates(deliveries []*models.DeliveryItem, invoices []*models.InvoiceItem) {
	me.deliveries = deliveries
	me.invoices = invoices
	me.index = NewCandidateIndex(deliveries, invoices)
}

// Stats returns statistics about the loaded candidate pools.
func (me *MatchingEngine) Stats() IndexStats {
	return me.index.Stats()
}

// Match finds the best delivery and invoice candidates for one order line and
// produces a MatchResult with an overall score, discrepancies and suggested
// actions. A missing or invalid order item, or empty candidate pools, yield a
// missing-type result rather than an error.
func (me *MatchingEngine) Match(order *models.OrderLineItem) *models.MatchResult {
	result := &models.MatchResult{
		OrderItem: order,
		Metadata:  map[string]interface{}{},
	}

	if order == nil || order.Validate() != nil {
		result.MatchType = models.MatchMissing
		result.Discrepancies = []models.Discrepancy{missingDiscrepancy("order line data is incomplete")}
		result.SuggestedActions = me.suggestActions(result)
		return result
	}

	bestDelivery, deliveryScores := me.bestDelivery(order)
	bestInvoice, invoiceScores := me.bestInvoice(order)

	result.DeliveryItem = bestDelivery
	result.InvoiceItem = bestInvoice
	result.ConfidenceScore = combineOverall(
		bestDelivery != nil, me.overallDelivery(deliveryScores),
		bestInvoice != nil, me.overallInvoice(invoiceScores),
	)

	if bestDelivery != nil {
		result.Metadata["delivery_scores"] = deliveryScores
	}
	if bestInvoice != nil {
		result.Metadata["invoice_scores"] = invoiceScores
	}

	result.Discrepancies = me.detectDiscrepancies(order, bestDelivery, bestInvoice)
	result.MatchType = me.determineMatchType(result.ConfidenceScore, bestDelivery, bestInvoice)
	result.SuggestedActions = me.suggestActions(result)

	return result
}

// bestDelivery scans the delivery pool for the highest-scoring candidate.
// When the fast path is enabled and an exact-code candidate already clears
// the auto-approve threshold, the rest of the pool is not scanned.
func (me *MatchingEngine) bestDelivery(order *models.OrderLineItem) (*models.DeliveryItem, ComponentScores) {
	if me.Config.EnableIndexFastPath {
		if d, scores, ok := me.fastPathDelivery(order); ok {
			return d, scores
		}
	}

	var best *models.DeliveryItem
	var bestScores ComponentScores
	bestOverall := -1.0

	for _, d := range me.deliveries {
		scores := me.scoreDelivery(order, d)
		overall := me.overallDelivery(scores)
		if me.candidateWins(overall, bestOverall, best != nil, deliveryDateOf(d), deliveryDateOf(best)) {
			best = d
			bestScores = scores
			bestOverall = overall
		}
	}

	return best, bestScores
}

func (me *MatchingEngine) fastPathDelivery(order *models.OrderLineItem) (*models.DeliveryItem, ComponentScores, bool) {
	for _, d := range me.index.ExactDeliveries(order.ProductCode) {
		scores := me.scoreDelivery(order, d)
		if me.overallDelivery(scores) >= me.Config.AutoApproveThreshold {
			return d, scores, true
		}
	}
	return nil, ComponentScores{}, false
}

// bestInvoice scans the invoice pool for the highest-scoring candidate.
func (me *MatchingEngine) bestInvoice(order *models.OrderLineItem) (*models.InvoiceItem, ComponentScores) {
	if me.Config.EnableIndexFastPath {
		if inv, scores, ok := me.fastPathInvoice(order); ok {
			return inv, scores
		}
	}

	var best *models.InvoiceItem
	var bestScores ComponentScores
	bestOverall := -1.0

	for _, inv := range me.invoices {
		scores := me.scoreInvoice(order, inv)
		overall := me.overallInvoice(scores)
		if me.candidateWins(overall, bestOverall, best != nil, invoiceDateOf(inv), invoiceDateOf(best)) {
			best = inv
			bestScores = scores
			bestOverall = overall
		}
	}

	return best, bestScores
}

func (me *MatchingEngine) fastPathInvoice(order *models.OrderLineItem) (*models.InvoiceItem, ComponentScores, bool) {
	for _, inv := range me.index.ExactInvoices(order.ProductCode) {
		scores := me.scoreInvoice(order, inv)
		if me.overallInvoice(scores) >= me.Config.AutoApproveThreshold {
			return inv, scores, true
		}
	}
	return nil, ComponentScores{}, false
}

// scoreDelivery computes the per-field scores for one delivery candidate.
func (me *MatchingEngine) scoreDelivery(order *models.OrderLineItem, d *models.DeliveryItem) ComponentScores {
	return ComponentScores{
		Product:  me.productScore(order, d.ProductCode, d.ProductName),
		Price:    me.Config.PriceScore(order.UnitPrice, d.EffectivePrice(), order.ProductName),
		Quantity: me.Config.QuantityScore(order.Quantity, d.Quantity),
		Date:     DateScore(order.RequestedDeliveryDate, d.DeliveryDate, me.Config.DeliveryDateToleranceDays),
	}
}

// scoreInvoice computes the per-field scores for one invoice candidate.
// Invoices carry no quantity dimension.
func (me *MatchingEngine) scoreInvoice(order *models.OrderLineItem, inv *models.InvoiceItem) ComponentScores {
	return ComponentScores{
		Product: me.productScore(order, inv.ProductCode, inv.ProductName),
		Price:   me.Config.PriceScore(order.UnitPrice, inv.UnitPrice, order.ProductName),
		Date:    DateScore(order.RequestedDeliveryDate, inv.InvoiceDate, me.Config.InvoiceDateToleranceDays),
	}
}

// productScore blends product-code similarity and product-name similarity.
// In strict mode codes must match exactly; otherwise codes are compared with
// the same fuzzy similarity as names.
func (me *MatchingEngine) productScore(order *models.OrderLineItem, code, name string) float64 {
	nameScore := Similarity(order.ProductName, name)

	if NormalizeProductText(order.ProductCode) == "" && NormalizeProductText(code) == "" {
		return nameScore
	}

	var codeScore float64
	if me.Config.StrictCodeMatch {
		if NormalizeProductText(order.ProductCode) == NormalizeProductText(code) {
			codeScore = 1.0
		}
	} else {
		codeScore = Similarity(order.ProductCode, code)
	}

	return codeScore*me.Config.ProductCodeWeight + nameScore*me.Config.ProductNameWeight
}

func (me *MatchingEngine) overallDelivery(s ComponentScores) float64 {
	w := me.Config.DeliveryWeights
	return s.Product*w.Product + s.Price*w.Price + s.Quantity*w.Quantity + s.Date*w.Date
}

func (me *MatchingEngine) overallInvoice(s ComponentScores) float64 {
	w := me.Config.InvoiceWeights
	return s.Product*w.Product + s.Price*w.Price + s.Date*w.Date
}

// candidateWins decides whether a newly scored candidate replaces the current
// best. Strictly higher scores always win; equal scores fall to the
// configured tie-break.
func (me *MatchingEngine) candidateWins(overall, bestOverall float64, haveBest bool, date, bestDate int64) bool {
	if !haveBest || overall > bestOverall {
		return true
	}
	if overall < bestOverall {
		return false
	}
	if me.Config.TieBreak == TieBreakEarliestDate {
		return date < bestDate
	}
	// first-seen: keep the current best
	return false
}

func deliveryDateOf(d *models.DeliveryItem) int64 {
	if d == nil {
		return 0
	}
	return d.DeliveryDate.Unix()
}

func invoiceDateOf(inv *models.InvoiceItem) int64 {
	if inv == nil {
		return 0
	}
	return inv.InvoiceDate.Unix()
}

func combineOverall(haveDelivery bool, deliveryOverall float64, haveInvoice bool, invoiceOverall float64) float64 {
	switch {
	case haveDelivery && haveInvoice:
		return (deliveryOverall + invoiceOverall) / 2
	case haveDelivery:
		return deliveryOverall
	case haveInvoice:
		return invoiceOverall
	default:
		return 0
	}
}

// determineMatchType maps the overall score to a match type using the
// configured thresholds. No candidates at all is always a missing match.
func (me *MatchingEngine) determineMatchType(score float64, d *models.DeliveryItem, inv *models.InvoiceItem) models.MatchType {
	if d == nil && inv == nil {
		return models.MatchMissing
	}

	switch {
	case score >= me.Config.AutoApproveThreshold:
		return models.MatchPerfect
	case score >= me.Config.ManualReviewThreshold:
		return models.MatchPartial
	case score > me.Config.DisputedThreshold:
		return models.MatchDisputed
	default:
		return models.MatchMissing
	}
}

// detectDiscrepancies re-examines field-level deltas independently of the
// aggregate score, so a bad field is flagged even when the overall score is
// passable.
func (me *MatchingEngine) detectDiscrepancies(order *models.OrderLineItem, d *models.DeliveryItem, inv *models.InvoiceItem) []models.Discrepancy {
	if d == nil && inv == nil {
		return []models.Discrepancy{missingDiscrepancy(
			fmt.Sprintf("no delivery or invoice record found for product %s", order.ProductCode))}
	}

	var discrepancies []models.Discrepancy

	if disc := me.quantityDiscrepancy(order, d); disc != nil {
		discrepancies = append(discrepancies, *disc)
	}
	if disc := me.priceDiscrepancy(order, d, inv); disc != nil {
		discrepancies = append(discrepancies, *disc)
	}
	if disc := me.productDiscrepancy(order, d, inv); disc != nil {
		discrepancies = append(discrepancies, *disc)
	}
	if disc := me.dateDiscrepancy(order, d); disc != nil {
		discrepancies = append(discrepancies, *disc)
	}

	return discrepancies
}

func missingDiscrepancy(description string) models.Discrepancy {
	return models.Discrepancy{
		Type:        models.DiscrepancyMissing,
		Field:       "record",
		Expected:    "matching delivery/invoice record",
		Actual:      "none",
		VariancePct: decimal.NewFromInt(100),
		Severity:    models.SeverityHigh,
		Description: description,
	}
}

func (me *MatchingEngine) quantityDiscrepancy(order *models.OrderLineItem, d *models.DeliveryItem) *models.Discrepancy {
	if d == nil {
		return nil
	}

	diff := order.Quantity.Sub(d.Quantity).Abs()
	if diff.LessThanOrEqual(me.Config.MinQuantityVariance) || order.Quantity.IsZero() {
		return nil
	}

	variance := diff.Div(order.Quantity.Abs()).Mul(decimal.NewFromInt(100))
	pct, _ := variance.Float64()

	severity := models.SeverityLow
	switch {
	case pct >= 10:
		severity = models.SeverityHigh
	case pct >= 5:
		severity = models.SeverityMedium
	}

	return &models.Discrepancy{
		Type:        models.DiscrepancyQuantity,
		Field:       "quantity",
		Expected:    order.Quantity.String(),
		Actual:      d.Quantity.String(),
		VariancePct: variance,
		Severity:    severity,
		Description: fmt.Sprintf("delivered quantity %s differs from ordered %s (%.1f%%)",
			d.Quantity.String(), order.Quantity.String(), pct),
		AutoResolvable: pct <= me.Config.QuantityTolerancePercent,
	}
}

func (me *MatchingEngine) priceDiscrepancy(order *models.OrderLineItem, d *models.DeliveryItem, inv *models.InvoiceItem) *models.Discrepancy {
	var actual decimal.Decimal
	var field string
	switch {
	case d != nil:
		actual = d.EffectivePrice()
		field = "delivered_unit_price"
	case inv != nil:
		actual = inv.UnitPrice
		field = "invoiced_unit_price"
	default:
		return nil
	}

	if order.UnitPrice.IsZero() || order.UnitPrice.Equal(actual) {
		return nil
	}

	variance := order.UnitPrice.Sub(actual).Abs().Div(order.UnitPrice.Abs()).Mul(decimal.NewFromInt(100))
	pct, _ := variance.Float64()
	if pct <= me.Config.PriceTolerancePercentFor(order.ProductName) {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case pct > 15:
		severity = models.SeverityCritical
	case pct > 10:
		severity = models.SeverityHigh
	case pct > 5:
		severity = models.SeverityMedium
	}

	return &models.Discrepancy{
		Type:        models.DiscrepancyPrice,
		Field:       field,
		Expected:    order.UnitPrice.String(),
		Actual:      actual.String(),
		VariancePct: variance,
		Severity:    severity,
		Description: fmt.Sprintf("unit price %s differs from ordered %s (%.1f%%)",
			actual.String(), order.UnitPrice.String(), pct),
	}
}

func (me *MatchingEngine) productDiscrepancy(order *models.OrderLineItem, d *models.DeliveryItem, inv *models.InvoiceItem) *models.Discrepancy {
	var name string
	switch {
	case d != nil:
		name = d.ProductName
	case inv != nil:
		name = inv.ProductName
	default:
		return nil
	}

	sim := Similarity(order.ProductName, name)
	if sim >= me.Config.NameSimilarityThreshold {
		return nil
	}

	severity := models.SeverityMedium
	if sim < 0.5 {
		severity = models.SeverityHigh
	}

	return &models.Discrepancy{
		Type:        models.DiscrepancyProduct,
		Field:       "product_name",
		Expected:    order.ProductName,
		Actual:      name,
		VariancePct: decimal.NewFromFloat((1 - sim) * 100).Round(1),
		Severity:    severity,
		Description: fmt.Sprintf("product name %q does not sufficiently match ordered %q (similarity %.2f)",
			name, order.ProductName, sim),
	}
}

func (me *MatchingEngine) dateDiscrepancy(order *models.OrderLineItem, d *models.DeliveryItem) *models.Discrepancy {
	if d == nil || order.RequestedDeliveryDate.IsZero() {
		return nil
	}

	days := absDays(order.RequestedDeliveryDate, d.DeliveryDate)
	// A zero tolerance flags any deviation at all.
	tol := float64(me.Config.DeliveryDateToleranceDays)
	if days <= tol {
		return nil
	}

	severity := models.SeverityLow
	if days > 2*tol {
		severity = models.SeverityMedium
	}

	variancePct := days * 100
	if tol > 0 {
		variancePct = days / tol * 100
	}

	return &models.Discrepancy{
		Type:        models.DiscrepancyDate,
		Field:       "delivery_date",
		Expected:    order.RequestedDeliveryDate.Format("2006-01-02"),
		Actual:      d.DeliveryDate.Format("2006-01-02"),
		VariancePct: decimal.NewFromFloat(variancePct).Round(1),
		Severity:    severity,
		Description: fmt.Sprintf("delivery on %s is %.0f days from the requested %s",
			d.DeliveryDate.Format("2006-01-02"), days, order.RequestedDeliveryDate.Format("2006-01-02")),
	}
}

// suggestActions generates deterministic suggested-action text per
// discrepancy type and severity, deduplicated across the item.
func (me *MatchingEngine) suggestActions(result *models.MatchResult) []string {
	var actions []string

	if result.MatchType == models.MatchPerfect || len(result.Discrepancies) == 0 {
		actions = append(actions, "auto-approve: order, delivery and invoice agree within tolerance")
	}

	for _, disc := range result.Discrepancies {
		actions = append(actions, suggestionFor(disc))
	}

	return dedupeStrings(actions)
}

func suggestionFor(disc models.Discrepancy) string {
	switch disc.Type {
	case models.DiscrepancyQuantity:
		switch {
		case disc.AutoResolvable:
			return "accept delivered quantity and update inventory"
		case disc.Severity == models.SeverityHigh:
			return "request supplier confirmation of shipped quantity"
		default:
			return "verify delivery receipt against the order"
		}
	case models.DiscrepancyPrice:
		switch disc.Severity {
		case models.SeverityCritical:
			return "suspend payment and contact supplier immediately"
		case models.SeverityHigh:
			return "hold invoice for purchasing manager review"
		default:
			return "flag price variance for periodic supplier review"
		}
	case models.DiscrepancyProduct:
		return "confirm the delivered product matches the ordered item"
	case models.DiscrepancyDate:
		return "review the delivery schedule with the supplier"
	case models.DiscrepancyMissing:
		return "investigate missing delivery and invoice records"
	default:
		return "escalate for manual review"
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
