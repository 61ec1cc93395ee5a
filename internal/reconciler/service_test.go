package reconciler

import (
	"context"
	"testing"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/internal/scoring"
	"b2b-reconciliation-engine/internal/workflow"
	"b2b-reconciliation-engine/pkg/cache"

	"github.com/shopspring/decimal"
)

// favorableHistory simulates an established supplier relationship with
// stable pricing and a top-tier buyer.
type favorableHistory struct{}

func (favorableHistory) SupplierStats(ctx context.Context, supplierID string, window time.Duration) (*scoring.SupplierStats, error) {
	return &scoring.SupplierStats{
		SupplierID:        supplierID,
		OrderCount:        150,
		AverageConfidence: 0.98,
		DisputeRate:       0.01,
	}, nil
}

func (favorableHistory) ProductStats(ctx context.Context, supplierID, productCode string, window time.Duration) (*scoring.ProductStats, error) {
	return &scoring.ProductStats{
		SupplierID:          supplierID,
		ProductCode:         productCode,
		TransactionCount:    60,
		MeanPrice:           decimal.NewFromInt(50),
		PriceStdDev:         decimal.Zero,
		AverageIntervalDays: 7,
		IntervalStdDevDays:  0.5,
	}, nil
}

func (favorableHistory) CustomerStats(ctx context.Context, buyerID string, window time.Duration) (*scoring.CustomerStats, error) {
	return &scoring.CustomerStats{
		BuyerID:    buyerID,
		OrderCount: 80,
		TotalValue: decimal.NewFromInt(600000),
	}, nil
}

func newTestService(t *testing.T, history *scoring.HistoricalFactors) *ReconciliationService {
	t.Helper()
	svc, err := NewReconciliationService(DefaultConfig(), history, workflow.NewEngine(nil, nil), nil)
	if err != nil {
		t.Fatalf("NewReconciliationService() error: %v", err)
	}
	return svc
}

func baseRequest() *Request {
	return &Request{
		BuyerID:     "BUY-1",
		SupplierID:  "SUP-1",
		PeriodStart: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC),
	}
}

func kaleOrder(deliveryDate time.Time) *models.OrderLineItem {
	return &models.OrderLineItem{
		OrderID:               "ORD-1",
		OrderNumber:           "PO-1001",
		ProductCode:           "VEG-1",
		ProductName:           "Organic Kale",
		Quantity:              decimal.NewFromInt(100),
		UnitPrice:             decimal.NewFromFloat(50.0),
		RequestedDeliveryDate: deliveryDate,
		SupplierID:            "SUP-1",
		BuyerID:               "BUY-1",
	}
}

func TestReconcileCleanMatchAutoApproves(t *testing.T) {
	date := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	history := scoring.NewHistoricalFactors(favorableHistory{}, cache.NewMemoryCache(), nil)
	svc := newTestService(t, history)

	req := baseRequest()
	req.Orders = []*models.OrderLineItem{kaleOrder(date)}
	req.Deliveries = []*models.DeliveryItem{{
		DeliveryID:   "DEL-1",
		ProductCode:  "VEG-1",
		ProductName:  "Organic Kale",
		Quantity:     decimal.NewFromInt(100),
		UnitPrice:    decimal.NewFromFloat(50.0),
		DeliveryDate: date,
	}}

	result, err := svc.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}

	item := result.Items[0]
	if item.Match.MatchType != models.MatchPerfect {
		t.Errorf("match type = %s, want perfect", item.Match.MatchType)
	}
	if item.Match.ConfidenceScore < 0.95 {
		t.Errorf("confidence = %f, want >= 0.95", item.Match.ConfidenceScore)
	}
	if len(item.Match.Discrepancies) != 0 {
		t.Errorf("expected zero discrepancies, got %v", item.Match.Discrepancies)
	}
	if item.Workflow != nil {
		t.Error("auto-approved item should not get a workflow")
	}

	autoApprove := false
	for _, a := range item.Match.SuggestedActions {
		if a == "auto-approve: order, delivery and invoice agree within tolerance" {
			autoApprove = true
		}
	}
	if !autoApprove {
		t.Errorf("expected an auto-approve suggestion, got %v", item.Match.SuggestedActions)
	}

	if result.Summary.MatchedItemCount != 1 || result.Summary.MissingItemCount != 0 {
		t.Errorf("summary counts wrong: %+v", result.Summary)
	}
}

func TestReconcileShortDeliveryFlagsHighSeverity(t *testing.T) {
	date := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil)

	req := baseRequest()
	req.Orders = []*models.OrderLineItem{kaleOrder(date)}
	req.Deliveries = []*models.DeliveryItem{{
		DeliveryID:   "DEL-1",
		ProductCode:  "VEG-1",
		ProductName:  "Organic Kale",
		Quantity:     decimal.NewFromInt(90),
		UnitPrice:    decimal.NewFromFloat(50.0),
		DeliveryDate: date,
	}}

	result, err := svc.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	item := result.Items[0]
	var qty *models.Discrepancy
	for i := range item.Match.Discrepancies {
		if item.Match.Discrepancies[i].Type == models.DiscrepancyQuantity {
			qty = &item.Match.Discrepancies[i]
		}
	}
	if qty == nil {
		t.Fatal("expected a quantity discrepancy")
	}
	if qty.Severity != models.SeverityHigh {
		t.Errorf("quantity severity = %s, want high for a 10%% shortfall", qty.Severity)
	}
	if qty.AutoResolvable {
		t.Error("a 10% shortfall must not be auto-resolvable")
	}

	if item.Workflow == nil {
		t.Fatal("expected a resolution workflow")
	}
	if item.Workflow.Priority != workflow.PriorityHigh && item.Workflow.Priority != workflow.PriorityUrgent {
		t.Errorf("workflow priority = %s, want at least high", item.Workflow.Priority)
	}
}

func TestReconcileCriticalPriceEscalates(t *testing.T) {
	date := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil)

	// Non-fresh product, 20% price increase, line value large enough that
	// the monetary discrepancy clears the high-value threshold.
	order := &models.OrderLineItem{
		OrderID:               "ORD-2",
		ProductCode:           "DRY-9",
		ProductName:           "Canned Beans",
		Quantity:              decimal.NewFromInt(100),
		UnitPrice:             decimal.NewFromInt(600),
		RequestedDeliveryDate: date,
		SupplierID:            "SUP-1",
		BuyerID:               "BUY-1",
	}

	req := baseRequest()
	req.Orders = []*models.OrderLineItem{order}
	req.Deliveries = []*models.DeliveryItem{{
		DeliveryID:   "DEL-2",
		ProductCode:  "DRY-9",
		ProductName:  "Canned Beans",
		Quantity:     decimal.NewFromInt(100),
		UnitPrice:    decimal.NewFromInt(720),
		DeliveryDate: date,
	}}

	result, err := svc.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	item := result.Items[0]
	var price *models.Discrepancy
	for i := range item.Match.Discrepancies {
		if item.Match.Discrepancies[i].Type == models.DiscrepancyPrice {
			price = &item.Match.Discrepancies[i]
		}
	}
	if price == nil {
		t.Fatal("expected a price discrepancy")
	}
	if price.Severity != models.SeverityCritical {
		t.Errorf("price severity = %s, want critical for a 20%% increase", price.Severity)
	}

	wf := item.Workflow
	if wf == nil {
		t.Fatal("expected a resolution workflow")
	}

	escalateToFinance := false
	for _, a := range wf.Actions {
		if a.Type == workflow.ActionEscalate {
			for _, role := range a.RequiredApproval {
				if role == "finance_manager" {
					escalateToFinance = true
				}
			}
		}
	}
	if !escalateToFinance {
		t.Errorf("expected an escalate action requiring finance_manager, got %+v", wf.Actions)
	}

	ruleNames := map[string]bool{}
	for _, e := range item.Escalations {
		ruleNames[e.Rule] = true
	}
	if !ruleNames["high_value"] {
		t.Errorf("expected the high_value escalation rule, got %v", item.Escalations)
	}
	if wf.Status != workflow.StatusEscalated {
		t.Errorf("workflow status = %s, want escalated", wf.Status)
	}
}

func TestReconcileMissingItemGetsReviewWorkflow(t *testing.T) {
	date := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil)

	req := baseRequest()
	req.Orders = []*models.OrderLineItem{kaleOrder(date)}

	result, err := svc.Reconcile(context.Background(), req)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	item := result.Items[0]
	if item.Match.MatchType != models.MatchMissing {
		t.Errorf("match type = %s, want missing", item.Match.MatchType)
	}
	if !item.Match.HasDiscrepancy(models.DiscrepancyMissing) {
		t.Error("expected a missing-record discrepancy")
	}
	if item.Match.ConfidenceScore != 0 {
		t.Errorf("confidence = %f, want 0 when no delivery or invoice exists", item.Match.ConfidenceScore)
	}
	if result.Summary.OverallConfidenceScore != 0 {
		t.Errorf("overall confidence = %f, want 0 for a run of only missing items", result.Summary.OverallConfidenceScore)
	}

	wf := item.Workflow
	if wf == nil {
		t.Fatal("expected a resolution workflow for the missing item")
	}

	review := false
	for _, a := range wf.Actions {
		if a.Type == workflow.ActionManualReview {
			review = true
		}
	}
	if !review {
		t.Errorf("expected a manual review action, got %+v", wf.Actions)
	}
	if result.Summary.MissingItemCount != 1 {
		t.Errorf("missing count = %d, want 1", result.Summary.MissingItemCount)
	}
}

func TestReconcileCancellationReturnsPartialResults(t *testing.T) {
	date := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil)

	req := baseRequest()
	for i := 0; i < 50; i++ {
		order := kaleOrder(date)
		order.OrderID = order.OrderID + "-" + string(rune('A'+i%26))
		order.ProductCode = order.ProductCode + "-" + string(rune('A'+i%26))
		req.Orders = append(req.Orders, order)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Reconcile(ctx, req)
	if err == nil {
		t.Fatal("expected a context error on cancellation")
	}
	if result == nil {
		t.Fatal("cancellation must still return the partial result")
	}
	if len(result.Items) > len(req.Orders) {
		t.Errorf("partial result has %d items for %d orders", len(result.Items), len(req.Orders))
	}
}

func TestReconcileValidatesRequest(t *testing.T) {
	svc := newTestService(t, nil)

	if _, err := svc.Reconcile(context.Background(), &Request{SupplierID: "SUP-1"}); err == nil {
		t.Error("missing buyer should fail validation")
	}
	if _, err := svc.Reconcile(context.Background(), &Request{BuyerID: "BUY-1"}); err == nil {
		t.Error("missing supplier should fail validation")
	}
}

func TestPreprocess(t *testing.T) {
	orders := []*models.OrderLineItem{
		nil,
		{OrderID: " ORD-1 ", ProductCode: " VEG-1 ", ProductName: "Kale", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(5)},
		{OrderID: "ORD-1", ProductCode: "VEG-1", ProductName: "Kale", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(5)},
		{OrderID: "ORD-1", ProductCode: "VEG-2", ProductName: "Carrots", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(3)},
	}

	res := Preprocess(DefaultPreprocessingConfig(), orders, nil, nil)

	if res.InputStats.OrdersIn != 4 || res.InputStats.OrdersOut != 2 {
		t.Errorf("order counts = %d in / %d out, want 4/2", res.InputStats.OrdersIn, res.InputStats.OrdersOut)
	}
	if res.InputStats.DuplicateOrders != 1 {
		t.Errorf("duplicates = %d, want 1", res.InputStats.DuplicateOrders)
	}
	if res.Orders[0].OrderID != "ORD-1" || res.Orders[0].ProductCode != "VEG-1" {
		t.Errorf("whitespace not trimmed: %+v", res.Orders[0])
	}
	// Two surviving lines on ORD-1: each sees one co-item.
	for _, o := range res.Orders {
		if o.CoItemCount != 1 {
			t.Errorf("co-item count = %d for %s, want 1", o.CoItemCount, o.ProductCode)
		}
	}

	// Inputs must not be mutated.
	if orders[1].OrderID != " ORD-1 " {
		t.Error("preprocessing mutated the input slice")
	}
}
