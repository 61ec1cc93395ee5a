package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/internal/notify"

	"github.com/shopspring/decimal"
)

func TestConditionMatches(t *testing.T) {
	priceDrop := models.Discrepancy{
		Type:        models.DiscrepancyPrice,
		Expected:    "50",
		Actual:      "48",
		VariancePct: decimal.NewFromInt(4),
	}
	priceSpike := models.Discrepancy{
		Type:        models.DiscrepancyPrice,
		Expected:    "50",
		Actual:      "60",
		VariancePct: decimal.NewFromInt(20),
	}
	quantity := models.Discrepancy{
		Type:        models.DiscrepancyQuantity,
		Expected:    "100",
		Actual:      "98",
		VariancePct: decimal.NewFromInt(2),
	}

	tests := []struct {
		name      string
		condition Condition
		d         models.Discrepancy
		expected  bool
	}{
		{"variance at most passes", VarianceAtMost(5), priceDrop, true},
		{"variance at most fails", VarianceAtMost(5), priceSpike, false},
		{"variance at least passes", VarianceAtLeast(10), priceSpike, true},
		{"variance at least fails", VarianceAtLeast(10), quantity, false},
		{"price moved lower", PriceMoved(PriceLower), priceDrop, true},
		{"price moved lower fails on spike", PriceMoved(PriceLower), priceSpike, false},
		{"price moved higher", PriceMoved(PriceHigher), priceSpike, true},
		{"price direction ignores non-price", PriceMoved(PriceLower), quantity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.condition.Matches(tt.d); got != tt.expected {
				t.Errorf("Matches() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSelectTemplate(t *testing.T) {
	templates := BuiltinTemplates()

	tests := []struct {
		name     string
		d        models.Discrepancy
		expected string
	}{
		{
			name: "minor quantity variance",
			d: models.Discrepancy{
				Type:           models.DiscrepancyQuantity,
				Severity:       models.SeverityLow,
				VariancePct:    decimal.NewFromInt(1),
				AutoResolvable: true,
			},
			expected: "minor_quantity_auto_adjust",
		},
		{
			name: "small price drop",
			d: models.Discrepancy{
				Type:        models.DiscrepancyPrice,
				Severity:    models.SeverityLow,
				Expected:    "50",
				Actual:      "48",
				VariancePct: decimal.NewFromInt(4),
			},
			expected: "price_lower_auto_approve",
		},
		{
			name: "moderate price increase",
			d: models.Discrepancy{
				Type:        models.DiscrepancyPrice,
				Severity:    models.SeverityHigh,
				Expected:    "50",
				Actual:      "56",
				VariancePct: decimal.NewFromInt(12),
			},
			expected: "moderate_price_review",
		},
		{
			name: "critical price variance escalates",
			d: models.Discrepancy{
				Type:        models.DiscrepancyPrice,
				Severity:    models.SeverityCritical,
				Expected:    "50",
				Actual:      "60",
				VariancePct: decimal.NewFromInt(20),
			},
			expected: "critical_discrepancy_escalation",
		},
		{
			name: "product mismatch disputes",
			d: models.Discrepancy{
				Type:     models.DiscrepancyProduct,
				Severity: models.SeverityHigh,
			},
			expected: "product_mismatch_dispute",
		},
		{
			name: "missing record reviewed",
			d: models.Discrepancy{
				Type:     models.DiscrepancyMissing,
				Severity: models.SeverityHigh,
			},
			expected: "missing_item_review",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := SelectTemplate(templates, tt.d)
			if selected == nil {
				t.Fatalf("no template selected, want %s", tt.expected)
			}
			if selected.Name != tt.expected {
				t.Errorf("selected %s, want %s", selected.Name, tt.expected)
			}
		})
	}
}

func TestSelectTemplateNoMatchSynthesizesDefault(t *testing.T) {
	// A 10% quantity variance is too large for the auto-adjust template.
	d := models.Discrepancy{
		Type:        models.DiscrepancyQuantity,
		Severity:    models.SeverityHigh,
		VariancePct: decimal.NewFromInt(10),
	}

	if selected := SelectTemplate(BuiltinTemplates(), d); selected != nil {
		t.Fatalf("expected no template, got %s", selected.Name)
	}

	actions := defaultActions(d)
	if len(actions) != 1 || actions[0].Type != ActionManualReview {
		t.Fatalf("high severity default should be manual review, got %+v", actions)
	}
	if len(actions[0].RequiredApproval) == 0 || actions[0].RequiredApproval[0] != "purchasing_manager" {
		t.Errorf("high severity review should require purchasing_manager, got %v", actions[0].RequiredApproval)
	}
}

func TestDefaultActionsCritical(t *testing.T) {
	d := models.Discrepancy{Type: models.DiscrepancyDate, Severity: models.SeverityCritical}
	actions := defaultActions(d)
	if len(actions) != 1 || actions[0].Type != ActionEscalate {
		t.Fatalf("critical default should escalate, got %+v", actions)
	}
	if actions[0].RequiredApproval[0] != "finance_manager" {
		t.Errorf("critical escalation should require finance_manager, got %v", actions[0].RequiredApproval)
	}
}

func TestPlanActionsIdempotent(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, Expected: "50", Actual: "60", VariancePct: decimal.NewFromInt(20)},
			{Type: models.DiscrepancyQuantity, Severity: models.SeverityHigh, VariancePct: decimal.NewFromInt(10)},
		},
	}

	templates := BuiltinTemplates()
	first, firstRules := PlanActions(templates, mr)
	second, secondRules := PlanActions(templates, mr)

	if len(first) != len(second) {
		t.Fatalf("plan lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type || first[i].Description != second[i].Description {
			t.Errorf("plan position %d differs: %v vs %v", i, first[i], second[i])
		}
	}
	for i := range firstRules {
		if firstRules[i] != secondRules[i] {
			t.Errorf("applied rule %d differs: %v vs %v", i, firstRules[i], secondRules[i])
		}
	}
}

func TestActionOrdering(t *testing.T) {
	actions := []ResolutionAction{
		newAction(ActionAutoApprove, "approve", 0.95, 5*time.Minute),
		newAction(ActionEscalate, "escalate", 0.9, 30*time.Minute),
		newAction(ActionManualReview, "slow review", 0.62, 90*time.Minute),
		// Within the 0.1 confidence tie band of "slow review", so estimated
		// time decides the order.
		newAction(ActionManualReview, "fast review", 0.6, 30*time.Minute),
	}

	sortActions(actions)

	if actions[0].Type != ActionEscalate {
		t.Errorf("escalate should sort first, got %s", actions[0].Type)
	}
	if actions[len(actions)-1].Type != ActionAutoApprove {
		t.Errorf("auto approve should sort last, got %s", actions[len(actions)-1].Type)
	}
	if actions[1].Description != "fast review" {
		t.Errorf("tie band should prefer shorter estimated time, got %q", actions[1].Description)
	}
}

func TestDedupeActions(t *testing.T) {
	actions := []ResolutionAction{
		newAction(ActionManualReview, "review variance", 0.5, time.Hour),
		newAction(ActionManualReview, "review variance", 0.8, time.Hour),
		newAction(ActionDispute, "review variance", 0.5, time.Hour),
	}

	deduped := dedupeActions(actions)
	if len(deduped) != 2 {
		t.Fatalf("expected 2 actions after dedupe, got %d", len(deduped))
	}
	for _, a := range deduped {
		if a.Type == ActionManualReview && a.Confidence != 0.8 {
			t.Errorf("dedupe should keep highest confidence, got %f", a.Confidence)
		}
	}
}

func testOrder() *models.OrderLineItem {
	return &models.OrderLineItem{
		OrderID:     "ORD-1",
		ProductCode: "VEG-1",
		ProductName: "Organic Kale",
		Quantity:    decimal.NewFromInt(100),
		UnitPrice:   decimal.NewFromInt(50),
		SupplierID:  "SUP-1",
		BuyerID:     "BUY-1",
	}
}

func TestDerivePriority(t *testing.T) {
	expensive := testOrder()
	expensive.UnitPrice = decimal.NewFromInt(500)

	tests := []struct {
		name     string
		mr       *models.MatchResult
		expected Priority
	}{
		{
			name: "critical severity is urgent",
			mr: &models.MatchResult{
				OrderItem:     testOrder(),
				Discrepancies: []models.Discrepancy{{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical}},
			},
			expected: PriorityUrgent,
		},
		{
			name: "high severity with high value is urgent",
			mr: &models.MatchResult{
				OrderItem:     expensive,
				Discrepancies: []models.Discrepancy{{Type: models.DiscrepancyQuantity, Severity: models.SeverityHigh}},
			},
			expected: PriorityUrgent,
		},
		{
			name: "high severity alone is high",
			mr: &models.MatchResult{
				OrderItem:     testOrder(),
				Discrepancies: []models.Discrepancy{{Type: models.DiscrepancyQuantity, Severity: models.SeverityHigh}},
			},
			expected: PriorityHigh,
		},
		{
			name: "high value alone is high",
			mr: &models.MatchResult{
				OrderItem: expensive,
			},
			expected: PriorityHigh,
		},
		{
			name: "medium severity is medium",
			mr: &models.MatchResult{
				OrderItem:     testOrder(),
				Discrepancies: []models.Discrepancy{{Type: models.DiscrepancyDate, Severity: models.SeverityMedium}},
			},
			expected: PriorityMedium,
		},
		{
			name:     "clean low-value item is low",
			mr:       &models.MatchResult{OrderItem: testOrder()},
			expected: PriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := derivePriority(tt.mr); got != tt.expected {
				t.Errorf("derivePriority() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestWorkflowStepOrdering(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyQuantity, Severity: models.SeverityLow, VariancePct: decimal.NewFromInt(1), AutoResolvable: true},
			{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, Expected: "50", Actual: "60", VariancePct: decimal.NewFromInt(20)},
		},
	}

	engine := NewEngine(nil, nil)
	wf, err := engine.CreateWorkflow(context.Background(), "REC-1", mr)
	if err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	if len(wf.Steps) < 3 {
		t.Fatalf("expected at least validation, analysis and notification, got %d steps", len(wf.Steps))
	}
	if wf.Steps[0].Type != StepValidation {
		t.Errorf("first step is %s, want validation", wf.Steps[0].Type)
	}
	if wf.Steps[1].Type != StepAnalysis {
		t.Errorf("second step is %s, want analysis", wf.Steps[1].Type)
	}
	if last := wf.Steps[len(wf.Steps)-1]; last.Type != StepNotification {
		t.Errorf("last step is %s, want notification", last.Type)
	}
	for _, s := range wf.Steps[2 : len(wf.Steps)-1] {
		if s.Type != StepAction && s.Type != StepApproval {
			t.Errorf("middle step has type %s", s.Type)
		}
	}
}

func TestExecuteResolvesAutomatableWorkflow(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem:    testOrder(),
		DeliveryItem: &models.DeliveryItem{ProductCode: "VEG-1", Quantity: decimal.NewFromInt(99), DeliveryDate: time.Now()},
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyQuantity, Severity: models.SeverityLow, VariancePct: decimal.NewFromInt(1), AutoResolvable: true},
		},
	}

	store := NewMemoryTaskStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	wf, err := engine.CreateWorkflow(ctx, "REC-1", mr)
	if err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}
	if err := engine.Execute(ctx, wf, mr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if wf.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", wf.Status)
	}
	for _, s := range wf.Steps {
		if s.Status != StepCompleted {
			t.Errorf("step %s status = %s, want completed", s.Type, s.Status)
		}
	}

	stored, err := store.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != StatusResolved {
		t.Errorf("stored status = %s, want resolved", stored.Status)
	}
}

func TestExecuteStopsAtApproval(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, Expected: "50", Actual: "60", VariancePct: decimal.NewFromInt(20)},
		},
	}

	engine := NewEngine(nil, nil)
	ctx := context.Background()

	wf, err := engine.CreateWorkflow(ctx, "REC-1", mr)
	if err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}
	if err := engine.Execute(ctx, wf, mr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if wf.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress while approval pending", wf.Status)
	}

	approvals := wf.PendingApprovals()
	if len(approvals) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(approvals))
	}
	if approvals[0].AssignedTo != "finance_manager" {
		t.Errorf("approval assigned to %s, want finance_manager", approvals[0].AssignedTo)
	}
	// The engine must never complete an approval step itself.
	for _, s := range wf.Steps {
		if s.Type == StepApproval && s.Status == StepCompleted {
			t.Error("engine completed an approval step")
		}
	}
	// The trailing notification waits behind the approval.
	if last := wf.Steps[len(wf.Steps)-1]; last.Status != StepPending {
		t.Errorf("notification step status = %s, want pending", last.Status)
	}
}

func TestCompleteApprovalResumesWorkflow(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, Expected: "50", Actual: "60", VariancePct: decimal.NewFromInt(20)},
		},
	}

	engine := NewEngine(nil, nil)
	ctx := context.Background()

	wf, _ := engine.CreateWorkflow(ctx, "REC-1", mr)
	if err := engine.Execute(ctx, wf, mr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	approval := wf.PendingApprovals()[0]
	if err := engine.CompleteApproval(ctx, wf, approval.StepID, true, "approved by finance"); err != nil {
		t.Fatalf("CompleteApproval() error: %v", err)
	}
	if err := engine.Execute(ctx, wf, mr); err != nil {
		t.Fatalf("resumed Execute() error: %v", err)
	}

	if wf.Status != StatusResolved {
		t.Errorf("status = %s, want resolved after approval", wf.Status)
	}
}

func TestRejectedApprovalEscalates(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, Expected: "50", Actual: "60", VariancePct: decimal.NewFromInt(20)},
		},
	}

	engine := NewEngine(nil, nil)
	ctx := context.Background()

	wf, _ := engine.CreateWorkflow(ctx, "REC-1", mr)
	engine.Execute(ctx, wf, mr)

	approval := wf.PendingApprovals()[0]
	if err := engine.CompleteApproval(ctx, wf, approval.StepID, false, "rejected"); err != nil {
		t.Fatalf("CompleteApproval() error: %v", err)
	}

	if wf.Status != StatusEscalated {
		t.Errorf("status = %s, want escalated after rejection", wf.Status)
	}
}

// failingNotifier always errors, to exercise failed-step handling.
type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, event notify.Event) error {
	return fmt.Errorf("dispatch unavailable")
}

func TestFailedStepBlocksRemainder(t *testing.T) {
	mr := &models.MatchResult{
		OrderItem: testOrder(),
		Discrepancies: []models.Discrepancy{
			{Type: models.DiscrepancyQuantity, Severity: models.SeverityLow, VariancePct: decimal.NewFromInt(1), AutoResolvable: true},
		},
	}

	engine := NewEngine(nil, failingNotifier{})
	ctx := context.Background()

	wf, _ := engine.CreateWorkflow(ctx, "REC-1", mr)
	if err := engine.Execute(ctx, wf, mr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if wf.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress after step failure", wf.Status)
	}

	last := wf.Steps[len(wf.Steps)-1]
	if last.Type != StepNotification || last.Status != StepFailed {
		t.Errorf("notification step status = %s, want failed", last.Status)
	}
	if last.Notes == "" {
		t.Error("failed step should record the error in notes")
	}
}

func TestEvaluateEscalations(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	cfg := DefaultEscalationConfig()

	bigOrder := testOrder()
	bigOrder.UnitPrice = decimal.NewFromInt(1000) // line total 100,000

	tests := []struct {
		name     string
		wf       *ResolutionWorkflow
		mr       *models.MatchResult
		vip      bool
		expected []string
	}{
		{
			name: "fresh small workflow triggers nothing",
			wf:   &ResolutionWorkflow{CreatedAt: now.Add(-10 * time.Minute)},
			mr:   &models.MatchResult{OrderItem: testOrder()},
		},
		{
			name:     "stale workflow escalates to operations",
			wf:       &ResolutionWorkflow{CreatedAt: now.Add(-3 * time.Hour)},
			mr:       &models.MatchResult{OrderItem: testOrder()},
			expected: []string{"time_exceeded"},
		},
		{
			name: "high discrepancy value escalates to finance",
			wf:   &ResolutionWorkflow{CreatedAt: now.Add(-10 * time.Minute)},
			mr: &models.MatchResult{
				OrderItem: bigOrder,
				Discrepancies: []models.Discrepancy{
					{Type: models.DiscrepancyPrice, Severity: models.SeverityCritical, VariancePct: decimal.NewFromInt(20)},
				},
			},
			expected: []string{"high_value"},
		},
		{
			name: "large order with tiny variance does not escalate on value",
			wf:   &ResolutionWorkflow{CreatedAt: now.Add(-10 * time.Minute)},
			mr: &models.MatchResult{
				OrderItem: bigOrder,
				Discrepancies: []models.Discrepancy{
					{Type: models.DiscrepancyPrice, Severity: models.SeverityLow, VariancePct: decimal.NewFromInt(1)},
				},
			},
		},
		{
			name:     "vip buyer escalates to account management",
			wf:       &ResolutionWorkflow{CreatedAt: now.Add(-10 * time.Minute)},
			mr:       &models.MatchResult{OrderItem: testOrder()},
			vip:      true,
			expected: []string{"vip_customer"},
		},
		{
			name:     "multiple rules trigger together",
			wf:       &ResolutionWorkflow{CreatedAt: now.Add(-3 * time.Hour)},
			mr:       &models.MatchResult{OrderItem: testOrder()},
			vip:      true,
			expected: []string{"time_exceeded", "vip_customer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateEscalations(cfg, tt.wf, tt.mr, tt.vip, now)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d escalations %v, want %v", len(got), got, tt.expected)
			}
			for i, e := range got {
				if e.Rule != tt.expected[i] {
					t.Errorf("escalation %d rule = %s, want %s", i, e.Rule, tt.expected[i])
				}
			}
		})
	}
}

func TestMemoryTaskStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()

	wf := &ResolutionWorkflow{
		ID:     "WF-1",
		Status: StatusPending,
		Steps: []WorkflowStep{
			{StepID: "S-1", Type: StepApproval, Status: StepPending, AssignedTo: "finance_manager"},
		},
	}

	if err := store.Save(ctx, wf); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.Save(ctx, wf); err == nil {
		t.Error("duplicate Save() should fail")
	}

	got, err := store.Get(ctx, "WF-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	// Mutating the returned copy must not affect the stored record.
	got.Status = StatusCancelled
	again, _ := store.Get(ctx, "WF-1")
	if again.Status != StatusPending {
		t.Error("store returned a shared reference instead of a copy")
	}

	if _, err := store.Get(ctx, "WF-404"); err == nil {
		t.Error("Get() of unknown id should fail")
	}

	pending, err := store.ListPending(ctx, "finance_manager")
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending workflow for finance_manager, got %d", len(pending))
	}

	pending, _ = store.ListPending(ctx, "operations_manager")
	if len(pending) != 0 {
		t.Errorf("expected no pending workflows for operations_manager, got %d", len(pending))
	}

	wf.Status = StatusResolved
	if err := store.Update(ctx, wf); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	pending, _ = store.ListPending(ctx, "")
	if len(pending) != 0 {
		t.Errorf("resolved workflow should leave the pending list, got %d", len(pending))
	}
}
