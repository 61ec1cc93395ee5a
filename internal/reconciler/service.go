// Package reconciler is the top-level entry point of the engine: for a given
// buyer/supplier/period it drives matching, confidence scoring and resolution
// workflows per order line item and aggregates the outcome into a
// reconciliation result.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"b2b-reconciliation-engine/internal/matcher"
	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/internal/scoring"
	"b2b-reconciliation-engine/internal/workflow"
	"b2b-reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the tunables of a reconciliation run.
type Config struct {
	// Concurrency bounds the per-item worker pool. Line items are
	// independent, so the pool size only trades memory for throughput.
	Concurrency int

	Matching   *matcher.MatchingConfig
	Weights    scoring.Weights
	Thresholds scoring.Thresholds
	Escalation workflow.EscalationConfig

	Preprocessing *PreprocessingConfig
}

// DefaultConfig returns the standard run configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:   4,
		Matching:      matcher.DefaultMatchingConfig(),
		Weights:       scoring.DefaultWeights(),
		Thresholds:    scoring.DefaultThresholds(),
		Escalation:    workflow.DefaultEscalationConfig(),
		Preprocessing: DefaultPreprocessingConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Matching != nil {
		if err := c.Matching.Validate(); err != nil {
			return fmt.Errorf("invalid matching configuration: %w", err)
		}
	}
	if c.Weights != nil {
		if err := c.Weights.Validate(); err != nil {
			return fmt.Errorf("invalid scoring weights: %w", err)
		}
	}
	return nil
}

// Request describes one reconciliation run. The three item slices may be
// supplied directly, or loaded through a DataSource when left empty.
type Request struct {
	BuyerID     string    `json:"buyer_id"`
	SupplierID  string    `json:"supplier_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	Orders     []*models.OrderLineItem `json:"orders,omitempty"`
	Deliveries []*models.DeliveryItem  `json:"deliveries,omitempty"`
	Invoices   []*models.InvoiceItem   `json:"invoices,omitempty"`
}

// Validate validates the request.
func (r *Request) Validate() error {
	if r.BuyerID == "" {
		return fmt.Errorf("buyer ID is required")
	}
	if r.SupplierID == "" {
		return fmt.Errorf("supplier ID is required")
	}
	if !r.PeriodStart.IsZero() && !r.PeriodEnd.IsZero() && r.PeriodStart.After(r.PeriodEnd) {
		return fmt.Errorf("period start must not be after period end")
	}
	return nil
}

// DataSource loads the input snapshots for a run when the request does not
// carry them inline. Implementations live outside the engine.
type DataSource interface {
	LoadOrders(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.OrderLineItem, error)
	LoadDeliveries(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.DeliveryItem, error)
	LoadInvoices(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.InvoiceItem, error)
}

// ItemResult bundles everything the pipeline produced for one order line.
type ItemResult struct {
	Match  *models.MatchResult       `json:"match"`
	Report *scoring.ScoreReport      `json:"report,omitempty"`
	// Workflow is set when the item's confidence fell below auto-approval.
	Workflow    *workflow.ResolutionWorkflow `json:"workflow,omitempty"`
	Escalations []workflow.Escalation        `json:"escalations,omitempty"`
	// Err records a per-item persistence failure; the rest of the item's
	// pipeline output remains valid.
	Err error `json:"-"`
}

// Result is the full output of one reconciliation run.
type Result struct {
	Summary *models.ReconciliationResult `json:"summary"`
	Items   []*ItemResult                `json:"items"`
	// InputStats describes what preprocessing dropped or repaired.
	InputStats *InputStats `json:"input_stats,omitempty"`
	// DuplicateDeliveries lists delivery records that look double-keyed.
	DuplicateDeliveries []matcher.DuplicateDeliveryGroup `json:"duplicate_deliveries,omitempty"`
}

// Workflows returns all resolution workflows created during the run.
func (r *Result) Workflows() []*workflow.ResolutionWorkflow {
	var out []*workflow.ResolutionWorkflow
	for _, item := range r.Items {
		if item.Workflow != nil {
			out = append(out, item.Workflow)
		}
	}
	return out
}

// ReconciliationService wires the matching engine, confidence scorer and
// workflow engine into the per-item pipeline.
type ReconciliationService struct {
	config    *Config
	scorer    *scoring.ConfidenceScorer
	history   *scoring.HistoricalFactors
	workflows *workflow.Engine
	edges     *matcher.EdgeCaseHandler
	source    DataSource
	logger    logger.Logger
	now       func() time.Time
}

// NewReconciliationService creates a service. The history calculator and the
// workflow engine fall back to neutral in-memory defaults when nil; source
// may be nil when requests carry their data inline.
func NewReconciliationService(config *Config, history *scoring.HistoricalFactors, workflows *workflow.Engine, source DataSource) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if history == nil {
		history = scoring.NewHistoricalFactors(nil, nil, nil)
	}
	if workflows == nil {
		workflows = workflow.NewEngine(nil, nil)
	}

	scorer := scoring.NewConfidenceScorer(config.Weights, history)
	scorer.SetThresholds(config.Thresholds)

	return &ReconciliationService{
		config:    config,
		scorer:    scorer,
		history:   history,
		workflows: workflows,
		edges:     matcher.NewEdgeCaseHandler(config.Matching),
		source:    source,
		logger:    logger.GetGlobalLogger().WithComponent("reconciler"),
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source, for tests.
func (rs *ReconciliationService) SetClock(now func() time.Time) {
	rs.now = now
}

// Reconcile runs the full pipeline for one buyer/supplier/period. Per-item
// failures never abort the batch; cancellation mid-batch returns the items
// already computed along with the context error.
func (rs *ReconciliationService) Reconcile(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	startTime := rs.now()
	reconciliationID := uuid.New().String()

	log := rs.logger.WithFields(logger.Fields{
		"reconciliation_id": reconciliationID,
		"buyer_id":          req.BuyerID,
		"supplier_id":       req.SupplierID,
	})
	log.Info("Starting reconciliation run")

	orders, deliveries, invoices, err := rs.loadInputs(ctx, req)
	if err != nil {
		return nil, err
	}

	stats := Preprocess(rs.config.Preprocessing, orders, deliveries, invoices)
	orders, deliveries, invoices = stats.Orders, stats.Deliveries, stats.Invoices

	duplicates := rs.edges.DetectDuplicateDeliveries(deliveries)
	if len(duplicates) > 0 {
		log.WithField("duplicate_groups", len(duplicates)).Warn("Possible duplicate delivery records detected")
	}

	engine := matcher.NewMatchingEngine(rs.config.Matching)
	engine.LoadCandidates(deliveries, invoices)

	items, runErr := rs.processItems(ctx, reconciliationID, engine, orders, deliveries, log)

	result := &Result{
		Summary:             rs.summarize(reconciliationID, req, items, startTime),
		Items:               items,
		InputStats:          &stats.InputStats,
		DuplicateDeliveries: duplicates,
	}

	log.WithFields(logger.Fields{
		"items_processed": len(items),
		"matches_found":   result.Summary.MatchedItemCount,
		"disputed":        result.Summary.DisputedItemCount,
		"missing":         result.Summary.MissingItemCount,
		"elapsed_ms":      result.Summary.ProcessingTimeMs,
	}).Info("Reconciliation run finished")

	return result, runErr
}

func (rs *ReconciliationService) loadInputs(ctx context.Context, req *Request) ([]*models.OrderLineItem, []*models.DeliveryItem, []*models.InvoiceItem, error) {
	orders, deliveries, invoices := req.Orders, req.Deliveries, req.Invoices
	if len(orders) > 0 || rs.source == nil {
		return orders, deliveries, invoices, nil
	}

	var err error
	if orders, err = rs.source.LoadOrders(ctx, req.BuyerID, req.SupplierID, req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, nil, nil, fmt.Errorf("loading orders: %w", err)
	}
	if deliveries, err = rs.source.LoadDeliveries(ctx, req.BuyerID, req.SupplierID, req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, nil, nil, fmt.Errorf("loading deliveries: %w", err)
	}
	if invoices, err = rs.source.LoadInvoices(ctx, req.BuyerID, req.SupplierID, req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, nil, nil, fmt.Errorf("loading invoices: %w", err)
	}
	return orders, deliveries, invoices, nil
}

// processItems fans the per-item pipeline out over the worker pool. The
// returned slice holds results in completion order; on cancellation it holds
// only the items finished so far.
func (rs *ReconciliationService) processItems(ctx context.Context, reconciliationID string, engine *matcher.MatchingEngine, orders []*models.OrderLineItem, deliveries []*models.DeliveryItem, log logger.Logger) ([]*ItemResult, error) {
	jobs := make(chan *models.OrderLineItem)
	out := make(chan *ItemResult, len(orders))

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "item reconciliation",
		Total:     int64(len(orders)),
		Logger:    log,
	})

	var wg sync.WaitGroup
	for w := 0; w < rs.config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for order := range jobs {
				out <- rs.processItem(ctx, reconciliationID, engine, order, deliveries)
				progress.Increment()
			}
		}()
	}

	var runErr error
dispatch:
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		select {
		case jobs <- order:
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	items := make([]*ItemResult, 0, len(orders))
	for item := range out {
		items = append(items, item)
	}

	if runErr != nil {
		progress.CompleteWithError(runErr)
		log.WithField("items_processed", len(items)).Warn("Reconciliation cancelled, returning partial results")
	} else {
		progress.Complete()
	}
	return items, runErr
}

// processItem runs match, score and resolve for a single order line. Input
// problems surface as a missing match, never as a batch failure.
func (rs *ReconciliationService) processItem(ctx context.Context, reconciliationID string, engine *matcher.MatchingEngine, order *models.OrderLineItem, deliveries []*models.DeliveryItem) *ItemResult {
	mr := engine.Match(order)

	report := rs.scorer.Report(ctx, mr)
	if mr.Metadata == nil {
		mr.Metadata = map[string]interface{}{}
	}
	mr.Metadata["match_score"] = mr.ConfidenceScore

	// The match type classifies against the matcher's own score; the stored
	// confidence is the blended score. An item with no candidate documents
	// stays at zero: contextual factors alone cannot lend it credibility.
	if mr.MatchType != models.MatchMissing {
		mr.ConfidenceScore = report.Score
	}

	// A quantity shortfall may just be an order split across deliveries.
	if mr.HasDiscrepancy(models.DiscrepancyQuantity) || mr.MatchType == models.MatchMissing {
		if split := rs.edges.FindSplitDelivery(order, deliveries); split != nil {
			mr.Metadata["split_delivery"] = map[string]interface{}{
				"deliveries":     len(split.Deliveries),
				"total_quantity": split.TotalQuantity.String(),
				"quantity_gap":   split.QuantityGap.String(),
				"confidence":     split.Confidence,
			}
		}
	}

	item := &ItemResult{Match: mr, Report: report}

	if report.Score >= rs.config.Thresholds.AutoApprove && len(mr.Discrepancies) == 0 {
		return item
	}

	wf, err := rs.workflows.CreateWorkflow(ctx, reconciliationID, mr)
	if err != nil {
		item.Err = fmt.Errorf("creating workflow: %w", err)
		return item
	}
	if err := rs.workflows.Execute(ctx, wf, mr); err != nil {
		item.Err = fmt.Errorf("executing workflow %s: %w", wf.ID, err)
	}
	item.Workflow = wf

	vip := false
	if order != nil {
		vip = rs.history.IsVIP(ctx, order.BuyerID)
	}
	item.Escalations = workflow.EvaluateEscalations(rs.config.Escalation, wf, mr, vip, rs.now())
	if len(item.Escalations) > 0 {
		if err := rs.workflows.Escalate(ctx, wf); err != nil && item.Err == nil {
			item.Err = fmt.Errorf("escalating workflow %s: %w", wf.ID, err)
		}
	}

	return item
}

func (rs *ReconciliationService) summarize(reconciliationID string, req *Request, items []*ItemResult, startTime time.Time) *models.ReconciliationResult {
	summary := &models.ReconciliationResult{
		ID:          reconciliationID,
		BuyerID:     req.BuyerID,
		SupplierID:  req.SupplierID,
		ProcessedAt: startTime,
	}

	var confidenceSum float64
	total := decimal.Zero
	for _, item := range items {
		switch item.Match.MatchType {
		case models.MatchPerfect, models.MatchPartial:
			summary.MatchedItemCount++
		case models.MatchDisputed:
			summary.DisputedItemCount++
		case models.MatchMissing:
			summary.MissingItemCount++
		}
		confidenceSum += item.Match.ConfidenceScore
		if item.Match.OrderItem != nil {
			total = total.Add(item.Match.OrderItem.EffectiveLineTotal())
		}
	}

	summary.TotalValue = total
	if len(items) > 0 {
		summary.OverallConfidenceScore = confidenceSum / float64(len(items))
	}
	summary.ProcessingTimeMs = rs.now().Sub(startTime).Milliseconds()
	return summary
}
