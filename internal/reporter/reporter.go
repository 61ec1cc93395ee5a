// Package reporter renders reconciliation run results for people and
// machines.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured output for programmatic consumption
//   - CSV: one row per order line for spreadsheet review
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(nil)
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/internal/reconciler"
	"b2b-reconciliation-engine/internal/workflow"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeCleanMatches bool `json:"include_clean_matches"`
	IncludeWorkflows    bool `json:"include_workflows"`
	IncludeEscalations  bool `json:"include_escalations"`
	IncludeInputStats   bool `json:"include_input_stats"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// SortByValue orders flagged items by discrepancy value, largest first.
	SortByValue bool `json:"sort_by_value"`
	// MaxListedItems caps the per-section item lists in console output.
	MaxListedItems int `json:"max_listed_items"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		IncludeCleanMatches: false,
		IncludeWorkflows:    true,
		IncludeEscalations:  true,
		IncludeInputStats:   true,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
		SortByValue:         true,
		MaxListedItems:      10,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListedItems < 1 {
		return fmt.Errorf("max listed items must be at least 1, got %d", c.MaxListedItems)
	}
	return nil
}

// ReportGenerator renders reconciliation results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GenerateReport renders the result to the writer in the configured format.
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Summary == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	summary := result.Summary

	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID:    %s\n", summary.ID)
	fmt.Fprintf(writer, "Buyer:     %s\n", summary.BuyerID)
	fmt.Fprintf(writer, "Supplier:  %s\n", summary.SupplierID)
	fmt.Fprintf(writer, "Processed: %s (%d ms)\n\n", summary.ProcessedAt.Format(time.RFC3339), summary.ProcessingTimeMs)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	flagged := flaggedItems(result.Items)
	if len(flagged) > 0 {
		fmt.Fprintf(writer, "=== FLAGGED ITEMS ===\n")
		rg.printFlaggedItems(flagged, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeCleanMatches {
		clean := cleanItems(result.Items)
		if len(clean) > 0 {
			fmt.Fprintf(writer, "=== CLEAN MATCHES ===\n")
			rg.printCleanItems(clean, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeWorkflows {
		if workflows := result.Workflows(); len(workflows) > 0 {
			fmt.Fprintf(writer, "=== RESOLUTION WORKFLOWS ===\n")
			rg.printWorkflows(workflows, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeEscalations {
		rg.printEscalations(result.Items, writer)
	}

	if len(result.DuplicateDeliveries) > 0 {
		fmt.Fprintf(writer, "=== POSSIBLE DUPLICATE DELIVERIES ===\n")
		for _, group := range result.DuplicateDeliveries {
			fmt.Fprintf(writer, "  - %s (confidence %.2f)\n", group.Reason, group.Confidence)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeInputStats && result.InputStats != nil {
		fmt.Fprintf(writer, "=== INPUT STATISTICS ===\n")
		rg.printInputStats(result.InputStats, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// generateCSVReport generates a CSV report with one row per order line
func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Order_ID",
			"Product_Code",
			"Product_Name",
			"Match_Type",
			"Confidence_Score",
			"Discrepancy_Count",
			"Max_Severity",
			"Discrepancy_Value",
			"Workflow_ID",
			"Workflow_Status",
			"Suggested_Actions",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, item := range result.Items {
		if !rg.config.IncludeCleanMatches && isClean(item) {
			continue
		}

		mr := item.Match
		orderID, productCode, productName := "", "", ""
		if mr.OrderItem != nil {
			orderID = mr.OrderItem.OrderID
			productCode = mr.OrderItem.ProductCode
			productName = mr.OrderItem.ProductName
		}

		workflowID, workflowStatus := "", ""
		if item.Workflow != nil {
			workflowID = item.Workflow.ID
			workflowStatus = string(item.Workflow.Status)
		}

		maxSeverity := ""
		if len(mr.Discrepancies) > 0 {
			maxSeverity = string(mr.MaxSeverity())
		}

		record := []string{
			orderID,
			productCode,
			productName,
			string(mr.MatchType),
			fmt.Sprintf("%.4f", mr.ConfidenceScore),
			fmt.Sprintf("%d", len(mr.Discrepancies)),
			maxSeverity,
			mr.TotalDiscrepancyValue().StringFixed(2),
			workflowID,
			workflowStatus,
			strings.Join(mr.SuggestedActions, "; "),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write item record: %w", err)
		}
	}

	return nil
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *models.ReconciliationResult, writer io.Writer) {
	total := summary.MatchedItemCount + summary.DisputedItemCount + summary.MissingItemCount

	fmt.Fprintf(writer, "Order Lines:\n")
	fmt.Fprintf(writer, "  Total:    %d\n", total)
	fmt.Fprintf(writer, "  Matched:  %d (%.1f%%)\n",
		summary.MatchedItemCount, percentage(summary.MatchedItemCount, total))
	fmt.Fprintf(writer, "  Disputed: %d (%.1f%%)\n",
		summary.DisputedItemCount, percentage(summary.DisputedItemCount, total))
	fmt.Fprintf(writer, "  Missing:  %d (%.1f%%)\n",
		summary.MissingItemCount, percentage(summary.MissingItemCount, total))

	fmt.Fprintf(writer, "\nTotal Order Value:   %s\n", summary.TotalValue.StringFixed(2))
	fmt.Fprintf(writer, "Overall Confidence:  %.2f\n", summary.OverallConfidenceScore)
}

func (rg *ReportGenerator) printFlaggedItems(items []*reconciler.ItemResult, writer io.Writer) {
	if rg.config.SortByValue {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Match.TotalDiscrepancyValue().GreaterThan(items[j].Match.TotalDiscrepancyValue())
		})
	}

	fmt.Fprintf(writer, "Total Flagged Items: %d\n\n", len(items))

	for i, item := range items {
		mr := item.Match
		label := "unknown order line"
		if mr.OrderItem != nil {
			label = fmt.Sprintf("%s / %s (%s)", mr.OrderItem.OrderID, mr.OrderItem.ProductCode, mr.OrderItem.ProductName)
		}

		fmt.Fprintf(writer, "  %d. %s\n", i+1, label)
		fmt.Fprintf(writer, "     Match: %s, Confidence: %.2f\n", mr.MatchType, mr.ConfidenceScore)
		for _, disc := range mr.Discrepancies {
			fmt.Fprintf(writer, "     [%s] %s\n", strings.ToUpper(string(disc.Severity)), disc.Description)
		}
		for _, action := range mr.SuggestedActions {
			fmt.Fprintf(writer, "     -> %s\n", action)
		}

		if i+1 >= rg.config.MaxListedItems && len(items) > rg.config.MaxListedItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(items)-rg.config.MaxListedItems)
			break
		}
	}
}

func (rg *ReportGenerator) printCleanItems(items []*reconciler.ItemResult, writer io.Writer) {
	fmt.Fprintf(writer, "Total Clean Matches: %d\n\n", len(items))

	for i, item := range items {
		mr := item.Match
		if mr.OrderItem == nil {
			continue
		}
		fmt.Fprintf(writer, "  %d. %s / %s, Confidence: %.2f\n",
			i+1, mr.OrderItem.OrderID, mr.OrderItem.ProductCode, mr.ConfidenceScore)

		if i+1 >= rg.config.MaxListedItems && len(items) > rg.config.MaxListedItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(items)-rg.config.MaxListedItems)
			break
		}
	}
}

func (rg *ReportGenerator) printWorkflows(workflows []*workflow.ResolutionWorkflow, writer io.Writer) {
	statusCounts := make(map[workflow.WorkflowStatus]int)
	var pendingApprovals int
	for _, wf := range workflows {
		statusCounts[wf.Status]++
		pendingApprovals += len(wf.PendingApprovals())
	}

	fmt.Fprintf(writer, "Total Workflows: %d\n", len(workflows))
	for _, status := range []workflow.WorkflowStatus{
		workflow.StatusPending,
		workflow.StatusInProgress,
		workflow.StatusResolved,
		workflow.StatusEscalated,
		workflow.StatusCancelled,
	} {
		if count := statusCounts[status]; count > 0 {
			fmt.Fprintf(writer, "  %-12s %d\n", string(status)+":", count)
		}
	}
	if pendingApprovals > 0 {
		fmt.Fprintf(writer, "Approvals awaiting action: %d\n", pendingApprovals)
	}
}

func (rg *ReportGenerator) printEscalations(items []*reconciler.ItemResult, writer io.Writer) {
	var lines []string
	for _, item := range items {
		for _, esc := range item.Escalations {
			label := ""
			if item.Match.OrderItem != nil {
				label = item.Match.OrderItem.OrderID + "/" + item.Match.OrderItem.ProductCode + ": "
			}
			lines = append(lines, fmt.Sprintf("  - %s%s -> %s (%s)", label, esc.Rule, esc.Role, esc.Reason))
		}
	}
	if len(lines) == 0 {
		return
	}

	fmt.Fprintf(writer, "=== ESCALATIONS ===\n")
	for _, line := range lines {
		fmt.Fprintf(writer, "%s\n", line)
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) printInputStats(stats *reconciler.InputStats, writer io.Writer) {
	fmt.Fprintf(writer, "Orders:     %d in, %d out\n", stats.OrdersIn, stats.OrdersOut)
	fmt.Fprintf(writer, "Deliveries: %d in, %d out\n", stats.DeliveriesIn, stats.DeliveriesOut)
	fmt.Fprintf(writer, "Invoices:   %d in, %d out\n", stats.InvoicesIn, stats.InvoicesOut)
	if stats.DuplicateOrders > 0 {
		fmt.Fprintf(writer, "Duplicate order lines removed: %d\n", stats.DuplicateOrders)
	}
	if stats.InvalidRecordsDropped > 0 {
		fmt.Fprintf(writer, "Invalid records dropped:       %d\n", stats.InvalidRecordsDropped)
	}
}

// Helper methods

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// isClean reports whether the item auto-approved without discrepancies.
func isClean(item *reconciler.ItemResult) bool {
	return item.Match.MatchType == models.MatchPerfect && len(item.Match.Discrepancies) == 0
}

func flaggedItems(items []*reconciler.ItemResult) []*reconciler.ItemResult {
	var out []*reconciler.ItemResult
	for _, item := range items {
		if !isClean(item) {
			out = append(out, item)
		}
	}
	return out
}

func cleanItems(items []*reconciler.ItemResult) []*reconciler.ItemResult {
	var out []*reconciler.ItemResult
	for _, item := range items {
		if isClean(item) {
			out = append(out, item)
		}
	}
	return out
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.Result) map[string]interface{} {
	output := map[string]interface{}{
		"summary": result.Summary,
	}

	if rg.config.IncludeCleanMatches {
		output["items"] = result.Items
	} else {
		output["items"] = flaggedItems(result.Items)
	}

	if rg.config.IncludeWorkflows {
		if workflows := result.Workflows(); len(workflows) > 0 {
			output["workflows"] = workflows
		}
	}

	if rg.config.IncludeInputStats && result.InputStats != nil {
		output["input_stats"] = result.InputStats
	}

	if len(result.DuplicateDeliveries) > 0 {
		output["duplicate_deliveries"] = result.DuplicateDeliveries
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
