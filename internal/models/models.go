package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType classifies how well an order line agrees with its delivery and
// invoice records.
type MatchType string

const (
	// MatchPerfect indicates the records agree above the auto-approval threshold.
	MatchPerfect MatchType = "perfect"
	// MatchPartial indicates agreement above the manual-review threshold.
	MatchPartial MatchType = "partial"
	// MatchDisputed indicates a weak match that needs investigation.
	MatchDisputed MatchType = "disputed"
	// MatchMissing indicates no usable delivery/invoice candidate was found.
	MatchMissing MatchType = "missing"
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	return string(mt)
}

// IsValid checks if the match type is valid
func (mt MatchType) IsValid() bool {
	switch mt {
	case MatchPerfect, MatchPartial, MatchDisputed, MatchMissing:
		return true
	}
	return false
}

// DiscrepancyType identifies which field-level comparison produced a discrepancy.
type DiscrepancyType string

const (
	DiscrepancyQuantity DiscrepancyType = "quantity"
	DiscrepancyPrice    DiscrepancyType = "price"
	DiscrepancyProduct  DiscrepancyType = "product"
	DiscrepancyDate     DiscrepancyType = "date"
	DiscrepancyMissing  DiscrepancyType = "missing"
)

// String returns the string representation of DiscrepancyType
func (dt DiscrepancyType) String() string {
	return string(dt)
}

// Severity buckets a discrepancy by variance magnitude.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a numeric rank for severity comparison (higher is worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the worse of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// OrderLineItem is one ordered product line. Immutable once created; owned by
// the order it came from.
type OrderLineItem struct {
	OrderID               string          `json:"order_id"`
	OrderNumber           string          `json:"order_number"`
	ProductCode           string          `json:"product_code"`
	ProductName           string          `json:"product_name"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	LineTotal             decimal.Decimal `json:"line_total"`
	RequestedDeliveryDate time.Time       `json:"requested_delivery_date"`
	SupplierID            string          `json:"supplier_id"`
	BuyerID               string          `json:"buyer_id"`
	// CoItemCount is the number of other lines on the same order, used by
	// order-complexity scoring.
	CoItemCount int `json:"co_item_count,omitempty"`
}

// Validate performs basic validation on the OrderLineItem
func (o *OrderLineItem) Validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return fmt.Errorf("order ID cannot be empty")
	}
	if strings.TrimSpace(o.ProductCode) == "" && strings.TrimSpace(o.ProductName) == "" {
		return fmt.Errorf("order line must have a product code or name")
	}
	if o.Quantity.IsZero() || o.Quantity.IsNegative() {
		return fmt.Errorf("ordered quantity must be positive")
	}
	if o.UnitPrice.IsNegative() {
		return fmt.Errorf("unit price cannot be negative")
	}
	return nil
}

// EffectiveLineTotal returns the line total, deriving it from quantity and
// unit price when the stored total is zero.
func (o *OrderLineItem) EffectiveLineTotal() decimal.Decimal {
	if !o.LineTotal.IsZero() {
		return o.LineTotal
	}
	return o.Quantity.Mul(o.UnitPrice)
}

// String returns a string representation of the OrderLineItem
func (o *OrderLineItem) String() string {
	return fmt.Sprintf("OrderLineItem{Order: %s, Product: %s/%s, Qty: %s, Price: %s}",
		o.OrderID, o.ProductCode, o.ProductName, o.Quantity.String(), o.UnitPrice.String())
}

// DeliveryItem is one delivered product line. Read-only input produced by the
// delivery-tracking collaborator.
type DeliveryItem struct {
	DeliveryID   string          `json:"delivery_id"`
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ActualPrice  decimal.Decimal `json:"actual_price,omitempty"`
	DeliveryDate time.Time       `json:"delivery_date"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

// EffectivePrice returns the actual price when recorded, the unit price otherwise.
func (d *DeliveryItem) EffectivePrice() decimal.Decimal {
	if !d.ActualPrice.IsZero() {
		return d.ActualPrice
	}
	return d.UnitPrice
}

// Validate performs basic validation on the DeliveryItem
func (d *DeliveryItem) Validate() error {
	if strings.TrimSpace(d.ProductCode) == "" && strings.TrimSpace(d.ProductName) == "" {
		return fmt.Errorf("delivery item must have a product code or name")
	}
	if d.Quantity.IsNegative() {
		return fmt.Errorf("delivered quantity cannot be negative")
	}
	if d.DeliveryDate.IsZero() {
		return fmt.Errorf("delivery date cannot be zero")
	}
	return nil
}

// String returns a string representation of the DeliveryItem
func (d *DeliveryItem) String() string {
	return fmt.Sprintf("DeliveryItem{Product: %s/%s, Qty: %s, Price: %s, Date: %s}",
		d.ProductCode, d.ProductName, d.Quantity.String(), d.EffectivePrice().String(),
		d.DeliveryDate.Format("2006-01-02"))
}

// InvoiceItem is one billed line. Read-only input.
type InvoiceItem struct {
	InvoiceID   string          `json:"invoice_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	InvoiceDate time.Time       `json:"invoice_date"`
	TaxAmount   decimal.Decimal `json:"tax_amount,omitempty"`
}

// Validate performs basic validation on the InvoiceItem
func (i *InvoiceItem) Validate() error {
	if strings.TrimSpace(i.ProductCode) == "" && strings.TrimSpace(i.ProductName) == "" {
		return fmt.Errorf("invoice item must have a product code or name")
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("invoiced unit price cannot be negative")
	}
	if i.InvoiceDate.IsZero() {
		return fmt.Errorf("invoice date cannot be zero")
	}
	return nil
}

// String returns a string representation of the InvoiceItem
func (i *InvoiceItem) String() string {
	return fmt.Sprintf("InvoiceItem{Product: %s/%s, Price: %s, Date: %s}",
		i.ProductCode, i.ProductName, i.UnitPrice.String(), i.InvoiceDate.Format("2006-01-02"))
}

// Discrepancy is a detected field-level mismatch between the order and its
// matched delivery/invoice records. Recomputed on every reconciliation run,
// never persisted on its own.
type Discrepancy struct {
	Type           DiscrepancyType `json:"type"`
	Field          string          `json:"field"`
	Expected       string          `json:"expected"`
	Actual         string          `json:"actual"`
	VariancePct    decimal.Decimal `json:"variance_pct"`
	Severity       Severity        `json:"severity"`
	Description    string          `json:"description"`
	AutoResolvable bool            `json:"auto_resolvable"`
}

// MonetaryImpact estimates the monetary value of a discrepancy for the given
// order line. Only price, quantity and missing discrepancies carry a value.
func (d *Discrepancy) MonetaryImpact(item *OrderLineItem) decimal.Decimal {
	switch d.Type {
	case DiscrepancyPrice, DiscrepancyQuantity:
		return item.EffectiveLineTotal().Mul(d.VariancePct).Div(decimal.NewFromInt(100)).Abs()
	case DiscrepancyMissing:
		return item.EffectiveLineTotal().Abs()
	default:
		return decimal.Zero
	}
}

// MatchResult is the outcome of matching one order line against the delivery
// and invoice candidate pools. Created by the matching engine, enriched with
// the final confidence by the scorer, consumed by the resolution workflow.
// Terminal once the reconciliation run completes.
type MatchResult struct {
	OrderItem        *OrderLineItem         `json:"order_item"`
	DeliveryItem     *DeliveryItem          `json:"delivery_item,omitempty"`
	InvoiceItem      *InvoiceItem           `json:"invoice_item,omitempty"`
	MatchType        MatchType              `json:"match_type"`
	ConfidenceScore  float64                `json:"confidence_score"`
	Discrepancies    []Discrepancy          `json:"discrepancies,omitempty"`
	SuggestedActions []string               `json:"suggested_actions,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// HasDiscrepancy reports whether the result carries a discrepancy of the given type.
func (mr *MatchResult) HasDiscrepancy(dt DiscrepancyType) bool {
	for _, d := range mr.Discrepancies {
		if d.Type == dt {
			return true
		}
	}
	return false
}

// MaxSeverity returns the worst severity across all discrepancies, or the
// zero value when there are none.
func (mr *MatchResult) MaxSeverity() Severity {
	var max Severity
	for _, d := range mr.Discrepancies {
		max = MaxSeverity(max, d.Severity)
	}
	return max
}

// TotalDiscrepancyValue sums the monetary impact of all discrepancies.
func (mr *MatchResult) TotalDiscrepancyValue() decimal.Decimal {
	total := decimal.Zero
	for _, d := range mr.Discrepancies {
		total = total.Add(d.MonetaryImpact(mr.OrderItem))
	}
	return total
}

// ReconciliationResult is the summary returned to the caller for persistence.
type ReconciliationResult struct {
	ID                     string          `json:"id"`
	BuyerID                string          `json:"buyer_id"`
	SupplierID             string          `json:"supplier_id"`
	MatchedItemCount       int             `json:"matched_item_count"`
	DisputedItemCount      int             `json:"disputed_item_count"`
	MissingItemCount       int             `json:"missing_item_count"`
	TotalValue             decimal.Decimal `json:"total_value"`
	OverallConfidenceScore float64         `json:"overall_confidence_score"`
	ProcessingTimeMs       int64           `json:"processing_time_ms"`
	ProcessedAt            time.Time       `json:"processed_at"`
}

// ParseDecimalFromString parses a decimal value from string, tolerating
// currency symbols and thousand separators.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple
// common formats.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
		"02-01-2006",
		"2006/01/02",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}
