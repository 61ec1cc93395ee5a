package parsers

import (
	"fmt"
	"strings"
)

// OrderParserConfig holds the column layout for purchase order line exports.
type OrderParserConfig struct {
	OrderIDColumn      string            `json:"order_id_column"`
	OrderNumberColumn  string            `json:"order_number_column"`
	ProductCodeColumn  string            `json:"product_code_column"`
	ProductNameColumn  string            `json:"product_name_column"`
	QuantityColumn     string            `json:"quantity_column"`
	UnitPriceColumn    string            `json:"unit_price_column"`
	DeliveryDateColumn string            `json:"delivery_date_column"`
	SupplierIDColumn   string            `json:"supplier_id_column"`
	BuyerIDColumn      string            `json:"buyer_id_column"`
	HasHeader          bool              `json:"has_header"`
	Delimiter          rune              `json:"delimiter"`
	ColumnAliases      map[string]string `json:"column_aliases,omitempty"`
}

// Validate checks if the order parser configuration is valid
func (opc *OrderParserConfig) Validate() error {
	if strings.TrimSpace(opc.OrderIDColumn) == "" {
		return fmt.Errorf("order ID column cannot be empty")
	}
	if strings.TrimSpace(opc.ProductCodeColumn) == "" {
		return fmt.Errorf("product code column cannot be empty")
	}
	if strings.TrimSpace(opc.QuantityColumn) == "" {
		return fmt.Errorf("quantity column cannot be empty")
	}
	if strings.TrimSpace(opc.UnitPriceColumn) == "" {
		return fmt.Errorf("unit price column cannot be empty")
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (opc *OrderParserConfig) GetColumnName(standardName string) string {
	if alias, exists := opc.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "order_id":
		return opc.OrderIDColumn
	case "order_number":
		return opc.OrderNumberColumn
	case "product_code":
		return opc.ProductCodeColumn
	case "product_name":
		return opc.ProductNameColumn
	case "quantity":
		return opc.QuantityColumn
	case "unit_price":
		return opc.UnitPriceColumn
	case "requested_delivery_date":
		return opc.DeliveryDateColumn
	case "supplier_id":
		return opc.SupplierIDColumn
	case "buyer_id":
		return opc.BuyerIDColumn
	default:
		return standardName
	}
}

// DefaultOrderParserConfig returns a configuration with standard defaults
func DefaultOrderParserConfig() *OrderParserConfig {
	return &OrderParserConfig{
		OrderIDColumn:      "order_id",
		OrderNumberColumn:  "order_number",
		ProductCodeColumn:  "product_code",
		ProductNameColumn:  "product_name",
		QuantityColumn:     "quantity",
		UnitPriceColumn:    "unit_price",
		DeliveryDateColumn: "requested_delivery_date",
		SupplierIDColumn:   "supplier_id",
		BuyerIDColumn:      "buyer_id",
		HasHeader:          true,
		Delimiter:          ',',
		ColumnAliases:      make(map[string]string),
	}
}

// SupplierFormat describes one supplier's delivery note export layout.
type SupplierFormat struct {
	Name               string            `json:"name"`
	DeliveryIDColumn   string            `json:"delivery_id_column"`
	ProductCodeColumn  string            `json:"product_code_column"`
	ProductNameColumn  string            `json:"product_name_column"`
	QuantityColumn     string            `json:"quantity_column"`
	UnitPriceColumn    string            `json:"unit_price_column"`
	ActualPriceColumn  string            `json:"actual_price_column,omitempty"`
	DeliveryDateColumn string            `json:"delivery_date_column"`
	BatchNumberColumn  string            `json:"batch_number_column,omitempty"`
	DateFormat         string            `json:"date_format"`
	HasHeader          bool              `json:"has_header"`
	Delimiter          rune              `json:"delimiter"`
	ColumnAliases      map[string]string `json:"column_aliases,omitempty"`
	Description        string            `json:"description,omitempty"`
}

// Validate checks if the supplier format is valid
func (sf *SupplierFormat) Validate() error {
	if strings.TrimSpace(sf.Name) == "" {
		return fmt.Errorf("supplier format name cannot be empty")
	}
	if strings.TrimSpace(sf.ProductCodeColumn) == "" && strings.TrimSpace(sf.ProductNameColumn) == "" {
		return fmt.Errorf("supplier format needs a product code or name column")
	}
	if strings.TrimSpace(sf.QuantityColumn) == "" {
		return fmt.Errorf("quantity column cannot be empty")
	}
	if strings.TrimSpace(sf.DeliveryDateColumn) == "" {
		return fmt.Errorf("delivery date column cannot be empty")
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (sf *SupplierFormat) GetColumnName(standardName string) string {
	if alias, exists := sf.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "delivery_id":
		return sf.DeliveryIDColumn
	case "product_code":
		return sf.ProductCodeColumn
	case "product_name":
		return sf.ProductNameColumn
	case "quantity":
		return sf.QuantityColumn
	case "unit_price":
		return sf.UnitPriceColumn
	case "actual_price":
		return sf.ActualPriceColumn
	case "delivery_date":
		return sf.DeliveryDateColumn
	case "batch_number":
		return sf.BatchNumberColumn
	default:
		return standardName
	}
}

// Predefined supplier formats for common export layouts
var (
	// StandardSupplierFormat represents a generic delivery note export
	StandardSupplierFormat = &SupplierFormat{
		Name:               "standard",
		DeliveryIDColumn:   "delivery_id",
		ProductCodeColumn:  "product_code",
		ProductNameColumn:  "product_name",
		QuantityColumn:     "quantity",
		UnitPriceColumn:    "unit_price",
		ActualPriceColumn:  "actual_price",
		DeliveryDateColumn: "delivery_date",
		BatchNumberColumn:  "batch_number",
		DateFormat:         "2006-01-02",
		HasHeader:          true,
		Delimiter:          ',',
		Description:        "Standard delivery note export",
	}

	// FreshFarmFormat represents a produce supplier with US-style dates
	FreshFarmFormat = &SupplierFormat{
		Name:               "freshfarm",
		DeliveryIDColumn:   "note_number",
		ProductCodeColumn:  "sku",
		ProductNameColumn:  "item_description",
		QuantityColumn:     "qty_delivered",
		UnitPriceColumn:    "price_per_unit",
		DeliveryDateColumn: "ship_date",
		BatchNumberColumn:  "lot_number",
		DateFormat:         "01/02/2006",
		HasHeader:          true,
		Delimiter:          ',',
		Description:        "FreshFarm produce export with MM/DD/YYYY dates",
	}

	// NordicSeafoodFormat represents a semicolon-delimited export
	NordicSeafoodFormat = &SupplierFormat{
		Name:               "nordicseafood",
		DeliveryIDColumn:   "doc_ref",
		ProductCodeColumn:  "article_no",
		ProductNameColumn:  "article_name",
		QuantityColumn:     "delivered_kg",
		UnitPriceColumn:    "kg_price",
		DeliveryDateColumn: "delivery_dt",
		DateFormat:         "2006-01-02",
		HasHeader:          true,
		Delimiter:          ';',
		ColumnAliases: map[string]string{
			"batch_number": "catch_batch",
		},
		Description: "Nordic Seafood export with semicolon delimiter",
	}
)

// GetSupplierFormat returns a predefined supplier format by name
func GetSupplierFormat(name string) *SupplierFormat {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "standard":
		return StandardSupplierFormat
	case "freshfarm":
		return FreshFarmFormat
	case "nordicseafood":
		return NordicSeafoodFormat
	default:
		return nil
	}
}

// ListSupplierFormats returns all predefined supplier formats
func ListSupplierFormats() []*SupplierFormat {
	return []*SupplierFormat{
		StandardSupplierFormat,
		FreshFarmFormat,
		NordicSeafoodFormat,
	}
}

// AutoDetectSupplierFormat attempts to detect the export layout from headers.
// Falls back to the standard format when nothing matches fully.
func AutoDetectSupplierFormat(headers []string) *SupplierFormat {
	headerMap := make(map[string]bool)
	for _, header := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = true
	}

	for _, format := range ListSupplierFormats() {
		score := 0
		if headerMap[strings.ToLower(format.ProductCodeColumn)] {
			score++
		}
		if headerMap[strings.ToLower(format.QuantityColumn)] {
			score++
		}
		if headerMap[strings.ToLower(format.DeliveryDateColumn)] {
			score++
		}
		if score == 3 {
			return format
		}
	}

	return StandardSupplierFormat
}

// InvoiceParserConfig holds the column layout for invoice line exports.
type InvoiceParserConfig struct {
	InvoiceIDColumn   string            `json:"invoice_id_column"`
	ProductCodeColumn string            `json:"product_code_column"`
	ProductNameColumn string            `json:"product_name_column"`
	QuantityColumn    string            `json:"quantity_column"`
	UnitPriceColumn   string            `json:"unit_price_column"`
	LineTotalColumn   string            `json:"line_total_column"`
	InvoiceDateColumn string            `json:"invoice_date_column"`
	TaxAmountColumn   string            `json:"tax_amount_column"`
	HasHeader         bool              `json:"has_header"`
	Delimiter         rune              `json:"delimiter"`
	ColumnAliases     map[string]string `json:"column_aliases,omitempty"`
}

// Validate checks if the invoice parser configuration is valid
func (ipc *InvoiceParserConfig) Validate() error {
	if strings.TrimSpace(ipc.InvoiceIDColumn) == "" {
		return fmt.Errorf("invoice ID column cannot be empty")
	}
	if strings.TrimSpace(ipc.ProductCodeColumn) == "" && strings.TrimSpace(ipc.ProductNameColumn) == "" {
		return fmt.Errorf("invoice parser needs a product code or name column")
	}
	if strings.TrimSpace(ipc.UnitPriceColumn) == "" {
		return fmt.Errorf("unit price column cannot be empty")
	}
	if strings.TrimSpace(ipc.InvoiceDateColumn) == "" {
		return fmt.Errorf("invoice date column cannot be empty")
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (ipc *InvoiceParserConfig) GetColumnName(standardName string) string {
	if alias, exists := ipc.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "invoice_id":
		return ipc.InvoiceIDColumn
	case "product_code":
		return ipc.ProductCodeColumn
	case "product_name":
		return ipc.ProductNameColumn
	case "quantity":
		return ipc.QuantityColumn
	case "unit_price":
		return ipc.UnitPriceColumn
	case "line_total":
		return ipc.LineTotalColumn
	case "invoice_date":
		return ipc.InvoiceDateColumn
	case "tax_amount":
		return ipc.TaxAmountColumn
	default:
		return standardName
	}
}

// DefaultInvoiceParserConfig returns a configuration with standard defaults
func DefaultInvoiceParserConfig() *InvoiceParserConfig {
	return &InvoiceParserConfig{
		InvoiceIDColumn:   "invoice_id",
		ProductCodeColumn: "product_code",
		ProductNameColumn: "product_name",
		QuantityColumn:    "quantity",
		UnitPriceColumn:   "unit_price",
		LineTotalColumn:   "line_total",
		InvoiceDateColumn: "invoice_date",
		TaxAmountColumn:   "tax_amount",
		HasHeader:         true,
		Delimiter:         ',',
		ColumnAliases:     make(map[string]string),
	}
}

// StreamingConfig holds configuration for batched streaming parses.
type StreamingConfig struct {
	BatchSize       int  `json:"batch_size"`
	ContinueOnError bool `json:"continue_on_error"`
	MaxErrors       int  `json:"max_errors"`
}

// DefaultStreamingConfig returns a configuration with sensible defaults for streaming
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		BatchSize:       1000,
		ContinueOnError: true,
		MaxErrors:       100,
	}
}

// Validate checks if the streaming configuration is valid
func (sc *StreamingConfig) Validate() error {
	if sc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", sc.BatchSize)
	}
	if sc.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", sc.MaxErrors)
	}
	return nil
}
