package parsers

import (
	"context"
	"io"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/errors"
	"b2b-reconciliation-engine/pkg/logger"
)

// InvoiceParser handles parsing of invoice line CSV exports.
type InvoiceParser struct {
	*BaseParser
	config *InvoiceParserConfig
	logger logger.Logger
}

// NewInvoiceParser creates a new InvoiceParser with the given configuration
func NewInvoiceParser(config *InvoiceParserConfig) (*InvoiceParser, error) {
	if config == nil {
		config = DefaultInvoiceParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"invoice_parser_config",
			config,
			err,
		).WithSuggestion("Check the invoice parser configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &InvoiceParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("invoice_parser"),
	}, nil
}

// ParseInvoices parses a CSV file containing invoice lines
func (ip *InvoiceParser) ParseInvoices(filePath string) ([]*models.InvoiceItem, *ParseStats, error) {
	return ip.ParseInvoicesWithContext(context.Background(), filePath)
}

// ParseInvoicesWithContext parses invoice lines with cancellation support
func (ip *InvoiceParser) ParseInvoicesWithContext(ctx context.Context, filePath string) ([]*models.InvoiceItem, *ParseStats, error) {
	ip.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_invoices",
	}).Info("Starting invoice parsing")

	file, reader, err := ip.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	requiredHeaders := ip.requiredHeaders()
	if err := ip.ReadHeaders(reader, parseCtx, requiredHeaders); err != nil {
		ip.logger.WithError(err).WithFields(logger.Fields{
			"file_path":        filePath,
			"required_headers": requiredHeaders,
		}).Error("Failed to read or validate headers")
		return nil, stats, err
	}

	var invoices []*models.InvoiceItem

	for {
		record, err := ip.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Message: "failed to read record",
				Err:     err,
			})
			continue
		}

		stats.RecordsParsed++

		invoice, parseErr := ip.parseInvoiceFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}

		if err := invoice.Validate(); err != nil {
			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Message: "invoice item validation failed",
				Err: errors.ValidationError(
					errors.CodeInvalidData,
					"invoice_item",
					invoice.InvoiceID,
					err,
				),
			})
			continue
		}

		invoices = append(invoices, invoice)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	ip.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    len(stats.Errors),
	}).Info("Invoice parsing completed")

	if len(stats.Errors) > 0 {
		ip.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return invoices, stats, nil
}

func (ip *InvoiceParser) requiredHeaders() []string {
	return []string{
		ip.config.GetColumnName("invoice_id"),
		ip.config.GetColumnName("unit_price"),
		ip.config.GetColumnName("invoice_date"),
	}
}

// parseInvoiceFromRecord creates an InvoiceItem from a CSV record
func (ip *InvoiceParser) parseInvoiceFromRecord(record []string, parseCtx *ParseContext, filePath string) (*models.InvoiceItem, *ParseError) {
	invoiceID, err := ip.GetFieldValue(record, parseCtx, ip.config.GetColumnName("invoice_id"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, ip.config.GetColumnName("invoice_id"), err)
	}

	priceStr, err := ip.GetFieldValue(record, parseCtx, ip.config.GetColumnName("unit_price"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, ip.config.GetColumnName("unit_price"), err)
	}

	dateStr, err := ip.GetFieldValue(record, parseCtx, ip.config.GetColumnName("invoice_date"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, ip.config.GetColumnName("invoice_date"), err)
	}

	unitPrice, err := models.ParseDecimalFromString(priceStr)
	if err != nil {
		return nil, amountError(parseCtx.LineNumber, filePath, ip.config.GetColumnName("unit_price"), priceStr)
	}

	invoiceDate, err := models.ParseTimeWithFormats(dateStr)
	if err != nil {
		return nil, dateError(parseCtx.LineNumber, filePath, ip.config.GetColumnName("invoice_date"), dateStr)
	}

	invoice := &models.InvoiceItem{
		InvoiceID:   invoiceID,
		ProductCode: ip.OptionalFieldValue(record, parseCtx, ip.config.GetColumnName("product_code")),
		ProductName: ip.OptionalFieldValue(record, parseCtx, ip.config.GetColumnName("product_name")),
		UnitPrice:   unitPrice,
		InvoiceDate: invoiceDate,
	}

	if quantityStr := ip.OptionalFieldValue(record, parseCtx, ip.config.GetColumnName("quantity")); quantityStr != "" {
		quantity, err := models.ParseDecimalFromString(quantityStr)
		if err != nil {
			return nil, quantityError(parseCtx.LineNumber, filePath, ip.config.GetColumnName("quantity"), quantityStr)
		}
		invoice.Quantity = quantity
	}

	if totalStr := ip.OptionalFieldValue(record, parseCtx, ip.config.GetColumnName("line_total")); totalStr != "" {
		total, err := models.ParseDecimalFromString(totalStr)
		if err != nil {
			return nil, amountError(parseCtx.LineNumber, filePath, ip.config.GetColumnName("line_total"), totalStr)
		}
		invoice.LineTotal = total
	} else if !invoice.Quantity.IsZero() {
		invoice.LineTotal = invoice.Quantity.Mul(invoice.UnitPrice)
	}

	if taxStr := ip.OptionalFieldValue(record, parseCtx, ip.config.GetColumnName("tax_amount")); taxStr != "" {
		tax, err := models.ParseDecimalFromString(taxStr)
		if err != nil {
			return nil, amountError(parseCtx.LineNumber, filePath, ip.config.GetColumnName("tax_amount"), taxStr)
		}
		invoice.TaxAmount = tax
	}

	return invoice, nil
}

// ValidateInvoiceFile checks headers and a sample of rows without loading the
// whole file.
func (ip *InvoiceParser) ValidateInvoiceFile(filePath string) error {
	file, reader, err := ip.OpenFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	parseCtx := NewParseContext(context.Background())

	if err := ip.ReadHeaders(reader, parseCtx, ip.requiredHeaders()); err != nil {
		return err
	}

	return validateSampleRecords(filePath, parseCtx, func(record []string) error {
		_, parseErr := ip.parseInvoiceFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			return parseErr
		}
		return nil
	}, func() ([]string, error) {
		return ip.ReadRecord(reader, parseCtx)
	})
}
