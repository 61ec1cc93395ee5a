package parsers

import (
	"context"
	"fmt"
	"io"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/errors"
	"b2b-reconciliation-engine/pkg/logger"
)

// OrderParser handles parsing of purchase order line CSV exports.
type OrderParser struct {
	*BaseParser
	config *OrderParserConfig
	logger logger.Logger
}

// NewOrderParser creates a new OrderParser with the given configuration
func NewOrderParser(config *OrderParserConfig) (*OrderParser, error) {
	if config == nil {
		config = DefaultOrderParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"order_parser_config",
			config,
			err,
		).WithSuggestion("Check the order parser configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &OrderParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("order_parser"),
	}, nil
}

// ParseOrders parses a CSV file containing purchase order lines
func (op *OrderParser) ParseOrders(filePath string) ([]*models.OrderLineItem, *ParseStats, error) {
	return op.ParseOrdersWithContext(context.Background(), filePath)
}

// ParseOrdersWithContext parses order lines with cancellation support
func (op *OrderParser) ParseOrdersWithContext(ctx context.Context, filePath string) ([]*models.OrderLineItem, *ParseStats, error) {
	op.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_orders",
	}).Info("Starting order parsing")

	file, reader, err := op.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	requiredHeaders := op.requiredHeaders()
	if err := op.ReadHeaders(reader, parseCtx, requiredHeaders); err != nil {
		op.logger.WithError(err).WithFields(logger.Fields{
			"file_path":        filePath,
			"required_headers": requiredHeaders,
		}).Error("Failed to read or validate headers")
		return nil, stats, err
	}

	var orders []*models.OrderLineItem

	for {
		if parseCtx.IsCancelled() {
			op.logger.Warn("Order parsing was cancelled")
			return orders, stats, errors.InternalError(
				errors.CodeUnexpectedError,
				"order_parsing",
				fmt.Errorf("parsing cancelled by context"),
			)
		}

		record, err := op.ReadRecord(reader, parseCtx)
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

		order, parseErr := op.parseOrderFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}

		if err := order.Validate(); err != nil {
			op.logger.WithError(err).WithFields(logger.Fields{
				"line_number": parseCtx.LineNumber,
				"order_id":    order.OrderID,
			}).Warn("Order line validation failed")

			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Message: "order line validation failed",
				Err: errors.ValidationError(
					errors.CodeInvalidData,
					"order_line",
					order.OrderID,
					err,
				),
			})
			continue
		}

		orders = append(orders, order)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	op.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    len(stats.Errors),
	}).Info("Order parsing completed")

	if len(stats.Errors) > 0 {
		op.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return orders, stats, nil
}

func (op *OrderParser) requiredHeaders() []string {
	return []string{
		op.config.GetColumnName("order_id"),
		op.config.GetColumnName("product_code"),
		op.config.GetColumnName("quantity"),
		op.config.GetColumnName("unit_price"),
	}
}

// parseOrderFromRecord creates an OrderLineItem from a CSV record
func (op *OrderParser) parseOrderFromRecord(record []string, parseCtx *ParseContext, filePath string) (*models.OrderLineItem, *ParseError) {
	orderID, err := op.GetFieldValue(record, parseCtx, op.config.GetColumnName("order_id"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, op.config.GetColumnName("order_id"), err)
	}

	productCode, err := op.GetFieldValue(record, parseCtx, op.config.GetColumnName("product_code"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, op.config.GetColumnName("product_code"), err)
	}

	quantityStr, err := op.GetFieldValue(record, parseCtx, op.config.GetColumnName("quantity"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, op.config.GetColumnName("quantity"), err)
	}

	priceStr, err := op.GetFieldValue(record, parseCtx, op.config.GetColumnName("unit_price"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, op.config.GetColumnName("unit_price"), err)
	}

	quantity, err := models.ParseDecimalFromString(quantityStr)
	if err != nil {
		return nil, quantityError(parseCtx.LineNumber, filePath, op.config.GetColumnName("quantity"), quantityStr)
	}

	unitPrice, err := models.ParseDecimalFromString(priceStr)
	if err != nil {
		return nil, amountError(parseCtx.LineNumber, filePath, op.config.GetColumnName("unit_price"), priceStr)
	}

	order := &models.OrderLineItem{
		OrderID:     orderID,
		OrderNumber: op.OptionalFieldValue(record, parseCtx, op.config.GetColumnName("order_number")),
		ProductCode: productCode,
		ProductName: op.OptionalFieldValue(record, parseCtx, op.config.GetColumnName("product_name")),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   quantity.Mul(unitPrice),
		SupplierID:  op.OptionalFieldValue(record, parseCtx, op.config.GetColumnName("supplier_id")),
		BuyerID:     op.OptionalFieldValue(record, parseCtx, op.config.GetColumnName("buyer_id")),
	}

	if dateStr := op.OptionalFieldValue(record, parseCtx, op.config.GetColumnName("requested_delivery_date")); dateStr != "" {
		date, err := models.ParseTimeWithFormats(dateStr)
		if err != nil {
			return nil, dateError(parseCtx.LineNumber, filePath, op.config.GetColumnName("requested_delivery_date"), dateStr)
		}
		order.RequestedDeliveryDate = date
	}

	return order, nil
}

// ParseOrdersCallback receives each parsed batch during streaming parses.
type ParseOrdersCallback func([]*models.OrderLineItem) error

// ParseOrdersStream parses order lines in batches, invoking the callback per
// batch so large files never materialize fully in memory.
func (op *OrderParser) ParseOrdersStream(ctx context.Context, filePath string, streamConfig *StreamingConfig, callback ParseOrdersCallback) (*ParseStats, error) {
	if streamConfig == nil {
		streamConfig = DefaultStreamingConfig()
	}
	if err := streamConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "streaming_config", streamConfig, err)
	}

	file, reader, err := op.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	if err := op.ReadHeaders(reader, parseCtx, op.requiredHeaders()); err != nil {
		return stats, err
	}

	batch := make([]*models.OrderLineItem, 0, streamConfig.BatchSize)

	for {
		if parseCtx.IsCancelled() {
			return stats, fmt.Errorf("parsing cancelled")
		}

		record, err := op.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				if len(batch) > 0 {
					if callbackErr := callback(batch); callbackErr != nil {
						return stats, fmt.Errorf("callback error: %w", callbackErr)
					}
				}
				break
			}
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "failed to read record", Err: err})
			if !streamConfig.ContinueOnError || stats.ErrorCount > streamConfig.MaxErrors {
				return stats, err
			}
			continue
		}

		stats.RecordsParsed++

		order, parseErr := op.parseOrderFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			stats.AddError(parseErr)
			if !streamConfig.ContinueOnError || stats.ErrorCount > streamConfig.MaxErrors {
				return stats, parseErr
			}
			continue
		}

		if err := order.Validate(); err != nil {
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "order line validation failed", Err: err})
			continue
		}

		batch = append(batch, order)
		stats.RecordsValid++

		if len(batch) >= streamConfig.BatchSize {
			if err := callback(batch); err != nil {
				return stats, fmt.Errorf("callback error: %w", err)
			}
			batch = batch[:0]
		}
	}

	stats.TotalLines = parseCtx.LineNumber
	return stats, nil
}

// ValidateOrderFile checks headers and a sample of rows without loading the
// whole file.
func (op *OrderParser) ValidateOrderFile(filePath string) error {
	file, reader, err := op.OpenFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	parseCtx := NewParseContext(context.Background())

	if err := op.ReadHeaders(reader, parseCtx, op.requiredHeaders()); err != nil {
		return err
	}

	return validateSampleRecords(filePath, parseCtx, func(record []string) error {
		_, parseErr := op.parseOrderFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			return parseErr
		}
		return nil
	}, func() ([]string, error) {
		return op.ReadRecord(reader, parseCtx)
	})
}

// fieldError wraps a missing-field failure into a ParseError.
func fieldError(line int, field string, err error) *ParseError {
	return &ParseError{
		Line:    line,
		Field:   field,
		Message: fmt.Sprintf("missing value for column '%s'", field),
		Err:     err,
	}
}

// quantityError, amountError and dateError wrap unparseable values into
// ParseErrors carrying field-level guidance and examples.
func quantityError(line int, filePath, field, value string) *ParseError {
	return enhancedError(line, field, value, errors.InvalidQuantityError(filePath, line, field, value))
}

func amountError(line int, filePath, field, value string) *ParseError {
	return enhancedError(line, field, value, errors.InvalidAmountError(filePath, line, field, value))
}

func dateError(line int, filePath, field, value string) *ParseError {
	return enhancedError(line, field, value, errors.InvalidDateError(filePath, line, field, value))
}

func enhancedError(line int, field, value string, wrapped *errors.EnhancedParseError) *ParseError {
	return &ParseError{
		Line:    line,
		Field:   field,
		Value:   value,
		Message: wrapped.Message,
		Err:     wrapped,
	}
}

// validateSampleRecords parses up to ten records and aggregates any failures
// into a single validation error.
func validateSampleRecords(filePath string, parseCtx *ParseContext, tryParse func([]string) error, next func() ([]string, error)) error {
	recordCount := 0
	var validationErrors []error

	for recordCount < 10 {
		record, err := next()
		if err != nil {
			if err == io.EOF {
				break
			}
			validationErrors = append(validationErrors, err)
			continue
		}

		recordCount++
		if err := tryParse(record); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	if recordCount == 0 {
		return errors.ValidationError(
			errors.CodeMissingField,
			"data_records",
			0,
			nil,
		).WithSuggestion("Ensure the file contains data rows after the header")
	}

	if len(validationErrors) > 0 {
		return errors.ValidationError(
			errors.CodeInvalidData,
			"file_format",
			fmt.Sprintf("%d validation errors out of %d records tested", len(validationErrors), recordCount),
			validationErrors[0],
		).WithSuggestion("Fix the data format issues and try again").WithContext("file", filePath)
	}

	return nil
}
