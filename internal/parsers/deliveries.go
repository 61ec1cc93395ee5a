package parsers

import (
	"context"
	"io"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/errors"
	"b2b-reconciliation-engine/pkg/logger"
)

// DeliveryParser handles parsing of delivery note CSV exports. The column
// layout varies per supplier and is described by a SupplierFormat.
type DeliveryParser struct {
	*BaseParser
	format *SupplierFormat
	logger logger.Logger
}

// NewDeliveryParser creates a new DeliveryParser for the given supplier format
func NewDeliveryParser(format *SupplierFormat) (*DeliveryParser, error) {
	if format == nil {
		format = StandardSupplierFormat
	}

	if err := format.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"supplier_format",
			format.Name,
			err,
		).WithSuggestion("Check the supplier format definition")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = format.HasHeader
	parseConfig.Delimiter = format.Delimiter

	return &DeliveryParser{
		BaseParser: NewBaseParser(parseConfig),
		format:     format,
		logger: logger.GetGlobalLogger().WithComponent("delivery_parser").
			WithField("supplier_format", format.Name),
	}, nil
}

// ParseDeliveries parses a CSV file containing delivery note lines
func (dp *DeliveryParser) ParseDeliveries(filePath string) ([]*models.DeliveryItem, *ParseStats, error) {
	return dp.ParseDeliveriesWithContext(context.Background(), filePath)
}

// ParseDeliveriesWithContext parses delivery lines with cancellation support
func (dp *DeliveryParser) ParseDeliveriesWithContext(ctx context.Context, filePath string) ([]*models.DeliveryItem, *ParseStats, error) {
	dp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_deliveries",
	}).Info("Starting delivery parsing")

	file, reader, err := dp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	requiredHeaders := dp.requiredHeaders()
	if err := dp.ReadHeaders(reader, parseCtx, requiredHeaders); err != nil {
		dp.logger.WithError(err).WithFields(logger.Fields{
			"file_path":        filePath,
			"required_headers": requiredHeaders,
		}).Error("Failed to read or validate headers")
		return nil, stats, err
	}

	var deliveries []*models.DeliveryItem

	for {
		record, err := dp.ReadRecord(reader, parseCtx)
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

		delivery, parseErr := dp.parseDeliveryFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}

		if err := delivery.Validate(); err != nil {
			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Message: "delivery item validation failed",
				Err: errors.ValidationError(
					errors.CodeInvalidData,
					"delivery_item",
					delivery.DeliveryID,
					err,
				),
			})
			continue
		}

		deliveries = append(deliveries, delivery)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	dp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    len(stats.Errors),
	}).Info("Delivery parsing completed")

	if len(stats.Errors) > 0 {
		dp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return deliveries, stats, nil
}

func (dp *DeliveryParser) requiredHeaders() []string {
	headers := []string{
		dp.format.GetColumnName("quantity"),
		dp.format.GetColumnName("delivery_date"),
	}
	if dp.format.ProductCodeColumn != "" {
		headers = append(headers, dp.format.GetColumnName("product_code"))
	}
	return headers
}

// parseDeliveryFromRecord creates a DeliveryItem from a CSV record
func (dp *DeliveryParser) parseDeliveryFromRecord(record []string, parseCtx *ParseContext, filePath string) (*models.DeliveryItem, *ParseError) {
	quantityStr, err := dp.GetFieldValue(record, parseCtx, dp.format.GetColumnName("quantity"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, dp.format.GetColumnName("quantity"), err)
	}

	dateStr, err := dp.GetFieldValue(record, parseCtx, dp.format.GetColumnName("delivery_date"))
	if err != nil {
		return nil, fieldError(parseCtx.LineNumber, dp.format.GetColumnName("delivery_date"), err)
	}

	quantity, err := models.ParseDecimalFromString(quantityStr)
	if err != nil {
		return nil, quantityError(parseCtx.LineNumber, filePath, dp.format.GetColumnName("quantity"), quantityStr)
	}

	deliveryDate, err := dp.parseDate(dateStr)
	if err != nil {
		return nil, dateError(parseCtx.LineNumber, filePath, dp.format.GetColumnName("delivery_date"), dateStr)
	}

	delivery := &models.DeliveryItem{
		DeliveryID:   dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("delivery_id")),
		ProductCode:  dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("product_code")),
		ProductName:  dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("product_name")),
		Quantity:     quantity,
		DeliveryDate: deliveryDate,
		BatchNumber:  dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("batch_number")),
	}

	if priceStr := dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("unit_price")); priceStr != "" {
		price, err := models.ParseDecimalFromString(priceStr)
		if err != nil {
			return nil, amountError(parseCtx.LineNumber, filePath, dp.format.GetColumnName("unit_price"), priceStr)
		}
		delivery.UnitPrice = price
	}

	if actualStr := dp.OptionalFieldValue(record, parseCtx, dp.format.GetColumnName("actual_price")); actualStr != "" {
		actual, err := models.ParseDecimalFromString(actualStr)
		if err != nil {
			return nil, amountError(parseCtx.LineNumber, filePath, dp.format.GetColumnName("actual_price"), actualStr)
		}
		delivery.ActualPrice = actual
	}

	return delivery, nil
}

// parseDate tries the supplier's declared date format first, then the common
// fallback formats.
func (dp *DeliveryParser) parseDate(value string) (time.Time, error) {
	if dp.format.DateFormat != "" {
		if t, err := time.Parse(dp.format.DateFormat, value); err == nil {
			return t, nil
		}
	}
	return models.ParseTimeWithFormats(value)
}

// ValidateDeliveryFile checks headers and a sample of rows without loading
// the whole file.
func (dp *DeliveryParser) ValidateDeliveryFile(filePath string) error {
	file, reader, err := dp.OpenFile(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	parseCtx := NewParseContext(context.Background())

	if err := dp.ReadHeaders(reader, parseCtx, dp.requiredHeaders()); err != nil {
		return err
	}

	return validateSampleRecords(filePath, parseCtx, func(record []string) error {
		_, parseErr := dp.parseDeliveryFromRecord(record, parseCtx, filePath)
		if parseErr != nil {
			return parseErr
		}
		return nil
	}, func() ([]string, error) {
		return dp.ReadRecord(reader, parseCtx)
	})
}
