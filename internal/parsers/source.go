package parsers

import (
	"context"
	"sync"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/pkg/logger"
)

// FileDataSource serves reconciliation inputs from CSV files on disk. It
// satisfies the reconciliation engine's data source contract: orders are
// filtered to the requested period and buyer/supplier when those columns are
// present, deliveries and invoices are returned whole since their documents
// do not carry buyer identifiers.
type FileDataSource struct {
	ordersPath     string
	deliveriesPath string
	invoicesPath   string

	orderParser    *OrderParser
	deliveryParser *DeliveryParser
	invoiceParser  *InvoiceParser
	logger         logger.Logger
}

// FileDataSourceOptions configures a FileDataSource.
type FileDataSourceOptions struct {
	OrderConfig    *OrderParserConfig
	SupplierFormat *SupplierFormat
	InvoiceConfig  *InvoiceParserConfig
}

// NewFileDataSource builds a data source over the three CSV exports.
func NewFileDataSource(ordersPath, deliveriesPath, invoicesPath string, opts *FileDataSourceOptions) (*FileDataSource, error) {
	if opts == nil {
		opts = &FileDataSourceOptions{}
	}

	orderParser, err := NewOrderParser(opts.OrderConfig)
	if err != nil {
		return nil, err
	}
	deliveryParser, err := NewDeliveryParser(opts.SupplierFormat)
	if err != nil {
		return nil, err
	}
	invoiceParser, err := NewInvoiceParser(opts.InvoiceConfig)
	if err != nil {
		return nil, err
	}

	return &FileDataSource{
		ordersPath:     ordersPath,
		deliveriesPath: deliveriesPath,
		invoicesPath:   invoicesPath,
		orderParser:    orderParser,
		deliveryParser: deliveryParser,
		invoiceParser:  invoiceParser,
		logger:         logger.GetGlobalLogger().WithComponent("file_data_source"),
	}, nil
}

// LoadOrders parses the orders file, filtered to the requested window.
func (fds *FileDataSource) LoadOrders(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.OrderLineItem, error) {
	orders, stats, err := fds.orderParser.ParseOrdersWithContext(ctx, fds.ordersPath)
	if err != nil {
		return nil, err
	}
	fds.logParseStats("orders", stats)

	filtered := orders[:0]
	for _, o := range orders {
		if buyerID != "" && o.BuyerID != "" && o.BuyerID != buyerID {
			continue
		}
		if supplierID != "" && o.SupplierID != "" && o.SupplierID != supplierID {
			continue
		}
		if !inWindow(o.RequestedDeliveryDate, start, end) {
			continue
		}
		filtered = append(filtered, o)
	}
	return filtered, nil
}

// LoadDeliveries parses the deliveries file.
func (fds *FileDataSource) LoadDeliveries(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.DeliveryItem, error) {
	deliveries, stats, err := fds.deliveryParser.ParseDeliveriesWithContext(ctx, fds.deliveriesPath)
	if err != nil {
		return nil, err
	}
	fds.logParseStats("deliveries", stats)
	return deliveries, nil
}

// LoadInvoices parses the invoices file.
func (fds *FileDataSource) LoadInvoices(ctx context.Context, buyerID, supplierID string, start, end time.Time) ([]*models.InvoiceItem, error) {
	invoices, stats, err := fds.invoiceParser.ParseInvoicesWithContext(ctx, fds.invoicesPath)
	if err != nil {
		return nil, err
	}
	fds.logParseStats("invoices", stats)
	return invoices, nil
}

// Snapshot holds all three parsed inputs for a run.
type Snapshot struct {
	Orders     []*models.OrderLineItem
	Deliveries []*models.DeliveryItem
	Invoices   []*models.InvoiceItem

	OrderStats    *ParseStats
	DeliveryStats *ParseStats
	InvoiceStats  *ParseStats
}

// LoadAll parses the three files concurrently and returns the combined
// snapshot. The first parse failure wins; the other parses still run to
// completion.
func (fds *FileDataSource) LoadAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		snap.Orders, snap.OrderStats, errs[0] = fds.orderParser.ParseOrdersWithContext(ctx, fds.ordersPath)
	}()
	go func() {
		defer wg.Done()
		snap.Deliveries, snap.DeliveryStats, errs[1] = fds.deliveryParser.ParseDeliveriesWithContext(ctx, fds.deliveriesPath)
	}()
	go func() {
		defer wg.Done()
		snap.Invoices, snap.InvoiceStats, errs[2] = fds.invoiceParser.ParseInvoicesWithContext(ctx, fds.invoicesPath)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	fds.logger.WithFields(logger.Fields{
		"orders":     len(snap.Orders),
		"deliveries": len(snap.Deliveries),
		"invoices":   len(snap.Invoices),
	}).Info("Loaded reconciliation inputs")

	return snap, nil
}

func (fds *FileDataSource) logParseStats(kind string, stats *ParseStats) {
	if stats == nil {
		return
	}
	log := fds.logger.WithFields(logger.Fields{
		"input":         kind,
		"records_valid": stats.RecordsValid,
		"error_count":   stats.ErrorCount,
	})
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Input parsed with errors")
		return
	}
	log.Debug("Input parsed cleanly")
}

// inWindow reports whether t falls inside [start, end]. Zero bounds and zero
// timestamps disable that side of the check.
func inWindow(t time.Time, start, end time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
