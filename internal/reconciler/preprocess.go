package reconciler

import (
	"strings"

	"b2b-reconciliation-engine/internal/models"
)

// PreprocessingConfig controls input cleanup before matching.
type PreprocessingConfig struct {
	// TrimWhitespace normalizes leading/trailing whitespace on codes and names.
	TrimWhitespace bool
	// DropInvalid removes records that fail basic validation instead of
	// letting them surface as missing matches.
	DropInvalid bool
	// DeduplicateOrders removes repeated (order id, product code) lines,
	// keeping the first occurrence.
	DeduplicateOrders bool
	// ComputeCoItemCounts fills OrderLineItem.CoItemCount from the batch when
	// the loader did not provide it.
	ComputeCoItemCounts bool
}

// DefaultPreprocessingConfig enables every cleanup except invalid-record
// dropping: invalid orders should be visible as missing matches, not vanish.
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:      true,
		DropInvalid:         false,
		DeduplicateOrders:   true,
		ComputeCoItemCounts: true,
	}
}

// InputStats reports what preprocessing changed.
type InputStats struct {
	OrdersIn              int `json:"orders_in"`
	OrdersOut             int `json:"orders_out"`
	DeliveriesIn          int `json:"deliveries_in"`
	DeliveriesOut         int `json:"deliveries_out"`
	InvoicesIn            int `json:"invoices_in"`
	InvoicesOut           int `json:"invoices_out"`
	DuplicateOrders       int `json:"duplicate_orders"`
	InvalidRecordsDropped int `json:"invalid_records_dropped"`
}

// PreprocessResult carries the cleaned slices plus the change statistics.
type PreprocessResult struct {
	Orders     []*models.OrderLineItem
	Deliveries []*models.DeliveryItem
	Invoices   []*models.InvoiceItem
	InputStats InputStats
}

// Preprocess cleans the three input snapshots according to the config. Nil
// entries are always removed. The input slices are not modified.
func Preprocess(cfg *PreprocessingConfig, orders []*models.OrderLineItem, deliveries []*models.DeliveryItem, invoices []*models.InvoiceItem) *PreprocessResult {
	if cfg == nil {
		cfg = DefaultPreprocessingConfig()
	}

	res := &PreprocessResult{
		InputStats: InputStats{
			OrdersIn:     len(orders),
			DeliveriesIn: len(deliveries),
			InvoicesIn:   len(invoices),
		},
	}

	res.Orders = preprocessOrders(cfg, orders, &res.InputStats)
	res.Deliveries = preprocessDeliveries(cfg, deliveries, &res.InputStats)
	res.Invoices = preprocessInvoices(cfg, invoices, &res.InputStats)

	if cfg.ComputeCoItemCounts {
		fillCoItemCounts(res.Orders)
	}

	res.InputStats.OrdersOut = len(res.Orders)
	res.InputStats.DeliveriesOut = len(res.Deliveries)
	res.InputStats.InvoicesOut = len(res.Invoices)
	return res
}

func preprocessOrders(cfg *PreprocessingConfig, orders []*models.OrderLineItem, stats *InputStats) []*models.OrderLineItem {
	type lineKey struct {
		orderID string
		product string
	}
	seen := map[lineKey]bool{}

	out := make([]*models.OrderLineItem, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}

		line := *o
		if cfg.TrimWhitespace {
			line.OrderID = strings.TrimSpace(line.OrderID)
			line.ProductCode = strings.TrimSpace(line.ProductCode)
			line.ProductName = strings.TrimSpace(line.ProductName)
		}

		if cfg.DeduplicateOrders {
			key := lineKey{line.OrderID, line.ProductCode}
			if seen[key] {
				stats.DuplicateOrders++
				continue
			}
			seen[key] = true
		}

		if cfg.DropInvalid && line.Validate() != nil {
			stats.InvalidRecordsDropped++
			continue
		}

		out = append(out, &line)
	}
	return out
}

func preprocessDeliveries(cfg *PreprocessingConfig, deliveries []*models.DeliveryItem, stats *InputStats) []*models.DeliveryItem {
	out := make([]*models.DeliveryItem, 0, len(deliveries))
	for _, d := range deliveries {
		if d == nil {
			continue
		}

		item := *d
		if cfg.TrimWhitespace {
			item.ProductCode = strings.TrimSpace(item.ProductCode)
			item.ProductName = strings.TrimSpace(item.ProductName)
		}
		if cfg.DropInvalid && item.Validate() != nil {
			stats.InvalidRecordsDropped++
			continue
		}
		out = append(out, &item)
	}
	return out
}

func preprocessInvoices(cfg *PreprocessingConfig, invoices []*models.InvoiceItem, stats *InputStats) []*models.InvoiceItem {
	out := make([]*models.InvoiceItem, 0, len(invoices))
	for _, inv := range invoices {
		if inv == nil {
			continue
		}

		item := *inv
		if cfg.TrimWhitespace {
			item.ProductCode = strings.TrimSpace(item.ProductCode)
			item.ProductName = strings.TrimSpace(item.ProductName)
		}
		if cfg.DropInvalid && item.Validate() != nil {
			stats.InvalidRecordsDropped++
			continue
		}
		out = append(out, &item)
	}
	return out
}

// fillCoItemCounts sets each line's co-item count from its order's line
// count, leaving loader-provided values untouched.
func fillCoItemCounts(orders []*models.OrderLineItem) {
	counts := map[string]int{}
	for _, o := range orders {
		counts[o.OrderID]++
	}
	for _, o := range orders {
		if o.CoItemCount == 0 {
			o.CoItemCount = counts[o.OrderID] - 1
		}
	}
}
