package matcher

import (
	"b2b-reconciliation-engine/internal/models"
)

// CandidateIndex buckets delivery and invoice candidates by normalized
// product code so exact-code candidates can be found without scanning the
// whole pool. Pool order is preserved inside each bucket, which keeps the
// first-seen tie-break deterministic.
type CandidateIndex struct {
	deliveriesByCode map[string][]*models.DeliveryItem
	invoicesByCode   map[string][]*models.InvoiceItem

	deliveryCount int
	invoiceCount  int
}

// NewCandidateIndex builds an index over the given candidate pools.
func NewCandidateIndex(deliveries []*models.DeliveryItem, invoices []*models.InvoiceItem) *CandidateIndex {
	idx := &CandidateIndex{
		deliveriesByCode: make(map[string][]*models.DeliveryItem),
		invoicesByCode:   make(map[string][]*models.InvoiceItem),
		deliveryCount:    len(deliveries),
		invoiceCount:     len(invoices),
	}

	for _, d := range deliveries {
		key := NormalizeProductText(d.ProductCode)
		if key == "" {
			continue
		}
		idx.deliveriesByCode[key] = append(idx.deliveriesByCode[key], d)
	}

	for _, inv := range invoices {
		key := NormalizeProductText(inv.ProductCode)
		if key == "" {
			continue
		}
		idx.invoicesByCode[key] = append(idx.invoicesByCode[key], inv)
	}

	return idx
}

// ExactDeliveries returns delivery candidates whose normalized product code
// equals the order line's, in pool order.
func (ci *CandidateIndex) ExactDeliveries(productCode string) []*models.DeliveryItem {
	return ci.deliveriesByCode[NormalizeProductText(productCode)]
}

// ExactInvoices returns invoice candidates whose normalized product code
// equals the order line's, in pool order.
func (ci *CandidateIndex) ExactInvoices(productCode string) []*models.InvoiceItem {
	return ci.invoicesByCode[NormalizeProductText(productCode)]
}

// IndexStats summarizes index contents for diagnostics.
type IndexStats struct {
	Deliveries      int `json:"deliveries"`
	Invoices        int `json:"invoices"`
	DeliveryBuckets int `json:"delivery_buckets"`
	InvoiceBuckets  int `json:"invoice_buckets"`
}

// Stats returns statistics about the indexed pools.
func (ci *CandidateIndex) Stats() IndexStats {
	return IndexStats{
		Deliveries:      ci.deliveryCount,
		Invoices:        ci.invoiceCount,
		DeliveryBuckets: len(ci.deliveriesByCode),
		InvoiceBuckets:  len(ci.invoicesByCode),
	}
}
