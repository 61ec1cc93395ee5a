package parsers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"b2b-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestParseOrders(t *testing.T) {
	path := writeTempCSV(t, "orders.csv", `order_id,order_number,product_code,product_name,quantity,unit_price,requested_delivery_date,supplier_id,buyer_id
PO-1001,2025-0412,VEG-001,Organic Kale,100,2.50,2025-04-10,SUP-01,BUY-01
PO-1001,2025-0412,FSH-014,Fresh Salmon,25,18.90,2025-04-10,SUP-01,BUY-01
PO-1002,2025-0413,GRN-007,Basmati Rice 5kg,40,"1,250.00",2025-04-12,SUP-02,BUY-01
`)

	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	orders, stats, err := parser.ParseOrders(path)
	if err != nil {
		t.Fatalf("ParseOrders() error = %v", err)
	}

	if len(orders) != 3 {
		t.Fatalf("parsed %d orders, want 3", len(orders))
	}
	if stats.RecordsValid != 3 || stats.HasErrors() {
		t.Errorf("stats = %s, want 3 valid records and no errors", stats)
	}

	first := orders[0]
	if first.OrderID != "PO-1001" || first.ProductCode != "VEG-001" {
		t.Errorf("unexpected first order: %+v", first)
	}
	if !first.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("quantity = %s, want 100", first.Quantity)
	}
	if !first.LineTotal.Equal(decimal.NewFromInt(250)) {
		t.Errorf("line total = %s, want 250", first.LineTotal)
	}
	if first.RequestedDeliveryDate.Format("2006-01-02") != "2025-04-10" {
		t.Errorf("requested delivery date = %v", first.RequestedDeliveryDate)
	}

	// Thousand separators inside quoted fields parse cleanly.
	if !orders[2].UnitPrice.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("unit price = %s, want 1250", orders[2].UnitPrice)
	}
}

func TestParseOrdersCollectsBadRows(t *testing.T) {
	path := writeTempCSV(t, "orders.csv", `order_id,product_code,quantity,unit_price
PO-1001,VEG-001,100,2.50
PO-1002,VEG-002,not-a-number,3.00
PO-1003,VEG-003,0,3.00
PO-1004,VEG-004,10,4.00
`)

	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	orders, stats, err := parser.ParseOrders(path)
	if err != nil {
		t.Fatalf("ParseOrders() error = %v", err)
	}

	// Bad quantity and zero quantity are skipped; the rest survive.
	if len(orders) != 2 {
		t.Fatalf("parsed %d orders, want 2", len(orders))
	}
	if stats.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", stats.ErrorCount)
	}
	if stats.RecordsParsed != 4 {
		t.Errorf("records parsed = %d, want 4", stats.RecordsParsed)
	}
}

func TestParseOrdersMissingHeaders(t *testing.T) {
	path := writeTempCSV(t, "orders.csv", `order_id,product_code
PO-1001,VEG-001
`)

	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	if _, _, err := parser.ParseOrders(path); err == nil {
		t.Fatal("expected an error for missing required headers")
	}
}

func TestParseOrdersFileNotFound(t *testing.T) {
	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	if _, _, err := parser.ParseOrders(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestParseOrdersColumnAliases(t *testing.T) {
	path := writeTempCSV(t, "orders.csv", `po_ref,sku,qty,price
PO-1001,VEG-001,100,2.50
`)

	config := DefaultOrderParserConfig()
	config.ColumnAliases = map[string]string{
		"order_id":     "po_ref",
		"product_code": "sku",
		"quantity":     "qty",
		"unit_price":   "price",
	}

	parser, err := NewOrderParser(config)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	orders, _, err := parser.ParseOrders(path)
	if err != nil {
		t.Fatalf("ParseOrders() error = %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "PO-1001" {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestParseOrdersStreamBatches(t *testing.T) {
	path := writeTempCSV(t, "orders.csv", `order_id,product_code,quantity,unit_price
PO-1,VEG-001,10,1.00
PO-2,VEG-002,10,1.00
PO-3,VEG-003,10,1.00
PO-4,VEG-004,10,1.00
PO-5,VEG-005,10,1.00
`)

	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	streamConfig := DefaultStreamingConfig()
	streamConfig.BatchSize = 2

	var batches [][]string
	stats, err := parser.ParseOrdersStream(context.Background(), path, streamConfig, func(batch []*models.OrderLineItem) error {
		ids := make([]string, len(batch))
		for i, o := range batch {
			ids[i] = o.OrderID
		}
		batches = append(batches, ids)
		return nil
	})
	if err != nil {
		t.Fatalf("ParseOrdersStream() error = %v", err)
	}

	if stats.RecordsValid != 5 {
		t.Errorf("records valid = %d, want 5", stats.RecordsValid)
	}
	if len(batches) != 3 {
		t.Fatalf("received %d batches, want 3 (2+2+1)", len(batches))
	}
	if len(batches[2]) != 1 || batches[2][0] != "PO-5" {
		t.Errorf("final batch = %v, want the trailing record", batches[2])
	}
}

func TestParseDeliveriesStandardFormat(t *testing.T) {
	path := writeTempCSV(t, "deliveries.csv", `delivery_id,product_code,product_name,quantity,unit_price,actual_price,delivery_date,batch_number
DEL-5001,VEG-001,Organic Kale,98,2.50,2.55,2025-04-10,B-101
DEL-5002,FSH-014,Fresh Salmon,25,18.90,,2025-04-11,
`)

	parser, err := NewDeliveryParser(nil)
	if err != nil {
		t.Fatalf("NewDeliveryParser() error = %v", err)
	}

	deliveries, stats, err := parser.ParseDeliveries(path)
	if err != nil {
		t.Fatalf("ParseDeliveries() error = %v", err)
	}
	if len(deliveries) != 2 || stats.HasErrors() {
		t.Fatalf("parsed %d deliveries (%s), want 2 clean", len(deliveries), stats)
	}

	first := deliveries[0]
	if first.DeliveryID != "DEL-5001" || first.BatchNumber != "B-101" {
		t.Errorf("unexpected first delivery: %+v", first)
	}
	if !first.EffectivePrice().Equal(decimal.NewFromFloat(2.55)) {
		t.Errorf("effective price = %s, want the actual price 2.55", first.EffectivePrice())
	}
	if !deliveries[1].EffectivePrice().Equal(decimal.NewFromFloat(18.90)) {
		t.Errorf("effective price = %s, want the unit price 18.90", deliveries[1].EffectivePrice())
	}
}

func TestParseDeliveriesSupplierFormats(t *testing.T) {
	t.Run("freshfarm with US dates", func(t *testing.T) {
		path := writeTempCSV(t, "deliveries.csv", `note_number,sku,item_description,qty_delivered,price_per_unit,ship_date,lot_number
FF-88,VEG-001,Organic Kale,100,2.50,04/10/2025,L-9
`)

		parser, err := NewDeliveryParser(FreshFarmFormat)
		if err != nil {
			t.Fatalf("NewDeliveryParser() error = %v", err)
		}

		deliveries, _, err := parser.ParseDeliveries(path)
		if err != nil {
			t.Fatalf("ParseDeliveries() error = %v", err)
		}
		if len(deliveries) != 1 {
			t.Fatalf("parsed %d deliveries, want 1", len(deliveries))
		}
		if deliveries[0].DeliveryDate.Format("2006-01-02") != "2025-04-10" {
			t.Errorf("delivery date = %v, want 2025-04-10", deliveries[0].DeliveryDate)
		}
		if deliveries[0].BatchNumber != "L-9" {
			t.Errorf("batch number = %s, want L-9", deliveries[0].BatchNumber)
		}
	})

	t.Run("nordic seafood with semicolons", func(t *testing.T) {
		path := writeTempCSV(t, "deliveries.csv", `doc_ref;article_no;article_name;delivered_kg;kg_price;delivery_dt;catch_batch
NS-17;FSH-014;Atlantic Salmon;120.5;18.90;2025-04-11;C-2025-14
`)

		parser, err := NewDeliveryParser(NordicSeafoodFormat)
		if err != nil {
			t.Fatalf("NewDeliveryParser() error = %v", err)
		}

		deliveries, _, err := parser.ParseDeliveries(path)
		if err != nil {
			t.Fatalf("ParseDeliveries() error = %v", err)
		}
		if len(deliveries) != 1 {
			t.Fatalf("parsed %d deliveries, want 1", len(deliveries))
		}
		if !deliveries[0].Quantity.Equal(decimal.NewFromFloat(120.5)) {
			t.Errorf("quantity = %s, want 120.5", deliveries[0].Quantity)
		}
		// The aliased batch column resolves through the format.
		if deliveries[0].BatchNumber != "C-2025-14" {
			t.Errorf("batch number = %s, want C-2025-14", deliveries[0].BatchNumber)
		}
	})
}

func TestAutoDetectSupplierFormat(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{"freshfarm headers", []string{"note_number", "sku", "qty_delivered", "ship_date"}, "freshfarm"},
		{"nordic headers", []string{"article_no", "delivered_kg", "delivery_dt"}, "nordicseafood"},
		{"unknown falls back to standard", []string{"a", "b", "c"}, "standard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoDetectSupplierFormat(tt.headers); got.Name != tt.want {
				t.Errorf("AutoDetectSupplierFormat() = %s, want %s", got.Name, tt.want)
			}
		})
	}
}

func TestParseInvoices(t *testing.T) {
	path := writeTempCSV(t, "invoices.csv", `invoice_id,product_code,product_name,quantity,unit_price,line_total,invoice_date,tax_amount
INV-9001,VEG-001,Organic Kale,98,2.55,249.90,2025-04-12,24.99
INV-9001,FSH-014,Fresh Salmon,25,18.90,,2025-04-12,
`)

	parser, err := NewInvoiceParser(nil)
	if err != nil {
		t.Fatalf("NewInvoiceParser() error = %v", err)
	}

	invoices, stats, err := parser.ParseInvoices(path)
	if err != nil {
		t.Fatalf("ParseInvoices() error = %v", err)
	}
	if len(invoices) != 2 || stats.HasErrors() {
		t.Fatalf("parsed %d invoices (%s), want 2 clean", len(invoices), stats)
	}

	if !invoices[0].LineTotal.Equal(decimal.NewFromFloat(249.90)) {
		t.Errorf("line total = %s, want 249.90", invoices[0].LineTotal)
	}
	if !invoices[0].TaxAmount.Equal(decimal.NewFromFloat(24.99)) {
		t.Errorf("tax amount = %s, want 24.99", invoices[0].TaxAmount)
	}
	// Missing line total is derived from quantity and unit price.
	if !invoices[1].LineTotal.Equal(decimal.NewFromFloat(472.5)) {
		t.Errorf("derived line total = %s, want 472.5", invoices[1].LineTotal)
	}
}

func TestValidateOrderFile(t *testing.T) {
	good := writeTempCSV(t, "good.csv", `order_id,product_code,quantity,unit_price
PO-1,VEG-001,10,1.00
`)
	empty := writeTempCSV(t, "empty.csv", `order_id,product_code,quantity,unit_price
`)

	parser, err := NewOrderParser(nil)
	if err != nil {
		t.Fatalf("NewOrderParser() error = %v", err)
	}

	if err := parser.ValidateOrderFile(good); err != nil {
		t.Errorf("ValidateOrderFile(good) error = %v", err)
	}
	if err := parser.ValidateOrderFile(empty); err == nil {
		t.Error("expected an error for a file without data rows")
	}
}

func TestFileDataSourceLoadAll(t *testing.T) {
	orders := writeTempCSV(t, "orders.csv", `order_id,product_code,quantity,unit_price,requested_delivery_date,buyer_id,supplier_id
PO-1,VEG-001,100,2.50,2025-04-10,BUY-01,SUP-01
PO-2,VEG-002,50,3.00,2025-06-20,BUY-01,SUP-01
`)
	deliveries := writeTempCSV(t, "deliveries.csv", `delivery_id,product_code,quantity,delivery_date
DEL-1,VEG-001,100,2025-04-10
`)
	invoices := writeTempCSV(t, "invoices.csv", `invoice_id,product_code,unit_price,invoice_date
INV-1,VEG-001,2.50,2025-04-12
`)

	source, err := NewFileDataSource(orders, deliveries, invoices, nil)
	if err != nil {
		t.Fatalf("NewFileDataSource() error = %v", err)
	}

	snap, err := source.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(snap.Orders) != 2 || len(snap.Deliveries) != 1 || len(snap.Invoices) != 1 {
		t.Errorf("snapshot sizes = %d/%d/%d, want 2/1/1",
			len(snap.Orders), len(snap.Deliveries), len(snap.Invoices))
	}
}

func TestFileDataSourceFiltersOrders(t *testing.T) {
	orders := writeTempCSV(t, "orders.csv", `order_id,product_code,quantity,unit_price,requested_delivery_date,buyer_id,supplier_id
PO-1,VEG-001,100,2.50,2025-04-10,BUY-01,SUP-01
PO-2,VEG-002,50,3.00,2025-06-20,BUY-01,SUP-01
PO-3,VEG-003,50,3.00,2025-04-15,BUY-02,SUP-01
`)
	deliveries := writeTempCSV(t, "deliveries.csv", `delivery_id,product_code,quantity,delivery_date
DEL-1,VEG-001,100,2025-04-10
`)
	invoices := writeTempCSV(t, "invoices.csv", `invoice_id,product_code,unit_price,invoice_date
INV-1,VEG-001,2.50,2025-04-12
`)

	source, err := NewFileDataSource(orders, deliveries, invoices, nil)
	if err != nil {
		t.Fatalf("NewFileDataSource() error = %v", err)
	}

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)

	got, err := source.LoadOrders(context.Background(), "BUY-01", "SUP-01", start, end)
	if err != nil {
		t.Fatalf("LoadOrders() error = %v", err)
	}

	// PO-2 is outside the window, PO-3 belongs to another buyer.
	if len(got) != 1 || got[0].OrderID != "PO-1" {
		t.Errorf("filtered orders = %+v, want only PO-1", got)
	}
}
