// Command generators produces matched order, delivery and invoice CSV
// fixtures with a configurable share of injected discrepancies. Useful for
// exercising the reconcile command against realistic inputs:
//
//	go run ./testdata/generators --out testdata/sample --orders 200 --discrepancy-rate 0.2
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

type product struct {
	code  string
	name  string
	price float64
}

var catalog = []product{
	{"VEG-001", "Organic Kale", 2.50},
	{"VEG-002", "Roma Tomatoes", 1.80},
	{"VEG-003", "Baby Spinach", 3.20},
	{"FRU-001", "Gala Apples", 1.40},
	{"FRU-002", "Fresh Strawberries", 4.60},
	{"FSH-001", "Fresh Salmon Fillet", 12.00},
	{"FSH-002", "Frozen Shrimp", 9.50},
	{"MEA-001", "Chicken Breast", 6.80},
	{"DRY-001", "Canned Beans", 0.95},
	{"DRY-002", "Basmati Rice 5kg", 8.20},
	{"DAI-001", "Whole Milk 1L", 1.10},
	{"BAK-001", "Sourdough Bread", 3.40},
}

// Discrepancy kinds injected into the delivery/invoice side.
const (
	kindClean = iota
	kindShortDelivery
	kindPriceVariance
	kindMissingDelivery
	kindDuplicateDelivery
	kindDateSlip
)

func main() {
	var (
		outDir   = flag.String("out", "testdata/sample", "output directory")
		orders   = flag.Int("orders", 100, "number of order lines")
		rate     = flag.Float64("discrepancy-rate", 0.2, "share of order lines with injected discrepancies")
		seed     = flag.Int64("seed", 42, "random seed")
		buyer    = flag.String("buyer", "BUY-01", "buyer identifier")
		supplier = flag.String("supplier", "SUP-01", "supplier identifier")
	)
	flag.Parse()

	if *rate < 0 || *rate > 1 {
		log.Fatalf("discrepancy-rate must be between 0 and 1, got %f", *rate)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	gen := &generator{rng: rng, buyer: *buyer, supplier: *supplier}
	gen.build(*orders, *rate)

	files := map[string][][]string{
		"orders.csv":     gen.orderRows,
		"deliveries.csv": gen.deliveryRows,
		"invoices.csv":   gen.invoiceRows,
	}
	for name, rows := range files {
		if err := writeCSV(filepath.Join(*outDir, name), rows); err != nil {
			log.Fatalf("failed to write %s: %v", name, err)
		}
	}

	fmt.Printf("Wrote %d order lines (%d with discrepancies) to %s\n",
		*orders, gen.discrepancies, *outDir)
}

type generator struct {
	rng      *rand.Rand
	buyer    string
	supplier string

	orderRows     [][]string
	deliveryRows  [][]string
	invoiceRows   [][]string
	discrepancies int
}

func (g *generator) build(count int, rate float64) {
	g.orderRows = [][]string{{
		"order_id", "order_number", "product_code", "product_name", "quantity",
		"unit_price", "requested_delivery_date", "supplier_id", "buyer_id",
	}}
	g.deliveryRows = [][]string{{
		"delivery_id", "product_code", "product_name", "quantity", "unit_price",
		"actual_price", "delivery_date", "batch_number",
	}}
	g.invoiceRows = [][]string{{
		"invoice_id", "product_code", "product_name", "quantity", "unit_price",
		"line_total", "invoice_date", "tax_amount",
	}}

	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= count; i++ {
		p := catalog[g.rng.Intn(len(catalog))]
		quantity := decimal.NewFromInt(int64(5 + g.rng.Intn(196)))
		price := decimal.NewFromFloat(p.price)
		requested := base.AddDate(0, 0, g.rng.Intn(28))

		kind := kindClean
		if g.rng.Float64() < rate {
			kind = 1 + g.rng.Intn(5)
			g.discrepancies++
		}

		orderID := fmt.Sprintf("PO-%04d", i)
		g.orderRows = append(g.orderRows, []string{
			orderID,
			fmt.Sprintf("%d", 1000+i),
			p.code,
			p.name,
			quantity.String(),
			price.StringFixed(2),
			requested.Format("2006-01-02"),
			g.supplier,
			g.buyer,
		})

		g.addDelivery(i, p, quantity, price, requested, kind)
		g.addInvoice(i, p, quantity, price, requested, kind)
	}
}

func (g *generator) addDelivery(i int, p product, quantity, price decimal.Decimal, requested time.Time, kind int) {
	if kind == kindMissingDelivery {
		return
	}

	deliveredQty := quantity
	actualPrice := ""
	deliveredAt := requested

	switch kind {
	case kindShortDelivery:
		// 70-95% of the ordered quantity arrives.
		factor := decimal.NewFromFloat(0.70 + g.rng.Float64()*0.25)
		deliveredQty = quantity.Mul(factor).Round(0)
	case kindPriceVariance:
		// 6-20% over the agreed price.
		factor := decimal.NewFromFloat(1.06 + g.rng.Float64()*0.14)
		actualPrice = price.Mul(factor).Round(2).String()
	case kindDateSlip:
		deliveredAt = requested.AddDate(0, 0, 3+g.rng.Intn(5))
	}

	row := []string{
		fmt.Sprintf("DEL-%04d", i),
		p.code,
		p.name,
		deliveredQty.String(),
		price.StringFixed(2),
		actualPrice,
		deliveredAt.Format("2006-01-02"),
		fmt.Sprintf("B-%03d", g.rng.Intn(1000)),
	}
	g.deliveryRows = append(g.deliveryRows, row)

	if kind == kindDuplicateDelivery {
		dup := make([]string, len(row))
		copy(dup, row)
		dup[0] = fmt.Sprintf("DEL-%04dR", i)
		g.deliveryRows = append(g.deliveryRows, dup)
	}
}

func (g *generator) addInvoice(i int, p product, quantity, price decimal.Decimal, requested time.Time, kind int) {
	invoicedPrice := price
	if kind == kindPriceVariance {
		factor := decimal.NewFromFloat(1.06 + g.rng.Float64()*0.14)
		invoicedPrice = price.Mul(factor).Round(2)
	}

	total := quantity.Mul(invoicedPrice)
	g.invoiceRows = append(g.invoiceRows, []string{
		fmt.Sprintf("INV-%04d", i),
		p.code,
		p.name,
		quantity.String(),
		invoicedPrice.StringFixed(2),
		total.StringFixed(2),
		requested.AddDate(0, 0, 1+g.rng.Intn(4)).Format("2006-01-02"),
		total.Mul(decimal.NewFromFloat(0.1)).StringFixed(2),
	})
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
