package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.csv")
	if err := os.WriteFile(validFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		description string
		expectError bool
	}{
		{
			name:        "valid file",
			filePath:    validFile,
			description: "test file",
			expectError: false,
		},
		{
			name:        "empty path",
			filePath:    "",
			description: "test file",
			expectError: true,
		},
		{
			name:        "non-existent file",
			filePath:    "/non/existent/file.csv",
			description: "test file",
			expectError: true,
		},
		{
			name:        "directory instead of file",
			filePath:    tmpDir,
			description: "test file",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, tt.description)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// writeInputFiles creates a matching order/delivery/invoice trio on disk.
func writeInputFiles(t *testing.T) (string, string, string) {
	t.Helper()
	tmpDir := t.TempDir()

	orders := filepath.Join(tmpDir, "orders.csv")
	deliveries := filepath.Join(tmpDir, "deliveries.csv")
	invoices := filepath.Join(tmpDir, "invoices.csv")

	ordersCSV := "order_id,order_number,product_code,product_name,quantity,unit_price,requested_delivery_date,supplier_id,buyer_id\n" +
		"PO-1,1001,VEG-001,Organic Kale,100,2.50,2025-04-10,SUP-01,BUY-01\n"
	deliveriesCSV := "delivery_id,product_code,product_name,quantity,unit_price,actual_price,delivery_date,batch_number\n" +
		"DEL-1,VEG-001,Organic Kale,100,2.50,,2025-04-10,B-1\n"
	invoicesCSV := "invoice_id,product_code,product_name,quantity,unit_price,line_total,invoice_date,tax_amount\n" +
		"INV-1,VEG-001,Organic Kale,100,2.50,250.00,2025-04-11,25.00\n"

	for path, content := range map[string]string{
		orders:     ordersCSV,
		deliveries: deliveriesCSV,
		invoices:   invoicesCSV,
	} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	return orders, deliveries, invoices
}

// setReconcileViper seeds viper with a baseline of valid flag values.
func setReconcileViper(t *testing.T, orders, deliveries, invoices string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("orders", orders)
	viper.Set("deliveries", deliveries)
	viper.Set("invoices", invoices)
	viper.Set("buyer", "BUY-01")
	viper.Set("supplier", "SUP-01")
	viper.Set("output-format", "console")
	viper.Set("profile", "default")
}

func TestValidateReconcileFlags(t *testing.T) {
	orders, deliveries, invoices := writeInputFiles(t)

	tests := []struct {
		name        string
		mutate      func()
		expectError bool
	}{
		{
			name:        "valid flags",
			mutate:      func() {},
			expectError: false,
		},
		{
			name:        "missing buyer",
			mutate:      func() { viper.Set("buyer", "") },
			expectError: true,
		},
		{
			name:        "missing supplier",
			mutate:      func() { viper.Set("supplier", "") },
			expectError: true,
		},
		{
			name:        "missing orders file",
			mutate:      func() { viper.Set("orders", "/nope/orders.csv") },
			expectError: true,
		},
		{
			name:        "invalid output format",
			mutate:      func() { viper.Set("output-format", "xml") },
			expectError: true,
		},
		{
			name:        "invalid start date",
			mutate:      func() { viper.Set("start-date", "04/01/2025") },
			expectError: true,
		},
		{
			name: "start after end",
			mutate: func() {
				viper.Set("start-date", "2025-05-01")
				viper.Set("end-date", "2025-04-01")
			},
			expectError: true,
		},
		{
			name: "valid period",
			mutate: func() {
				viper.Set("start-date", "2025-04-01")
				viper.Set("end-date", "2025-04-30")
			},
			expectError: false,
		},
		{
			name:        "missing output directory",
			mutate:      func() { viper.Set("output-file", "/nope/dir/report.json") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReconcileViper(t, orders, deliveries, invoices)
			priceTolerance, quantityTolerance, dateTolerance = -1, -1, -1
			tt.mutate()

			err := validateReconcileFlags(reconcileCmd, nil)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateBackendsDefaults(t *testing.T) {
	history, workflows, closeBackends, err := createBackends("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closeBackends == nil {
		t.Fatal("expected a closer even with no backends configured")
	}
	defer closeBackends()

	// Nil results let the service fall back to its in-process defaults.
	if history != nil {
		t.Error("expected no history calculator without a Redis address")
	}
	if workflows != nil {
		t.Error("expected no workflow engine without a store DSN")
	}
}

func TestRunReconcileEndToEnd(t *testing.T) {
	orders, deliveries, invoices := writeInputFiles(t)
	outPath := filepath.Join(t.TempDir(), "report.json")

	setReconcileViper(t, orders, deliveries, invoices)
	viper.Set("output-format", "json")
	viper.Set("output-file", outPath)
	priceTolerance, quantityTolerance, dateTolerance = -1, -1, -1
	strictCodeMatch = false
	includeClean = true

	if err := validateReconcileFlags(reconcileCmd, nil); err != nil {
		t.Fatalf("flag validation failed: %v", err)
	}
	includeClean = true
	if err := runReconcile(reconcileCmd, nil); err != nil {
		t.Fatalf("reconciliation run failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}

	var report map[string]interface{}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}

	summary, ok := report["summary"].(map[string]interface{})
	if !ok {
		t.Fatal("report missing summary")
	}
	if summary["buyer_id"] != "BUY-01" {
		t.Errorf("expected buyer BUY-01, got %v", summary["buyer_id"])
	}
	if summary["matched_item_count"] != float64(1) {
		t.Errorf("expected 1 matched item, got %v", summary["matched_item_count"])
	}

	items, ok := report["items"].([]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item in report, got %v", report["items"])
	}
}
