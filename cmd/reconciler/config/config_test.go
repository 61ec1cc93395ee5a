package config

import (
	"testing"

	"b2b-reconciliation-engine/internal/reporter"
)

func noOverrides() MatchingOverrides {
	return MatchingOverrides{
		PriceTolerancePercent:    -1,
		QuantityTolerancePercent: -1,
		DateToleranceDays:        -1,
	}
}

func TestCreateMatchingConfig(t *testing.T) {
	tests := []struct {
		name        string
		profile     string
		overrides   MatchingOverrides
		expectError bool
		check       func(t *testing.T, priceTol float64, strict bool)
	}{
		{
			name:      "default profile",
			profile:   "default",
			overrides: noOverrides(),
			check: func(t *testing.T, priceTol float64, strict bool) {
				if priceTol != 3.0 {
					t.Errorf("expected price tolerance 3.0, got %f", priceTol)
				}
				if strict {
					t.Error("default profile should not require exact codes")
				}
			},
		},
		{
			name:      "empty profile falls back to default",
			profile:   "",
			overrides: noOverrides(),
		},
		{
			name:      "strict profile",
			profile:   "strict",
			overrides: noOverrides(),
			check: func(t *testing.T, priceTol float64, strict bool) {
				if priceTol != 1.0 {
					t.Errorf("expected price tolerance 1.0, got %f", priceTol)
				}
				if !strict {
					t.Error("strict profile should require exact codes")
				}
			},
		},
		{
			name:      "relaxed profile",
			profile:   "Relaxed",
			overrides: noOverrides(),
			check: func(t *testing.T, priceTol float64, strict bool) {
				if priceTol != 5.0 {
					t.Errorf("expected price tolerance 5.0, got %f", priceTol)
				}
			},
		},
		{
			name:        "unknown profile",
			profile:     "aggressive",
			overrides:   noOverrides(),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateMatchingConfig(tt.profile, tt.overrides)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config.PriceTolerancePercent, config.StrictCodeMatch)
			}
		})
	}
}

func TestCreateMatchingConfigOverrides(t *testing.T) {
	overrides := noOverrides()
	overrides.PriceTolerancePercent = 8.0
	overrides.QuantityTolerancePercent = 6.0
	overrides.DateToleranceDays = 5
	overrides.StrictCodeMatch = true

	config, err := CreateMatchingConfig("default", overrides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.PriceTolerancePercent != 8.0 {
		t.Errorf("expected price tolerance 8.0, got %f", config.PriceTolerancePercent)
	}
	// Widening the standard tolerance past the fresh tolerance must widen
	// the fresh band too, or validation rejects the config.
	if config.FreshPriceTolerancePercent < 8.0 {
		t.Errorf("fresh tolerance %f not widened with standard tolerance", config.FreshPriceTolerancePercent)
	}
	if config.QuantityTolerancePercent != 6.0 {
		t.Errorf("expected quantity tolerance 6.0, got %f", config.QuantityTolerancePercent)
	}
	if config.AcceptableQuantityPercent <= 6.0 {
		t.Errorf("acceptable quantity %f not widened past tolerance", config.AcceptableQuantityPercent)
	}
	if config.DeliveryDateToleranceDays != 5 {
		t.Errorf("expected date tolerance 5, got %d", config.DeliveryDateToleranceDays)
	}
	if !config.StrictCodeMatch {
		t.Error("expected strict code matching")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}
}

func TestCreateReconcilerConfig(t *testing.T) {
	matching, err := CreateMatchingConfig("strict", noOverrides())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	config := CreateReconcilerConfig(matching, 8)
	if config.Matching != matching {
		t.Error("matching config not carried into run config")
	}
	if config.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", config.Concurrency)
	}

	// Zero keeps the default pool size.
	config = CreateReconcilerConfig(matching, 0)
	if config.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", config.Concurrency)
	}
}

func TestCreateParserOptions(t *testing.T) {
	opts, err := CreateParserOptions("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.SupplierFormat != nil {
		t.Error("empty name should leave the format unset")
	}

	opts, err = CreateParserOptions("nordicseafood")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.SupplierFormat == nil || opts.SupplierFormat.Delimiter != ';' {
		t.Errorf("expected nordic seafood format, got %+v", opts.SupplierFormat)
	}

	if _, err := CreateParserOptions("unknown-supplier"); err == nil {
		t.Error("expected error for unknown format name")
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format       string
		includeClean bool
		want         reporter.OutputFormat
	}{
		{"console", false, reporter.FormatConsole},
		{"json", true, reporter.FormatJSON},
		{"csv", false, reporter.FormatCSV},
		{"bogus", false, reporter.FormatConsole},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config := CreateReportConfig(tt.format, tt.includeClean)
			if config.Format != tt.want {
				t.Errorf("expected format %s, got %s", tt.want, config.Format)
			}
			if config.IncludeCleanMatches != tt.includeClean {
				t.Errorf("expected include clean %v", tt.includeClean)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("config should validate: %v", err)
			}
		})
	}

	csvConfig := CreateReportConfig("csv", false)
	if csvConfig.IncludeWorkflows || csvConfig.IncludeInputStats {
		t.Error("csv output should drop run-level sections")
	}
}
