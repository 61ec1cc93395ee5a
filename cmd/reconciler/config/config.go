// Package config translates CLI flags into engine configurations.
package config

import (
	"fmt"
	"strings"

	"b2b-reconciliation-engine/internal/matcher"
	"b2b-reconciliation-engine/internal/parsers"
	"b2b-reconciliation-engine/internal/reconciler"
	"b2b-reconciliation-engine/internal/reporter"
)

// MatchingOverrides carries optional flag values applied on top of a profile.
// Negative numbers mean "not set".
type MatchingOverrides struct {
	PriceTolerancePercent    float64
	QuantityTolerancePercent float64
	DateToleranceDays        int
	StrictCodeMatch          bool
}

// CreateMatchingConfig builds a matching configuration from a named profile
// plus CLI overrides.
func CreateMatchingConfig(profile string, overrides MatchingOverrides) (*matcher.MatchingConfig, error) {
	var config *matcher.MatchingConfig

	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", "default":
		config = matcher.DefaultMatchingConfig()
	case "strict":
		config = matcher.StrictMatchingConfig()
	case "relaxed":
		config = matcher.RelaxedMatchingConfig()
	default:
		return nil, fmt.Errorf("unknown matching profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}

	if overrides.PriceTolerancePercent >= 0 {
		config.PriceTolerancePercent = overrides.PriceTolerancePercent
		if config.FreshPriceTolerancePercent < config.PriceTolerancePercent {
			config.FreshPriceTolerancePercent = config.PriceTolerancePercent
		}
	}
	if overrides.QuantityTolerancePercent >= 0 {
		config.QuantityTolerancePercent = overrides.QuantityTolerancePercent
		if config.AcceptableQuantityPercent <= config.QuantityTolerancePercent {
			config.AcceptableQuantityPercent = config.QuantityTolerancePercent * 2
		}
	}
	if overrides.DateToleranceDays >= 0 {
		config.DeliveryDateToleranceDays = overrides.DateToleranceDays
	}
	if overrides.StrictCodeMatch {
		config.StrictCodeMatch = true
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	return config, nil
}

// CreateReconcilerConfig builds the run configuration for the service.
func CreateReconcilerConfig(matching *matcher.MatchingConfig, concurrency int) *reconciler.Config {
	config := reconciler.DefaultConfig()
	config.Matching = matching
	if concurrency > 0 {
		config.Concurrency = concurrency
	}
	return config
}

// CreateParserOptions builds the data source options for the given supplier
// format name. An empty name selects the standard format.
func CreateParserOptions(supplierFormat string) (*parsers.FileDataSourceOptions, error) {
	opts := &parsers.FileDataSourceOptions{}

	if supplierFormat == "" {
		return opts, nil
	}

	format := parsers.GetSupplierFormat(supplierFormat)
	if format == nil {
		names := make([]string, 0, 3)
		for _, f := range parsers.ListSupplierFormats() {
			names = append(names, f.Name)
		}
		return nil, fmt.Errorf("unknown supplier format '%s'. Valid formats: %s",
			supplierFormat, strings.Join(names, ", "))
	}

	opts.SupplierFormat = format
	return opts, nil
}

// CreateReportConfig builds a report configuration for the output format.
func CreateReportConfig(format string, includeCleanMatches bool) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.IncludeCleanMatches = includeCleanMatches

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		// CSV is row-oriented item data; the run-level sections do not apply.
		config.IncludeWorkflows = false
		config.IncludeEscalations = false
		config.IncludeInputStats = false
	default:
		config.Format = reporter.FormatConsole
	}

	return config
}
