package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"b2b-reconciliation-engine/cmd/reconciler/config"
	"b2b-reconciliation-engine/internal/parsers"
	"b2b-reconciliation-engine/internal/reconciler"
	"b2b-reconciliation-engine/internal/reporter"
	"b2b-reconciliation-engine/internal/scoring"
	"b2b-reconciliation-engine/internal/workflow"
	"b2b-reconciliation-engine/pkg/cache"
	"b2b-reconciliation-engine/pkg/errors"
	"b2b-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	ordersFile     string
	deliveriesFile string
	invoicesFile   string
	buyerID        string
	supplierID     string
	outputFormat   string
	outputFile     string
	startDate      string
	endDate        string

	matchingProfile   string
	priceTolerance    float64
	quantityTolerance float64
	dateTolerance     int
	strictCodeMatch   bool
	supplierFormat    string
	concurrency       int
	includeClean      bool

	storeDSN  string
	redisAddr string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile purchase orders with deliveries and invoices",
	Long: `Reconcile performs a three-way comparison of purchase order lines
against delivery notes and supplier invoices to identify matches,
discrepancies, and missing records.

This command requires:
- A purchase order export (CSV format)
- A delivery note export (CSV format)
- An invoice line export (CSV format)

Examples:
  # Basic reconciliation
  reconciler reconcile --orders orders.csv --deliveries deliveries.csv --invoices invoices.csv \
    --buyer BUY-01 --supplier SUP-01

  # Restrict to a delivery period
  reconciler reconcile --orders po.csv --deliveries dn.csv --invoices inv.csv \
    --buyer BUY-01 --supplier SUP-01 --start-date 2025-04-01 --end-date 2025-04-30

  # Strict profile for a new supplier, JSON output to file
  reconciler reconcile --orders po.csv --deliveries dn.csv --invoices inv.csv \
    --buyer BUY-01 --supplier SUP-01 --profile strict \
    --output-format json --output-file report.json

  # Supplier-specific export layout with custom tolerances
  reconciler reconcile --orders po.csv --deliveries dn.csv --invoices inv.csv \
    --buyer BUY-01 --supplier SUP-01 --supplier-format nordicseafood \
    --price-tolerance 2.5 --date-tolerance 3`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVar(&ordersFile, "orders", "", "path to purchase order CSV file (required)")
	reconcileCmd.Flags().StringVar(&deliveriesFile, "deliveries", "", "path to delivery note CSV file (required)")
	reconcileCmd.Flags().StringVar(&invoicesFile, "invoices", "", "path to invoice line CSV file (required)")
	reconcileCmd.Flags().StringVar(&buyerID, "buyer", "", "buyer identifier (required)")
	reconcileCmd.Flags().StringVar(&supplierID, "supplier", "", "supplier identifier (required)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().BoolVar(&includeClean, "include-clean", false, "include clean matches in the report")

	// Period filtering flags
	reconcileCmd.Flags().StringVar(&startDate, "start-date", "", "period start date (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&endDate, "end-date", "", "period end date (YYYY-MM-DD)")

	// Matching configuration flags
	reconcileCmd.Flags().StringVarP(&matchingProfile, "profile", "p", "default", "matching profile: default, strict, relaxed")
	reconcileCmd.Flags().Float64Var(&priceTolerance, "price-tolerance", -1, "price tolerance percentage override")
	reconcileCmd.Flags().Float64Var(&quantityTolerance, "quantity-tolerance", -1, "quantity tolerance percentage override")
	reconcileCmd.Flags().IntVarP(&dateTolerance, "date-tolerance", "d", -1, "delivery date tolerance in days override")
	reconcileCmd.Flags().BoolVar(&strictCodeMatch, "strict-code-match", false, "require exact product code matches")

	// Input format flags
	reconcileCmd.Flags().StringVar(&supplierFormat, "supplier-format", "", "delivery export layout: standard, freshfarm, nordicseafood (default: auto)")

	// Processing flags
	reconcileCmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (default: 4)")

	// Backend flags
	reconcileCmd.Flags().StringVar(&storeDSN, "store-dsn", "", "PostgreSQL DSN for the workflow task store (default: in-memory)")
	reconcileCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the supplier history cache (default: disabled)")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("orders")
	reconcileCmd.MarkFlagRequired("deliveries")
	reconcileCmd.MarkFlagRequired("invoices")
	reconcileCmd.MarkFlagRequired("buyer")
	reconcileCmd.MarkFlagRequired("supplier")

	// Bind flags to viper
	viper.BindPFlag("orders", reconcileCmd.Flags().Lookup("orders"))
	viper.BindPFlag("deliveries", reconcileCmd.Flags().Lookup("deliveries"))
	viper.BindPFlag("invoices", reconcileCmd.Flags().Lookup("invoices"))
	viper.BindPFlag("buyer", reconcileCmd.Flags().Lookup("buyer"))
	viper.BindPFlag("supplier", reconcileCmd.Flags().Lookup("supplier"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("start-date", reconcileCmd.Flags().Lookup("start-date"))
	viper.BindPFlag("end-date", reconcileCmd.Flags().Lookup("end-date"))
	viper.BindPFlag("profile", reconcileCmd.Flags().Lookup("profile"))
	viper.BindPFlag("price-tolerance", reconcileCmd.Flags().Lookup("price-tolerance"))
	viper.BindPFlag("quantity-tolerance", reconcileCmd.Flags().Lookup("quantity-tolerance"))
	viper.BindPFlag("date-tolerance", reconcileCmd.Flags().Lookup("date-tolerance"))
	viper.BindPFlag("strict-code-match", reconcileCmd.Flags().Lookup("strict-code-match"))
	viper.BindPFlag("supplier-format", reconcileCmd.Flags().Lookup("supplier-format"))
	viper.BindPFlag("concurrency", reconcileCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("include-clean", reconcileCmd.Flags().Lookup("include-clean"))
	viper.BindPFlag("store-dsn", reconcileCmd.Flags().Lookup("store-dsn"))
	viper.BindPFlag("redis-addr", reconcileCmd.Flags().Lookup("redis-addr"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	ordersFile = viper.GetString("orders")
	deliveriesFile = viper.GetString("deliveries")
	invoicesFile = viper.GetString("invoices")
	buyerID = viper.GetString("buyer")
	supplierID = viper.GetString("supplier")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	startDate = viper.GetString("start-date")
	endDate = viper.GetString("end-date")
	matchingProfile = viper.GetString("profile")
	supplierFormat = viper.GetString("supplier-format")
	concurrency = viper.GetInt("concurrency")
	includeClean = viper.GetBool("include-clean")
	storeDSN = viper.GetString("store-dsn")
	redisAddr = viper.GetString("redis-addr")

	// Validate required flags
	if buyerID == "" {
		return fmt.Errorf("buyer is required")
	}
	if supplierID == "" {
		return fmt.Errorf("supplier is required")
	}

	// Validate file existence
	inputs := []struct {
		path        string
		description string
	}{
		{ordersFile, "purchase order file"},
		{deliveriesFile, "delivery note file"},
		{invoicesFile, "invoice file"},
	}
	for _, input := range inputs {
		if err := validateFileExists(input.path, input.description); err != nil {
			return err
		}
	}

	// Validate output format
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate dates
	if startDate != "" {
		if _, err := time.Parse("2006-01-02", startDate); err != nil {
			return fmt.Errorf("invalid start date format. Use YYYY-MM-DD: %w", err)
		}
	}
	if endDate != "" {
		if _, err := time.Parse("2006-01-02", endDate); err != nil {
			return fmt.Errorf("invalid end date format. Use YYYY-MM-DD: %w", err)
		}
	}

	// Validate date range
	if startDate != "" && endDate != "" {
		start, _ := time.Parse("2006-01-02", startDate)
		end, _ := time.Parse("2006-01-02", endDate)
		if start.After(end) {
			return fmt.Errorf("start date cannot be after end date")
		}
	}

	// Validate tolerances
	if dateTolerance < -1 {
		return fmt.Errorf("date tolerance cannot be negative")
	}
	if priceTolerance > 100.0 {
		return fmt.Errorf("price tolerance must be between 0.0 and 100.0")
	}
	if quantityTolerance > 100.0 {
		return fmt.Errorf("quantity tolerance must be between 0.0 and 100.0")
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

// createBackends connects the optional production backends. With both flags
// empty it returns nils, which the service replaces with its in-process
// store and cache. The returned closer is never nil and is safe to defer
// even when the error is set.
func createBackends(storeDSN, redisAddr string) (*scoring.HistoricalFactors, *workflow.Engine, func(), error) {
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var history *scoring.HistoricalFactors
	if redisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{Addr: redisAddr})
		if err != nil {
			return nil, nil, closeAll, errors.BackendError(errors.CodeConnectionFailed, redisAddr, err)
		}
		closers = append(closers, func() { redisCache.Close() })
		history = scoring.NewHistoricalFactors(nil, redisCache, nil)
	}

	var workflows *workflow.Engine
	if storeDSN != "" {
		store, err := workflow.NewPostgresTaskStore(storeDSN)
		if err != nil {
			return nil, nil, closeAll, errors.BackendError(errors.CodeConnectionFailed, "workflow store", err)
		}
		closers = append(closers, func() { store.Close() })
		workflows = workflow.NewEngine(store, nil)
	}

	return history, workflows, closeAll, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Orders file: %s\n", ordersFile)
		fmt.Fprintf(os.Stderr, "Deliveries file: %s\n", deliveriesFile)
		fmt.Fprintf(os.Stderr, "Invoices file: %s\n", invoicesFile)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	matchingConfig, err := config.CreateMatchingConfig(matchingProfile, config.MatchingOverrides{
		PriceTolerancePercent:    priceTolerance,
		QuantityTolerancePercent: quantityTolerance,
		DateToleranceDays:        dateTolerance,
		StrictCodeMatch:          strictCodeMatch,
	})
	if err != nil {
		return err
	}

	parserOptions, err := config.CreateParserOptions(supplierFormat)
	if err != nil {
		return err
	}

	source, err := parsers.NewFileDataSource(ordersFile, deliveriesFile, invoicesFile, parserOptions)
	if err != nil {
		return fmt.Errorf("failed to create data source: %w", err)
	}

	history, workflows, closeBackends, err := createBackends(storeDSN, redisAddr)
	defer closeBackends()
	if err != nil {
		return err
	}

	service, err := reconciler.NewReconciliationService(
		config.CreateReconcilerConfig(matchingConfig, concurrency),
		history,
		workflows,
		source,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation service: %w", err)
	}

	// Parse period bounds
	var periodStart, periodEnd time.Time
	if startDate != "" {
		periodStart, _ = time.Parse("2006-01-02", startDate)
	}
	if endDate != "" {
		periodEnd, _ = time.Parse("2006-01-02", endDate)
		// Include the whole end day
		periodEnd = periodEnd.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	}

	request := &reconciler.Request{
		BuyerID:     buyerID,
		SupplierID:  supplierID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	var result *reconciler.Result
	err = logger.TimedOperation("reconciliation", nil, func() error {
		var runErr error
		result, runErr = service.Reconcile(ctx, request)
		return runErr
	})
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError, "reconciliation run failed")
	}

	// Generate report
	reportConfig := config.CreateReportConfig(outputFormat, includeClean)
	reportGenerator, err := reporter.NewSafeReportGenerator(reportConfig)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := reportGenerator.GenerateReportSafely(result, output, outputFile); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	// Show completion message
	if viper.GetBool("verbose") {
		summary := result.Summary
		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Matched %d lines, %d disputed, %d missing.\n",
			summary.MatchedItemCount, summary.DisputedItemCount, summary.MissingItemCount)
		fmt.Fprintf(os.Stderr, "Overall confidence: %.2f\n", summary.OverallConfidenceScore)
		fmt.Fprintf(os.Stderr, "Processing time: %d ms\n", summary.ProcessingTimeMs)
	}

	return nil
}
