package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"b2b-reconciliation-engine/internal/reconciler"
	"b2b-reconciliation-engine/pkg/errors"
	"b2b-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks so a formatting
// failure never loses the reconciliation result entirely.
type SafeReportGenerator struct {
	generator *ReportGenerator
	logger    logger.Logger
}

// NewSafeReportGenerator creates a report generator with error handling
func NewSafeReportGenerator(config *ReportConfig) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}

	return &SafeReportGenerator{
		generator: generator,
		logger:    logger.GetGlobalLogger().WithComponent("report_generator"),
	}, nil
}

// GenerateReportSafely renders the report, falling back to console format or
// a backup file when the primary attempt fails.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer, outputPath string) error {
	if err := srg.validateInputs(result, writer); err != nil {
		return err
	}

	err := srg.generator.GenerateReport(result, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).WithField("format", srg.generator.config.Format).
		Warn("Report generation failed, attempting fallback")

	return srg.generateWithFallback(result, writer, outputPath, err)
}

func (srg *SafeReportGenerator) validateInputs(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Summary == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"reconciliation_result",
			nil,
			fmt.Errorf("result is nil"),
		).WithSuggestion("Run reconciliation before generating a report")
	}

	if writer == nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output",
			fmt.Errorf("report output writer is nil"),
		)
	}

	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.Result, writer io.Writer, outputPath string, original error) error {
	// A non-console format may fail on encoding; the console renderer only
	// does plain formatting, so try it before giving up on the writer.
	if srg.generator.config.Format != FormatConsole {
		fallbackConfig := *srg.generator.config
		fallbackConfig.Format = FormatConsole

		fallback, err := NewReportGenerator(&fallbackConfig)
		if err == nil {
			if err := fallback.GenerateReport(result, writer); err == nil {
				srg.logger.Info("Report generated using console format fallback")
				return wrapGenerationError(original, "primary format failed, console fallback succeeded")
			}
		}
	}

	// Writer itself may be the problem. Retry against a backup file next to
	// the requested output path.
	if outputPath != "" && isFileError(original) {
		backupPath := backupFilePath(outputPath)
		backupFile, err := os.Create(backupPath)
		if err == nil {
			defer backupFile.Close()
			if err := srg.generator.GenerateReport(result, backupFile); err == nil {
				srg.logger.WithField("backup_path", backupPath).
					Warn("Report written to backup file after output failure")
				return wrapGenerationError(original, fmt.Sprintf("report saved to backup file %s", backupPath))
			}
		}
	}

	return wrapGenerationError(original, "all fallback strategies failed")
}

// backupFilePath derives a sibling path with a _backup suffix.
func backupFilePath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	base := strings.TrimSuffix(outputPath, ext)
	return base + "_backup" + ext
}

func isFileError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"no such file",
		"permission denied",
		"file exists",
		"device or resource busy",
		"no space left",
		"broken pipe",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

func wrapGenerationError(err error, context string) error {
	return errors.InternalError(
		errors.CodeProcessingError,
		fmt.Sprintf("report generation (%s)", context),
		err,
	).WithSuggestion("Check the output destination and try a different format")
}
