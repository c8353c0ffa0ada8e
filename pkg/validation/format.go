// Package validation checks command-line and configuration options shared by
// the binaries.
package validation

import (
	"fmt"
	"slices"

	"github.com/iwvelando/finance-model/pkg/constants"
)

var (
	outputFormats = []string{constants.OutputFormatPretty, constants.OutputFormatCSV}
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"json", "console"}
)

// ValidateOutputFormat checks if the output format is one of the supported formats.
func ValidateOutputFormat(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("expected output format of %s or %s, got %s",
			constants.OutputFormatPretty, constants.OutputFormatCSV, format)
	}
	return nil
}

// ValidateLogLevel accepts an empty level, which means the default.
func ValidateLogLevel(level string) error {
	if level != "" && !slices.Contains(logLevels, level) {
		return fmt.Errorf("invalid log level %q: expected one of %v", level, logLevels)
	}
	return nil
}

// ValidateLogFormat accepts an empty format, which means the default.
func ValidateLogFormat(format string) error {
	if format != "" && !slices.Contains(logFormats, format) {
		return fmt.Errorf("invalid log format %q: expected one of %v", format, logFormats)
	}
	return nil
}
