// Package report renders finalized test runs for CLI consumption.
package report

import (
	"fmt"
	"io"

	"github.com/testwarden/testwarden/internal/testrun"
)

// Formatter is an interface for test run formatters
type Formatter interface {
	// Format renders a run and writes to the writer
	Format(run *testrun.TestRun, writer io.Writer) error

	// FormatString returns a run as a string
	FormatString(run *testrun.TestRun) (string, error)

	// Name returns the name of this formatter
	Name() string
}

// FormatType represents supported output formats
type FormatType string

const (
	FormatText FormatType = "text"
	FormatJSON FormatType = "json"
)

// GetFormatter returns a formatter for the specified format type
func GetFormatter(format FormatType) (Formatter, error) {
	switch format {
	case FormatText:
		return NewTextReporter(), nil
	case FormatJSON:
		return NewJSONReporter(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}

// FormatToWriter renders a run to a writer using the specified format
func FormatToWriter(run *testrun.TestRun, format FormatType, writer io.Writer) error {
	formatter, err := GetFormatter(format)
	if err != nil {
		return err
	}
	return formatter.Format(run, writer)
}

// ValidFormat checks if a format string is valid
func ValidFormat(format string) bool {
	switch FormatType(format) {
	case FormatText, FormatJSON:
		return true
	default:
		return false
	}
}

// SupportedFormats returns a list of supported format names
func SupportedFormats() []string {
	return []string{string(FormatText), string(FormatJSON)}
}
