// Package cli provides output helpers shared by the skein commands:
// structured output formats (json, yaml, table) and the terminal styles
// used for table rendering.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatTable outputs a formatted table (default for terminal)
	FormatTable OutputFormat = "table"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs as YAML
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates an --output flag value. Empty selects the table
// format.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Output writes result to w as JSON or YAML. Table rendering is
// data-specific, so callers handle [FormatTable] themselves.
func Output(w io.Writer, format OutputFormat, result any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
