// Package output renders limiter usage snapshots for the CLI in table,
// JSON, or markdown form.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/quotaguard/quotaguard/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders usage snapshots.
type Formatter interface {
	FormatUsage(usages []core.KeyUsage) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func windowLabel(window time.Duration) string {
	if window <= 0 {
		return "-"
	}
	return window.String()
}

func usageLabel(used, effective float64) string {
	return fmt.Sprintf("%s/%s", trimFloat(used), trimFloat(effective))
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
