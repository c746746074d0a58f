package output

import (
	"fmt"
	"strings"

	"github.com/quotaguard/quotaguard/core"
)

// MarkdownFormatter renders usage snapshots as a markdown table.
type MarkdownFormatter struct{}

// FormatUsage renders the snapshots as Markdown.
func (f *MarkdownFormatter) FormatUsage(usages []core.KeyUsage) (string, error) {
	if len(usages) == 0 {
		return "No tracked usage.", nil
	}

	var sb strings.Builder
	sb.WriteString("| Key | Rule | Window | Used/Effective | Limit | In-Flight |\n")
	sb.WriteString("|-----|------|--------|----------------|-------|-----------|\n")

	for _, usage := range usages {
		for i, rule := range usage.Rules {
			key := ""
			inFlight := ""
			if i == 0 {
				key = escapeMarkdownCell(usage.Key.String())
				inFlight = fmt.Sprintf("%d", usage.InFlight)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
				key,
				string(rule.Kind),
				windowLabel(rule.Window),
				usageLabel(rule.Used, rule.Effective),
				trimFloat(rule.Limit),
				inFlight,
			))
		}
	}

	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
