package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quotaguard/quotaguard/core"
)

// TableFormatter renders usage snapshots as an ASCII table.
type TableFormatter struct{}

// FormatUsage renders one row per rule, grouped under its key.
func (f *TableFormatter) FormatUsage(usages []core.KeyUsage) (string, error) {
	if len(usages) == 0 {
		return "(no tracked usage)", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Rule", "Window", "Used/Effective", "Limit", "In-Flight"})

	for _, usage := range usages {
		for i, rule := range usage.Rules {
			key := ""
			inFlight := ""
			if i == 0 {
				key = usage.Key.String()
				inFlight = fmt.Sprintf("%d", usage.InFlight)
			}
			t.AppendRow(table.Row{
				key,
				string(rule.Kind),
				windowLabel(rule.Window),
				usageLabel(rule.Used, rule.Effective),
				trimFloat(rule.Limit),
				inFlight,
			})
		}
	}

	return t.Render(), nil
}
