package output

import (
	"encoding/json"

	"github.com/quotaguard/quotaguard/core"
)

// JSONFormatter renders usage snapshots as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatUsage renders the snapshots as a JSON array.
func (f *JSONFormatter) FormatUsage(usages []core.KeyUsage) (string, error) {
	if usages == nil {
		usages = []core.KeyUsage{}
	}

	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(usages, "", "  ")
	} else {
		data, err = json.Marshal(usages)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
