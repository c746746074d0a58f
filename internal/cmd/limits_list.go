package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotaguard/quotaguard/core"
	"github.com/quotaguard/quotaguard/core/engine"
	"github.com/quotaguard/quotaguard/core/store"
	"github.com/quotaguard/quotaguard/internal/output"
)

var (
	limitsListOutput string
	limitsListOut    string
	limitsListAll    bool
	limitsListPrefix string
)

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored limiter state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(limitsListOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.Query{
			All:    limitsListAll,
			Prefix: strings.TrimSpace(limitsListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.List(cmd.Context(), query)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		usages := make([]core.KeyUsage, 0, len(entries))
		for _, entry := range entries {
			usages = append(usages, engine.UsageFromState(entry.State, now))
		}

		sink, err := openSink(strings.TrimSpace(limitsListOut))
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatUsage(usages)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	limitsListCmd.Flags().StringVar(&limitsListOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	limitsListCmd.Flags().StringVar(&limitsListOut, "out", "", "Write output to a file (default stdout)")
	limitsListCmd.Flags().BoolVar(&limitsListAll, "all", false, "List all keys")
	limitsListCmd.Flags().StringVar(&limitsListPrefix, "prefix", "", "List keys with matching prefix, e.g. anthropic:")
}
