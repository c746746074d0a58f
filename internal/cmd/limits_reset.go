package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotaguard/quotaguard/core/store"
	"github.com/quotaguard/quotaguard/internal/output"
)

var (
	limitsResetAll    bool
	limitsResetKey    string
	limitsResetPrefix string
	limitsResetYes    bool
	limitsResetDryRun bool
	limitsResetOutput string
	limitsResetOut    string
)

var limitsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored limiter state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(limitsResetOutput)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		key := strings.TrimSpace(limitsResetKey)
		prefix := strings.TrimSpace(limitsResetPrefix)
		selectors := 0
		for _, set := range []bool{limitsResetAll, key != "", prefix != ""} {
			if set {
				selectors++
			}
		}
		if selectors != 1 {
			return errors.New("exactly one of --all, --key, or --prefix is required")
		}
		if limitsResetAll && !limitsResetYes && !limitsResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.Query{All: limitsResetAll, Prefix: prefix}
		if key != "" {
			query.Prefix = key
		}
		entries, err := db.List(cmd.Context(), query)
		if err != nil {
			return err
		}
		if key != "" {
			filtered := entries[:0]
			for _, entry := range entries {
				if entry.Key == key {
					filtered = append(filtered, entry)
				}
			}
			entries = filtered
		}

		sink, err := openSink(strings.TrimSpace(limitsResetOut))
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if limitsResetDryRun {
			return writeResetResult(format, sink.writer, len(entries), 0, true)
		}

		deleted := 0
		for _, entry := range entries {
			if err := db.Reset(cmd.Context(), entry.Key); err != nil {
				return fmt.Errorf("reset %s: %w", entry.Key, err)
			}
			deleted++
		}
		return writeResetResult(format, sink.writer, len(entries), deleted, false)
	},
}

func writeResetResult(format output.Format, w io.Writer, matched, deleted int, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d key(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d key(s)\n", deleted, matched)
	return err
}

func init() {
	limitsResetCmd.Flags().BoolVar(&limitsResetAll, "all", false, "Reset all keys")
	limitsResetCmd.Flags().StringVar(&limitsResetKey, "key", "", "Reset one key (exact provider:resource match)")
	limitsResetCmd.Flags().StringVar(&limitsResetPrefix, "prefix", "", "Reset keys with matching prefix")
	limitsResetCmd.Flags().BoolVar(&limitsResetYes, "yes", false, "Confirm destructive reset")
	limitsResetCmd.Flags().BoolVar(&limitsResetDryRun, "dry-run", false, "Show what would be deleted")
	limitsResetCmd.Flags().StringVar(&limitsResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	limitsResetCmd.Flags().StringVar(&limitsResetOut, "out", "", "Write output to a file (default stdout)")
}
