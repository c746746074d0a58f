package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quotaguard/quotaguard/core"
	"github.com/quotaguard/quotaguard/core/engine"
)

var (
	simulateProvider string
	simulateAttempts int
	simulateCategory string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Preview the configured backoff schedule",
	Long: `Preview the delays the retry loop would apply for consecutive failures,
using the configured backoff strategy. Jitter is disabled so the output
is deterministic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		backoff := cfg.Backoff
		if simulateProvider != "" {
			pc, ok := cfg.Providers[simulateProvider]
			if !ok {
				return fmt.Errorf("unknown provider %q in configuration", simulateProvider)
			}
			if pc.Backoff != nil {
				backoff = *pc.Backoff
			}
		}

		sc := backoff.StrategyConfig()
		sc.Jitter = false
		strategy, err := engine.NewStrategy(sc)
		if err != nil {
			return err
		}

		category := core.FailureCategory(simulateCategory)
		switch category {
		case core.Transient, core.QuotaExceeded, core.QuotaExhausted, core.Fatal:
		default:
			return fmt.Errorf("unknown failure category %q", simulateCategory)
		}
		info := core.FailureInfo{Retryable: true, Category: category}

		attempts := simulateAttempts
		if attempts <= 0 {
			attempts = sc.MaxRetries
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Attempt", "Retry", "Delay", "Cumulative"})

		var cumulative time.Duration
		for attempt := 0; attempt < attempts; attempt++ {
			if !strategy.ShouldRetry(attempt, info) {
				t.AppendRow(table.Row{attempt, "no", "-", cumulative})
				break
			}
			delay := strategy.Delay(attempt, info)
			cumulative += delay
			t.AppendRow(table.Row{attempt, "yes", delay, cumulative})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateProvider, "provider", "", "Use this provider's backoff override")
	simulateCmd.Flags().IntVar(&simulateAttempts, "attempts", 0, "Attempts to simulate (default: configured max retries)")
	simulateCmd.Flags().StringVar(&simulateCategory, "category", string(core.Transient), "Failure category: transient|quota_exceeded|quota_exhausted|fatal")
}
