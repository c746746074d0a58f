package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotaguard/quotaguard/core/store"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and reset persisted limiter state",
}

func init() {
	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsResetCmd)
	rootCmd.AddCommand(limitsCmd)
}

func openStore(ctx context.Context) (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(ctx, cfg.Store)
}
