// Package cmd defines the quotaguard CLI: inspecting and resetting
// persisted limiter state, previewing backoff schedules, and running the
// introspection server.
package cmd

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by the main package via ldflags.
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by the main package to set build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "quotaguard",
	Short: "Admission control for outbound API requests",
	Long: `quotaguard admits outbound requests against configured quotas before
they reach a rate-limited provider, and persists per-key usage state.

Use the subcommands to inspect stored state, preview backoff schedules,
or run the introspection server.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./quotaguard.yaml, $HOME/.config/quotaguard)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// loadConfig reads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newCLILogger builds the command logger, falling back to nop so a
// logging failure never blocks an admin operation.
func newCLILogger() *zap.Logger {
	logger, err := observability.NewCLILogger(verbose)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
