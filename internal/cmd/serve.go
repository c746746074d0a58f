package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard"
	"github.com/quotaguard/quotaguard/internal/observability"
	"github.com/quotaguard/quotaguard/internal/server"
	"github.com/quotaguard/quotaguard/internal/server/handlers"
)

var (
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the introspection HTTP server",
	Long: `Run the read-only introspection server exposing health, version, and
current limiter usage over HTTP. SIGINT or SIGTERM triggers a graceful
shutdown bounded by server.shutdown_timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serverHost != "" {
			cfg.Server.Host = serverHost
		}
		if serverPort != 0 {
			cfg.Server.Port = serverPort
		}

		logger, err := observability.NewServerLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		guard, err := quotaguard.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = guard.Close() }()

		srv := server.New(cfg.Server, logger, guard, server.VersionInfo{
			Name:      "quotaguard",
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		})
		srv.RegisterChecker("usage", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			_, err := guard.Usage(ctx)
			return err
		}))

		logger.Info("initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case err := <-errChan:
			return err
		case sig := <-sigChan:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides config)")
}
