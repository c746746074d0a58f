package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flags and their backing vars persist across executions in one
	// process; explicit resets keep tests independent.
	cfgFile = ""
	limitsListOutput = "table"
	limitsListOut = ""
	limitsListAll = false
	limitsListPrefix = ""
	limitsResetAll = false
	limitsResetKey = ""
	limitsResetPrefix = ""
	limitsResetYes = false
	limitsResetDryRun = false
	limitsResetOutput = "table"
	limitsResetOut = ""
	simulateProvider = ""
	simulateAttempts = 0
	simulateCategory = "transient"

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-08-26")

	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "quotaguard 1.2.3")

	out, err = execute(t, "version", "--extended")
	require.NoError(t, err)
	require.Contains(t, out, "Commit: abc123")
	require.Contains(t, out, "Go: go")
}

func TestLimitsListEmptyStore(t *testing.T) {
	cfg := writeTestConfig(t, "store:\n  driver: memory\n")
	outFile := filepath.Join(t.TempDir(), "limits.txt")

	_, err := execute(t, "--config", cfg, "limits", "list", "--out", outFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "no tracked usage")
}

func TestLimitsResetRequiresSelector(t *testing.T) {
	cfg := writeTestConfig(t, "store:\n  driver: memory\n")

	_, err := execute(t, "--config", cfg, "limits", "reset")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exactly one of")
}

func TestLimitsResetAllRequiresConfirmation(t *testing.T) {
	cfg := writeTestConfig(t, "store:\n  driver: memory\n")

	_, err := execute(t, "--config", cfg, "limits", "reset", "--all")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--yes")

	outFile := filepath.Join(t.TempDir(), "reset.txt")
	_, err = execute(t, "--config", cfg, "limits", "reset", "--all", "--dry-run", "--out", outFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "Would delete 0 key(s)")
}

func TestSimulateCommand(t *testing.T) {
	cfg := writeTestConfig(t, `
backoff:
  strategy: exponential
  base_delay: 1s
  multiplier: 2
  max_retries: 3
  jitter: true
`)

	out, err := execute(t, "--config", cfg, "simulate")
	require.NoError(t, err)
	require.Contains(t, out, "1s")
	require.Contains(t, out, "2s")
	require.Contains(t, out, "yes")
}

func TestSimulateRejectsUnknownProvider(t *testing.T) {
	cfg := writeTestConfig(t, "store:\n  driver: memory\n")

	_, err := execute(t, "--config", cfg, "simulate", "--provider", "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")
}
