package main

import (
	"fmt"
	"os"

	"github.com/InfraWhisperer/focal/internal/logging"
	"github.com/InfraWhisperer/focal/internal/version"

	"github.com/spf13/cobra"
)

var (
	httpFlag     bool
	portFlag     int
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "focal <root>...",
	Short: "Focal - local code-indexing and context-capsule service",
	Long: `Focal indexes one or more local repository roots into a persistent
symbol/dependency graph and serves token-budgeted context capsules over a
JSON tool-call protocol, for use by coding assistants and other MCP clients.

Without --http, Focal speaks the tool protocol over stdio: one JSON-RPC
message per line in, one per line out, with all logging sent to stderr.
With --http, the same protocol is served at http://localhost:<port>/mcp.`,
	Version: version.Version,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runFocal,
}

func init() {
	rootCmd.SetVersionTemplate("focal version {{.Version}}\n")
	rootCmd.Flags().BoolVar(&httpFlag, "http", false, "serve the tool protocol over HTTP instead of stdio")
	rootCmd.Flags().IntVar(&portFlag, "port", 3100, "port to listen on when --http is set")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error (default: info, or FOCAL_LOG_LEVEL)")
}

// resolveLogLevel determines the effective log level from the CLI flag, the
// FOCAL_LOG_LEVEL environment variable, and a final default of info.
func resolveLogLevel() logging.LogLevel {
	if logLevelFlag != "" {
		return logging.LogLevel(logLevelFlag)
	}
	if env := os.Getenv("FOCAL_LOG_LEVEL"); env != "" {
		return logging.LogLevel(env)
	}
	return logging.InfoLevel
}

// newCLILogger builds the process logger. Stdout is reserved for the stdio
// tool protocol, so logging always targets stderr.
func newCLILogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  resolveLogLevel(),
		Output: os.Stderr,
	})
}

// fatalf logs a fatal configuration error and exits non-zero, per §6/§7:
// an unreadable root or unsupported DB file is a fatal startup error.
func fatalf(logger *logging.Logger, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg, nil)
	os.Exit(1)
}
