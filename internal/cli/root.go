// Package cli implements the cobra-based CLI commands for hidream-installer.
//
// Each subcommand (install, plan, pins, verify) is defined in its own file
// within this package. This file defines the root command that serves as
// the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/hidream-installer/internal/logging"
	"github.com/shinji-kodama/hidream-installer/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// In JSON mode the output of child processes is sent to stderr so that
	// stdout carries a single JSON document.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// noColor disables ANSI colors in status lines and log output.
	noColor bool

	// logger is the step logger. It is rebuilt from the global flags
	// before any subcommand runs.
	logger = zerolog.Nop()
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It only provides
// help text and global flags; the work is done by the subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hidream-installer",
		Short: "Idempotent environment provisioner for HiDream-I1",
		Long: `hidream-installer prepares a runnable HiDream-I1 environment in a working
directory: it clones or updates the application checkout, creates a Python
virtual environment, installs the platform's pinned torch build (plus the
prebuilt FlashAttention wheel on Windows) and the application requirements,
and verifies that torch imports.

Every step inspects the filesystem first, so running install again on a
provisioned directory brings it back to the same state.`,

		// We format errors ourselves (text or JSON based on --json flag).
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// PersistentPreRunE runs after flag parsing and before every
		// subcommand, so the logger reflects the global flags.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			logger = logging.New(logging.Options{
				Out:     cmd.ErrOrStderr(),
				Verbose: verbose,
				NoColor: color.NoColor,
				JSON:    jsonOutput,
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInstallCommand())
	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewPinsCommand())
	rootCmd.AddCommand(NewVerifyCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError values carry their own exit codes, also when wrapped; other
// errors exit with code 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(os.Stderr, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	red := color.New(color.FgRed)
	if underlying != nil {
		_, _ = red.Fprintf(w, "✗ Error: %s: %v\n", message, underlying)
	} else {
		_, _ = red.Fprintf(w, "✗ Error: %s\n", message)
	}
}

// VerboseLog writes a debug-level message through the step logger. It is
// only visible with --verbose or a debug log level.
func VerboseLog(format string, args ...interface{}) {
	logger.Debug().Msgf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
