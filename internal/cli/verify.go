// Package cli — verify.go implements the "hidream-installer verify" command.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/hidream-installer/internal/config"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

// NewVerifyCommand creates the "verify" cobra command. It runs only the
// import probes against an already provisioned environment.
func NewVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that torch imports in the provisioned environment",
		Long: `Run the verification probes against an existing environment without
changing anything. torch must import; the FlashAttention extension is
reported as a warning when it does not load.

Examples:
  hidream-installer verify
  hidream-installer verify --workdir ./hidream --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runVerify(cmd.Context(), cfg, newExecRunner(cmd), cmd.OutOrStdout())
		},
	}

	config.Register(cmd.Flags(), config.KeyWorkDir, config.KeyPlatform, config.KeyConfig)
	return cmd
}

// runVerify never installs the extension wheel, so a wheel override left in
// the environment is dropped rather than validated.
func runVerify(ctx context.Context, cfg provision.Config, r runner.Runner, out io.Writer) error {
	if cfg.WheelURL != "" {
		logger.Debug().Str("wheel", cfg.WheelURL).Msg("wheel override ignored by verify")
		cfg.WheelURL = ""
	}

	p, err := provision.New(cfg, r, logger)
	if err != nil {
		return err
	}

	result, err := p.Verify(ctx)
	printResult(out, result, "")
	return err
}
