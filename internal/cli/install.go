// Package cli — install.go implements the "hidream-installer install" command.
//
// The install command runs the whole provisioning workflow against the
// working directory: repository sync, virtual environment, tooling,
// runtime libraries, requirements and verification. Output of git, pip and
// python is streamed through while the steps run; a status line per step,
// the summary and the success banner follow.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/hidream-installer/internal/config"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

// NewInstallCommand creates the "install" cobra command.
func NewInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Provision the application checkout and Python environment",
		Long: `Clone or update the application, create the virtual environment, install
the pinned runtime libraries and requirements, and verify the result.

Running install again on a provisioned directory is safe: an existing
checkout is reset to the remote branch, an existing environment is reused.

Examples:
  hidream-installer install
  hidream-installer install --workdir ./hidream --platform windows
  HIDREAM_FLASH_ATTN_WHEEL=https://mirror/flash_attn-...whl hidream-installer install`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runInstall(cmd.Context(), cfg, newExecRunner(cmd), cmd.OutOrStdout())
		},
	}

	config.Register(cmd.Flags())
	return cmd
}

// newExecRunner returns the runner for child processes. In JSON mode their
// stdout is moved to stderr, so stdout carries only the result document.
func newExecRunner(cmd *cobra.Command) *runner.ExecRunner {
	stdout := cmd.OutOrStdout()
	if IsJSONOutput() {
		stdout = cmd.ErrOrStderr()
	}
	return runner.NewExecRunner(stdout, cmd.ErrOrStderr())
}

// runInstall is the main logic of the install command. The result is
// printed whether or not the run succeeded; the banner only on success.
func runInstall(ctx context.Context, cfg provision.Config, r runner.Runner, out io.Writer) error {
	p, err := provision.New(cfg, r, logger)
	if err != nil {
		return err
	}
	VerboseLog("Provisioning %s into %s (platform %s)", cfg.RepoURL, cfg.WorkDir, cfg.Platform)

	result, err := p.Provision(ctx)
	printResult(out, result, Banner(cfg.AppName, cfg.NextCommand))
	return err
}
