// Package cli — plan.go implements the "hidream-installer plan" command.
//
// plan inspects the working directory and prints, step by step, the
// commands install would run from the current state. Nothing is executed
// and no file is changed.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/hidream-installer/internal/config"
	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	// output selects text, json or yaml. The global --json flag wins.
	output string
}

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the commands install would run",
		Long: `Inspect the working directory and list, per step, the commands install
would execute from its current state. Nothing is executed.

Examples:
  hidream-installer plan
  hidream-installer plan --platform windows --output yaml`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveOutput(flags.output)
			if err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), cfg, format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", outputText, "Output format: text, json, yaml")
	config.Register(cmd.Flags())
	return cmd
}

// resolveOutput validates --output and applies the global --json flag.
func resolveOutput(raw string) (string, error) {
	if IsJSONOutput() {
		return outputJSON, nil
	}
	switch raw {
	case outputText, outputJSON, outputYAML:
		return raw, nil
	default:
		return "", model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid output format %q: valid values are text, json, yaml", raw))
	}
}

// planJSON is the machine-readable form of a plan.
type planJSON struct {
	Platform string     `json:"platform" yaml:"platform"`
	WorkDir  string     `json:"workdir" yaml:"workdir"`
	Steps    []stepJSON `json:"steps" yaml:"steps"`
}

// runPlan builds the plan from the current filesystem state and prints it.
// Runner errors never occur, since the planner only records commands.
func runPlan(ctx context.Context, cfg provision.Config, format string, out io.Writer) error {
	p, err := provision.New(cfg, nil, logger)
	if err != nil {
		return err
	}

	result, err := p.Plan(ctx)
	if err != nil {
		return err
	}

	plan := planJSON{
		Platform: cfg.Platform.String(),
		WorkDir:  cfg.WorkDir,
		Steps:    toResultJSON(result).Steps,
	}
	for i := range plan.Steps {
		plan.Steps[i].ElapsedMs = 0
	}

	switch format {
	case outputJSON:
		data, _ := json.MarshalIndent(plan, "", "  ")
		fmt.Fprintln(out, string(data))
	case outputYAML:
		return printYAML(out, plan)
	default:
		fmt.Fprintf(out, "Plan for %s (platform %s)\n", cfg.WorkDir, cfg.Platform)
		printSteps(out, result, true)
		n := 0
		for _, s := range result.Steps {
			n += len(s.Commands)
		}
		fmt.Fprintf(out, "%d command(s) would run\n", n)
	}
	return nil
}
