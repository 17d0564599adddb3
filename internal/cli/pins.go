// Package cli — pins.go implements the "hidream-installer pins" command,
// which prints the runtime-library table and its compatibility checks.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/hidream-installer/internal/config"
	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
	"github.com/shinji-kodama/hidream-installer/internal/runtimelib"
)

// Compatibility states reported per platform.
const (
	compatOK           = "ok"
	compatUnchecked    = "unchecked"
	compatIncompatible = "incompatible"
)

type pinsFlags struct {
	output string
}

// NewPinsCommand creates the "pins" cobra command.
func NewPinsCommand() *cobra.Command {
	flags := &pinsFlags{}

	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Show the pinned runtime libraries per platform",
		Long: `Print the runtime-library set of every platform (or only --platform),
after config file and wheel URL overrides, with the result of the build
compatibility check.

Examples:
  hidream-installer pins
  hidream-installer pins --platform windows --json`,

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
			onlySelected := cmd.Flags().Changed(config.KeyPlatform)
			return runPins(cfg, onlySelected, format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", outputText, "Output format: text, json, yaml")
	config.Register(cmd.Flags(), config.KeyPlatform, config.KeyWheelURL, config.KeyConfig)
	return cmd
}

// pinsJSON is the machine-readable form of one platform's spec.
type pinsJSON struct {
	Platform      string                   `json:"platform" yaml:"platform"`
	Spec          model.RuntimeLibrarySpec `json:"spec" yaml:"spec"`
	Compatibility string                   `json:"compatibility" yaml:"compatibility"`
	Problem       string                   `json:"problem,omitempty" yaml:"problem,omitempty"`
}

// collectPins evaluates the spec of every platform to show.
func collectPins(cfg provision.Config, onlySelected bool) []pinsJSON {
	platforms := cfg.Runtime.Platforms()
	if onlySelected {
		platforms = []model.PlatformKind{cfg.Platform}
	}

	out := make([]pinsJSON, 0, len(platforms))
	for _, p := range platforms {
		c := cfg
		c.Platform = p
		entry := pinsJSON{Platform: p.String(), Compatibility: compatOK}

		spec, err := c.RuntimeSpec()
		if err == nil {
			entry.Spec = spec
			err = runtimelib.CheckCompatibility(spec)
		}
		switch {
		case err == nil:
		case errors.Is(err, runtimelib.ErrOpaqueWheel):
			entry.Compatibility = compatUnchecked
			entry.Problem = err.Error()
		default:
			entry.Compatibility = compatIncompatible
			entry.Problem = err.Error()
		}
		out = append(out, entry)
	}
	return out
}

func runPins(cfg provision.Config, onlySelected bool, format string, out io.Writer) error {
	entries := collectPins(cfg, onlySelected)

	switch format {
	case outputJSON:
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Fprintln(out, string(data))
	case outputYAML:
		if err := printYAML(out, entries); err != nil {
			return err
		}
	default:
		printPinsText(out, entries)
	}

	var bad []string
	for _, e := range entries {
		if e.Compatibility == compatIncompatible {
			bad = append(bad, e.Platform)
		}
	}
	if len(bad) > 0 {
		return model.NewCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("incompatible runtime library set for %s", strings.Join(bad, ", ")))
	}
	return nil
}

func printPinsText(w io.Writer, entries []pinsJSON) {
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		_, _ = color.New(color.Bold).Fprintln(w, e.Platform)
		for _, pin := range e.Spec.Pins() {
			fmt.Fprintf(w, "  %s\n", pin)
		}
		if e.Spec.IndexURL != "" {
			fmt.Fprintf(w, "  index:     %s\n", e.Spec.IndexURL)
		}
		if e.Spec.HasExtension() {
			fmt.Fprintf(w, "  extension: %s\n", e.Spec.ExtensionWheel)
		}
		if len(e.Spec.Uninstall) > 0 {
			fmt.Fprintf(w, "  uninstall: %s\n", strings.Join(e.Spec.Uninstall, " "))
		}

		symbol, c := "✔", color.New(color.FgGreen)
		switch e.Compatibility {
		case compatUnchecked:
			symbol, c = "⚠", color.New(color.FgYellow)
		case compatIncompatible:
			symbol, c = "✗", color.New(color.FgRed)
		}
		line := fmt.Sprintf("  %s compatibility: %s", symbol, e.Compatibility)
		if e.Problem != "" {
			line += " (" + e.Problem + ")"
		}
		_, _ = c.Fprintln(w, line)
	}
}
