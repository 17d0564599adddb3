// Package cli — output.go renders provisioning results as colored text
// lines, JSON, or YAML.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/hidream-installer/internal/model"
)

// outcomeStyle returns the status symbol and color of a step outcome.
func outcomeStyle(o model.StepOutcome) (string, *color.Color) {
	switch o {
	case model.OutcomeDone:
		return "✔", color.New(color.FgGreen)
	case model.OutcomeSkipped:
		return "○", color.New(color.FgHiBlack)
	case model.OutcomeWarning:
		return "⚠", color.New(color.FgYellow)
	case model.OutcomeFailed:
		return "✗", color.New(color.FgRed)
	default:
		return "•", color.New(color.Reset)
	}
}

// Banner returns the line printed after a successful install.
func Banner(appName, nextCommand string) string {
	return fmt.Sprintf("%s setup complete. Run %s to launch.", appName, nextCommand)
}

// stepJSON is the machine-readable form of a model.StepResult. It doubles
// as the YAML form for plan --output yaml.
type stepJSON struct {
	Name      string   `json:"name" yaml:"name"`
	Outcome   string   `json:"outcome" yaml:"outcome"`
	Detail    string   `json:"detail,omitempty" yaml:"detail,omitempty"`
	Commands  []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
	ElapsedMs int64    `json:"elapsedMs" yaml:"elapsedMs"`
}

// resultJSON is the machine-readable form of a model.InstallResult.
type resultJSON struct {
	Platform  string     `json:"platform" yaml:"platform"`
	State     string     `json:"state" yaml:"state"`
	Succeeded bool       `json:"succeeded" yaml:"succeeded"`
	Summary   string     `json:"summary" yaml:"summary"`
	Steps     []stepJSON `json:"steps" yaml:"steps"`
	Banner    string     `json:"banner,omitempty" yaml:"banner,omitempty"`
}

func toResultJSON(result *model.InstallResult) resultJSON {
	out := resultJSON{
		Platform:  result.Platform.String(),
		State:     result.State.String(),
		Succeeded: result.Succeeded(),
		Summary:   result.Summary(),
		Steps:     make([]stepJSON, 0, len(result.Steps)),
	}
	for _, s := range result.Steps {
		js := stepJSON{
			Name:      s.Name,
			Outcome:   s.Outcome.String(),
			Detail:    s.Detail,
			Commands:  s.Commands,
			ElapsedMs: s.Elapsed.Milliseconds(),
		}
		if s.Err != nil {
			js.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, js)
	}
	return out
}

// printSteps writes one status line per step.
func printSteps(w io.Writer, result *model.InstallResult, withCommands bool) {
	for _, s := range result.Steps {
		symbol, c := outcomeStyle(s.Outcome)
		line := fmt.Sprintf("%s %-22s %s", symbol, s.Name, s.Detail)
		_, _ = c.Fprintln(w, strings.TrimRight(line, " "))
		if s.Outcome == model.OutcomeWarning && s.Err != nil {
			_, _ = c.Fprintf(w, "    %v\n", s.Err)
		}
		if withCommands {
			for _, cmd := range s.Commands {
				fmt.Fprintf(w, "    $ %s\n", cmd)
			}
		}
	}
}

// printResult writes result to w in the format selected by the global
// flags. The banner is written only for a succeeded result.
func printResult(w io.Writer, result *model.InstallResult, banner string) {
	if !result.Succeeded() {
		banner = ""
	}

	if IsJSONOutput() {
		out := toResultJSON(result)
		out.Banner = banner
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	printSteps(w, result, verbose)
	fmt.Fprintln(w, result.Summary())
	if banner != "" {
		_, _ = color.New(color.Reset, color.Bold).Fprintln(w, banner)
	}
}

// printYAML writes v as a YAML document.
func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}
