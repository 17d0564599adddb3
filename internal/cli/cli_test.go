// Package cli — cli_test.go exercises the subcommand logic functions with a
// fake tool runner, and the output helpers shared between commands.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// fakeTools simulates git clone and venv creation and fails any command
// containing failOn.
type fakeTools struct {
	platform model.PlatformKind
	failOn   string
}

func (f *fakeTools) Run(_ context.Context, cmd runner.Command) error {
	line := cmd.String()
	if f.failOn != "" && strings.Contains(line, f.failOn) {
		return &runner.ExitError{Command: cmd, Stderr: "ModuleNotFoundError", Err: errors.New("exit status 1")}
	}
	switch {
	case len(cmd.Args) == 5 && cmd.Args[0] == "clone":
		return os.MkdirAll(filepath.Join(cmd.Args[4], ".git"), 0o755)
	case len(cmd.Args) == 3 && cmd.Args[1] == "venv":
		py := filepath.Join(cmd.Args[2], "bin", "python")
		if f.platform == model.PlatformWindows {
			py = filepath.Join(cmd.Args[2], "Scripts", "python.exe")
		}
		if err := os.MkdirAll(filepath.Dir(py), 0o755); err != nil {
			return err
		}
		return os.WriteFile(py, nil, 0o755)
	}
	return nil
}

func testConfig(t *testing.T, platform model.PlatformKind) provision.Config {
	t.Helper()
	cfg := provision.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.RepoURL = "https://example.com/hidream.git"
	cfg.Platform = platform
	return cfg
}

func setJSONOutput(t *testing.T, v bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = v
	t.Cleanup(func() { jsonOutput = prev })
}

func TestBanner(t *testing.T) {
	assert.Equal(t, "HiDream-I1 setup complete. Run start.js to launch.",
		Banner(provision.DefaultAppName, provision.DefaultNextCommand))
}

func TestRunInstall_SuccessPrintsBanner(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformOther)

	var out bytes.Buffer
	err := runInstall(context.Background(), cfg, &fakeTools{platform: model.PlatformOther}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "✔ sync-repository")
	assert.Contains(t, out.String(), "verified on platform other")
	assert.Contains(t, out.String(), Banner(cfg.AppName, cfg.NextCommand))
}

func TestRunInstall_ProbeFailureHasNoBanner(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformWindows)

	var out bytes.Buffer
	err := runInstall(context.Background(), cfg,
		&fakeTools{platform: model.PlatformWindows, failOn: "import torch"}, &out)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitVerifyFailed, cliErr.Code)
	assert.Contains(t, err.Error(), "ModuleNotFoundError")

	assert.Contains(t, out.String(), "✗ verify")
	assert.NotContains(t, out.String(), "setup complete")
}

func TestRunInstall_JSON(t *testing.T) {
	setJSONOutput(t, true)
	cfg := testConfig(t, model.PlatformOther)

	var out bytes.Buffer
	require.NoError(t, runInstall(context.Background(), cfg, &fakeTools{platform: model.PlatformOther}, &out))

	var got resultJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Succeeded)
	assert.Equal(t, "verified", got.State)
	assert.Equal(t, "other", got.Platform)
	assert.Len(t, got.Steps, 8)
	assert.Equal(t, provision.StepSyncRepository, got.Steps[0].Name)
	assert.NotEmpty(t, got.Banner)
}

func TestRunVerify_AbsentEnvironment(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformOther)

	var out bytes.Buffer
	err := runVerify(context.Background(), cfg, &fakeTools{}, &out)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitVerifyFailed, cliErr.Code)
	assert.Contains(t, out.String(), "provisioning failed at step verify")
}

func TestRunVerify_IgnoresWheelOverride(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformWindows)
	cfg.WheelURL = "https://example.com/flash_attn-2.6.3+cu124.torch250-cp310-cp310-win_amd64.whl"

	py := cfg.Layout().Interpreter()
	require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
	require.NoError(t, os.WriteFile(py, nil, 0o755))

	var out bytes.Buffer
	err := runVerify(context.Background(), cfg, &fakeTools{platform: model.PlatformWindows}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "✔ verify")
}

func TestRunPlan_YAML(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformOther)

	var out bytes.Buffer
	require.NoError(t, runPlan(context.Background(), cfg, outputYAML, &out))

	var got planJSON
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "other", got.Platform)
	require.NotEmpty(t, got.Steps)
	assert.Equal(t, []string{"git clone --depth 1 https://example.com/hidream.git " + cfg.AppDir()}, got.Steps[0].Commands)

	assert.NoDirExists(t, cfg.AppDir(), "plan must not clone")
}

func TestRunPlan_Text(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformOther)

	var out bytes.Buffer
	require.NoError(t, runPlan(context.Background(), cfg, outputText, &out))
	assert.Contains(t, out.String(), "$ python -m venv "+cfg.EnvDir())
	assert.Contains(t, out.String(), "command(s) would run")
}

func TestResolveOutput(t *testing.T) {
	setJSONOutput(t, false)

	got, err := resolveOutput("yaml")
	require.NoError(t, err)
	assert.Equal(t, outputYAML, got)

	_, err = resolveOutput("xml")
	assert.Error(t, err)

	setJSONOutput(t, true)
	got, err = resolveOutput("yaml")
	require.NoError(t, err)
	assert.Equal(t, outputJSON, got, "--json wins over --output")
}

func TestCollectPins(t *testing.T) {
	cfg := testConfig(t, model.PlatformWindows)

	entries := collectPins(cfg, false)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, compatOK, e.Compatibility, e.Platform)
	}

	cfg.WheelURL = "https://example.com/get?id=1"
	entries = collectPins(cfg, true)
	require.Len(t, entries, 1)
	assert.Equal(t, compatUnchecked, entries[0].Compatibility)
	assert.Equal(t, cfg.WheelURL, entries[0].Spec.ExtensionWheel)
}

func TestRunPins_IncompatibleOverride(t *testing.T) {
	setJSONOutput(t, false)
	cfg := testConfig(t, model.PlatformWindows)
	cfg.WheelURL = "https://example.com/flash_attn-2.6.3+cu124.torch250-cp310-cp310-win_amd64.whl"

	var out bytes.Buffer
	err := runPins(cfg, true, outputText, &out)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigInvalid, cliErr.Code)
	assert.Contains(t, out.String(), "✗ compatibility: incompatible")
}

func TestPrintError(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		setJSONOutput(t, false)
		var buf bytes.Buffer
		printError(&buf, "step verify failed", errors.New("boom"))
		assert.Equal(t, "✗ Error: step verify failed: boom\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		setJSONOutput(t, true)
		var buf bytes.Buffer
		printError(&buf, "step verify failed", errors.New("boom"))

		var got map[string]map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "step verify failed", got["error"]["message"])
		assert.Equal(t, "boom", got["error"]["detail"])
	})
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"install", "plan", "pins", "verify"}, names)

	install, _, err := root.Find([]string{"install"})
	require.NoError(t, err)
	assert.NotNil(t, install.Flags().Lookup("wheel-url"))

	verify, _, err := root.Find([]string{"verify"})
	require.NoError(t, err)
	assert.Nil(t, verify.Flags().Lookup("repo"))
}
