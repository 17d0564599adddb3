package provision

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
	"github.com/shinji-kodama/hidream-installer/internal/runtimelib"
)

const testRepoURL = "https://example.com/hidream.git"

// fakeTools stands in for git, python and pip. It simulates the filesystem
// effects the workflow depends on (a clone creates .git, venv creation
// creates the interpreter) and fails any command whose rendered line
// contains a configured substring.
type fakeTools struct {
	platform model.PlatformKind

	// repoFiles are written into every fresh clone.
	repoFiles []string

	failOn []string
	lines  []string
}

func (f *fakeTools) Run(_ context.Context, cmd runner.Command) error {
	line := cmd.String()
	f.lines = append(f.lines, line)

	for _, substr := range f.failOn {
		if strings.Contains(line, substr) {
			return &runner.ExitError{Command: cmd, Stderr: "simulated failure", Err: errors.New("exit status 1")}
		}
	}

	switch {
	case len(cmd.Args) == 5 && cmd.Args[0] == "clone":
		dir := cmd.Args[4]
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
			return err
		}
		for _, name := range f.repoFiles {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("numpy\n"), 0o644); err != nil {
				return err
			}
		}
	case len(cmd.Args) == 3 && cmd.Args[0] == "-m" && cmd.Args[1] == "venv":
		layout := testConfig("", f.platform).Layout()
		layout.Dir = cmd.Args[2]
		if err := os.MkdirAll(filepath.Dir(layout.Interpreter()), 0o755); err != nil {
			return err
		}
		return os.WriteFile(layout.Interpreter(), nil, 0o755)
	}
	return nil
}

func (f *fakeTools) ran(substr string) bool {
	return slices.ContainsFunc(f.lines, func(l string) bool { return strings.Contains(l, substr) })
}

func testConfig(workDir string, platform model.PlatformKind) Config {
	cfg := DefaultConfig()
	cfg.WorkDir = workDir
	cfg.RepoURL = testRepoURL
	cfg.Platform = platform
	return cfg
}

func newTestProvisioner(t *testing.T, cfg Config, tools *fakeTools) *Provisioner {
	t.Helper()
	p, err := New(cfg, tools, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func requireExitCode(t *testing.T, err error, want model.ExitCode) {
	t.Helper()
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr), "expected *model.CLIError, got %T: %v", err, err)
	assert.Equal(t, want, cliErr.Code)
}

func outcomes(result *model.InstallResult) map[string]model.StepOutcome {
	m := make(map[string]model.StepOutcome, len(result.Steps))
	for _, s := range result.Steps {
		m[s.Name] = s.Outcome
	}
	return m
}

func TestProvision_FreshDirectoryOtherPlatform(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformOther)
	tools := &fakeTools{platform: model.PlatformOther}

	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)

	py := cfg.Layout().Interpreter()
	want := []string{
		"git clone --depth 1 " + testRepoURL + " " + cfg.AppDir(),
		"python -m venv " + cfg.EnvDir(),
		py + " -m ensurepip --upgrade",
		py + " -m pip install -U pip setuptools wheel",
		py + " -m pip install torch==2.8.0 torchvision==0.23.0 torchaudio==2.8.0",
	}
	assert.Equal(t, want, tools.lines[:len(want)])
	assert.Len(t, tools.lines, len(want)+2, "two probes follow the installs")
	assert.False(t, tools.ran("uninstall"), "no uninstall on this platform")
	assert.False(t, tools.ran("--index-url"))
	assert.False(t, tools.ran(".whl"))

	assert.Equal(t, model.StateVerified, result.State)
	assert.True(t, result.Succeeded())

	got := outcomes(result)
	assert.Equal(t, model.OutcomeDone, got[StepSyncRepository])
	assert.Equal(t, model.OutcomeDone, got[StepEnsureEnvironment])
	assert.Equal(t, model.OutcomeSkipped, got[StepRepairShim])
	assert.Equal(t, model.OutcomeSkipped, got[StepInstallDeps])
	assert.Equal(t, model.OutcomeDone, got[StepVerify])
	assert.Equal(t, model.OutcomeDone, got[StepCheckExtension])

	assert.DirExists(t, filepath.Join(cfg.AppDir(), ".git"))
	assert.FileExists(t, py)
}

func TestProvision_WindowsTrackedCheckoutWithWheelOverride(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformWindows)
	cfg.WheelURL = "https://mirror.example.com/flash_attn-2.7.4.post1+cu128.torch270-cp310-cp310-win_amd64.whl"

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.AppDir(), ".git"), 0o755))
	py := cfg.Layout().Interpreter()
	require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
	require.NoError(t, os.WriteFile(py, nil, 0o755))
	shim, ok := cfg.Layout().StaleShim()
	require.True(t, ok)
	require.NoError(t, os.MkdirAll(filepath.Dir(shim), 0o755))
	require.NoError(t, os.WriteFile(shim, []byte("import _distutils_hack\n"), 0o644))

	tools := &fakeTools{platform: model.PlatformWindows}
	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)

	want := []string{
		"git -C " + cfg.AppDir() + " fetch --all --prune",
		"git -C " + cfg.AppDir() + " reset --hard origin/main",
		py + " -m ensurepip --upgrade",
		py + " -m pip install -U pip setuptools wheel",
		py + " -m pip uninstall -y flash-attn flash_attn flash_attn_cuda torch torchvision torchaudio",
		py + " -m pip install torch==2.7.0+cu128 torchvision==0.22.0+cu128 torchaudio==2.7.0+cu128 --index-url " + runtimelib.CUDAIndexURL,
		py + " -m pip install --no-deps " + cfg.WheelURL,
	}
	assert.Equal(t, want, tools.lines[:len(want)])
	assert.False(t, tools.ran(runtimelib.DefaultExtensionWheel), "override replaces the default wheel")
	assert.False(t, tools.ran("-m venv"), "existing environment is reused")
	assert.NoFileExists(t, shim)

	got := outcomes(result)
	assert.Equal(t, model.OutcomeSkipped, got[StepEnsureEnvironment])
	assert.Equal(t, model.OutcomeDone, got[StepRepairShim])
	assert.Equal(t, model.StateVerified, result.State)
}

func TestProvision_RunsTwiceToSameState(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformOther)
	tools := &fakeTools{platform: model.PlatformOther, repoFiles: []string{"requirements.txt"}}
	p := newTestProvisioner(t, cfg, tools)

	first, err := p.Provision(context.Background())
	require.NoError(t, err)
	before := listTree(t, workDir)

	tools.lines = nil
	second, err := p.Provision(context.Background())
	require.NoError(t, err)

	assert.Equal(t, before, listTree(t, workDir))
	assert.Equal(t, first.State, second.State)
	assert.False(t, tools.ran("clone"), "second run updates in place")
	assert.True(t, tools.ran("reset --hard origin/main"))
	assert.False(t, tools.ran("-m venv"), "second run does not recreate the environment")
	assert.True(t, tools.ran("install -r "+filepath.Join(cfg.AppDir(), "requirements.txt")))
}

func TestProvision_UntrackedCheckoutIsRecloned(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformOther)
	require.NoError(t, os.MkdirAll(cfg.AppDir(), 0o755))
	stale := filepath.Join(cfg.AppDir(), "leftover.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	tools := &fakeTools{platform: model.PlatformOther}
	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.Equal(t, "git clone --depth 1 "+testRepoURL+" "+cfg.AppDir(), tools.lines[0])
	assert.Contains(t, result.Steps[0].Detail, string(model.RepoUntracked))
}

func TestProvision_RequirementsInOrder(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformOther)
	tools := &fakeTools{
		platform:  model.PlatformOther,
		repoFiles: []string{"requirements-dev.txt", "requirements.txt"},
	}

	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)

	var reqs []string
	for _, l := range tools.lines {
		if strings.Contains(l, "install -r") {
			reqs = append(reqs, filepath.Base(l[strings.LastIndex(l, " ")+1:]))
		}
	}
	assert.Equal(t, []string{"requirements.txt", "requirements-dev.txt"}, reqs)
	assert.Equal(t, model.OutcomeDone, outcomes(result)[StepInstallDeps])
}

func TestProvision_FatalFailureStopsWorkflow(t *testing.T) {
	tests := []struct {
		name     string
		failOn   string
		wantCode model.ExitCode
		wantStep string
	}{
		{"clone", "git clone", model.ExitRepoSyncFailed, StepSyncRepository},
		{"venv", "-m venv", model.ExitEnvCreateFailed, StepEnsureEnvironment},
		{"tooling", "ensurepip", model.ExitToolingFailed, StepBootstrapTooling},
		{"runtime", "torch==2.8.0", model.ExitRuntimeInstallFailed, StepInstallRuntime},
		{"requirements", "install -r", model.ExitDependencyInstallFailed, StepInstallDeps},
		{"verify", "import torch", model.ExitVerifyFailed, StepVerify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t.TempDir(), model.PlatformOther)
			tools := &fakeTools{
				platform:  model.PlatformOther,
				repoFiles: []string{"requirements.txt"},
				failOn:    []string{tt.failOn},
			}

			result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
			require.Error(t, err)
			requireExitCode(t, err, tt.wantCode)
			assert.Contains(t, err.Error(), tt.wantStep)
			assert.Contains(t, err.Error(), "simulated failure")

			assert.Equal(t, model.StateFailed, result.State)
			failed, ok := result.FailedStep()
			require.True(t, ok)
			assert.Equal(t, tt.wantStep, failed.Name)
			assert.Equal(t, tt.wantStep, result.Steps[len(result.Steps)-1].Name, "no step runs after a fatal failure")
			assert.False(t, tools.ran("flash_attn_2_cuda"))
		})
	}
}

func TestProvision_UninstallFailureIsTolerated(t *testing.T) {
	cfg := testConfig(t.TempDir(), model.PlatformWindows)
	tools := &fakeTools{platform: model.PlatformWindows, failOn: []string{"uninstall"}}

	var logs bytes.Buffer
	p, err := New(cfg, tools, zerolog.New(&logs))
	require.NoError(t, err)

	result, err := p.Provision(context.Background())
	require.NoError(t, err)
	assert.True(t, tools.ran("torch==2.7.0+cu128"))
	assert.Equal(t, model.OutcomeDone, outcomes(result)[StepInstallRuntime])

	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), `"step":"install-runtime"`)
	assert.Contains(t, logs.String(), "pip uninstall exited non-zero")
	assert.Contains(t, logs.String(), "continuing with pinned install")
	assert.NotContains(t, logs.String(), "not installed")
}

func TestProvision_ExtensionProbeFailureIsWarning(t *testing.T) {
	cfg := testConfig(t.TempDir(), model.PlatformWindows)
	tools := &fakeTools{platform: model.PlatformWindows, failOn: []string{"flash_attn_2_cuda"}}

	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateVerified, result.State)
	assert.Equal(t, model.OutcomeWarning, outcomes(result)[StepCheckExtension])
	assert.Equal(t, 1, result.Count(model.OutcomeWarning))
}

func TestProvision_ShimRemovalFailureIsWarning(t *testing.T) {
	cfg := testConfig(t.TempDir(), model.PlatformWindows)
	shim, _ := cfg.Layout().StaleShim()
	// A non-empty directory in place of the shim cannot be removed.
	require.NoError(t, os.MkdirAll(filepath.Join(shim, "nested"), 0o755))

	tools := &fakeTools{platform: model.PlatformWindows}
	result, err := newTestProvisioner(t, cfg, tools).Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWarning, outcomes(result)[StepRepairShim])
	assert.Equal(t, model.StateVerified, result.State)
}

func TestProvision_CancelledContext(t *testing.T) {
	cfg := testConfig(t.TempDir(), model.PlatformOther)
	tools := &fakeTools{platform: model.PlatformOther}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestProvisioner(t, cfg, tools).Provision(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	requireExitCode(t, err, model.ExitRepoSyncFailed)
	assert.Empty(t, tools.lines)
	assert.Equal(t, model.StateFailed, result.State)
}

func TestPlan_DoesNotTouchFilesystem(t *testing.T) {
	workDir := t.TempDir()
	cfg := testConfig(workDir, model.PlatformWindows)
	require.NoError(t, os.MkdirAll(cfg.AppDir(), 0o755))
	stale := filepath.Join(cfg.AppDir(), "leftover.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	tools := &fakeTools{platform: model.PlatformWindows}
	result, err := newTestProvisioner(t, cfg, tools).Plan(context.Background())
	require.NoError(t, err)

	assert.Empty(t, tools.lines, "plan never reaches the real runner")
	assert.FileExists(t, stale)
	assert.NoDirExists(t, cfg.EnvDir())

	var planned []string
	for _, s := range result.Steps {
		planned = append(planned, s.Commands...)
	}
	assert.Contains(t, planned, "git clone --depth 1 "+testRepoURL+" "+cfg.AppDir())
	assert.Contains(t, planned, "python -m venv "+cfg.EnvDir())
	assert.Equal(t, model.StateVerified, result.State)
}

func TestVerify(t *testing.T) {
	t.Run("absent environment", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformOther)
		tools := &fakeTools{platform: model.PlatformOther}

		result, err := newTestProvisioner(t, cfg, tools).Verify(context.Background())
		requireExitCode(t, err, model.ExitVerifyFailed)
		assert.Empty(t, tools.lines)
		assert.Equal(t, model.StateFailed, result.State)
	})

	t.Run("present environment", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformOther)
		py := cfg.Layout().Interpreter()
		require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
		require.NoError(t, os.WriteFile(py, nil, 0o755))

		tools := &fakeTools{platform: model.PlatformOther}
		result, err := newTestProvisioner(t, cfg, tools).Verify(context.Background())
		require.NoError(t, err)
		assert.Len(t, tools.lines, 2)
		assert.Equal(t, model.StateVerified, result.State)
	})
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Run("mismatched wheel override", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformWindows)
		cfg.WheelURL = "https://example.com/flash_attn-2.7.4+cu124.torch260-cp310-cp310-win_amd64.whl"
		_, err := New(cfg, &fakeTools{}, zerolog.Nop())
		requireExitCode(t, err, model.ExitConfigInvalid)
	})

	t.Run("community wheel naming is accepted", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformWindows)
		cfg.WheelURL = "https://example.com/flash_attn-2.7.4.post1+cu128torch2.7.0cxx11abiFALSE-cp310-cp310-win_amd64.whl"
		var logs bytes.Buffer
		p, err := New(cfg, &fakeTools{}, zerolog.New(&logs))
		require.NoError(t, err)
		assert.Empty(t, logs.String(), "an identified build needs no warning")

		spec, err := p.Config().RuntimeSpec()
		require.NoError(t, err)
		assert.Equal(t, cfg.WheelURL, spec.ExtensionWheel)
	})

	t.Run("wheel without build tags warns", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformWindows)
		cfg.WheelURL = "https://example.com/flash_attn-2.7.4-cp310-cp310-win_amd64.whl"
		var logs bytes.Buffer
		_, err := New(cfg, &fakeTools{}, zerolog.New(&logs))
		require.NoError(t, err)
		assert.Contains(t, logs.String(), "does not identify its build")
	})

	t.Run("opaque wheel override is accepted", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformWindows)
		cfg.WheelURL = "https://example.com/download?id=42"
		_, err := New(cfg, &fakeTools{}, zerolog.Nop())
		assert.NoError(t, err)
	})

	t.Run("empty repo URL", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), model.PlatformOther)
		cfg.RepoURL = ""
		_, err := New(cfg, &fakeTools{}, zerolog.Nop())
		requireExitCode(t, err, model.ExitConfigInvalid)
	})
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var paths []string
	err := filepath.Walk(root, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		paths = append(paths, rel)
		return nil
	})
	require.NoError(t, err)
	return paths
}
