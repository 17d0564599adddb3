package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
	"github.com/shinji-kodama/hidream-installer/internal/runtimelib"
)

// Step names, in workflow order.
const (
	StepSyncRepository    = "sync-repository"
	StepEnsureEnvironment = "ensure-environment"
	StepRepairShim        = "repair-shim"
	StepBootstrapTooling  = "bootstrap-tooling"
	StepInstallRuntime    = "install-runtime"
	StepInstallDeps       = "install-dependencies"
	StepVerify            = "verify"
	StepCheckExtension    = "check-extension"
)

const (
	// TensorProbe must import cleanly for the environment to be usable.
	TensorProbe = "import torch; print('torch', torch.__version__, 'cuda', " +
		"getattr(torch.version, 'cuda', None), 'available', torch.cuda.is_available())"

	// ExtensionProbe checks the optional attention extension.
	ExtensionProbe = "import flash_attn_2_cuda; print('flash_attn OK')"
)

// RequirementFiles are installed in this order when present in the
// checkout. The first is the primary manifest, the second the optional
// dev manifest.
var RequirementFiles = []string{"requirements.txt", "requirements-dev.txt"}

// step is one precondition-gated action of the workflow.
type step struct {
	name string

	// reaches is the workflow state entered on success; "" for steps that
	// do not move the state machine.
	reaches model.WorkflowState

	// code is the exit code of a fatal failure.
	code model.ExitCode

	// optional steps downgrade any failure to a warning.
	optional bool

	run func(ctx context.Context, r runner.Runner, res *model.StepResult) error
}

// Provisioner drives the idempotent setup workflow. Its state is entirely
// re-derived from the filesystem on each run.
type Provisioner struct {
	cfg    Config
	runner runner.Runner
	log    zerolog.Logger
	dryRun bool
}

// New validates cfg and returns a Provisioner that runs external commands
// through r.
func New(cfg Config, r runner.Runner, logger zerolog.Logger) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "invalid configuration", err)
	}

	spec, err := cfg.RuntimeSpec()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigInvalid, "invalid configuration", err)
	}
	if spec.HasExtension() {
		if err := runtimelib.CheckWheel(spec.Tensor, spec.ExtensionWheel); errors.Is(err, runtimelib.ErrOpaqueWheel) {
			logger.Warn().Str("wheel", spec.ExtensionWheel).
				Msg("extension wheel does not identify its build; compatibility cannot be checked")
		}
	} else if cfg.WheelURL != "" {
		logger.Debug().Str("platform", cfg.Platform.String()).
			Msg("wheel override ignored: platform has no extension step")
	}

	return &Provisioner{cfg: cfg, runner: r, log: logger}, nil
}

// Config returns the configuration the provisioner was built with.
func (p *Provisioner) Config() Config {
	return p.cfg
}

// Provision runs the whole workflow. On a fatal failure it returns the
// partial result together with a *model.CLIError naming the failed step
// and command; the remaining steps are not attempted.
func (p *Provisioner) Provision(ctx context.Context) (*model.InstallResult, error) {
	return p.runSteps(ctx, model.NewInstallResult(p.cfg.Platform), p.workflow())
}

// Plan reports what Provision would execute from the current filesystem
// state, without running any command or changing any file.
func (p *Provisioner) Plan(ctx context.Context) (*model.InstallResult, error) {
	planner := *p
	planner.runner = &runner.Recorder{}
	planner.dryRun = true
	return planner.runSteps(ctx, model.NewInstallResult(p.cfg.Platform), planner.workflow())
}

// Verify runs only the verification steps against an existing
// environment.
func (p *Provisioner) Verify(ctx context.Context) (*model.InstallResult, error) {
	result := model.NewInstallResult(p.cfg.Platform)
	// Verification picks up where a completed install left off.
	result.State = model.StateDepsInstalled

	layout := p.cfg.Layout()
	if layout.Inspect() == model.EnvAbsent {
		err := fmt.Errorf("no interpreter at %s; run install first", layout.Interpreter())
		result.Add(model.StepResult{Name: StepVerify, Outcome: model.OutcomeFailed, Err: err})
		_ = result.Advance(model.StateFailed)
		return result, model.WrapCLIError(model.ExitVerifyFailed, "environment not provisioned", err)
	}
	return p.runSteps(ctx, result, p.verification())
}

func (p *Provisioner) workflow() []step {
	steps := []step{
		{name: StepSyncRepository, reaches: model.StateRepoSynced, code: model.ExitRepoSyncFailed, run: p.syncRepository},
		{name: StepEnsureEnvironment, reaches: model.StateEnvReady, code: model.ExitEnvCreateFailed, run: p.ensureEnvironment},
		{name: StepRepairShim, optional: true, run: p.repairShim},
		{name: StepBootstrapTooling, reaches: model.StateToolingReady, code: model.ExitToolingFailed, run: p.bootstrapTooling},
		{name: StepInstallRuntime, reaches: model.StateRuntimeInstalled, code: model.ExitRuntimeInstallFailed, run: p.installRuntime},
		{name: StepInstallDeps, reaches: model.StateDepsInstalled, code: model.ExitDependencyInstallFailed, run: p.installDependencies},
	}
	return append(steps, p.verification()...)
}

func (p *Provisioner) verification() []step {
	return []step{
		{name: StepVerify, reaches: model.StateVerified, code: model.ExitVerifyFailed, run: p.verifyRuntime},
		{name: StepCheckExtension, optional: true, run: p.checkExtension},
	}
}

func (p *Provisioner) runSteps(ctx context.Context, result *model.InstallResult, steps []step) (*model.InstallResult, error) {
	for _, s := range steps {
		res := p.runStep(ctx, s)
		result.Add(res)

		if res.Outcome == model.OutcomeFailed {
			_ = result.Advance(model.StateFailed)
			return result, model.WrapCLIError(s.code, fmt.Sprintf("step %s failed", s.name), res.Err)
		}
		if s.reaches == "" {
			continue
		}
		if err := result.Advance(s.reaches); err != nil {
			_ = result.Advance(model.StateFailed)
			return result, model.WrapCLIError(model.ExitGeneralError, "workflow error", err)
		}
	}
	return result, nil
}

// runStep executes one step and classifies its outcome. Every step is
// logged the same way: a start line and an outcome line.
func (p *Provisioner) runStep(ctx context.Context, s step) model.StepResult {
	res := model.StepResult{Name: s.name, Outcome: model.OutcomeDone}
	log := p.log.With().Str("step", s.name).Logger()
	log.Info().Msg("starting")

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = s.run(ctx, &recordingRunner{next: p.runner, res: &res, log: log}, &res)
	}
	res.Elapsed = time.Since(start)

	switch {
	case err != nil && s.optional:
		res.Outcome = model.OutcomeWarning
		res.Err = err
	case err != nil:
		res.Outcome = model.OutcomeFailed
		res.Err = err
	case res.Outcome == model.OutcomeWarning && res.Err == nil:
		res.Err = errors.New(res.Detail)
	}

	var ev *zerolog.Event
	switch res.Outcome {
	case model.OutcomeFailed:
		ev = log.Error().Err(res.Err)
	case model.OutcomeWarning:
		ev = log.Warn().Err(res.Err)
	default:
		ev = log.Info()
	}
	ev.Str("outcome", res.Outcome.String()).
		Str("detail", res.Detail).
		Dur("elapsed", res.Elapsed).
		Msg("finished")
	return res
}

// recordingRunner appends every command line to the step result before
// delegating.
type recordingRunner struct {
	next runner.Runner
	res  *model.StepResult
	log  zerolog.Logger
}

func (r *recordingRunner) Run(ctx context.Context, cmd runner.Command) error {
	line := cmd.String()
	r.res.Commands = append(r.res.Commands, line)
	r.log.Debug().Str("cmd", line).Msg("running")
	return r.next.Run(ctx, cmd)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (p *Provisioner) interpreter() string {
	return p.cfg.Layout().Interpreter()
}

func (p *Provisioner) requirementPaths() []string {
	paths := make([]string, 0, len(RequirementFiles))
	for _, name := range RequirementFiles {
		paths = append(paths, filepath.Join(p.cfg.AppDir(), name))
	}
	return paths
}
