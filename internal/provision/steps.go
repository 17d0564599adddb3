package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/pip"
	"github.com/shinji-kodama/hidream-installer/internal/repo"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

func (p *Provisioner) syncRepository(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	if !p.dryRun {
		if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("create workdir: %w", err)
		}
	}

	syncer := repo.NewSyncer(r)
	syncer.DryRun = p.dryRun

	out, err := syncer.Sync(ctx, p.cfg.RepoURL, p.cfg.AppDir(), p.cfg.Branch)
	if out.Action != "" {
		res.Detail = fmt.Sprintf("%s (checkout was %s)", out.Action, out.Before)
	}
	return err
}

// ensureEnvironment never recreates an existing environment.
func (p *Provisioner) ensureEnvironment(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	layout := p.cfg.Layout()
	if layout.Inspect() == model.EnvPresent {
		res.Outcome = model.OutcomeSkipped
		res.Detail = "reusing " + layout.Interpreter()
		return nil
	}

	res.Detail = "created " + layout.Dir
	return r.Run(ctx, layout.CreateCommand(p.cfg.BasePython))
}

// repairShim removes the stale distutils shim on Windows. It is optional:
// a deletion failure surfaces as a warning.
func (p *Provisioner) repairShim(_ context.Context, _ runner.Runner, res *model.StepResult) error {
	layout := p.cfg.Layout()
	shim, ok := layout.StaleShim()
	if !ok {
		res.Outcome = model.OutcomeSkipped
		res.Detail = "not needed on platform " + p.cfg.Platform.String()
		return nil
	}

	if p.dryRun {
		if _, err := os.Lstat(shim); err != nil {
			res.Outcome = model.OutcomeSkipped
			res.Detail = "no stale shim"
			return nil
		}
		res.Detail = "would remove " + shim
		return nil
	}

	removed, err := layout.RemoveStaleShim()
	if err != nil {
		res.Detail = "stale shim left in place"
		return err
	}
	if !removed {
		res.Outcome = model.OutcomeSkipped
		res.Detail = "no stale shim"
		return nil
	}
	res.Detail = "removed " + shim
	return nil
}

func (p *Provisioner) bootstrapTooling(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	inst := pip.New(p.interpreter())
	if err := r.Run(ctx, inst.EnsurePip()); err != nil {
		return err
	}
	res.Detail = strings.Join(pip.ToolingPackages, ", ") + " upgraded"
	return r.Run(ctx, inst.UpgradeTooling())
}

// installRuntime installs the platform's pinned set. Stale variants are
// uninstalled first. pip exits zero for packages that are not installed, so
// a failure there means a real removal error (typically a DLL locked by a
// running process on Windows); it is logged and the pinned install is
// attempted anyway. The extension wheel goes in with --no-deps because its
// declared dependencies would replace the pinned tensor build.
func (p *Provisioner) installRuntime(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	spec, err := p.cfg.RuntimeSpec()
	if err != nil {
		return err
	}
	inst := pip.New(p.interpreter())

	if len(spec.Uninstall) > 0 {
		if err := r.Run(ctx, inst.Uninstall(spec.Uninstall...)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Str("step", res.Name).Strs("packages", spec.Uninstall).
				Msg("pip uninstall exited non-zero; previous variants may be partially removed (locked files?), continuing with pinned install")
		}
	}

	if err := r.Run(ctx, inst.InstallPins(spec.Pins(), spec.IndexURL)); err != nil {
		return err
	}
	res.Detail = spec.Tensor.String()

	if !spec.HasExtension() {
		return nil
	}
	if err := r.Run(ctx, inst.InstallWheel(spec.ExtensionWheel, true)); err != nil {
		return err
	}
	res.Detail += " + extension wheel"
	return nil
}

// installDependencies installs each requirements file that exists. A
// missing file is not an error.
func (p *Provisioner) installDependencies(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	inst := pip.New(p.interpreter())

	var installed []string
	for _, path := range p.requirementPaths() {
		if !fileExists(path) {
			p.log.Debug().Str("step", res.Name).Str("file", path).Msg("requirements file absent, skipping")
			continue
		}
		if err := r.Run(ctx, inst.InstallRequirements(path)); err != nil {
			return err
		}
		installed = append(installed, path)
	}

	if len(installed) == 0 {
		res.Outcome = model.OutcomeSkipped
		res.Detail = "no requirements files"
		return nil
	}
	res.Detail = fmt.Sprintf("%d requirements file(s)", len(installed))
	return nil
}

func (p *Provisioner) verifyRuntime(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	res.Detail = "torch imports"
	return r.Run(ctx, pip.New(p.interpreter()).Exec(TensorProbe))
}

// checkExtension is optional: the extension is a performance optimization,
// the application runs without it.
func (p *Provisioner) checkExtension(ctx context.Context, r runner.Runner, res *model.StepResult) error {
	if err := r.Run(ctx, pip.New(p.interpreter()).Exec(ExtensionProbe)); err != nil {
		res.Detail = "flash_attn not loaded"
		return err
	}
	res.Detail = "flash_attn loaded"
	return nil
}
