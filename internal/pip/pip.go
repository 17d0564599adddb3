// Package pip builds the pip and interpreter command lines the provisioner
// runs inside the virtual environment.
//
// Every command is run as `<python> -m pip ...` rather than through a pip
// executable, so that the pip belonging to the environment's interpreter is
// the one that runs, whatever PATH says.
package pip

import (
	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

// ToolingPackages are upgraded right after bootstrapping pip.
var ToolingPackages = []string{"pip", "setuptools", "wheel"}

// Installer builds commands for one interpreter.
type Installer struct {
	// Python is the environment's interpreter path.
	Python string
}

// New returns an Installer for the given interpreter.
func New(python string) Installer {
	return Installer{Python: python}
}

func (i Installer) pip(args ...string) runner.Command {
	return runner.Command{
		Name: i.Python,
		Args: append([]string{"-m", "pip"}, args...),
	}
}

// EnsurePip bootstraps pip into the environment.
func (i Installer) EnsurePip() runner.Command {
	return runner.Command{Name: i.Python, Args: []string{"-m", "ensurepip", "--upgrade"}}
}

// UpgradeTooling upgrades pip and the build-support packages.
func (i Installer) UpgradeTooling() runner.Command {
	return i.pip(append([]string{"install", "-U"}, ToolingPackages...)...)
}

// Uninstall removes packages without prompting. pip reports packages that
// are not installed as a warning, not as a failure.
func (i Installer) Uninstall(packages ...string) runner.Command {
	return i.pip(append([]string{"uninstall", "-y"}, packages...)...)
}

// InstallPins installs exact pins in a single resolver pass. A non-empty
// indexURL replaces the default index.
func (i Installer) InstallPins(pins []model.Pin, indexURL string) runner.Command {
	args := make([]string, 0, len(pins)+3)
	args = append(args, "install")
	for _, p := range pins {
		args = append(args, p.String())
	}
	if indexURL != "" {
		args = append(args, "--index-url", indexURL)
	}
	return i.pip(args...)
}

// InstallWheel installs a wheel by URL or path. With noDeps the wheel's
// declared dependencies are not resolved.
func (i Installer) InstallWheel(ref string, noDeps bool) runner.Command {
	args := []string{"install"}
	if noDeps {
		args = append(args, "--no-deps")
	}
	return i.pip(append(args, ref)...)
}

// InstallRequirements installs a requirements file.
func (i Installer) InstallRequirements(path string) runner.Command {
	return i.pip("install", "-r", path)
}

// Exec runs a Python snippet with the environment's interpreter.
func (i Installer) Exec(code string) runner.Command {
	return runner.Command{Name: i.Python, Args: []string{"-c", code}}
}
