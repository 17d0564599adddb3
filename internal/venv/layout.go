// Package venv knows the on-disk layout of a Python virtual environment on
// each platform, and creates one when it is missing.
package venv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

// StaleShimName is the .pth file setuptools installs to inject its
// distutils hack. When the _distutils_hack module it imports is gone, every
// interpreter start prints an error, so the file is removed on Windows.
const StaleShimName = "distutils-precedence.pth"

// Layout locates the files of one virtual environment.
type Layout struct {
	Platform model.PlatformKind
	Dir      string
}

// Interpreter returns the path of the environment's python binary.
func (l Layout) Interpreter() string {
	if l.Platform == model.PlatformWindows {
		return filepath.Join(l.Dir, "Scripts", "python.exe")
	}
	return filepath.Join(l.Dir, "bin", "python")
}

// StaleShim returns the path of the distutils shim. Only the Windows layout
// has a fixed site-packages directory (POSIX layouts embed the Python
// version), and only Windows needs the repair.
func (l Layout) StaleShim() (string, bool) {
	if l.Platform != model.PlatformWindows {
		return "", false
	}
	return filepath.Join(l.Dir, "Lib", "site-packages", StaleShimName), true
}

// Inspect derives the EnvironmentState from the interpreter binary.
func (l Layout) Inspect() model.EnvironmentState {
	if info, err := os.Stat(l.Interpreter()); err == nil && !info.IsDir() {
		return model.EnvPresent
	}
	return model.EnvAbsent
}

// CreateCommand returns the command that creates the environment with the
// given base interpreter.
func (l Layout) CreateCommand(basePython string) runner.Command {
	return runner.Command{
		Name: basePython,
		Args: []string{"-m", "venv", l.Dir},
	}
}

// RemoveStaleShim deletes the distutils shim if present. It reports
// whether a file was removed; a missing file is not an error.
func (l Layout) RemoveStaleShim() (bool, error) {
	path, ok := l.StaleShim()
	if !ok {
		return false, nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}
