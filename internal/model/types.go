// Package model defines the domain types for the hidream-installer CLI.
//
// Key design decision: the provisioner keeps no record of previous runs.
// Every type in this file describes a fact that is inspected from the
// filesystem (or fixed by the platform) at the start of a run.
package model

import (
	"fmt"
	"runtime"
	"strings"
)

// RepositoryState describes the application checkout directory as found
// on disk. It decides whether the sync step clones, updates, or reclones.
type RepositoryState string

const (
	// RepoAbsent means the checkout directory does not exist.
	RepoAbsent RepositoryState = "absent"

	// RepoTracked means the directory exists and carries Git metadata
	// (a .git directory, or a .git file pointing at a gitdir).
	RepoTracked RepositoryState = "tracked"

	// RepoUntracked means the directory exists but has no Git metadata.
	// Its content is considered stale and is replaced by a fresh clone.
	RepoUntracked RepositoryState = "untracked"
)

// String returns the string representation of RepositoryState.
func (s RepositoryState) String() string {
	return string(s)
}

// EnvironmentState describes the isolated Python environment. It is keyed
// on the existence of the interpreter binary, not of the directory: a
// half-created environment without an interpreter counts as absent.
type EnvironmentState string

const (
	// EnvAbsent means no interpreter exists at the platform path.
	EnvAbsent EnvironmentState = "absent"

	// EnvPresent means the interpreter exists and the environment is reused.
	EnvPresent EnvironmentState = "present"
)

// String returns the string representation of EnvironmentState.
func (s EnvironmentState) String() string {
	return string(s)
}

// PlatformKind selects the runtime-library recipe and the environment
// layout. It is fixed for the duration of a run.
type PlatformKind string

const (
	// PlatformWindows covers native Windows hosts.
	PlatformWindows PlatformKind = "windows"

	// PlatformOther covers every non-Windows host (Linux, macOS, ...).
	PlatformOther PlatformKind = "other"
)

// String returns the string representation of PlatformKind.
func (p PlatformKind) String() string {
	return string(p)
}

// IsValid checks whether the PlatformKind value is one of the
// predefined platforms.
func (p PlatformKind) IsValid() bool {
	switch p {
	case PlatformWindows, PlatformOther:
		return true
	default:
		return false
	}
}

// ParsePlatformKind converts a string to a PlatformKind.
// GOOS names are accepted as well, so "linux" and "darwin" map to
// PlatformOther.
func ParsePlatformKind(s string) (PlatformKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows", "win", "win32":
		return PlatformWindows, nil
	case "other", "linux", "darwin", "freebsd":
		return PlatformOther, nil
	default:
		return "", fmt.Errorf("invalid platform: %q (valid: windows, other)", s)
	}
}

// PlatformFromGOOS maps a Go GOOS value to a PlatformKind.
func PlatformFromGOOS(goos string) PlatformKind {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformOther
}

// CurrentPlatform returns the PlatformKind of the running binary.
func CurrentPlatform() PlatformKind {
	return PlatformFromGOOS(runtime.GOOS)
}

// Pin is an exact package requirement, rendered as "name==version" on
// the pip command line.
type Pin struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String returns the pip requirement form of the pin.
func (p Pin) String() string {
	return p.Name + "==" + p.Version
}

// ParsePin parses "name==version". Any other operator is rejected, since
// the runtime set only works with exact pins.
func ParsePin(s string) (Pin, error) {
	name, version, ok := strings.Cut(strings.TrimSpace(s), "==")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if !ok || name == "" || version == "" {
		return Pin{}, fmt.Errorf("invalid pin %q: expected name==version", s)
	}
	return Pin{Name: name, Version: version}, nil
}

// RuntimeLibrarySpec is the pinned tensor-library set for one platform.
//
// The extension wheel is prebuilt against one exact tensor-library build,
// so the tuple must stay internally consistent: see
// runtimelib.CheckCompatibility for the relation that is enforced.
type RuntimeLibrarySpec struct {
	// Tensor is the tensor library pin (e.g. torch==2.7.0+cu128).
	Tensor Pin `json:"tensor" yaml:"tensor"`

	// Companions are installed in the same pip call as Tensor and must
	// share its build identifier.
	Companions []Pin `json:"companions,omitempty" yaml:"companions,omitempty"`

	// IndexURL replaces the default package index when set.
	IndexURL string `json:"indexUrl,omitempty" yaml:"indexUrl,omitempty"`

	// ExtensionWheel is a direct URL (or path) to the attention-extension
	// wheel. Empty means the platform has no extension step.
	ExtensionWheel string `json:"extensionWheel,omitempty" yaml:"extensionWheel,omitempty"`

	// Uninstall lists packages removed before the pinned install so that
	// stale variants cannot shadow the pinned build.
	Uninstall []string `json:"uninstall,omitempty" yaml:"uninstall,omitempty"`
}

// Pins returns the tensor pin followed by its companions.
func (s RuntimeLibrarySpec) Pins() []Pin {
	pins := make([]Pin, 0, len(s.Companions)+1)
	pins = append(pins, s.Tensor)
	return append(pins, s.Companions...)
}

// HasExtension reports whether the spec installs an extension wheel.
func (s RuntimeLibrarySpec) HasExtension() bool {
	return s.ExtensionWheel != ""
}
