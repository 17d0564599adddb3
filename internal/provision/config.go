package provision

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runtimelib"
	"github.com/shinji-kodama/hidream-installer/internal/venv"
)

const (
	// DefaultRepoURL is the application repository cloned by default.
	DefaultRepoURL = "https://github.com/DevNullInc/HiDream-I1"

	DefaultBranch      = "main"
	DefaultAppDirName  = "app"
	DefaultEnvDirName  = "env"
	DefaultBasePython  = "python"
	DefaultNextCommand = "start.js"
	DefaultAppName     = "HiDream-I1"
)

// Config is the explicit input of a provisioning run. It is built once at
// program entry (flags, environment, config file) and never read from
// process-global state afterwards.
type Config struct {
	// WorkDir holds the app and env subdirectories.
	WorkDir string

	// AppDirName and EnvDirName are the subdirectory names under WorkDir.
	AppDirName string
	EnvDirName string

	// RepoURL is the application repository.
	RepoURL string

	// Branch is the remote branch an existing checkout is reset to.
	Branch string

	// BasePython creates the virtual environment.
	BasePython string

	// Platform selects the runtime-library set and the env layout.
	Platform model.PlatformKind

	// Runtime is the runtime-library table.
	Runtime runtimelib.Table

	// WheelURL overrides the extension wheel of the platform's spec. It
	// is ignored on platforms without an extension step.
	WheelURL string

	// AppName and NextCommand are used in the success banner.
	AppName     string
	NextCommand string
}

// DefaultConfig returns a configuration that provisions into the current
// directory for the running platform.
func DefaultConfig() Config {
	return Config{
		WorkDir:     ".",
		AppDirName:  DefaultAppDirName,
		EnvDirName:  DefaultEnvDirName,
		RepoURL:     DefaultRepoURL,
		Branch:      DefaultBranch,
		BasePython:  DefaultBasePython,
		Platform:    model.CurrentPlatform(),
		Runtime:     runtimelib.Default(),
		AppName:     DefaultAppName,
		NextCommand: DefaultNextCommand,
	}
}

// AppDir returns the checkout directory.
func (c Config) AppDir() string {
	return filepath.Join(c.WorkDir, c.AppDirName)
}

// EnvDir returns the virtual environment directory.
func (c Config) EnvDir() string {
	return filepath.Join(c.WorkDir, c.EnvDirName)
}

// Layout returns the environment layout for the configured platform.
func (c Config) Layout() venv.Layout {
	return venv.Layout{Platform: c.Platform, Dir: c.EnvDir()}
}

// RuntimeSpec returns the platform's runtime-library spec with the wheel
// override applied.
func (c Config) RuntimeSpec() (model.RuntimeLibrarySpec, error) {
	spec, err := c.Runtime.Lookup(c.Platform)
	if err != nil {
		return model.RuntimeLibrarySpec{}, err
	}
	if c.WheelURL != "" && spec.HasExtension() {
		spec.ExtensionWheel = c.WheelURL
	}
	return spec, nil
}

// Validate rejects configurations that cannot produce a working
// environment. An extension reference whose build cannot be identified is
// accepted (direct download links may be opaque); the caller is expected
// to warn about it.
func (c Config) Validate() error {
	var problems []string
	for name, v := range map[string]string{
		"workdir":  c.WorkDir,
		"app dir":  c.AppDirName,
		"env dir":  c.EnvDirName,
		"repo URL": c.RepoURL,
		"branch":   c.Branch,
		"python":   c.BasePython,
	} {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, name+" must not be empty")
		}
	}
	if c.AppDirName == c.EnvDirName && c.AppDirName != "" {
		problems = append(problems, "app dir and env dir must differ")
	}
	if !c.Platform.IsValid() {
		problems = append(problems, fmt.Sprintf("invalid platform %q", c.Platform))
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	spec, err := c.RuntimeSpec()
	if err != nil {
		return err
	}
	if err := runtimelib.CheckCompatibility(spec); err != nil && !errors.Is(err, runtimelib.ErrOpaqueWheel) {
		return fmt.Errorf("runtime library set for %s: %w", c.Platform, err)
	}
	return nil
}
