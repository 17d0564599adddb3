// Package config builds a provision.Config from command-line flags,
// environment variables and an optional config file.
//
// Precedence follows the usual viper layering: an explicitly set flag wins
// over an environment variable, which wins over the config file, which
// wins over the built-in defaults.
//
// Config files are decoded according to their extension:
//   - .yaml / .yml with gopkg.in/yaml.v3
//   - .json / .jsonc with github.com/tidwall/jsonc (comments and trailing
//     commas stripped) followed by encoding/json
//   - .toml with github.com/BurntSushi/toml
//
// Unknown keys are rejected in every format, so a typo in a pin override
// fails loudly instead of silently provisioning the default build.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runtimelib"
)

// File is the on-disk configuration. Every field is optional; empty
// fields leave the lower-precedence value in place.
type File struct {
	WorkDir     string `yaml:"workdir" json:"workdir" toml:"workdir"`
	AppDir      string `yaml:"app_dir" json:"app_dir" toml:"app_dir"`
	EnvDir      string `yaml:"env_dir" json:"env_dir" toml:"env_dir"`
	Repo        string `yaml:"repo" json:"repo" toml:"repo"`
	Branch      string `yaml:"branch" json:"branch" toml:"branch"`
	Python      string `yaml:"python" json:"python" toml:"python"`
	Platform    string `yaml:"platform" json:"platform" toml:"platform"`
	WheelURL    string `yaml:"wheel_url" json:"wheel_url" toml:"wheel_url"`
	AppName     string `yaml:"app_name" json:"app_name" toml:"app_name"`
	NextCommand string `yaml:"next_command" json:"next_command" toml:"next_command"`

	// Runtime overrides the runtime-library table, keyed by platform
	// name ("windows", "other", or an alias such as "linux").
	Runtime map[string]RuntimeOverride `yaml:"runtime" json:"runtime" toml:"runtime"`
}

// RuntimeOverride replaces parts of one platform's runtime-library spec.
// Pins are written in requirement form ("torch==2.7.0+cu128").
type RuntimeOverride struct {
	Tensor         string   `yaml:"tensor" json:"tensor" toml:"tensor"`
	Companions     []string `yaml:"companions" json:"companions" toml:"companions"`
	IndexURL       string   `yaml:"index_url" json:"index_url" toml:"index_url"`
	ExtensionWheel string   `yaml:"extension_wheel" json:"extension_wheel" toml:"extension_wheel"`
	Uninstall      []string `yaml:"uninstall" json:"uninstall" toml:"uninstall"`
}

// ReadFile reads and decodes a config file, choosing the decoder from the
// file extension.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to io.EOF; treat it as an empty config.
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("failed to parse %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, .json, .jsonc or .toml)", ext)
	}

	return &f, nil
}

// settings returns the scalar fields that are set, keyed by their viper
// key, ready for viper.MergeConfigMap.
func (f *File) settings() map[string]any {
	out := make(map[string]any)
	for key, v := range map[string]string{
		KeyWorkDir:     f.WorkDir,
		KeyAppDir:      f.AppDir,
		KeyEnvDir:      f.EnvDir,
		KeyRepo:        f.Repo,
		KeyBranch:      f.Branch,
		KeyPython:      f.Python,
		KeyPlatform:    f.Platform,
		KeyWheelURL:    f.WheelURL,
		KeyAppName:     f.AppName,
		KeyNextCommand: f.NextCommand,
	} {
		if v != "" {
			out[key] = v
		}
	}
	return out
}

// ApplyRuntime returns a copy of table with the overrides applied. A
// platform missing from table starts from an empty spec. Every platform of
// the result is checked for build compatibility.
func ApplyRuntime(table runtimelib.Table, overrides map[string]RuntimeOverride) (runtimelib.Table, error) {
	out := table.Clone()

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		o := overrides[name]
		platform, err := model.ParsePlatformKind(name)
		if err != nil {
			return nil, fmt.Errorf("runtime override: %w", err)
		}

		spec := out[platform]
		if o.Tensor != "" {
			pin, err := model.ParsePin(o.Tensor)
			if err != nil {
				return nil, fmt.Errorf("runtime override for %s: %w", platform, err)
			}
			spec.Tensor = pin
		}
		if o.Companions != nil {
			spec.Companions = make([]model.Pin, 0, len(o.Companions))
			for _, raw := range o.Companions {
				pin, err := model.ParsePin(raw)
				if err != nil {
					return nil, fmt.Errorf("runtime override for %s: %w", platform, err)
				}
				spec.Companions = append(spec.Companions, pin)
			}
		}
		if o.IndexURL != "" {
			spec.IndexURL = o.IndexURL
		}
		if o.ExtensionWheel != "" {
			spec.ExtensionWheel = o.ExtensionWheel
		}
		if o.Uninstall != nil {
			spec.Uninstall = slices.Clone(o.Uninstall)
		}
		out[platform] = spec
	}

	// Unidentifiable extension builds pass here; the provisioner warns
	// about them when the platform is selected.
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("runtime override: %w", err)
	}
	return out, nil
}
