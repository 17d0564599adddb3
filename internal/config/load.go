package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/provision"
)

// Environment variables read by Load.
const (
	EnvRepo     = "HIDREAM_REPO"
	EnvWheelURL = "HIDREAM_FLASH_ATTN_WHEEL"
)

// Viper keys. The first group doubles as flag names; the second can only
// be set from a config file.
const (
	KeyWorkDir  = "workdir"
	KeyRepo     = "repo"
	KeyBranch   = "branch"
	KeyWheelURL = "wheel-url"
	KeyPython   = "python"
	KeyPlatform = "platform"
	KeyConfig   = "config"

	KeyAppDir      = "app-dir"
	KeyEnvDir      = "env-dir"
	KeyAppName     = "app-name"
	KeyNextCommand = "next-command"
)

var flagKeys = []string{KeyWorkDir, KeyRepo, KeyBranch, KeyWheelURL, KeyPython, KeyPlatform, KeyConfig}

// Register adds the provisioning flags to fs. With no keys every flag is
// registered; otherwise only the named ones.
func Register(fs *pflag.FlagSet, keys ...string) {
	if len(keys) == 0 {
		keys = flagKeys
	}
	def := provision.DefaultConfig()
	usage := map[string]struct {
		value string
		help  string
	}{
		KeyWorkDir:  {def.WorkDir, "directory that holds the app checkout and the env"},
		KeyRepo:     {def.RepoURL, "application repository URL (env " + EnvRepo + ")"},
		KeyBranch:   {def.Branch, "remote branch an existing checkout is reset to"},
		KeyWheelURL: {"", "extension wheel URL override (env " + EnvWheelURL + ")"},
		KeyPython:   {def.BasePython, "base interpreter used to create the environment"},
		KeyPlatform: {"", "platform runtime set: windows or other (default: detected)"},
		KeyConfig:   {"", "config file (.yaml, .yml, .json, .jsonc or .toml)"},
	}
	for _, key := range keys {
		if u, ok := usage[key]; ok {
			fs.String(key, u.value, u.help)
		}
	}
}

// Load resolves the configuration from fs, the environment and the config
// file named by --config. Flags absent from fs are simply not consulted.
// Errors are *model.CLIError values with ExitConfigInvalid.
func Load(fs *pflag.FlagSet) (provision.Config, error) {
	cfg, err := load(fs)
	if err != nil {
		return provision.Config{}, model.WrapCLIError(model.ExitConfigInvalid, "invalid configuration", err)
	}
	return cfg, nil
}

func load(fs *pflag.FlagSet) (provision.Config, error) {
	cfg := provision.DefaultConfig()

	v := viper.New()
	v.SetDefault(KeyWorkDir, cfg.WorkDir)
	v.SetDefault(KeyAppDir, cfg.AppDirName)
	v.SetDefault(KeyEnvDir, cfg.EnvDirName)
	v.SetDefault(KeyRepo, cfg.RepoURL)
	v.SetDefault(KeyBranch, cfg.Branch)
	v.SetDefault(KeyPython, cfg.BasePython)
	v.SetDefault(KeyAppName, cfg.AppName)
	v.SetDefault(KeyNextCommand, cfg.NextCommand)

	if fs != nil {
		for _, key := range flagKeys {
			if flag := fs.Lookup(key); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return cfg, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}
	if err := v.BindEnv(KeyRepo, EnvRepo); err != nil {
		return cfg, err
	}
	if err := v.BindEnv(KeyWheelURL, EnvWheelURL); err != nil {
		return cfg, err
	}

	var file *File
	if path := v.GetString(KeyConfig); path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := v.MergeConfigMap(f.settings()); err != nil {
			return cfg, fmt.Errorf("merge config file %s: %w", path, err)
		}
		file = f
	}

	workDir, err := filepath.Abs(v.GetString(KeyWorkDir))
	if err != nil {
		return cfg, fmt.Errorf("resolve workdir: %w", err)
	}
	cfg.WorkDir = workDir
	cfg.AppDirName = v.GetString(KeyAppDir)
	cfg.EnvDirName = v.GetString(KeyEnvDir)
	cfg.RepoURL = v.GetString(KeyRepo)
	cfg.Branch = v.GetString(KeyBranch)
	cfg.BasePython = v.GetString(KeyPython)
	cfg.WheelURL = v.GetString(KeyWheelURL)
	cfg.AppName = v.GetString(KeyAppName)
	cfg.NextCommand = v.GetString(KeyNextCommand)

	if raw := v.GetString(KeyPlatform); raw != "" {
		platform, err := model.ParsePlatformKind(raw)
		if err != nil {
			return cfg, err
		}
		cfg.Platform = platform
	}

	if file != nil && len(file.Runtime) > 0 {
		table, err := ApplyRuntime(cfg.Runtime, file.Runtime)
		if err != nil {
			return cfg, err
		}
		cfg.Runtime = table
	}

	return cfg, nil
}
