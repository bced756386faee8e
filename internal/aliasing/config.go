package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mfgtest/orchestrator/internal/config"
)

type (
	// FieldAlias maps one legacy field spelling to its canonical form.
	// Legacy supports the {variable}/{variable*} pattern syntax described
	// on Resolver, for plans that embed a channel number in
	// the switch_mode string (e.g. "relay_{channel}").
	FieldAlias struct {
		Legacy    string `yaml:"legacy"`
		Canonical string `yaml:"canonical"`
	}

	// Config holds the legacy field-normalization rules loaded from
	// .orchestrator.yaml (spec.md §9).
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		SwitchModeAliases []FieldAlias `yaml:"switch_mode_aliases"`
		//nolint:tagliatelle
		CommandAliases []FieldAlias `yaml:"command_aliases"`
	}
)

const (
	// DefaultConfigPath is the default location for field-alias rules.
	DefaultConfigPath = ".orchestrator.yaml"

	// ConfigPathEnvVar is the environment variable name for a custom config path.
	ConfigPathEnvVar = "ORCHESTRATOR_ALIAS_CONFIG_PATH"
)

// LoadConfig loads field-alias rules from a YAML file at path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		SwitchModeAliases: []FieldAlias{},
		CommandAliases:    []FieldAlias{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("aliasing: config file not found, continuing without aliases", slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("aliasing: failed to read config file, continuing without aliases",
			slog.String("path", path), slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("aliasing: failed to parse config file, continuing without aliases",
			slog.String("path", path), slog.String("error", err.Error()))

		return &Config{SwitchModeAliases: []FieldAlias{}, CommandAliases: []FieldAlias{}}, nil
	}

	if cfg.SwitchModeAliases == nil {
		cfg.SwitchModeAliases = []FieldAlias{}
	}

	if cfg.CommandAliases == nil {
		cfg.CommandAliases = []FieldAlias{}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path in ORCHESTRATOR_ALIAS_CONFIG_PATH,
// falling back to ".orchestrator.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
