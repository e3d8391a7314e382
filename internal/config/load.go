package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file without validating it.
// Unknown keys are fatal with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. Credentials can
// then arrive entirely through the environment.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// CLI flags always win, matching user expectations for one-off
// overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, env)
	applyCLIOverrides(cfg, cli)

	resolved, err := Validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

func applyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.ClientID != "" {
		cfg.Provider.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.Provider.ClientSecret = env.ClientSecret
	}

	if env.PubsubTopic != "" {
		cfg.Provider.PubsubTopic = env.PubsubTopic
	}

	if env.ListenAddr != "" {
		cfg.Server.ListenAddr = env.ListenAddr
	}

	if env.DBPath != "" {
		cfg.Storage.DBPath = env.DBPath
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}
}

func applyCLIOverrides(cfg *Config, cli CLIOverrides) {
	if cli.ListenAddr != nil {
		cfg.Server.ListenAddr = *cli.ListenAddr
	}

	if cli.DBPath != nil {
		cfg.Storage.DBPath = *cli.DBPath
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}
}
