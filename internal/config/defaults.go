package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file, except for the
// provider credentials which have no sensible default.
const (
	defaultTickInterval    = "1m"
	defaultRefreshLead     = "10m"
	defaultRenewalLead     = "24h"
	defaultSafetyMargin    = "5m"
	defaultDedupWindow     = "1h"
	defaultWorkers         = 4
	defaultListenAddr      = "127.0.0.1:8470"
	defaultShutdownTimeout = "30s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultDBFileName      = "mailwatch.db"
)

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			TickInterval:      defaultTickInterval,
			RefreshLeadTime:   defaultRefreshLead,
			RenewalLeadTime:   defaultRenewalLead,
			TokenSafetyMargin: defaultSafetyMargin,
			DedupWindow:       defaultDedupWindow,
			Workers:           defaultWorkers,
		},
		Server: ServerConfig{
			ListenAddr:      defaultListenAddr,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath(),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// DefaultDBPath returns the default state database location under the
// platform data directory.
func DefaultDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return defaultDBFileName
	}

	return filepath.Join(dir, defaultDBFileName)
}
