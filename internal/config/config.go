// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for mailwatch-go. It supports a
// four-layer override chain (defaults -> config file -> environment ->
// CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML
// file.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ProviderConfig holds the OAuth application credentials and the
// Pub/Sub topic the provider pushes change notifications to.
type ProviderConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	PubsubTopic  string `toml:"pubsub_topic"`
}

// EngineConfig controls the lifecycle engine's timing. Durations are
// strings ("5m", "24h") parsed during validation.
type EngineConfig struct {
	TickInterval      string `toml:"tick_interval"`
	RefreshLeadTime   string `toml:"refresh_lead_time"`
	RenewalLeadTime   string `toml:"renewal_lead_time"`
	TokenSafetyMargin string `toml:"token_safety_margin"`
	DedupWindow       string `toml:"dedup_window"`
	Workers           int    `toml:"workers"`
}

// ServerConfig controls the HTTP intake and operations API.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// StorageConfig controls where the SQLite state database lives.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file
// and environment settings. Pointer fields distinguish "not specified"
// (nil) from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ListenAddr *string // --listen flag
	DBPath     *string // --db flag
	LogLevel   *string // --verbose / --quiet mapped to a level
}
