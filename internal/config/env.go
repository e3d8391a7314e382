package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "MAILWATCH_CONFIG"
	EnvClientID     = "MAILWATCH_CLIENT_ID"
	EnvClientSecret = "MAILWATCH_CLIENT_SECRET"
	EnvPubsubTopic  = "MAILWATCH_PUBSUB_TOPIC"
	EnvListenAddr   = "MAILWATCH_LISTEN_ADDR"
	EnvDBPath       = "MAILWATCH_DB_PATH"
	EnvLogLevel     = "MAILWATCH_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
// Credentials commonly arrive this way so they stay out of the config
// file on shared machines.
type EnvOverrides struct {
	ConfigPath   string
	ClientID     string
	ClientSecret string
	PubsubTopic  string
	ListenAddr   string
	DBPath       string
	LogLevel     string
}

// ReadEnvOverrides reads environment variables and returns any
// overrides found. This does not modify the Config; Resolve applies
// the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		PubsubTopic:  os.Getenv(EnvPubsubTopic),
		ListenAddr:   os.Getenv(EnvListenAddr),
		DBPath:       os.Getenv(EnvDBPath),
		LogLevel:     os.Getenv(EnvLogLevel),
	}
}
