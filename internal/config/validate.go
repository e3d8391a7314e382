package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Resolved is the fully parsed configuration the rest of the program
// consumes: durations as time.Duration, every field validated.
type Resolved struct {
	Provider ProviderConfig

	TickInterval      time.Duration
	RefreshLeadTime   time.Duration
	RenewalLeadTime   time.Duration
	TokenSafetyMargin time.Duration
	DedupWindow       time.Duration
	Workers           int

	ListenAddr      string
	ShutdownTimeout time.Duration

	DBPath string

	LogLevel  string
	LogFormat string
}

// Valid log levels and formats.
var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks the configuration and returns its resolved form.
// Every error names the offending section-qualified key so a user can
// find it in the file.
func Validate(cfg *Config) (*Resolved, error) {
	var errs []error

	r := &Resolved{
		Provider:   cfg.Provider,
		Workers:    cfg.Engine.Workers,
		ListenAddr: cfg.Server.ListenAddr,
		DBPath:     cfg.Storage.DBPath,
		LogLevel:   strings.ToLower(cfg.Logging.LogLevel),
		LogFormat:  strings.ToLower(cfg.Logging.LogFormat),
	}

	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateEngine(&cfg.Engine, r)...)
	errs = append(errs, validateServer(&cfg.Server, r)...)

	if cfg.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path must not be empty"))
	}

	if !slices.Contains(validLogLevels, r.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level must be one of %v, got %q",
			validLogLevels, cfg.Logging.LogLevel))
	}

	if !slices.Contains(validLogFormats, r.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format must be one of %v, got %q",
			validLogFormats, cfg.Logging.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return r, nil
}

func validateProvider(p *ProviderConfig) []error {
	var errs []error

	if p.ClientID == "" {
		errs = append(errs, errors.New("provider.client_id is required"))
	}

	if p.ClientSecret == "" {
		errs = append(errs, errors.New("provider.client_secret is required"))
	}

	if p.PubsubTopic == "" {
		errs = append(errs, errors.New("provider.pubsub_topic is required"))
	}

	return errs
}

func validateEngine(e *EngineConfig, r *Resolved) []error {
	var errs []error

	for _, d := range []struct {
		key   string
		value string
		out   *time.Duration
	}{
		{"engine.tick_interval", e.TickInterval, &r.TickInterval},
		{"engine.refresh_lead_time", e.RefreshLeadTime, &r.RefreshLeadTime},
		{"engine.renewal_lead_time", e.RenewalLeadTime, &r.RenewalLeadTime},
		{"engine.token_safety_margin", e.TokenSafetyMargin, &r.TokenSafetyMargin},
		{"engine.dedup_window", e.DedupWindow, &r.DedupWindow},
	} {
		if err := parseDuration(d.key, d.value, d.out); err != nil {
			errs = append(errs, err)
		}
	}

	if e.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1, got %d", e.Workers))
	}

	// A missed renewal window is a silent coverage gap. The lead must
	// leave room for at least a few retry ticks before hard expiry.
	if r.RenewalLeadTime > 0 && r.TickInterval > 0 && r.RenewalLeadTime < 2*r.TickInterval {
		errs = append(errs, fmt.Errorf(
			"engine.renewal_lead_time (%s) must be at least twice engine.tick_interval (%s)",
			r.RenewalLeadTime, r.TickInterval))
	}

	return errs
}

func validateServer(s *ServerConfig, r *Resolved) []error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}

	if err := parseDuration("server.shutdown_timeout", s.ShutdownTimeout, &r.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func parseDuration(key, value string, out *time.Duration) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", key)
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, value)
	}

	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %q", key, value)
	}

	*out = d

	return nil
}
