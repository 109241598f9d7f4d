package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	"github.com/goliatone/go-integrations/core"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	Prefix          string        `koanf:"prefix" mapstructure:"prefix"`
	MetricsPath     string        `koanf:"metrics_path" mapstructure:"metrics_path"`
	ReadTimeout     time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type SecurityConfig struct {
	AppKey     string `koanf:"app_key" mapstructure:"app_key"`
	KeyID      string `koanf:"key_id" mapstructure:"key_id"`
	KeyVersion int    `koanf:"key_version" mapstructure:"key_version"`
}

type LogConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Pretty bool   `koanf:"pretty" mapstructure:"pretty"`
}

type SchedulerConfig struct {
	Enabled bool `koanf:"enabled" mapstructure:"enabled"`
}

// Config is the daemon configuration. Integrations carries the service
// config; the other sections only matter to this process.
type Config struct {
	Integrations core.Config           `koanf:"integrations" mapstructure:"integrations"`
	Persistence  sqlstore.ClientConfig `koanf:"persistence" mapstructure:"persistence"`
	HTTP         HTTPConfig            `koanf:"http" mapstructure:"http"`
	Cache        CacheConfig           `koanf:"cache" mapstructure:"cache"`
	Security     SecurityConfig        `koanf:"security" mapstructure:"security"`
	Log          LogConfig             `koanf:"log" mapstructure:"log"`
	Scheduler    SchedulerConfig       `koanf:"scheduler" mapstructure:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		Integrations: core.DefaultConfig(),
		Persistence: sqlstore.ClientConfig{
			Driver:      sqlstore.DriverSQLite,
			DSN:         "file:integrations.db?cache=shared&_fk=1",
			PingTimeout: 5 * time.Second,
			Migrate:     true,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			Prefix:          "/integrations",
			MetricsPath:     "/metrics",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache:     CacheConfig{Enabled: true, TTL: time.Minute},
		Security:  SecurityConfig{KeyID: "app-key", KeyVersion: 1},
		Log:       LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{Enabled: true},
	}
}

// envOverrides maps environment variables onto config paths. Secrets are
// expected to come from the environment rather than the file.
var envOverrides = map[string]string{
	"INTEGRATIONS_STATE_SECRET":             "integrations.state_secret",
	"INTEGRATIONS_MOCK_MODE":                "integrations.mock_mode",
	"INTEGRATIONS_APP_KEY":                  "security.app_key",
	"INTEGRATIONS_DATABASE_DRIVER":          "persistence.driver",
	"INTEGRATIONS_DATABASE_DSN":             "persistence.dsn",
	"INTEGRATIONS_HTTP_ADDR":                "http.addr",
	"INTEGRATIONS_LOG_LEVEL":                "log.level",
	"INTEGRATIONS_ERP_CLIENT_ID":            "integrations.providers.erp.client_id",
	"INTEGRATIONS_ERP_CLIENT_SECRET":        "integrations.providers.erp.client_secret",
	"INTEGRATIONS_ERP_REDIRECT_URI":         "integrations.providers.erp.redirect_uri",
	"INTEGRATIONS_CALENDAR_A_CLIENT_ID":     "integrations.providers.calendar_a.client_id",
	"INTEGRATIONS_CALENDAR_A_CLIENT_SECRET": "integrations.providers.calendar_a.client_secret",
	"INTEGRATIONS_CALENDAR_A_REDIRECT_URI":  "integrations.providers.calendar_a.redirect_uri",
	"INTEGRATIONS_CALENDAR_B_CLIENT_ID":     "integrations.providers.calendar_b.client_id",
	"INTEGRATIONS_CALENDAR_B_CLIENT_SECRET": "integrations.providers.calendar_b.client_secret",
	"INTEGRATIONS_CALENDAR_B_REDIRECT_URI":  "integrations.providers.calendar_b.redirect_uri",
}

// loadConfig reads the optional YAML file at path, applies environment
// overrides and decodes the result over the defaults.
func loadConfig(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	for env, key := range envOverrides {
		if value, ok := lookupEnv(env); ok && strings.TrimSpace(value) != "" {
			setPath(raw, key, envValue(value))
		}
	}

	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaultConfig()),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Integrations.StateSecret) == "" {
		return fmt.Errorf("integrations.state_secret is required")
	}
	if strings.TrimSpace(c.Persistence.DSN) == "" {
		return fmt.Errorf("persistence.dsn is required")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	return c.Integrations.Validate()
}

func setPath(raw map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func envValue(value string) any {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
