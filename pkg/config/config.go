package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Persistence driver names.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverProxy  = "proxy"
)

// Config captures hub-level configuration knobs. Feature packages (syncer,
// storage drivers, transport) pull from these nested structs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" json:"server" envPrefix:"SERVER_"`
	Persistence  PersistenceConfig  `mapstructure:"persistence" json:"persistence" envPrefix:"STORE_"`
	Localization LocalizationConfig `mapstructure:"localization" json:"localization" envPrefix:"L10N_"`
	Realtime     RealtimeConfig     `mapstructure:"realtime" json:"realtime" envPrefix:"WS_"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host" env:"HOST"`
	Port            int           `mapstructure:"port" json:"port" env:"PORT"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PersistenceConfig selects and configures the notification store backend.
type PersistenceConfig struct {
	// Driver is one of memory, sqlite, or proxy.
	Driver string `mapstructure:"driver" json:"driver" env:"DRIVER"`
	// DSN is the sqlite data source name.
	DSN string `mapstructure:"dsn" json:"dsn" env:"DSN"`
	// ProxyURL is the upstream controller endpoint for the proxy driver.
	ProxyURL     string        `mapstructure:"proxy_url" json:"proxy_url" env:"PROXY_URL"`
	ProxyTimeout time.Duration `mapstructure:"proxy_timeout" json:"proxy_timeout" env:"PROXY_TIMEOUT"`
}

// LocalizationConfig controls the relative-time locale and display zone.
type LocalizationConfig struct {
	Locale   string `mapstructure:"locale" json:"locale" env:"LOCALE"`
	Timezone string `mapstructure:"timezone" json:"timezone" env:"TIMEZONE"`
}

// RealtimeConfig tunes the websocket transport.
type RealtimeConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval" env:"PING_INTERVAL"`
	SendBuffer   int           `mapstructure:"send_buffer" json:"send_buffer" env:"SEND_BUFFER"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		Persistence: PersistenceConfig{
			Driver:       DriverMemory,
			DSN:          "file:notihub.db?cache=shared",
			ProxyTimeout: 10 * time.Second,
		},
		Localization: LocalizationConfig{
			Locale:   "es",
			Timezone: "America/Lima",
		},
		Realtime: RealtimeConfig{
			PingInterval: 30 * time.Second,
			SendBuffer:   16,
		},
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	switch c.Persistence.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Persistence.DSN == "" {
			return errors.New("persistence.dsn is required for the sqlite driver")
		}
	case DriverProxy:
		if c.Persistence.ProxyURL == "" {
			return errors.New("persistence.proxy_url is required for the proxy driver")
		}
	default:
		return fmt.Errorf("persistence.driver must be one of %s, %s, %s", DriverMemory, DriverSQLite, DriverProxy)
	}
	if c.Localization.Locale == "" {
		return errors.New("localization.locale is required")
	}
	if c.Localization.Timezone == "" {
		return errors.New("localization.timezone is required")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be > 0")
	}
	return nil
}

// Load decodes arbitrary input (struct, map, cfg struct) using cfgx helpers.
// While cfgx.Build still returns zero values, we fallback to a lightweight
// decoder to keep smoke tests meaningful. Once cfgx is fully implemented we
// can drop the fallback.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = defaults.Persistence.Driver
	}
	if c.Persistence.DSN == "" {
		c.Persistence.DSN = defaults.Persistence.DSN
	}
	if c.Persistence.ProxyTimeout == 0 {
		c.Persistence.ProxyTimeout = defaults.Persistence.ProxyTimeout
	}
	if c.Localization.Locale == "" {
		c.Localization.Locale = defaults.Localization.Locale
	}
	if c.Localization.Timezone == "" {
		c.Localization.Timezone = defaults.Localization.Timezone
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = defaults.Realtime.PingInterval
	}
	if c.Realtime.SendBuffer == 0 {
		c.Realtime.SendBuffer = defaults.Realtime.SendBuffer
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}
