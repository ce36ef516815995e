// Package config provides configuration management for superdash using Viper.
// The configuration document is JSON with two top-level sections: "settings"
// (global behaviour) and "servers" (the device fleet). Optional "logging",
// "http", and "report" sections tune the ambient runtime.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/superdash/superdash/internal/device"
)

// Default configuration values.
const (
	defaultFramerate       = 25.0
	defaultUpdateInterval  = 1000
	defaultWebSocketPort   = 8080
	defaultHTTPPort        = 8090
	defaultEmberPlusPort   = 9000
	defaultTSLScreen       = 0
	defaultVMixPollMs      = 500
	defaultCasparStaleMs   = 5000
	defaultCasparChannel   = 1
	defaultCasparLayer     = 10
	defaultReportSchedule  = "0 0 * * * *"
	maxPort                = 65535
)

// Config holds all configuration for the application.
type Config struct {
	Settings Settings        `mapstructure:"settings" json:"settings"`
	Servers  []device.Config `mapstructure:"servers" json:"servers"`
	Logging  LoggingConfig   `mapstructure:"logging" json:"-"`
	HTTP     HTTPConfig      `mapstructure:"http" json:"-"`
	Report   ReportConfig    `mapstructure:"report" json:"-"`
}

// Settings holds the global aggregator settings.
type Settings struct {
	DefaultFramerate float64 `mapstructure:"defaultFramerate" json:"defaultFramerate"`

	// UpdateIntervalMs is the WebSocket snapshot broadcast period.
	UpdateIntervalMs int `mapstructure:"updateIntervalMs" json:"updateIntervalMs"`

	WebSocketPort int          `mapstructure:"webSocketPort" json:"webSocketPort"`
	DefaultPorts  DefaultPorts `mapstructure:"defaultPorts" json:"defaultPorts"`

	// EmberPlusHost selects the interface the Ember+ provider binds to.
	// Empty binds all interfaces.
	EmberPlusHost string `mapstructure:"emberPlusHost" json:"emberPlusHost,omitempty"`
	EmberPlusPort int    `mapstructure:"emberPlusPort" json:"emberPlusPort"`

	TSLUMDDestinations []Destination `mapstructure:"tslUmdDestinations" json:"tslUmdDestinations"`
	TSLUMDScreen       int           `mapstructure:"tslUmdScreen" json:"tslUmdScreen"`

	// VMixPollIntervalMs is the vMix HTTP polling period.
	VMixPollIntervalMs int `mapstructure:"vmixPollIntervalMs" json:"vmixPollIntervalMs"`

	// CasparCGStaleTimeoutMs disconnects a CasparCG device that has pushed
	// no OSC traffic for this long.
	CasparCGStaleTimeoutMs int `mapstructure:"casparcgStaleTimeoutMs" json:"casparcgStaleTimeoutMs"`
}

// DefaultPorts holds the per-type fallback control ports.
type DefaultPorts struct {
	HyperDeck int `mapstructure:"hyperdeck" json:"hyperdeck"`
	VMix      int `mapstructure:"vmix" json:"vmix"`
	CasparCG  int `mapstructure:"casparcg" json:"casparcg"`
}

// ForType returns the default port for a device type.
func (p DefaultPorts) ForType(t device.Type) int {
	switch t {
	case device.TypeHyperDeck:
		return p.HyperDeck
	case device.TypeVMix:
		return p.VMix
	case device.TypeCasparCG:
		return p.CasparCG
	}
	return 0
}

// Destination is one TSL UMD UDP target.
type Destination struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Addr returns the host:port send string for the destination.
func (d Destination) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HTTPConfig holds the REST/health/static HTTP server configuration.
type HTTPConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// Address returns the server address in host:port format.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReportConfig holds the scheduled availability report configuration.
type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with SUPERDASH_, using underscores for nesting.
// Example: SUPERDASH_SETTINGS_WEBSOCKETPORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/superdash")
		v.AddConfigPath("$HOME/.superdash")
	}

	v.SetEnvPrefix("SUPERDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file means no devices, which Validate rejects below;
		// surface the friendlier cause instead.
		return nil, fmt.Errorf("no configuration file found: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("settings.defaultFramerate", defaultFramerate)
	v.SetDefault("settings.updateIntervalMs", defaultUpdateInterval)
	v.SetDefault("settings.webSocketPort", defaultWebSocketPort)
	v.SetDefault("settings.defaultPorts.hyperdeck", device.TypeHyperDeck.DefaultPort())
	v.SetDefault("settings.defaultPorts.vmix", device.TypeVMix.DefaultPort())
	v.SetDefault("settings.defaultPorts.casparcg", device.TypeCasparCG.DefaultPort())
	v.SetDefault("settings.emberPlusHost", "")
	v.SetDefault("settings.emberPlusPort", defaultEmberPlusPort)
	v.SetDefault("settings.tslUmdScreen", defaultTSLScreen)
	v.SetDefault("settings.vmixPollIntervalMs", defaultVMixPollMs)
	v.SetDefault("settings.casparcgStaleTimeoutMs", defaultCasparStaleMs)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", defaultHTTPPort)
	v.SetDefault("http.static_dir", "")

	v.SetDefault("report.enabled", false)
	v.SetDefault("report.cron", defaultReportSchedule)
}

// Normalize resolves per-device defaults (port by type, framerate, CasparCG
// channel/layer) so the rest of the system never sees zero values.
func (c *Config) Normalize() {
	for i := range c.Servers {
		srv := &c.Servers[i]
		if srv.Port == 0 {
			srv.Port = c.Settings.DefaultPorts.ForType(srv.Type)
		}
		if srv.Framerate == 0 {
			srv.Framerate = c.Settings.DefaultFramerate
		}
		if srv.Type == device.TypeCasparCG {
			if srv.Channel == 0 {
				srv.Channel = defaultCasparChannel
			}
			if srv.Layer == 0 {
				srv.Layer = defaultCasparLayer
			}
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Settings.DefaultFramerate <= 0 {
		return fmt.Errorf("settings.defaultFramerate must be positive")
	}
	if c.Settings.UpdateIntervalMs < 1 {
		return fmt.Errorf("settings.updateIntervalMs must be at least 1")
	}
	if err := validPort("settings.webSocketPort", c.Settings.WebSocketPort); err != nil {
		return err
	}
	if err := validPort("settings.emberPlusPort", c.Settings.EmberPlusPort); err != nil {
		return err
	}
	if err := validPort("http.port", c.HTTP.Port); err != nil {
		return err
	}
	if c.Settings.VMixPollIntervalMs < 1 {
		return fmt.Errorf("settings.vmixPollIntervalMs must be at least 1")
	}
	if c.Settings.CasparCGStaleTimeoutMs < 1 {
		return fmt.Errorf("settings.casparcgStaleTimeoutMs must be at least 1")
	}

	for i, dst := range c.Settings.TSLUMDDestinations {
		if dst.Host == "" {
			return fmt.Errorf("settings.tslUmdDestinations[%d].host is required", i)
		}
		if err := validPort(fmt.Sprintf("settings.tslUmdDestinations[%d].port", i), dst.Port); err != nil {
			return err
		}
	}
	if c.Settings.TSLUMDScreen < 0 || c.Settings.TSLUMDScreen > 0xFFFE {
		return fmt.Errorf("settings.tslUmdScreen must be in 0..65534")
	}

	if len(c.Servers) == 0 {
		return fmt.Errorf("servers: at least one device is required")
	}

	seen := make(map[int]string, len(c.Servers))
	for i, srv := range c.Servers {
		where := fmt.Sprintf("servers[%d]", i)
		if !srv.Type.Valid() {
			return fmt.Errorf("%s.type %q must be one of: hyperdeck, vmix, casparcg", where, srv.Type)
		}
		if srv.Name == "" {
			return fmt.Errorf("%s.name is required", where)
		}
		if srv.IP == "" {
			return fmt.Errorf("%s.ip is required", where)
		}
		// Device ids double as TSL display indexes and must stay clear of
		// the reserved broadcast index.
		if srv.ID < 0 || srv.ID >= device.BroadcastDisplayIndex {
			return fmt.Errorf("%s.id must be in 0..%d", where, device.BroadcastDisplayIndex-1)
		}
		if prev, dup := seen[srv.ID]; dup {
			return fmt.Errorf("%s.id %d already used by %s", where, srv.ID, prev)
		}
		seen[srv.ID] = srv.Name
		if err := validPort(where+".port", srv.Port); err != nil {
			return err
		}
		if srv.Framerate <= 0 {
			return fmt.Errorf("%s.framerate must be positive", where)
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > maxPort {
		return fmt.Errorf("%s must be between 1 and %d", name, maxPort)
	}
	return nil
}
