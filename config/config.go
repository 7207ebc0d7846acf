package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/routesim/auth"
	"github.com/kilianp07/routesim/core/journal"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. ROUTESIM_TRANSPORT__URL.
const EnvPrefix = "ROUTESIM_"

type Config struct {
	Simulation    SimulationConfig    `json:"simulation"`
	Transport     TransportConfig     `json:"transport"`
	Notifications NotificationsConfig `json:"notifications"`
	Push          PushConfig          `json:"push"`
	Metrics       MetricsConfig       `json:"metrics"`
	Journal       journal.Config      `json:"journal"`
	Sentry        SentryConfig        `json:"sentry"`
}

// SimulationConfig holds the route and pacing of a run.
type SimulationConfig struct {
	VehicleID      int64         `json:"vehicle_id" validate:"gt=0"`
	Interval       time.Duration `json:"interval" validate:"gt=0"`
	WaypointSource string        `json:"waypoint_source" validate:"required"`
	PushTitle      string        `json:"push_title"`
	PushBody       string        `json:"push_body"`
}

// TransportConfig selects and tunes the position transport. The URL scheme
// picks WebSocket (ws, wss) or MQTT (tcp, ssl, mqtt).
type TransportConfig struct {
	URL                 string        `json:"url" validate:"required,url"`
	ClientID            string        `json:"client_id"`
	Username            string        `json:"username"`
	Password            string        `json:"password"`
	TopicPrefix         string        `json:"topic_prefix"`
	QoS                 byte          `json:"qos" validate:"lte=2"`
	ConnectTimeout      time.Duration `json:"connect_timeout" validate:"gte=0"`
	Reconnect           bool          `json:"reconnect"`
	ReconnectMaxElapsed time.Duration `json:"reconnect_max_elapsed" validate:"gte=0"`
	ClientCert          string        `json:"client_cert"`
	ClientKey           string        `json:"client_key"`
	CABundle            string        `json:"ca_bundle"`
}

// NotificationsConfig points at the backend holding pending notifications.
type NotificationsConfig struct {
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
	Auth    auth.Conf     `json:"auth"`
}

// PushConfig configures the push provider.
type PushConfig struct {
	Endpoint      string        `json:"endpoint" validate:"omitempty,url"`
	Timeout       time.Duration `json:"timeout" validate:"gte=0"`
	RatePerSecond float64       `json:"rate_per_second" validate:"gte=0"`
	Burst         int           `json:"burst" validate:"gte=0"`
}

// MetricsConfig enables the Prometheus ops server and the InfluxDB sink.
type MetricsConfig struct {
	PrometheusEnabled bool         `json:"prometheus_enabled"`
	Address           string       `json:"address"`
	Influx            InfluxConfig `json:"influx"`
}

// InfluxConfig is disabled when URL is empty.
type InfluxConfig struct {
	URL    string `json:"url" validate:"omitempty,url"`
	Token  string `json:"token"`
	Org    string `json:"org" validate:"required_with=URL"`
	Bucket string `json:"bucket" validate:"required_with=URL"`
}

// DefaultBaseURL is the notification backend used when none is configured.
const DefaultBaseURL = "http://localhost:3000/api"

// defaults is loaded before the file and the environment so that either
// can override any value, including booleans.
func defaults() map[string]any {
	return map[string]any{
		"simulation.vehicle_id":           1,
		"simulation.interval":             "500ms",
		"transport.client_id":             "routesim",
		"transport.topic_prefix":          "vehicle",
		"transport.connect_timeout":       "10s",
		"transport.reconnect_max_elapsed": "5m",
		"notifications.enabled":           true,
		"notifications.base_url":          DefaultBaseURL,
		"notifications.timeout":           "5s",
		"push.endpoint":                   "https://exp.host/--/api/v2/push/send",
		"push.timeout":                    "5s",
		"metrics.address":                 ":9100",
	}
}

var unmarshalConf = koanf.UnmarshalConf{Tag: "json"}

// Default returns a configuration holding every default value.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err == nil {
		_ = k.UnmarshalWithConf("", &cfg, unmarshalConf)
	}
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills values derived from other fields.
func (c *Config) SetDefaults() {
	if c.Journal.Backend != "" {
		if c.Journal.Path == "" {
			if c.Journal.Backend == "sqlite" {
				c.Journal.Path = "journal.db"
			} else {
				c.Journal.Path = "journal.jsonl"
			}
		}
		if c.Journal.MaxSizeMB == 0 {
			c.Journal.MaxSizeMB = 10
		}
	}
}

var validate = validator.New()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads the YAML or JSON file at path, applies ROUTESIM_ environment
// overrides and defaults, then validates the result. An empty path loads
// environment and defaults only.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with override applied to the decoded
// configuration before defaults and validation, e.g. for command line flags.
func LoadWithOverrides(path string, override func(*Config)) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if override != nil {
		override(&cfg)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
