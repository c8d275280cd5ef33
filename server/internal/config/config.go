package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultHeader            = "x-api-key"
	DefaultRulesPath         = "events.yaml"
	DefaultStreamMinInterval = 250 * time.Millisecond
	DefaultMQTTTopic         = "devices/+/samples"
	DefaultClientID          = "analytics"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds the server configuration parsed from the `server:` section.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket streams listen on.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port of the gRPC health service. Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
	Rules  RulesConfig  `yaml:"rules"`
	Store  StoreConfig  `yaml:"store"`
	Stream StreamConfig `yaml:"stream"`
	Ingest IngestConfig `yaml:"ingest"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel converts Level; validate has already rejected unknown values.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(l.Level))
	return lvl
}

// RulesConfig locates the events file of the rule evaluator.
type RulesConfig struct {
	Path string `yaml:"path"`

	// Watch reloads the file whenever it changes on disk.
	Watch bool `yaml:"watch"`
}

// StoreConfig selects the sample store.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// DSNEnv names the environment variable holding the postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// SeedFile optionally preloads the memory store.
	SeedFile string `yaml:"seed_file"`

	// Retention evicts memory samples older than this. Zero keeps all.
	Retention time.Duration `yaml:"retention"`
}

// DSN returns the postgres DSN resolved from the environment.
func (s StoreConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// StreamConfig bounds periodic re-computation.
type StreamConfig struct {
	// MinInterval is the smallest accepted streaming interval. Requests
	// asking for less are clamped up to it.
	MinInterval time.Duration `yaml:"min_interval"`
}

// IngestConfig lists the optional sample sources.
type IngestConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// MQTTConfig subscribes to JSON samples on an MQTT broker.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// KafkaConfig consumes JSON samples from a Kafka topic.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Enabled reports whether brokers and a topic are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation, and relative file paths are resolved
// against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	dir := filepath.Dir(path)
	cfg.Server.Rules.Path = resolve(dir, cfg.Server.Rules.Path)
	cfg.Server.Store.SeedFile = resolve(dir, cfg.Server.Store.SeedFile)
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			Auth:     AuthConfig{Mode: "none"},
			Log:      LogConfig{Level: "info", Format: "json"},
			Rules:    RulesConfig{Path: DefaultRulesPath},
			Store:    StoreConfig{Driver: DriverMemory},
			Stream:   StreamConfig{MinInterval: DefaultStreamMinInterval},
			Ingest: IngestConfig{
				MQTT:  MQTTConfig{Topic: DefaultMQTTTopic, ClientID: DefaultClientID},
				Kafka: KafkaConfig{GroupID: DefaultClientID},
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	if s.Rules.Path == "" {
		return fmt.Errorf("server.rules.path is required")
	}
	switch s.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if s.Store.DSNEnv == "" {
			return fmt.Errorf("server.store.dsn_env is required for the postgres driver")
		}
	default:
		return fmt.Errorf("server.store.driver %q unknown: want memory|postgres", s.Store.Driver)
	}
	if s.Store.Retention < 0 {
		return fmt.Errorf("server.store.retention must not be negative")
	}
	if s.Stream.MinInterval < 0 {
		return fmt.Errorf("server.stream.min_interval must not be negative")
	}
	if s.Ingest.MQTT.QoS > 2 {
		return fmt.Errorf("server.ingest.mqtt.qos %d is out of range [0, 2]", s.Ingest.MQTT.QoS)
	}
	if s.Ingest.MQTT.Enabled() && s.Ingest.MQTT.Topic == "" {
		return fmt.Errorf("server.ingest.mqtt.topic is required when a broker is set")
	}
	if s.Ingest.Kafka.Enabled() && s.Ingest.Kafka.GroupID == "" {
		return fmt.Errorf("server.ingest.kafka.group_id is required when kafka is enabled")
	}
	return nil
}
