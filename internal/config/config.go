package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Body      BodyConfig      `yaml:"body" envconfig:"BODY"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Executors ExecutorsConfig `yaml:"executors" envconfig:"EXECUTORS"`
	Socket    SocketConfig    `yaml:"socket" envconfig:"SOCKET"`
}

// ServerConfig contains HTTP server configuration. Defaults live in
// Default(), not in struct tags: envconfig default tags re-apply whenever
// the variable is unset, which would stomp file-provided values on the
// final env pass in Load.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BodyConfig bounds request body ingestion.
type BodyConfig struct {
	MaxSize   int64 `yaml:"max_size" envconfig:"MAX_SIZE" validate:"gt=0"`
	ChunkSize int   `yaml:"chunk_size" envconfig:"CHUNK_SIZE" validate:"gt=0"`
}

// CORSConfig contains cross-origin resource sharing configuration.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled" envconfig:"ENABLED"`
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ExecutorsConfig declares named worker pools that routes may select for
// offloaded execution. Keys are pool names, values are worker counts.
type ExecutorsConfig struct {
	Pools map[string]int `yaml:"pools" envconfig:"POOLS"`
}

// SocketConfig carries raw listener socket options. Option names are
// resolved against an explicit table at startup; UnknownPolicy decides
// whether an unrecognized name fails startup or is logged and skipped.
type SocketConfig struct {
	Options       map[string]string `yaml:"options" envconfig:"OPTIONS"`
	UnknownPolicy string            `yaml:"unknown_policy" envconfig:"UNKNOWN_POLICY" validate:"oneof=reject ignore"`
}

// Load loads configuration in precedence order: built-in defaults, then
// an optional YAML file, then environment variables. The env pass runs
// last and exactly once; with no default tags on the structs, envconfig
// leaves every field alone unless its variable is actually set, so file
// values survive it.
func Load(path string) (*Config, error) {
	cfg := *Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileCfg, err := loadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileCfg, cfg)
		}
	}

	if err := envconfig.Process("KEEL", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs overlays file values onto the base config wherever the
// file sets something.
func mergeConfigs(fileConfig, base Config) Config {
	out := base

	if fileConfig.Server.Host != "" {
		out.Server.Host = fileConfig.Server.Host
	}
	if fileConfig.Server.Port != 0 {
		out.Server.Port = fileConfig.Server.Port
	}
	if fileConfig.Server.ReadTimeout != 0 {
		out.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if fileConfig.Server.WriteTimeout != 0 {
		out.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if fileConfig.Server.IdleTimeout != 0 {
		out.Server.IdleTimeout = fileConfig.Server.IdleTimeout
	}
	if fileConfig.Server.MaxHeaderBytes != 0 {
		out.Server.MaxHeaderBytes = fileConfig.Server.MaxHeaderBytes
	}
	if fileConfig.Server.ShutdownTimeout != 0 {
		out.Server.ShutdownTimeout = fileConfig.Server.ShutdownTimeout
	}

	if fileConfig.Body.MaxSize != 0 {
		out.Body.MaxSize = fileConfig.Body.MaxSize
	}
	if fileConfig.Body.ChunkSize != 0 {
		out.Body.ChunkSize = fileConfig.Body.ChunkSize
	}

	if fileConfig.CORS.Enabled {
		out.CORS.Enabled = true
	}
	if len(fileConfig.CORS.AllowedOrigins) > 0 {
		out.CORS.AllowedOrigins = fileConfig.CORS.AllowedOrigins
	}
	if len(fileConfig.CORS.AllowedMethods) > 0 {
		out.CORS.AllowedMethods = fileConfig.CORS.AllowedMethods
	}
	if len(fileConfig.CORS.AllowedHeaders) > 0 {
		out.CORS.AllowedHeaders = fileConfig.CORS.AllowedHeaders
	}
	if len(fileConfig.CORS.ExposedHeaders) > 0 {
		out.CORS.ExposedHeaders = fileConfig.CORS.ExposedHeaders
	}
	if fileConfig.CORS.AllowCredentials {
		out.CORS.AllowCredentials = true
	}
	if fileConfig.CORS.MaxAge != 0 {
		out.CORS.MaxAge = fileConfig.CORS.MaxAge
	}

	if fileConfig.RateLimit.Enabled {
		out.RateLimit.Enabled = true
	}
	if fileConfig.RateLimit.RPS != 0 {
		out.RateLimit.RPS = fileConfig.RateLimit.RPS
	}
	if fileConfig.RateLimit.Burst != 0 {
		out.RateLimit.Burst = fileConfig.RateLimit.Burst
	}

	if fileConfig.Logging.Level != "" {
		out.Logging.Level = fileConfig.Logging.Level
	}
	if fileConfig.Logging.Format != "" {
		out.Logging.Format = fileConfig.Logging.Format
	}
	if fileConfig.Logging.Output != "" {
		out.Logging.Output = fileConfig.Logging.Output
	}
	if fileConfig.Logging.FilePath != "" {
		out.Logging.FilePath = fileConfig.Logging.FilePath
	}

	if len(fileConfig.Executors.Pools) > 0 {
		out.Executors.Pools = fileConfig.Executors.Pools
	}

	if len(fileConfig.Socket.Options) > 0 {
		out.Socket.Options = fileConfig.Socket.Options
	}
	if fileConfig.Socket.UnknownPolicy != "" {
		out.Socket.UnknownPolicy = fileConfig.Socket.UnknownPolicy
	}

	return out
}

// Validate checks the configuration against its declared constraints,
// plus the socket-option table.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.Socket.Resolve(); err != nil {
		return err
	}
	for name, workers := range c.Executors.Pools {
		if workers <= 0 {
			return fmt.Errorf("executor pool %q must have at least one worker", name)
		}
	}
	return nil
}

// findConfigFile returns the first config file found in the conventional
// locations, or empty when none exists.
func findConfigFile() string {
	locations := []string{
		"keel.yaml",
		"config/keel.yaml",
		"configs/keel.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Body: BodyConfig{
			MaxSize:   10 << 20,
			ChunkSize: 8 << 10,
		},
		CORS: CORSConfig{
			Enabled: false,
			MaxAge:  300,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     100,
			Burst:   50,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/keel.log",
		},
		Socket: SocketConfig{
			UnknownPolicy: "reject",
		},
	}
}
