// Package config loads gateway settings.
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engines   EnginesConfig   `yaml:"engines"`
	Streaming StreamingConfig `yaml:"streaming"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Queue     QueueConfig     `yaml:"queue"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// AllowedOrigins restricts WebSocket origins. Empty allows all.
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

type EnginesConfig struct {
	ASRBaseURL string `yaml:"asr_base_url"`
	// TranslationBaseURL empty selects the prefixing development translator.
	TranslationBaseURL string        `yaml:"translation_base_url"`
	TTSBaseURL         string        `yaml:"tts_base_url"`
	TranslateTimeout   time.Duration `yaml:"translate_timeout"`
}

type StreamingConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MinBytes     int           `yaml:"min_bytes"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	ResultBuffer int           `yaml:"result_buffer"`
}

type SessionsConfig struct {
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	RoleInfoInterval    time.Duration `yaml:"role_info_interval"`
}

type QueueConfig struct {
	Capacity      int           `yaml:"capacity"`
	YieldInterval time.Duration `yaml:"yield_interval"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Issuer   string `yaml:"issuer"`
	JWKSURL  string `yaml:"jwks_url"`
	Audience string `yaml:"audience"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration that runs locally without any backing services.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			ShutdownTimeout: 10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 1 << 20,
			MaxUploadBytes:  32 << 20,
		},
		Engines: EnginesConfig{
			ASRBaseURL:       "http://127.0.0.1:8003",
			TTSBaseURL:       "http://127.0.0.1:8005",
			TranslateTimeout: 30 * time.Second,
		},
		Streaming: StreamingConfig{
			Interval:     500 * time.Millisecond,
			MinBytes:     8000,
			StopTimeout:  2 * time.Second,
			ResultBuffer: 32,
		},
		Sessions: SessionsConfig{
			InactivityThreshold: 30 * time.Minute,
			SweepInterval:       5 * time.Minute,
			RoleInfoInterval:    time.Second,
		},
		Queue: QueueConfig{
			Capacity:      100,
			YieldInterval: 10 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "call_translator",
			Name:    "call_translator",
			SSLMode: "disable",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Engines.ASRBaseURL == "" {
		errs = append(errs, errors.New("engines.asr_base_url is required"))
	}
	if c.Streaming.Interval <= 0 {
		errs = append(errs, errors.New("streaming.interval must be positive"))
	}
	if c.Streaming.MinBytes < 0 {
		errs = append(errs, errors.New("streaming.min_bytes must not be negative"))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	if c.Sessions.InactivityThreshold <= 0 || c.Sessions.SweepInterval <= 0 {
		errs = append(errs, errors.New("sessions.inactivity_threshold and sessions.sweep_interval must be positive"))
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.AccessKey == "" || c.Storage.SecretKey == "" || c.Storage.Bucket == "") {
		errs = append(errs, errors.New("storage config missing (endpoint, access_key, secret_key, bucket)"))
	}
	if c.Auth.Enabled && c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer is required when auth is enabled"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str("PORT", &c.Server.Port)
	e.list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	e.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.str("ASR_BASE_URL", &c.Engines.ASRBaseURL)
	e.str("TRANSLATION_BASE_URL", &c.Engines.TranslationBaseURL)
	e.str("TTS_BASE_URL", &c.Engines.TTSBaseURL)

	e.duration("STREAM_INTERVAL", &c.Streaming.Interval)
	e.integer("STREAM_MIN_BYTES", &c.Streaming.MinBytes)
	e.integer("QUEUE_CAPACITY", &c.Queue.Capacity)
	e.duration("SESSION_INACTIVITY_THRESHOLD", &c.Sessions.InactivityThreshold)
	e.duration("SESSION_SWEEP_INTERVAL", &c.Sessions.SweepInterval)

	e.boolean("DB_ENABLED", &c.Database.Enabled)
	e.str("DB_HOST", &c.Database.Host)
	e.str("DB_PORT", &c.Database.Port)
	e.str("DB_USER", &c.Database.User)
	e.str("DB_PASSWORD", &c.Database.Password)
	e.str("DB_NAME", &c.Database.Name)
	e.str("DB_SSLMODE", &c.Database.SSLMode)

	e.boolean("MINIO_ENABLED", &c.Storage.Enabled)
	e.str("MINIO_ENDPOINT", &c.Storage.Endpoint)
	e.str("MINIO_ROOT_USER", &c.Storage.AccessKey)
	e.str("MINIO_ROOT_PASSWORD", &c.Storage.SecretKey)
	e.str("MINIO_BUCKET", &c.Storage.Bucket)
	e.boolean("MINIO_USE_SSL", &c.Storage.UseSSL)

	e.boolean("AUTH_ENABLED", &c.Auth.Enabled)
	e.str("KEYCLOAK_ISSUER", &c.Auth.Issuer)
	e.str("KEYCLOAK_JWKS_URL", &c.Auth.JWKSURL)
	e.str("KEYCLOAK_AUDIENCE", &c.Auth.Audience)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.boolean("LOG_DEVELOPMENT", &c.Log.Development)

	if len(e.errs) > 0 {
		return fmt.Errorf("environment: %w", errors.Join(e.errs...))
	}
	return nil
}

// envReader overrides fields from set, non-empty variables and collects
// parse errors.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
