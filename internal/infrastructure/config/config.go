package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	Provider  ProviderConfig  `koanf:"provider"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Compliance   ComplianceConfig   `koanf:"compliance"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Scripts      ScriptsConfig      `koanf:"scripts"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	WebhookBaseURL  string        `koanf:"webhook_base_url" validate:"required,url"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxConns        int           `koanf:"max_conns" validate:"min=1"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url" validate:"required"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type NATSConfig struct {
	URL               string `koanf:"url" validate:"required"`
	TaskSubject       string `koanf:"task_subject"`
	QueueGroup        string `koanf:"queue_group"`
	CompletionSubject string `koanf:"completion_subject"`
	CallbackSubject   string `koanf:"callback_subject"`
	EscalationSubject string `koanf:"escalation_subject"`
}

type ProviderConfig struct {
	Name        string        `koanf:"name"`
	BaseURL     string        `koanf:"base_url" validate:"required,url"`
	AccountSID  string        `koanf:"account_sid"`
	AuthToken   string        `koanf:"auth_token"`
	FromNumber  string        `koanf:"from_number" validate:"required"`
	RingTimeout time.Duration `koanf:"ring_timeout"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	RecordCalls bool          `koanf:"record_calls"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

type ComplianceConfig struct {
	DailyMaxContacts int           `koanf:"daily_max_contacts" validate:"min=1"`
	CallWindowStart  int           `koanf:"call_window_start" validate:"min=0,max=23"`
	CallWindowEnd    int           `koanf:"call_window_end" validate:"min=1,max=24"`
	ConsentValidity  time.Duration `koanf:"consent_validity"`
	DefaultTimezone  string        `koanf:"default_timezone"`
}

type OrchestratorConfig struct {
	Workers       int           `koanf:"workers" validate:"min=1"`
	DialsPerSec   float64       `koanf:"dials_per_sec"`
	DialBurst     int           `koanf:"dial_burst"`
	DrainDeadline time.Duration `koanf:"drain_deadline"`
	GatherTimeout time.Duration `koanf:"gather_timeout"`
	CustomerTTL   time.Duration `koanf:"customer_ttl"`
}

type ScriptsConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// CCE_-prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			WebhookBaseURL:  "http://localhost:8080",
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSConfig{
			URL:               "nats://localhost:4222",
			TaskSubject:       "contact.tasks",
			QueueGroup:        "call-engine",
			CompletionSubject: "contact.completions",
			CallbackSubject:   "contact.callbacks",
			EscalationSubject: "contact.escalations",
		},
		Provider: ProviderConfig{
			Name:        "twilio",
			BaseURL:     "https://api.telephony.local",
			RingTimeout: 30 * time.Second,
			HTTPTimeout: 10 * time.Second,
			RecordCalls: true,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
		},
		Compliance: ComplianceConfig{
			DailyMaxContacts: 5,
			CallWindowStart:  8,
			CallWindowEnd:    21,
			ConsentValidity:  365 * 24 * time.Hour,
			DefaultTimezone:  "America/New_York",
		},
		Orchestrator: OrchestratorConfig{
			Workers:       8,
			DialsPerSec:   5,
			DialBurst:     10,
			DrainDeadline: 30 * time.Second,
			GatherTimeout: 10 * time.Second,
			CustomerTTL:   10 * time.Minute,
		},
		Scripts: ScriptsConfig{
			Path: "configs/scripts.yaml",
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading configs/config.yaml: %w", err)
		}
	}

	// Double underscore separates nesting levels so multi-word keys like
	// call_window_end survive: CCE_COMPLIANCE__CALL_WINDOW_END.
	if err := k.Load(env.Provider("CCE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CCE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies struct-tag validation plus cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Compliance.CallWindowStart >= c.Compliance.CallWindowEnd {
		return fmt.Errorf("invalid configuration: call window start %d must be before end %d",
			c.Compliance.CallWindowStart, c.Compliance.CallWindowEnd)
	}
	if _, err := time.LoadLocation(c.Compliance.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid configuration: unknown timezone %q", c.Compliance.DefaultTimezone)
	}
	return nil
}
