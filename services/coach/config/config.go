// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads coaching service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. The result is validated once; a missing database
// URL or LLM key stops the process at startup rather than on first use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// Config is the full service configuration.
type Config struct {
	Port    int    `yaml:"port" validate:"gt=0,lte=65535"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// AppURL is the public base URL used to build artefact share links.
	AppURL string `yaml:"app_url" validate:"omitempty,url"`

	// StructuredCapture switches research capture from inline markers to
	// tool calls.
	StructuredCapture bool `yaml:"structured_capture"`

	// RedactUploads scrubs credentials and personal data from uploaded
	// material before it is stored or shown to the model.
	RedactUploads bool `yaml:"redact_uploads"`

	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=postgres sqlite"`
	URL    string `yaml:"url" validate:"required"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=anthropic openai"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key" validate:"required_if=Backend anthropic"`
	AnthropicModel  string        `yaml:"anthropic_model"`
	OpenAIAPIKey    string        `yaml:"openai_api_key" validate:"required_if=Backend openai"`
	OpenAIModel     string        `yaml:"openai_model"`
	MaxTokens       int           `yaml:"max_tokens" validate:"gte=0,lte=64000"`
	Timeout         time.Duration `yaml:"timeout"`
}

// AuthConfig configures Clerk session verification.
type AuthConfig struct {
	// Disabled authenticates every request as the local user and org. Only
	// for local development.
	Disabled bool `yaml:"disabled"`

	// ClerkJWTKey is the PEM-encoded RSA public key of the Clerk instance.
	ClerkJWTKey  string   `yaml:"clerk_jwt_key" validate:"required_unless=Disabled true"`
	ClerkIssuer  string   `yaml:"clerk_issuer"`
	AdminUserIDs []string `yaml:"admin_user_ids"`
}

// AnalyticsConfig configures the PostHog sink. An empty key disables it.
type AnalyticsConfig struct {
	PostHogAPIKey string        `yaml:"posthog_api_key"`
	PostHogHost   string        `yaml:"posthog_host" validate:"omitempty,url"`
	BufferSize    int           `yaml:"buffer_size" validate:"gte=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// RateLimitConfig bounds requests per organization. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the configuration used before any file or environment
// values are applied.
func Default() Config {
	return Config{
		Port:          8080,
		RedactUploads: true,
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		LLM: LLMConfig{
			Backend:   "anthropic",
			MaxTokens: 4096,
			Timeout:   5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			PostHogHost:   "https://us.i.posthog.com",
			BufferSize:    1000,
			BatchSize:     50,
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 20,
		},
		Telemetry: TelemetryConfig{ServiceName: "frontera-coach"},
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (when non-empty) and the process environment.
func Load(path string) (*Config, error) {
	return LoadFrom(path, os.LookupEnv)
}

// LoadFrom is Load with an explicit environment, for tests.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: File read or parse failure, a malformed environment value, or
//     a validation failure naming the offending fields.
func LoadFrom(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s (%s)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}

// =============================================================================
// Environment
// =============================================================================

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.Trim(strings.TrimSpace(v), `"'`)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	integer("FRONTERA_PORT", &cfg.Port)
	str("GIN_MODE", &cfg.GinMode)
	boolean("FRONTERA_STRUCTURED_CAPTURE", &cfg.StructuredCapture)
	boolean("FRONTERA_REDACT_UPLOADS", &cfg.RedactUploads)

	str("DATABASE_URL", &cfg.Database.URL)
	str("DATABASE_DRIVER", &cfg.Database.Driver)

	str("LLM_BACKEND", &cfg.LLM.Backend)
	str("ANTHROPIC_API_KEY", &cfg.LLM.AnthropicAPIKey)
	str("CLAUDE_MODEL", &cfg.LLM.AnthropicModel)
	str("OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	str("OPENAI_MODEL", &cfg.LLM.OpenAIModel)

	boolean("FRONTERA_AUTH_DISABLED", &cfg.Auth.Disabled)
	str("CLERK_JWT_KEY", &cfg.Auth.ClerkJWTKey)
	str("CLERK_ISSUER", &cfg.Auth.ClerkIssuer)
	if v, ok := lookup("FRONTERA_ADMIN_USER_IDS"); ok {
		cfg.Auth.AdminUserIDs = splitList(v)
	}

	str("POSTHOG_API_KEY", &cfg.Analytics.PostHogAPIKey)
	str("POSTHOG_HOST", &cfg.Analytics.PostHogHost)

	str("FRONTERA_LOG_LEVEL", &cfg.Logging.Level)
	str("FRONTERA_LOG_DIR", &cfg.Logging.Dir)
	boolean("FRONTERA_LOG_JSON", &cfg.Logging.JSON)

	float("FRONTERA_RATE_LIMIT_RPS", &cfg.RateLimit.RPS)
	integer("FRONTERA_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)

	str("NEXT_PUBLIC_APP_URL", &cfg.AppURL)
	if cfg.AppURL == "" {
		var host string
		str("VERCEL_URL", &host)
		if host != "" {
			cfg.AppURL = "https://" + strings.TrimPrefix(host, "https://")
		}
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	// PEM keys in environment variables often arrive with escaped newlines.
	cfg.Auth.ClerkJWTKey = strings.ReplaceAll(cfg.Auth.ClerkJWTKey, `\n`, "\n")

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ShareURL returns the public link for an artefact share token, or just
// the path when no app URL is configured.
func (c *Config) ShareURL(token string) string {
	return c.AppURL + "/share/" + token
}
