// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all gateway configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// DriversRoot is the directory tree holding collector packs, one
	// subdirectory per db_type with *.yaml/*.yml packs inside.
	DriversRoot string `env:"DRIVERS_ROOT" envDefault:"drivers"`
	// SamplersFile holds the default sampler definitions.
	SamplersFile string `env:"SAMPLERS_FILE" envDefault:"samplers/default.json"`
	// WatchDrivers enables the fsnotify watcher that reloads collector
	// packs when files under DriversRoot change.
	WatchDrivers bool `env:"WATCH_DRIVERS" envDefault:"true"`

	// Portkey AI gateway. Profile-suffixed variables override the base
	// ones, see resolveProfile.
	PortkeyAPIKey     string        `env:"PORTKEY_API_KEY"`
	PortkeyVirtualKey string        `env:"PORTKEY_VIRTUAL_KEY"`
	PortkeyModel      string        `env:"PORTKEY_MODEL"`
	PortkeyBaseURL    string        `env:"PORTKEY_BASE_URL" envDefault:"https://api.portkey.ai/v1"`
	PortkeyTimeout    time.Duration `env:"PORTKEY_TIMEOUT_MS" envDefault:"30000ms"`
	PortkeyProfile    string        `env:"PORTKEY_PROFILE"`
	// AIGenCacheSize bounds the LRU of cached generations; 0 disables it.
	AIGenCacheSize int `env:"AI_GEN_CACHE_SIZE" envDefault:"256"`
	// AISchemaContextTokens bounds the schema context appended to prompts.
	AISchemaContextTokens int `env:"AI_SCHEMA_CONTEXT_TOKENS" envDefault:"2048"`

	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"45s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"1s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"10s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"swissql-gateway"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// RequestTimeout bounds a whole HTTP request; long-running statements
	// are expected, so this stays generous.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`

	// DefaultConnectTimeout applies when a connect request carries no
	// connection_timeout_ms.
	DefaultConnectTimeout time.Duration `env:"DEFAULT_CONNECT_TIMEOUT" envDefault:"30s"`
}

// AIEnabled reports whether the Portkey gateway is fully configured: api key,
// virtual key (provider), and model must all be non-blank.
func (c Config) AIEnabled() bool {
	return c.PortkeyAPIKey != "" && c.PortkeyVirtualKey != "" && c.PortkeyModel != ""
}

// GetAIBackoffConfig returns backoff tuning appropriate for the current
// environment. Test environments get much shorter intervals.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 10 * time.Millisecond, 100 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}

// Load parses environment variables into a Config and applies profile
// overrides for the Portkey variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	cfg.resolveProfile()
	return cfg, nil
}

// resolveProfile applies PORTKEY_<NAME>_<PROFILE> overrides over the base
// PORTKEY_<NAME> values when PORTKEY_PROFILE is set. Only the virtual key,
// model, and base URL support per-profile values.
func (c *Config) resolveProfile() {
	profile := strings.ToUpper(strings.TrimSpace(c.PortkeyProfile))
	if profile == "" {
		return
	}
	if v, ok := os.LookupEnv("PORTKEY_VIRTUAL_KEY_" + profile); ok && v != "" {
		c.PortkeyVirtualKey = v
	}
	if v, ok := os.LookupEnv("PORTKEY_MODEL_" + profile); ok && v != "" {
		c.PortkeyModel = v
	}
	if v, ok := os.LookupEnv("PORTKEY_BASE_URL_" + profile); ok && v != "" {
		c.PortkeyBaseURL = v
	}
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
