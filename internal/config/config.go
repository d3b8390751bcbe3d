package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Profile store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const minSecretLength = 32

// Config is the process configuration, read from the environment.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	ProfileStore  string `env:"PROFILE_STORE" envDefault:"sqlite"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"chatgate.db"`
	PostgresURL   string `env:"POSTGRES_URL"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SessionSecret  string        `env:"SESSION_SECRET,required,notEmpty"`
	DeviceTokenTTL time.Duration `env:"DEVICE_TOKEN_TTL" envDefault:"8760h"`
	// Default to secure cookies; disable only for local development.
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"true"`

	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`
	SessionIdleTTL  time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`

	MintRate  float64 `env:"MINT_RATE" envDefault:"0.2"`
	MintBurst float64 `env:"MINT_BURST" envDefault:"5"`

	DefaultLanguage string   `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	CORSOrigins     []string `env:"CORS_ORIGINS" envSeparator:","`
	OTelEndpoint    string   `env:"OTEL_ENDPOINT"`
}

// Load reads an optional .env file and parses the environment into a
// validated Config.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the struct tags cannot express and normalises
// the default language tag.
func (c *Config) Validate() error {
	var errs []error

	switch c.ProfileStore {
	case StoreSQLite, StoreRedis:
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when PROFILE_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROFILE_STORE must be one of sqlite, postgres, redis, got %q", c.ProfileStore))
	}

	if len(c.SessionSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters", minSecretLength))
	}
	if c.DeviceTokenTTL <= 0 {
		errs = append(errs, errors.New("DEVICE_TOKEN_TTL must be positive"))
	}
	if c.MintRate <= 0 || c.MintBurst < 1 {
		errs = append(errs, errors.New("MINT_RATE must be positive and MINT_BURST at least 1"))
	}

	tag, err := language.Parse(c.DefaultLanguage)
	if err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_LANGUAGE: %w", err))
	} else {
		c.DefaultLanguage = tag.String()
	}

	return errors.Join(errs...)
}
