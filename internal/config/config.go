package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	RecordAPIURL       string   `mapstructure:"RECORD_API_URL"`
	RecordAPIToken     string   `mapstructure:"RECORD_API_TOKEN"`
	AutosaveDebounceMS int      `mapstructure:"AUTOSAVE_DEBOUNCE_MS"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey      string   `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
}

// Debounce bounds for the auto-save pipeline. Values outside this window
// are clamped rather than rejected.
const (
	MinDebounceMS = 2000
	MaxDebounceMS = 5000
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTOSAVE_DEBOUNCE_MS", 3000)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("RECORD_API_URL")
	v.BindEnv("RECORD_API_TOKEN")
	v.BindEnv("AUTOSAVE_DEBOUNCE_MS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RecordAPIURL == "" {
		return nil, fmt.Errorf("RECORD_API_URL is required")
	}

	if cfg.AutosaveDebounceMS < MinDebounceMS {
		cfg.AutosaveDebounceMS = MinDebounceMS
	}
	if cfg.AutosaveDebounceMS > MaxDebounceMS {
		cfg.AutosaveDebounceMS = MaxDebounceMS
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests are accepted.")
		log.Println("WARNING: Set ENV=production and configure JWT_SIGNING_KEY for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AutosaveDebounce returns the debounce window as a duration.
func (c *Config) AutosaveDebounce() time.Duration {
	return time.Duration(c.AutosaveDebounceMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run. In non-development
// modes JWT_SIGNING_KEY must be set so that real bearer-token authentication
// is enforced on the session API.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf(
			"JWT_SIGNING_KEY must be set when ENV is %q. "+
				"Refusing to start the session API without authentication", c.Env)
	}
	if c.IsProduction() && c.RecordAPIToken == "" {
		return fmt.Errorf("RECORD_API_TOKEN is required in production")
	}
	return nil
}
