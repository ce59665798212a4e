package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer  string   `mapstructure:"AUTH_ISSUER"`
	AuthSecret  string   `mapstructure:"AUTH_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Billing behavior. These are threaded into the settlement and invoice
	// services explicitly; nothing reads them globally.
	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`
	// CapOverflowPolicy decides what happens when a computed company share
	// would exceed the remaining annual budget: "cap" shifts the excess to
	// the patient share, "manual" flags the item for manual approval.
	CapOverflowPolicy string `mapstructure:"CAP_OVERFLOW_POLICY"`
	// BlockCancelOnUnclearedCheques keeps uncleared cheque payments counting
	// toward the cancel guard. When false, only cleared money blocks
	// cancellation.
	BlockCancelOnUnclearedCheques bool `mapstructure:"BLOCK_CANCEL_ON_UNCLEARED_CHEQUES"`
	// ConflictRetries bounds the reload-and-retry loop on optimistic
	// version mismatches before surfacing a conflict to the caller.
	ConflictRetries int `mapstructure:"CONFLICT_RETRIES"`

	RatesURL     string        `mapstructure:"RATES_URL"`
	RatesTimeout time.Duration `mapstructure:"RATES_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_CURRENCY", "XOF")
	v.SetDefault("CAP_OVERFLOW_POLICY", "cap")
	v.SetDefault("BLOCK_CANCEL_ON_UNCLEARED_CHEQUES", true)
	v.SetDefault("CONFLICT_RETRIES", 3)
	v.SetDefault("RATES_TIMEOUT", 2*time.Second)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("DEFAULT_CURRENCY")
	v.BindEnv("CAP_OVERFLOW_POLICY")
	v.BindEnv("BLOCK_CANCEL_ON_UNCLEARED_CHEQUES")
	v.BindEnv("CONFLICT_RETRIES")
	v.BindEnv("RATES_URL")
	v.BindEnv("RATES_TIMEOUT")

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
	switch cfg.CapOverflowPolicy {
	case "cap", "manual":
	default:
		return nil, fmt.Errorf("CAP_OVERFLOW_POLICY must be \"cap\" or \"manual\", got %q", cfg.CapOverflowPolicy)
	}
	if cfg.ConflictRetries < 1 {
		return nil, fmt.Errorf("CONFLICT_RETRIES must be at least 1")
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
