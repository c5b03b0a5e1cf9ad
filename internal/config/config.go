package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	AuthSecret  string `mapstructure:"AUTH_SECRET"`

	PosapiBaseURL         string `mapstructure:"POSAPI_BASE_URL"`
	PosapiTimeoutMS       int    `mapstructure:"POSAPI_TIMEOUT"`
	PosapiMerchantTin     string `mapstructure:"POSAPI_MERCHANT_TIN"`
	PosapiPosNo           string `mapstructure:"POSAPI_POS_NO"`
	PosapiBranchNo        string `mapstructure:"POSAPI_BRANCH_NO"`
	PosapiDistrictCode    string `mapstructure:"POSAPI_DISTRICT_CODE"`
	PosapiConsumerNo      string `mapstructure:"POSAPI_CONSUMER_NO"`
	PosapiOperatorToken   string `mapstructure:"POSAPI_OPERATOR_TOKEN"`
	PosapiOperatorAPIKey  string `mapstructure:"POSAPI_OPERATOR_API_KEY"`
	PosapiOperatorBaseURL string `mapstructure:"POSAPI_OPERATOR_BASE_URL"`
	EbarimtSkip           bool   `mapstructure:"EBARIMT_SKIP"`
}

// DefaultDistrictCode is used when POSAPI_DISTRICT_CODE is unset.
const DefaultDistrictCode = "34"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("POSAPI_TIMEOUT", 15000)
	v.SetDefault("POSAPI_DISTRICT_CODE", DefaultDistrictCode)
	v.SetDefault("EBARIMT_SKIP", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("POSAPI_BASE_URL")
	v.BindEnv("POSAPI_TIMEOUT")
	v.BindEnv("POSAPI_MERCHANT_TIN")
	v.BindEnv("POSAPI_POS_NO")
	v.BindEnv("POSAPI_BRANCH_NO")
	v.BindEnv("POSAPI_DISTRICT_CODE")
	v.BindEnv("POSAPI_CONSUMER_NO")
	v.BindEnv("POSAPI_OPERATOR_TOKEN")
	v.BindEnv("POSAPI_OPERATOR_API_KEY")
	v.BindEnv("POSAPI_OPERATOR_BASE_URL")
	v.BindEnv("EBARIMT_SKIP")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: All requests get admin access. Do NOT use in production.")
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

// PosapiTimeout returns the POSAPI request timeout as a duration.
func (c *Config) PosapiTimeout() time.Duration {
	return time.Duration(c.PosapiTimeoutMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run. Outside skip mode
// the POSAPI connection settings must be present, and production requires a
// real AUTH_SECRET so JWT authentication is enforced.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	if c.IsProduction() && c.EbarimtSkip {
		return fmt.Errorf("EBARIMT_SKIP must not be set in production")
	}
	if !c.EbarimtSkip && c.PosapiBaseURL == "" {
		return fmt.Errorf("POSAPI_BASE_URL is required unless EBARIMT_SKIP is set")
	}
	if c.PosapiTimeoutMS <= 0 {
		return fmt.Errorf("POSAPI_TIMEOUT must be positive, got %d", c.PosapiTimeoutMS)
	}
	return nil
}
