// Package config loads process settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/financing"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/investment"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/transfer"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/wallet"
)

// Config holds all configuration for the ledger processes.
type Config struct {
	HTTPAddr        string  `mapstructure:"HTTP_ADDR"`
	GRPCAddr        string  `mapstructure:"GRPC_ADDR"`
	DatabaseURL     string  `mapstructure:"DATABASE_URL"`
	AuthSecret      string  `mapstructure:"AUTH_SECRET"`
	LogMode         string  `mapstructure:"LOG_MODE"`
	Timezone        string  `mapstructure:"LEDGER_TIMEZONE"`
	FCIAnnualRate   string  `mapstructure:"FCI_ANNUAL_RATE"`
	TransferFeeRate string  `mapstructure:"TRANSFER_FEE_RATE"`
	DailyLimitRaw   string  `mapstructure:"DEFAULT_DAILY_LIMIT"`
	MonthlyLimitRaw string  `mapstructure:"DEFAULT_MONTHLY_LIMIT"`
	CVUPrefix       string  `mapstructure:"CVU_PREFIX"`
	RabbitMQURL     string  `mapstructure:"RABBITMQ_URL"`
	EventsExchange  string  `mapstructure:"EVENTS_EXCHANGE"`
	ReturnsSchedule string  `mapstructure:"RETURNS_SCHEDULE"`
	OverdueSchedule string  `mapstructure:"OVERDUE_SCHEDULE"`
	RunScheduler    bool    `mapstructure:"RUN_SCHEDULER"`
	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitPerSec float64 `mapstructure:"RATE_LIMIT_PER_SEC"`
	MaxBodyBytes    int64   `mapstructure:"MAX_BODY_BYTES"`
	CORSOrigins     string  `mapstructure:"CORS_ORIGINS"`

	loc          *time.Location
	annualRate   decimal.Decimal
	feeRate      decimal.Decimal
	dailyLimit   decimal.Decimal
	monthlyLimit decimal.Decimal
}

var defaults = map[string]any{
	"HTTP_ADDR":             ":8080",
	"GRPC_ADDR":             ":9090",
	"DATABASE_URL":          "",
	"AUTH_SECRET":           "",
	"LOG_MODE":              "production",
	"LEDGER_TIMEZONE":       "America/Argentina/Buenos_Aires",
	"FCI_ANNUAL_RATE":       investment.DefaultAnnualRate.String(),
	"TRANSFER_FEE_RATE":     transfer.DefaultFeeRate.String(),
	"DEFAULT_DAILY_LIMIT":   "500000",
	"DEFAULT_MONTHLY_LIMIT": "5000000",
	"CVU_PREFIX":            "0000003100",
	"RABBITMQ_URL":          "",
	"EVENTS_EXCHANGE":       "ledger_events",
	"RETURNS_SCHEDULE":      "0 6 * * 1-5",
	"OVERDUE_SCHEDULE":      "30 6 * * *",
	"RUN_SCHEDULER":         false,
	"RATE_LIMIT_BURST":      20,
	"RATE_LIMIT_PER_SEC":    10.0,
	"MAX_BODY_BYTES":        int64(1 << 20),
	"CORS_ORIGINS":          "http://localhost:3000",
}

var prefixPattern = regexp.MustCompile(`^[0-9]{10}$`)

// Load reads configuration from environment variables. envFiles are loaded
// first with godotenv when they exist; variables already set win.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// Bind explicitly so Unmarshal sees every key.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEZONE: %w", err))
	}
	c.loc = loc

	c.annualRate, err = positive("FCI_ANNUAL_RATE", c.FCIAnnualRate)
	errs = append(errs, err)
	c.feeRate, err = decimal.NewFromString(strings.TrimSpace(c.TransferFeeRate))
	if err != nil || c.feeRate.IsNegative() {
		errs = append(errs, fmt.Errorf("TRANSFER_FEE_RATE: must be a decimal >= 0, got %q", c.TransferFeeRate))
	}
	c.dailyLimit, err = positive("DEFAULT_DAILY_LIMIT", c.DailyLimitRaw)
	errs = append(errs, err)
	c.monthlyLimit, err = positive("DEFAULT_MONTHLY_LIMIT", c.MonthlyLimitRaw)
	errs = append(errs, err)

	if !prefixPattern.MatchString(c.CVUPrefix) {
		errs = append(errs, fmt.Errorf("CVU_PREFIX: must be 10 digits, got %q", c.CVUPrefix))
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_SEC and RATE_LIMIT_BURST must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func positive(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: must be a decimal > 0, got %q", key, raw)
	}
	return d, nil
}

// Location is the ledger calendar timezone.
func (c *Config) Location() *time.Location { return c.loc }

// Origins splits CORS_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) Wallet() wallet.Config {
	return wallet.Config{
		CVUPrefix:    c.CVUPrefix,
		DailyLimit:   c.dailyLimit,
		MonthlyLimit: c.monthlyLimit,
		Location:     c.loc,
	}
}

func (c *Config) Investment() investment.Config {
	return investment.Config{AnnualRate: c.annualRate, Location: c.loc}
}

func (c *Config) Financing() financing.Config {
	return financing.Config{Location: c.loc}
}

func (c *Config) Transfer() transfer.Config {
	return transfer.Config{FeeRate: c.feeRate, Location: c.loc}
}
