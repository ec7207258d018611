/**
 * @description
 * Configuration management for the wallet engine. Settings come from
 * environment variables with sensible defaults for everything that is not a
 * credential.
 */
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	// Sponsor bank (Sterling).
	SterlingBaseURL       string `mapstructure:"STERLING_BASE_URL"`
	SterlingClientID      string `mapstructure:"STERLING_CLIENT_ID"`
	SterlingClientSecret  string `mapstructure:"STERLING_CLIENT_SECRET"`
	SterlingWebhookSecret string `mapstructure:"STERLING_WEBHOOK_SECRET"`

	// VAS reseller.
	VASBaseURL string `mapstructure:"VAS_BASE_URL"`
	VASAPIKey  string `mapstructure:"VAS_API_KEY"`

	// KYC provider.
	KYCBaseURL string `mapstructure:"KYC_BASE_URL"`
	KYCAPIKey  string `mapstructure:"KYC_API_KEY"`

	// Transaction policy, amounts in kobo.
	BankTransferFeeKobo   int64 `mapstructure:"BANK_TRANSFER_FEE_KOBO"`
	MinTransferAmountKobo int64 `mapstructure:"MIN_TRANSFER_AMOUNT_KOBO"`
	InboundFeeKobo        int64 `mapstructure:"INBOUND_FEE_KOBO"`
	MaintenanceFeeKobo    int64 `mapstructure:"MAINTENANCE_FEE_KOBO"`
	DefaultDailyLimitKobo int64 `mapstructure:"DEFAULT_DAILY_LIMIT_KOBO"`
	DefaultMonthlyLimit   int64 `mapstructure:"DEFAULT_MONTHLY_LIMIT_KOBO"`

	// PIN security.
	PINMaxAttempts    int `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutMinutes int `mapstructure:"PIN_LOCKOUT_MINUTES"`

	// Provider call policy.
	ProviderTimeoutSeconds int `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	ProviderMaxRetries     int `mapstructure:"PROVIDER_MAX_RETRIES"`

	// Job schedules (cron expressions) and tunables.
	PendingSweepSchedule   string `mapstructure:"PENDING_SWEEP_SCHEDULE"`
	PendingSweepAgeMinutes int    `mapstructure:"PENDING_SWEEP_AGE_MINUTES"`
	MaintenanceFeeSchedule string `mapstructure:"MAINTENANCE_FEE_SCHEDULE"`
	VARetrySchedule        string `mapstructure:"VA_RETRY_SCHEDULE"`
	BalanceSyncSchedule    string `mapstructure:"BALANCE_SYNC_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("BANK_TRANSFER_FEE_KOBO", 2500)       // ₦25.00
	viper.SetDefault("MIN_TRANSFER_AMOUNT_KOBO", 10000)    // ₦100.00
	viper.SetDefault("INBOUND_FEE_KOBO", 0)                // users receive the full gross credit
	viper.SetDefault("MAINTENANCE_FEE_KOBO", 0)            // disabled unless set
	viper.SetDefault("DEFAULT_DAILY_LIMIT_KOBO", 50000000) // ₦500,000.00
	viper.SetDefault("DEFAULT_MONTHLY_LIMIT_KOBO", 500000000)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 3)
	viper.SetDefault("PIN_LOCKOUT_MINUTES", 15)
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PROVIDER_MAX_RETRIES", 3)
	viper.SetDefault("PENDING_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("PENDING_SWEEP_AGE_MINUTES", 30)
	viper.SetDefault("MAINTENANCE_FEE_SCHEDULE", "0 3 * * *") // daily at 03:00
	viper.SetDefault("VA_RETRY_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("BALANCE_SYNC_SCHEDULE", "0 * * * *") // hourly
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "JWT_SECRET",
		"STERLING_BASE_URL", "STERLING_CLIENT_ID", "STERLING_CLIENT_SECRET", "STERLING_WEBHOOK_SECRET",
		"VAS_BASE_URL", "VAS_API_KEY", "KYC_BASE_URL", "KYC_API_KEY",
		"BANK_TRANSFER_FEE_KOBO", "MIN_TRANSFER_AMOUNT_KOBO", "INBOUND_FEE_KOBO", "MAINTENANCE_FEE_KOBO",
		"DEFAULT_DAILY_LIMIT_KOBO", "DEFAULT_MONTHLY_LIMIT_KOBO",
		"PIN_MAX_ATTEMPTS", "PIN_LOCKOUT_MINUTES",
		"PROVIDER_TIMEOUT_SECONDS", "PROVIDER_MAX_RETRIES",
		"PENDING_SWEEP_SCHEDULE", "PENDING_SWEEP_AGE_MINUTES",
		"MAINTENANCE_FEE_SCHEDULE", "VA_RETRY_SCHEDULE", "BALANCE_SYNC_SCHEDULE",
	} {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// PINLockout returns the lockout window as a duration.
func (c *Config) PINLockout() time.Duration {
	return time.Duration(c.PINLockoutMinutes) * time.Minute
}

// PendingSweepAge returns the sweep cutoff as a duration.
func (c *Config) PendingSweepAge() time.Duration {
	return time.Duration(c.PendingSweepAgeMinutes) * time.Minute
}

// ProviderTimeout returns the per-call provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}
