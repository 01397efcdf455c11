/**
 * @description
 * This package handles the configuration management for the payout-service. It uses
 * Viper to read configuration from environment variables (and an optional .env file),
 * providing a single place for every tunable of the payout lifecycle.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 * - github.com/shopspring/decimal: Validation of the payout amount cap.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/transfa/payout-service/internal/domain"
)

// Config holds all the configuration variables for the payout-service.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	CorrespondentEventQueue  string `mapstructure:"CORRESPONDENT_EVENT_QUEUE"`
	CallbackURL              string `mapstructure:"CALLBACK_URL"`
	CallbackSigningSecret    string `mapstructure:"CALLBACK_SIGNING_SECRET"`
	CallbackWorkers          int    `mapstructure:"CALLBACK_WORKERS"`
	CallbackQueueSize        int    `mapstructure:"CALLBACK_QUEUE_SIZE"`
	CallbackMaxAttempts      int    `mapstructure:"CALLBACK_MAX_ATTEMPTS"`
	CallbackTimeoutSeconds   int    `mapstructure:"CALLBACK_TIMEOUT_SECONDS"`
	CallbackStatuses         string `mapstructure:"CALLBACK_STATUSES"`
	CreatedOffsetSeconds     int    `mapstructure:"CREATED_OFFSET_SECONDS"`
	ReceivedOffsetSeconds    int    `mapstructure:"RECEIVED_OFFSET_SECONDS"`
	ProgressionStepDelayMs   int    `mapstructure:"PROGRESSION_STEP_DELAY_MS"`
	ProgressionDefaultPath   string `mapstructure:"PROGRESSION_DEFAULT_PATH"`
	ProgressionPaths         string `mapstructure:"PROGRESSION_PATHS"`
	Correspondents           string `mapstructure:"CORRESPONDENTS"`
	StrictRecipientPrefix    bool   `mapstructure:"STRICT_RECIPIENT_PREFIX"`
	MaxPayoutAmount          string `mapstructure:"MAX_PAYOUT_AMOUNT"`
	APIJWTSecret             string `mapstructure:"API_JWT_SECRET"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	SubmitRateLimitPerMinute int    `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	ResumeJobSchedule        string `mapstructure:"RESUME_JOB_SCHEDULE"`
	ResumeStaleAfterSeconds  int    `mapstructure:"RESUME_STALE_AFTER_SECONDS"`
}

var configKeys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"REDIS_URL",
	"REDIS_RATE_LIMIT_PREFIX",
	"RABBITMQ_URL",
	"EVENTS_EXCHANGE",
	"CORRESPONDENT_EVENT_QUEUE",
	"CALLBACK_URL",
	"CALLBACK_SIGNING_SECRET",
	"CALLBACK_WORKERS",
	"CALLBACK_QUEUE_SIZE",
	"CALLBACK_MAX_ATTEMPTS",
	"CALLBACK_TIMEOUT_SECONDS",
	"CALLBACK_STATUSES",
	"CREATED_OFFSET_SECONDS",
	"RECEIVED_OFFSET_SECONDS",
	"PROGRESSION_STEP_DELAY_MS",
	"PROGRESSION_DEFAULT_PATH",
	"PROGRESSION_PATHS",
	"CORRESPONDENTS",
	"STRICT_RECIPIENT_PREFIX",
	"MAX_PAYOUT_AMOUNT",
	"API_JWT_SECRET",
	"CORS_ALLOWED_ORIGINS",
	"SUBMIT_RATE_LIMIT_PER_MINUTE",
	"RESUME_JOB_SCHEDULE",
	"RESUME_STALE_AFTER_SECONDS",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "payout:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "transfa.events")
	viper.SetDefault("CORRESPONDENT_EVENT_QUEUE", "payout_service.correspondent_updates")
	viper.SetDefault("CALLBACK_WORKERS", 4)
	viper.SetDefault("CALLBACK_QUEUE_SIZE", 1024)
	viper.SetDefault("CALLBACK_MAX_ATTEMPTS", 5)
	viper.SetDefault("CALLBACK_TIMEOUT_SECONDS", 10)
	viper.SetDefault("CREATED_OFFSET_SECONDS", 29)
	viper.SetDefault("RECEIVED_OFFSET_SECONDS", 1)
	// One step every 500ms: a default payout reports ACCEPTED, SUBMITTED and COMPLETED well
	// inside a 2s callback window and reads back COMPLETED after about a second.
	viper.SetDefault("PROGRESSION_STEP_DELAY_MS", 500)
	viper.SetDefault("PROGRESSION_DEFAULT_PATH", "SUBMITTED>COMPLETED")
	// Callers routinely pair cross-border MSISDNs with a local correspondent; prefix checks are opt-in.
	viper.SetDefault("STRICT_RECIPIENT_PREFIX", false)
	viper.SetDefault("MAX_PAYOUT_AMOUNT", "")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("RESUME_JOB_SCHEDULE", "@every 1m")
	viper.SetDefault("RESUME_STALE_AFTER_SECONDS", 300)

	// Explicit bindings so every key appears in Unmarshal even without a default.
	for _, key := range configKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()
	return config, nil
}

func (c *Config) normalize() {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.CallbackURL = strings.TrimSpace(c.CallbackURL)
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = "payout:rate_limit"
	}
	if strings.TrimSpace(c.EventsExchange) == "" {
		c.EventsExchange = "transfa.events"
	}

	coercePositive("CALLBACK_WORKERS", &c.CallbackWorkers, 4)
	coercePositive("CALLBACK_QUEUE_SIZE", &c.CallbackQueueSize, 1024)
	coercePositive("CALLBACK_MAX_ATTEMPTS", &c.CallbackMaxAttempts, 5)
	coercePositive("CALLBACK_TIMEOUT_SECONDS", &c.CallbackTimeoutSeconds, 10)
	coercePositive("CREATED_OFFSET_SECONDS", &c.CreatedOffsetSeconds, 29)
	coercePositive("RECEIVED_OFFSET_SECONDS", &c.ReceivedOffsetSeconds, 1)
	coercePositive("PROGRESSION_STEP_DELAY_MS", &c.ProgressionStepDelayMs, 500)
	coercePositive("RESUME_STALE_AFTER_SECONDS", &c.ResumeStaleAfterSeconds, 300)
	if c.SubmitRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative SUBMIT_RATE_LIMIT_PER_MINUTE; disabling\" value=%d", c.SubmitRateLimitPerMinute)
		c.SubmitRateLimitPerMinute = 0
	}

	c.MaxPayoutAmount = strings.TrimSpace(c.MaxPayoutAmount)
	if c.MaxPayoutAmount != "" {
		if amount, err := decimal.NewFromString(c.MaxPayoutAmount); err != nil || !amount.IsPositive() {
			log.Printf("level=warn component=config msg=\"invalid MAX_PAYOUT_AMOUNT; no cap applied\" value=%q", c.MaxPayoutAmount)
			c.MaxPayoutAmount = ""
		}
	}
	if strings.TrimSpace(c.ResumeJobSchedule) == "" {
		c.ResumeJobSchedule = "@every 1m"
	}
}

// MaxAmount returns the configured cap, or zero when no cap applies.
func (c Config) MaxAmount() decimal.Decimal {
	if c.MaxPayoutAmount == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(c.MaxPayoutAmount)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// CallbackStatusList parses CALLBACK_STATUSES. Unknown entries are skipped with a warning;
// an empty result means every transition is reported.
func (c Config) CallbackStatusList() []domain.PayoutStatus {
	statuses := make([]domain.PayoutStatus, 0)
	for _, raw := range strings.Split(c.CallbackStatuses, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, ok := domain.ParseStatus(raw)
		if !ok {
			log.Printf("level=warn component=config msg=\"unknown status in CALLBACK_STATUSES\" value=%q", raw)
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func coercePositive(key string, value *int, fallback int) {
	if *value > 0 {
		return
	}
	log.Printf("level=warn component=config msg=\"non-positive value; using default\" key=%s value=%d default=%d", key, *value, fallback)
	*value = fallback
}
