/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/transfa/crowdfund-service/internal/domain"
)

const (
	defaultRateLimitPrefix         = "crowdfund:rate_limit"
	defaultContributeRatePerMinute = 30
	defaultRefundRatePerMinute     = 10
	defaultPublicRatePerMinute     = 60
)

// Config holds all the configuration variables for the crowdfund-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	CampaignEventsExchange       string `mapstructure:"CAMPAIGN_EVENTS_EXCHANGE"`
	AnchorAPIBaseURL             string `mapstructure:"ANCHOR_API_BASE_URL"`
	AnchorAPIKey                 string `mapstructure:"ANCHOR_API_KEY"`
	AccountServiceURL            string `mapstructure:"ACCOUNT_SERVICE_URL"`
	AccountServiceInternalAPIKey string `mapstructure:"ACCOUNT_SERVICE_INTERNAL_API_KEY"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	AuthJWTSecret                string `mapstructure:"AUTH_JWT_SECRET"`
	CORSAllowedOrigins           string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	CampaignGoalKobo             int64  `mapstructure:"CAMPAIGN_GOAL_KOBO"`
	CampaignDeadlineRaw          string `mapstructure:"CAMPAIGN_DEADLINE"`
	CampaignBeneficiaryAccountID string `mapstructure:"CAMPAIGN_BENEFICIARY_ACCOUNT_ID"`
	CampaignEscrowAccountID      string `mapstructure:"CAMPAIGN_ESCROW_ACCOUNT_ID"`
	ContributeRateLimitPerMinute int    `mapstructure:"CONTRIBUTE_RATE_LIMIT_PER_MINUTE"`
	RefundRateLimitPerMinute     int    `mapstructure:"REFUND_RATE_LIMIT_PER_MINUTE"`
	PublicRateLimitPerMinute     int    `mapstructure:"PUBLIC_RATE_LIMIT_PER_MINUTE"`
	FinalizeJobSchedule          string `mapstructure:"FINALIZE_JOB_SCHEDULE"`
	RefundSweepJobSchedule       string `mapstructure:"REFUND_SWEEP_JOB_SCHEDULE"`

	// CampaignDeadline is parsed from CampaignDeadlineRaw; zero when missing or invalid.
	CampaignDeadline time.Time `mapstructure:"-"`
}

// Campaign returns the campaign terms for the ledger.
func (c Config) Campaign() domain.CampaignConfig {
	return domain.CampaignConfig{
		GoalAmount:    c.CampaignGoalKobo,
		Deadline:      c.CampaignDeadline,
		Beneficiary:   c.CampaignBeneficiaryAccountID,
		EscrowAccount: c.CampaignEscrowAccountID,
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("CAMPAIGN_EVENTS_EXCHANGE", "crowdfund.events")
	viper.SetDefault("CONTRIBUTE_RATE_LIMIT_PER_MINUTE", defaultContributeRatePerMinute)
	viper.SetDefault("REFUND_RATE_LIMIT_PER_MINUTE", defaultRefundRatePerMinute)
	viper.SetDefault("PUBLIC_RATE_LIMIT_PER_MINUTE", defaultPublicRatePerMinute)
	viper.SetDefault("FINALIZE_JOB_SCHEDULE", "@every 1m")
	viper.SetDefault("REFUND_SWEEP_JOB_SCHEDULE", "")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CROWDFUND_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CAMPAIGN_EVENTS_EXCHANGE")
	_ = viper.BindEnv("ANCHOR_API_BASE_URL")
	_ = viper.BindEnv("ANCHOR_API_KEY")
	_ = viper.BindEnv("ACCOUNT_SERVICE_URL")
	_ = viper.BindEnv("ACCOUNT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CROWDFUND_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("CAMPAIGN_GOAL_KOBO")
	_ = viper.BindEnv("CAMPAIGN_GOAL")
	_ = viper.BindEnv("CAMPAIGN_GOAL_NAIRA")
	_ = viper.BindEnv("CAMPAIGN_DEADLINE")
	_ = viper.BindEnv("CAMPAIGN_BENEFICIARY_ACCOUNT_ID")
	_ = viper.BindEnv("CAMPAIGN_ESCROW_ACCOUNT_ID")
	_ = viper.BindEnv("CONTRIBUTE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REFUND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PUBLIC_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("FINALIZE_JOB_SCHEDULE")
	_ = viper.BindEnv("REFUND_SWEEP_JOB_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("CROWDFUND_SERVICE_INTERNAL_API_KEY"))
	}
	config.AccountServiceInternalAPIKey = strings.TrimSpace(config.AccountServiceInternalAPIKey)
	if config.AccountServiceInternalAPIKey == "" {
		config.AccountServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.CampaignBeneficiaryAccountID = strings.TrimSpace(config.CampaignBeneficiaryAccountID)
	config.CampaignEscrowAccountID = strings.TrimSpace(config.CampaignEscrowAccountID)
	config.FinalizeJobSchedule = strings.TrimSpace(config.FinalizeJobSchedule)
	config.RefundSweepJobSchedule = strings.TrimSpace(config.RefundSweepJobSchedule)

	// Allow specifying the goal in whole currency units via CAMPAIGN_GOAL or CAMPAIGN_GOAL_NAIRA.
	for _, key := range []string{"CAMPAIGN_GOAL", "CAMPAIGN_GOAL_NAIRA"} {
		if !viper.IsSet(key) {
			continue
		}
		goalStr := strings.TrimSpace(viper.GetString(key))
		if goalStr == "" {
			continue
		}
		goalValue, parseErr := strconv.ParseFloat(goalStr, 64)
		if parseErr != nil {
			log.Printf("level=warn component=config msg=\"invalid %s\" value=%q err=%v", key, goalStr, parseErr)
			continue
		}
		config.CampaignGoalKobo = int64(math.Round(goalValue * 100))
		break
	}
	if config.CampaignGoalKobo < 0 {
		log.Printf("level=warn component=config msg=\"negative campaign goal configured; coercing to zero\" goal_kobo=%d", config.CampaignGoalKobo)
		config.CampaignGoalKobo = 0
	}

	config.CampaignDeadline = parseDeadline(config.CampaignDeadlineRaw)

	if config.ContributeRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative contribute rate limit; using default\" value=%d", config.ContributeRateLimitPerMinute)
		config.ContributeRateLimitPerMinute = defaultContributeRatePerMinute
	}
	if config.RefundRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative refund rate limit; using default\" value=%d", config.RefundRateLimitPerMinute)
		config.RefundRateLimitPerMinute = defaultRefundRatePerMinute
	}
	if config.PublicRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative public rate limit; using default\" value=%d", config.PublicRateLimitPerMinute)
		config.PublicRateLimitPerMinute = defaultPublicRatePerMinute
	}

	return
}

// parseDeadline accepts RFC3339 timestamps or unix seconds.
func parseDeadline(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if deadline, err := time.Parse(time.RFC3339, raw); err == nil {
		return deadline.UTC()
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil && seconds > 0 {
		return time.Unix(seconds, 0).UTC()
	}
	log.Printf("level=warn component=config msg=\"invalid CAMPAIGN_DEADLINE; expected RFC3339 or unix seconds\" value=%q", raw)
	return time.Time{}
}
