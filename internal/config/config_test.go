package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT", "SERVER_PORT", "CAMPAIGN_EVENTS_EXCHANGE", "CONTRIBUTE_RATE_LIMIT_PER_MINUTE",
		"REFUND_RATE_LIMIT_PER_MINUTE", "FINALIZE_JOB_SCHEDULE", "REFUND_SWEEP_JOB_SCHEDULE",
		"REDIS_RATE_LIMIT_PREFIX", "CAMPAIGN_DEADLINE",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.CampaignEventsExchange != "crowdfund.events" {
		t.Fatalf("expected default exchange, got %q", cfg.CampaignEventsExchange)
	}
	if cfg.ContributeRateLimitPerMinute != 30 || cfg.RefundRateLimitPerMinute != 10 {
		t.Fatalf("unexpected default rate limits: %d %d", cfg.ContributeRateLimitPerMinute, cfg.RefundRateLimitPerMinute)
	}
	if cfg.PublicRateLimitPerMinute != 60 {
		t.Fatalf("expected public rate limit 60, got %d", cfg.PublicRateLimitPerMinute)
	}
	if cfg.FinalizeJobSchedule != "@every 1m" || cfg.RefundSweepJobSchedule != "" {
		t.Fatalf("unexpected default schedules: %q %q", cfg.FinalizeJobSchedule, cfg.RefundSweepJobSchedule)
	}
	if cfg.RedisRateLimitPrefix != "crowdfund:rate_limit" {
		t.Fatalf("unexpected default prefix %q", cfg.RedisRateLimitPrefix)
	}
	if !cfg.CampaignDeadline.IsZero() {
		t.Fatalf("expected zero deadline without CAMPAIGN_DEADLINE, got %v", cfg.CampaignDeadline)
	}
}

func TestLoadConfig_CampaignTerms(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CAMPAIGN_GOAL")
	unsetEnvWithCleanup(t, "CAMPAIGN_GOAL_NAIRA")
	setEnvWithCleanup(t, "CAMPAIGN_GOAL_KOBO", "5000000")
	setEnvWithCleanup(t, "CAMPAIGN_DEADLINE", "2026-03-01T13:00:00+01:00")
	setEnvWithCleanup(t, "CAMPAIGN_BENEFICIARY_ACCOUNT_ID", " acct_beneficiary ")
	setEnvWithCleanup(t, "CAMPAIGN_ESCROW_ACCOUNT_ID", "acct_escrow")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	campaign := cfg.Campaign()
	if campaign.GoalAmount != 5_000_000 {
		t.Fatalf("expected goal 5000000 kobo, got %d", campaign.GoalAmount)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !campaign.Deadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, campaign.Deadline)
	}
	if campaign.Beneficiary != "acct_beneficiary" || campaign.EscrowAccount != "acct_escrow" {
		t.Fatalf("unexpected accounts: %+v", campaign)
	}
	if err := campaign.Validate(); err != nil {
		t.Fatalf("expected loaded campaign to validate, got %v", err)
	}
}

func TestLoadConfig_GoalInNaira(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CAMPAIGN_GOAL")
	setEnvWithCleanup(t, "CAMPAIGN_GOAL_KOBO", "1")
	setEnvWithCleanup(t, "CAMPAIGN_GOAL_NAIRA", "2500.50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CampaignGoalKobo != 250_050 {
		t.Fatalf("expected goal 250050 kobo, got %d", cfg.CampaignGoalKobo)
	}
}

func TestLoadConfig_InvalidGoalKeepsKobo(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CAMPAIGN_GOAL_NAIRA")
	setEnvWithCleanup(t, "CAMPAIGN_GOAL_KOBO", "700")
	setEnvWithCleanup(t, "CAMPAIGN_GOAL", "lots")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CampaignGoalKobo != 700 {
		t.Fatalf("expected goal to stay at 700 kobo, got %d", cfg.CampaignGoalKobo)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_InternalAPIKeyAliasAndAccountServiceFallback(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	unsetEnvWithCleanup(t, "ACCOUNT_SERVICE_INTERNAL_API_KEY")
	setEnvWithCleanup(t, "CROWDFUND_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
	if cfg.AccountServiceInternalAPIKey != "alias-only-key" {
		t.Fatalf("expected account-service key to fall back to internal key, got %q", cfg.AccountServiceInternalAPIKey)
	}
}

func TestLoadConfig_NegativeRateLimitUsesDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CONTRIBUTE_RATE_LIMIT_PER_MINUTE", "-4")
	setEnvWithCleanup(t, "REFUND_RATE_LIMIT_PER_MINUTE", "0")
	setEnvWithCleanup(t, "PUBLIC_RATE_LIMIT_PER_MINUTE", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ContributeRateLimitPerMinute != 30 {
		t.Fatalf("expected default contribute limit, got %d", cfg.ContributeRateLimitPerMinute)
	}
	if cfg.RefundRateLimitPerMinute != 0 {
		t.Fatalf("expected refund limit disabled, got %d", cfg.RefundRateLimitPerMinute)
	}
	if cfg.PublicRateLimitPerMinute != 60 {
		t.Fatalf("expected default public limit, got %d", cfg.PublicRateLimitPerMinute)
	}
}

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "", want: time.Time{}},
		{raw: "2026-03-01T12:00:00Z", want: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{raw: "1772366400", want: time.Unix(1772366400, 0).UTC()},
		{raw: "next tuesday", want: time.Time{}},
		{raw: "-5", want: time.Time{}},
	}
	for _, tt := range tests {
		if got := parseDeadline(tt.raw); !got.Equal(tt.want) {
			t.Fatalf("parseDeadline(%q): expected %v, got %v", tt.raw, tt.want, got)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://a.example , ,https://b.example"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
	if (Config{}).AllowedOrigins() != nil {
		t.Fatal("expected nil origins when unset")
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
