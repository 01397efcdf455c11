package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/transfa/payout-service/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range append(configKeys, "PORT", "PAYOUT_REDIS_URL") {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.CreatedOffsetSeconds != 29 || cfg.ReceivedOffsetSeconds != 1 {
		t.Fatalf("unexpected timestamp offsets %d/%d", cfg.CreatedOffsetSeconds, cfg.ReceivedOffsetSeconds)
	}
	if cfg.ProgressionDefaultPath != "SUBMITTED>COMPLETED" || cfg.ProgressionStepDelayMs != 500 {
		t.Fatalf("unexpected progression defaults %q %d", cfg.ProgressionDefaultPath, cfg.ProgressionStepDelayMs)
	}
	if cfg.StrictRecipientPrefix {
		t.Fatal("expected recipient prefix checks to be opt-in")
	}
	if cfg.CallbackURL != "" {
		t.Fatalf("expected callbacks disabled by default, got %q", cfg.CallbackURL)
	}
	if len(cfg.CallbackStatusList()) != 0 {
		t.Fatal("expected every status to be reportable by default")
	}
	if !cfg.MaxAmount().IsZero() {
		t.Fatal("expected no amount cap by default")
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 1 || origins[0] != "*" {
		t.Fatalf("unexpected default origins %v", origins)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7070")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CALLBACK_WORKERS", "0")
	setEnvWithCleanup(t, "CALLBACK_MAX_ATTEMPTS", "-3")
	setEnvWithCleanup(t, "SUBMIT_RATE_LIMIT_PER_MINUTE", "-1")
	setEnvWithCleanup(t, "MAX_PAYOUT_AMOUNT", "lots")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CallbackWorkers != 4 || cfg.CallbackMaxAttempts != 5 {
		t.Fatalf("expected defaults after coercion, got workers=%d attempts=%d", cfg.CallbackWorkers, cfg.CallbackMaxAttempts)
	}
	if cfg.SubmitRateLimitPerMinute != 0 {
		t.Fatalf("expected rate limit disabled, got %d", cfg.SubmitRateLimitPerMinute)
	}
	if cfg.MaxPayoutAmount != "" {
		t.Fatalf("expected invalid cap to be dropped, got %q", cfg.MaxPayoutAmount)
	}
}

func TestLoadConfig_ReadsEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CALLBACK_URL")
	unsetEnvWithCleanup(t, "CALLBACK_STATUSES")
	unsetEnvWithCleanup(t, "MAX_PAYOUT_AMOUNT")

	dir := t.TempDir()
	content := "CALLBACK_URL=http://localhost:9999/callbacks\nCALLBACK_STATUSES=accepted, COMPLETED ,bogus\nMAX_PAYOUT_AMOUNT=5000.50\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CallbackURL != "http://localhost:9999/callbacks" {
		t.Fatalf("unexpected callback url %q", cfg.CallbackURL)
	}
	statuses := cfg.CallbackStatusList()
	if len(statuses) != 2 || statuses[0] != domain.StatusAccepted || statuses[1] != domain.StatusCompleted {
		t.Fatalf("unexpected callback statuses %v", statuses)
	}
	if cfg.MaxAmount().String() != "5000.5" {
		t.Fatalf("unexpected max amount %s", cfg.MaxAmount())
	}
}

func TestLoadConfig_StrictRecipientPrefixOptIn(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "STRICT_RECIPIENT_PREFIX", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.StrictRecipientPrefix {
		t.Fatal("expected STRICT_RECIPIENT_PREFIX=true to enable prefix checks")
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
			return
		}
		_ = os.Unsetenv(key)
	})
}
