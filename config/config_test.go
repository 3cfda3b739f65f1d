package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gainable/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Env:                     "development",
		JWTSecret:               config.DevJWTSecret,
		TokenDuration:           time.Hour,
		AdminEmail:              "contact@gainable.fr",
		MaintenanceBackoffStart: "1s",
	}
}

func TestValidate_DevSecretRejectedInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.StripeWebhookSecret = "whsec_test"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail with the fallback secret in production")
	}
}

func TestValidate_DevSecretAllowedInDevelopment(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected Validate to succeed in development, got: %v", err)
	}
}

func TestValidate_ProductionWithRealSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "PRODUCTION"
	cfg.JWTSecret = "a-long-random-secret"
	cfg.StripeWebhookSecret = "whsec_test"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed unexpectedly: %v", err)
	}
}

func TestValidate_ProductionRequiresWebhookSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "a-long-random-secret"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail without a webhook secret")
	}
}

func TestValidate_BadBackoff(t *testing.T) {
	cfg := validConfig()
	cfg.MaintenanceBackoffStart = "soon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail for an unparsable backoff")
	}
}

func TestLoadArticlePolicy_Defaults(t *testing.T) {
	p, err := config.LoadArticlePolicy("")
	if err != nil {
		t.Fatalf("LoadArticlePolicy: %v", err)
	}
	if p.MonthlyQuota != 4 || p.MinSections != 3 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestLoadArticlePolicy_FileOverridesSomeKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "min_words: 300\nforbidden_phrases:\n  - \"promo flash\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := config.LoadArticlePolicy(path)
	if err != nil {
		t.Fatalf("LoadArticlePolicy: %v", err)
	}
	if p.MinWords != 300 {
		t.Errorf("MinWords = %d, want 300", p.MinWords)
	}
	if p.MinFAQ != 3 {
		t.Errorf("MinFAQ = %d, want default 3", p.MinFAQ)
	}
	if len(p.ForbiddenPhrases) != 1 || p.ForbiddenPhrases[0] != "promo flash" {
		t.Errorf("ForbiddenPhrases = %v", p.ForbiddenPhrases)
	}
}

func TestLoadArticlePolicy_NegativeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("monthly_quota: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.LoadArticlePolicy(path); err == nil {
		t.Fatalf("expected an error for a negative quota")
	}
}
