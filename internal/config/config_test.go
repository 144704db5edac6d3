package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseEnvDefaults(t *testing.T) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}

	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access ttl 15m, got %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("expected refresh ttl 30d, got %v", cfg.JWT.RefreshTokenTTL)
	}
	if cfg.OTP.TTL != 10*time.Minute || cfg.OTP.Length != 6 || cfg.OTP.ResendInterval != time.Minute {
		t.Fatalf("unexpected otp defaults: %+v", cfg.OTP)
	}
	if cfg.OTP.MaxAttempts.Count != 5 || cfg.OTP.MaxAttempts.Window != 10*time.Minute {
		t.Fatalf("expected 5/10m, got %s", cfg.OTP.MaxAttempts)
	}
	if cfg.KYC.AutoApprove != 80 || cfg.KYC.AutoReject != 50 {
		t.Fatalf("unexpected thresholds: %d/%d", cfg.KYC.AutoApprove, cfg.KYC.AutoReject)
	}
	if cfg.Notify.DefaultCountryCode != "+33" {
		t.Fatalf("expected +33, got %q", cfg.Notify.DefaultCountryCode)
	}
	if cfg.Cohort.AccessCacheTTL != 2*time.Minute {
		t.Fatalf("expected 2m cache ttl, got %v", cfg.Cohort.AccessCacheTTL)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("OTP_MAX_ATTEMPTS", "3/1m")
	t.Setenv("REFRESH_TOKEN_TTL", "7d")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SMS_PROVIDER", "twilio")

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.OTP.MaxAttempts.Count != 3 || cfg.OTP.MaxAttempts.Window != time.Minute {
		t.Fatalf("expected 3/1m, got %s", cfg.OTP.MaxAttempts)
	}
	if cfg.JWT.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d, got %v", cfg.JWT.RefreshTokenTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Notify.SMSProvider != "twilio" {
		t.Fatalf("expected twilio, got %q", cfg.Notify.SMSProvider)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("OTP_MAX_ATTEMPTS", "five")

	var cfg Config
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{in: "30d", want: 720 * time.Hour},
		{in: "15m", want: 15 * time.Minute},
		{in: "90s", want: 90 * time.Second},
		{in: "xd", err: true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s: expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestValidateProduction(t *testing.T) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	cfg.Environment = "production"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected production validation error")
	}
	for _, want := range []string{"JWT_SECRET", "PASSWORD_PEPPERS", "DATABASE_URL", "mock"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidateDevelopmentFillsSecret(t *testing.T) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JWT.Secret == "" {
		t.Fatal("expected development secret")
	}
}
