package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DBPath        string
	BaseURL       string
	LogLevel      string
	LogFormat     string
	JWTSecret     string
	SweepInterval time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string

	PostmarkToken string
	MailFrom      string

	AllowedOrigins []string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	jwtSecret := getEnv("FITSTACK_JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("FITSTACK_JWT_SECRET is required")
	}

	port := getEnv("FITSTACK_PORT", "8090")

	sweep, err := time.ParseDuration(getEnv("FITSTACK_SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("parse FITSTACK_SWEEP_INTERVAL: %w", err)
	}
	if sweep <= 0 {
		return nil, fmt.Errorf("FITSTACK_SWEEP_INTERVAL must be positive")
	}

	cfg := &Config{
		Port:                port,
		DBPath:              getEnv("FITSTACK_DB_PATH", "fitstack.db"),
		BaseURL:             strings.TrimRight(getEnv("FITSTACK_BASE_URL", "http://localhost:"+port), "/"),
		LogLevel:            getEnv("FITSTACK_LOG_LEVEL", "info"),
		LogFormat:           getEnv("FITSTACK_LOG_FORMAT", "text"),
		JWTSecret:           jwtSecret,
		SweepInterval:       sweep,
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCurrency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
		PostmarkToken:       getEnv("POSTMARK_SERVER_TOKEN", ""),
		MailFrom:            getEnv("FITSTACK_MAIL_FROM", ""),
		AllowedOrigins:      splitList(getEnv("FITSTACK_ALLOWED_ORIGINS", "")),
	}

	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	return cfg, nil
}

// StripeEnabled reports whether billing routes should be mounted.
func (c *Config) StripeEnabled() bool {
	return c != nil && c.StripeSecretKey != ""
}

func (c *Config) CheckoutSuccessURL() string {
	return c.BaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
}

func (c *Config) CheckoutCancelURL() string {
	return c.BaseURL + "/plans"
}

func (c *Config) PortalReturnURL() string {
	return c.BaseURL + "/account"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
