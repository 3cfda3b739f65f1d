package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DevJWTSecret is the fallback signing secret. It is refused in production.
const DevJWTSecret = "dev-insecure-secret"

// Config holds every setting read from the environment.
type Config struct {
	Env string `envconfig:"APP_ENV" default:"development"`

	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	HTTPPort      string `envconfig:"HTTP_PORT" default:"4242"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"https://www.gainable.fr"`

	JWTSecret     string        `envconfig:"JWT_SECRET" default:"dev-insecure-secret"`
	TokenDuration time.Duration `envconfig:"TOKEN_DURATION" default:"168h"`

	// Admin inbox receiving every lead, and the editorial account that is
	// hidden from search and exempt from the publish quota.
	AdminEmail       string `envconfig:"ADMIN_EMAIL" default:"contact@gainable.fr"`
	ReservedAccount  string `envconfig:"RESERVED_ACCOUNT_EMAIL" default:"redaction@gainable.fr"`
	MailFrom         string `envconfig:"MAIL_FROM" default:"Gainable.fr <notifications@gainable.fr>"`
	ResendAPIKey     string `envconfig:"RESEND_API_KEY"`
	NominatimBaseURL string `envconfig:"NOMINATIM_BASE_URL" default:"https://nominatim.openstreetmap.org"`
	NominatimAgent   string `envconfig:"NOMINATIM_USER_AGENT" default:"gainable-geocoder/1.0 (contact@gainable.fr)"`
	SireneBaseURL    string `envconfig:"SIRENE_BASE_URL" default:"https://recherche-entreprises.api.gouv.fr"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `envconfig:"STRIPE_PRICE_ID"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`

	S3Key      string `envconfig:"S3_KEY"`
	S3Secret   string `envconfig:"S3_SECRET"`
	S3URL      string `envconfig:"S3_URL"`
	S3Region   string `envconfig:"S3_REGION" default:"fr-par"`
	S3Bucket   string `envconfig:"S3_BUCKET" default:"gainable-uploads"`
	MaxUploadB int64  `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	ArticlePolicyFile string `envconfig:"ARTICLE_POLICY_FILE"`

	CronSchedule            string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
	MaintenanceMaxAttempts  int    `envconfig:"MAINTENANCE_MAX_ATTEMPTS" default:"4"`
	MaintenanceBackoffStart string `envconfig:"MAINTENANCE_BACKOFF" default:"2s"`
}

// DSN returns the PostgreSQL data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate rejects settings that must never reach production.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == DevJWTSecret {
			return errors.New("JWT_SECRET must be set to a non-default value in production")
		}
		if c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.TokenDuration <= 0 {
		return errors.New("TOKEN_DURATION must be positive")
	}
	if c.AdminEmail == "" {
		return errors.New("ADMIN_EMAIL must not be empty")
	}
	if _, err := time.ParseDuration(c.MaintenanceBackoffStart); err != nil {
		return fmt.Errorf("MAINTENANCE_BACKOFF: %w", err)
	}
	return nil
}

// MaintenanceBackoff returns the first retry delay of the maintenance runner.
func (c *Config) MaintenanceBackoff() time.Duration {
	d, err := time.ParseDuration(c.MaintenanceBackoffStart)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// Load reads the configuration from the environment (and a .env file if present).
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}
