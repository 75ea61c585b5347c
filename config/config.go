package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Env         string
	FrontendURL string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string

	JWTSecret     string
	ReceiptSecret string

	Stripe StripeConfig

	UploadDir  string
	RateLimit  int
	RateWindow time.Duration

	SMTP SMTPConfig
}

// StripeConfig holds what the payment gateway needs. SecretKey and
// WebhookSecret are required.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
	Currency      string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (c *Config) Production() bool { return c.Env == "production" }

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "ecommerce")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("UPLOAD_DIR", "static/uploads")
	v.SetDefault("RATE_LIMIT", 100)
	v.SetDefault("RATE_WINDOW", "15m")
	v.SetDefault("SMTP_PORT", 587)
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	port := v.GetString("PORT")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	cfg := &Config{
		Port:          port,
		Env:           v.GetString("APP_ENV"),
		FrontendURL:   strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		MongoURI:      v.GetString("MONGO_URI"),
		MongoDB:       v.GetString("MONGO_DB"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		ReceiptSecret: v.GetString("RECEIPT_SECRET"),
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			APIURL:        v.GetString("STRIPE_API_URL"),
			Currency:      v.GetString("STRIPE_CURRENCY"),
		},
		UploadDir:  v.GetString("UPLOAD_DIR"),
		RateLimit:  v.GetInt("RATE_LIMIT"),
		RateWindow: v.GetDuration("RATE_WINDOW"),
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Password: v.GetString("SMTP_PASS"),
			From:     v.GetString("SMTP_FROM"),
		},
	}
	if cfg.ReceiptSecret == "" {
		cfg.ReceiptSecret = cfg.JWTSecret
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return errors.New("RATE_LIMIT and RATE_WINDOW must be positive")
	}
	return nil
}
