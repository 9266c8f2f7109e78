// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultMpesaBaseURL = "https://sandbox.safaricom.co.ke"
)

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress  string        `env:"RUN_ADDRESS"`
	DatabaseURI string        `env:"DATABASE_URI"`
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"`

	Mpesa Mpesa

	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollMaxAttempts    int           `env:"POLL_MAX_ATTEMPTS" envDefault:"60"`
	ManualConfirmDelay time.Duration `env:"MANUAL_CONFIRM_DELAY" envDefault:"2500ms"`

	PaymentRateRPS   float64 `env:"PAYMENT_RATE_RPS" envDefault:"5"`
	PaymentRateBurst int     `env:"PAYMENT_RATE_BURST" envDefault:"10"`
}

// Mpesa содержит учётные данные платёжного шлюза.
type Mpesa struct {
	BaseURL        string `env:"MPESA_BASE_URL"`
	ConsumerKey    string `env:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string `env:"MPESA_CONSUMER_SECRET"`
	Shortcode      string `env:"MPESA_SHORTCODE"`
	Passkey        string `env:"MPESA_PASSKEY"`
	CallbackURL    string `env:"MPESA_CALLBACK_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envTokenTTL := cfg.TokenTTL
	envMpesaBaseURL := cfg.Mpesa.BaseURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "session token signing secret")
	flag.DurationVar(&cfg.TokenTTL, "t", 0, "session token lifetime, 0 for no expiry")
	flag.StringVar(&cfg.Mpesa.BaseURL, "m", defaultMpesaBaseURL, "M-Pesa API base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envTokenTTL != 0 {
		cfg.TokenTTL = envTokenTTL
	}
	if envMpesaBaseURL != "" {
		cfg.Mpesa.BaseURL = envMpesaBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.Mpesa.BaseURL == "" {
		cfg.Mpesa.BaseURL = defaultMpesaBaseURL
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("poll max attempts must be positive, got %d", cfg.PollMaxAttempts)
	}

	return cfg, nil
}
