// Package config содержит логику чтения конфигурации аукционного сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации аукционного сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"auctiond"`
	AuthSecret  string `env:"AUTH_SECRET"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"salvage.events"`

	SettlementCurrency       string        `env:"SETTLEMENT_CURRENCY" envDefault:"NGN"`
	DefaultPaymentMethod     string        `env:"DEFAULT_PAYMENT_METHOD" envDefault:"paystack"`
	PaystackSecretKey        string        `env:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL          string        `env:"PAYSTACK_BASE_URL"`
	FlutterwaveSecretKey     string        `env:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveWebhookSecret string        `env:"FLUTTERWAVE_WEBHOOK_SECRET"`
	FlutterwaveBaseURL       string        `env:"FLUTTERWAVE_BASE_URL"`
	CheckoutCallbackURL      string        `env:"CHECKOUT_CALLBACK_URL"`
	ProviderTimeout          time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SuspendSweepInterval time.Duration `env:"SUSPEND_SWEEP_INTERVAL" envDefault:"1h"`
	FraudFlagThreshold   int           `env:"FRAUD_FLAG_THRESHOLD" envDefault:"3"`
	SuspensionWindow     time.Duration `env:"SUSPENSION_WINDOW" envDefault:"720h"`

	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения приоритетнее флагов.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	for _, o := range cfg.CORSAllowedOrigins {
		if o == "*" || strings.Contains(o, "://*") {
			return nil, fmt.Errorf("wildcard CORS origin %q is not allowed", o)
		}
	}

	if cfg.SweepInterval <= 0 || cfg.SuspendSweepInterval <= 0 {
		return nil, errors.New("sweep intervals must be positive")
	}

	return cfg, nil
}
