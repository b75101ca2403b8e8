package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	WhatsAppAPIURL        string `env:"WHATSAPP_API_URL,default=https://graph.facebook.com/v18.0"`
	WhatsAppPhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID,required=true"`
	WhatsAppToken         string `env:"WHATSAPP_TOKEN,required=true"`
	WhatsAppLanguage      string `env:"WHATSAPP_LANGUAGE,default=pt_BR"`
	TemplateConsulta      string `env:"TEMPLATE_CONSULTA,required=true"`
	TemplateExame         string `env:"TEMPLATE_EXAME,required=true"`
	WebhookVerifyToken    string `env:"WEBHOOK_VERIFY_TOKEN,default=token"`

	DispatchIntervalMS int    `env:"DISPATCH_INTERVAL_MS,default=1000"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=80"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=4"`
	ReportTimezone     string `env:"REPORT_TIMEZONE,default=America/Sao_Paulo"`
	APIPort            int    `env:"API_PORT,default=3000"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DispatchInterval is the pause between consecutive provider calls of a run.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalMS) * time.Millisecond
}

// QueueDispatch reports whether dispatch runs are handed to the worker
// through RabbitMQ instead of running inside the API process.
func (c *Config) QueueDispatch() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

func (c *Config) ReportLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.ReportTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if c.DispatchIntervalMS < 1000 {
		return fmt.Errorf("DISPATCH_INTERVAL_MS must be >= 1000, got %d", c.DispatchIntervalMS)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	}
	if _, err := c.ReportLocation(); err != nil {
		return err
	}
	return nil
}
