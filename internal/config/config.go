// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrInvalidQuotaConfig     = errors.New("invalid quota configuration")
	ErrInvalidPaymentConfig   = errors.New("invalid payment configuration")
	ErrInvalidStorageConfig   = errors.New("invalid storage configuration")
	ErrInvalidSchedulerConfig = errors.New("invalid scheduler configuration")
)

// Config holds every setting the bot reads at startup
type Config struct {
	BotToken string  `env:"BOT_TOKEN,required,notEmpty"`
	OwnerIDs []int64 `env:"OWNER_IDS" envSeparator:","`

	AI  AIConfig
	OCR OCRConfig

	Storage StorageConfig
	Quota   QuotaConfig
	Payment PaymentConfig

	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"300s"`
	BroadcastRate    float64       `env:"BROADCAST_RATE" envDefault:"25"`
	TaskBankPath     string        `env:"TASK_BANK_PATH"`

	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// AIConfig configures the OpenRouter chat completions client
type AIConfig struct {
	APIKey  string        `env:"OPENROUTER_API_KEY"`
	URL     string        `env:"AI_URL" envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	Model   string        `env:"AI_MODEL" envDefault:"openai/gpt-3.5-turbo"`
	Timeout time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`
}

// OCRConfig configures the OCR.space client
type OCRConfig struct {
	APIKey   string        `env:"OCR_API_KEY"`
	URL      string        `env:"OCR_URL" envDefault:"https://api.ocr.space/parse/image"`
	Language string        `env:"OCR_LANGUAGE" envDefault:"rus"`
	Timeout  time.Duration `env:"OCR_TIMEOUT" envDefault:"30s"`
}

// StorageConfig points at the snapshot files and the optional SQL mirror
type StorageConfig struct {
	DataFile     string `env:"USER_DATA_FILE" envDefault:"user_data.json"`
	BackupFile   string `env:"BACKUP_FILE" envDefault:"user_data_backup.json"`
	MirrorDriver string `env:"MIRROR_DRIVER" envDefault:"sqlite3"`
	MirrorDSN    string `env:"MIRROR_DSN"`
}

// QuotaConfig holds the free usage and premium grant sizes
type QuotaConfig struct {
	FreeDailyLimit int `env:"FREE_DAILY_LIMIT" envDefault:"5"`
	PremiumDays    int `env:"PREMIUM_DAYS_DEFAULT" envDefault:"30"`
}

// PaymentConfig drives the /buy flow. An empty ProviderToken switches the
// bot to manual payments confirmed by an owner.
type PaymentConfig struct {
	ProviderToken string `env:"TELEGRAM_PAYMENT_PROVIDER_TOKEN"`
	PriceRUB      int    `env:"PREMIUM_PRICE_RUB" envDefault:"199"`
	Currency      string `env:"PAYMENT_CURRENCY" envDefault:"RUB"`
	ManualDetails string `env:"OWNER_PAYMENT_DETAILS" envDefault:"Свяжитесь с владельцем для оплаты."`
}

// Load reads an optional .env file and then parses the environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment and validates it
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Quota.FreeDailyLimit < 0 {
		return fmt.Errorf("%w: FREE_DAILY_LIMIT must be >= 0, got %d", ErrInvalidQuotaConfig, c.Quota.FreeDailyLimit)
	}
	if c.Quota.PremiumDays <= 0 {
		return fmt.Errorf("%w: PREMIUM_DAYS_DEFAULT must be > 0, got %d", ErrInvalidQuotaConfig, c.Quota.PremiumDays)
	}
	if c.Payment.PriceRUB <= 0 {
		return fmt.Errorf("%w: PREMIUM_PRICE_RUB must be > 0", ErrInvalidPaymentConfig)
	}
	if c.Storage.DataFile == "" || c.Storage.BackupFile == "" || c.Storage.DataFile == c.Storage.BackupFile {
		return fmt.Errorf("%w: data and backup files must be set and differ", ErrInvalidStorageConfig)
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("%w: AUTOSAVE_INTERVAL must be positive", ErrInvalidSchedulerConfig)
	}
	return nil
}
