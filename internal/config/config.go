package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"caphe/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Payment       PaymentConfig       `yaml:"payment"`
	Orders        OrdersConfig        `yaml:"orders"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Settlement    SettlementConfig    `yaml:"settlement"`
	Booking       BookingConfig       `yaml:"booking"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Backup        BackupConfig        `yaml:"backup"`
	Exports       ExportConfig        `yaml:"exports"`
	Tables        []models.Table      `yaml:"tables"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// PaymentConfig describes the bank QR provider the settlement engine
// talks to. AccountNumber/AccountName/BankCode end up inside the QR
// payload; the engine itself never interprets them.
type PaymentConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	AccountNumber string        `yaml:"account_number"`
	AccountName   string        `yaml:"account_name"`
	BankCode      string        `yaml:"bank_code"`
	Timeout       time.Duration `yaml:"timeout"`
}

// OrdersConfig points at the external order subsystem that owns line
// items and running totals for occupied tables.
type OrdersConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type NotificationsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BotToken       string `yaml:"bot_token"`
	EmployeeChatID int64  `yaml:"employee_chat_id"`
	Debug          bool   `yaml:"debug"`
}

type SettlementConfig struct {
	PollMaxAttempts  int           `yaml:"poll_max_attempts"`
	PollInitialDelay time.Duration `yaml:"poll_initial_delay"`
	PollMaxDelay     time.Duration `yaml:"poll_max_delay"`
	WorkerEnabled    bool          `yaml:"worker_enabled"`
}

// BookingConfig: Timezone задаёт часовой пояс кафе — границы суток для
// проверки дат считаются в нём, не в UTC.
type BookingConfig struct {
	MaxBookingDays int    `yaml:"max_booking_days"`
	AllowSameDay   bool   `yaml:"allow_same_day"`
	Timezone       string `yaml:"timezone"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env, если есть, подхватывается до разворачивания переменных
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Payment.BaseURL == "" {
		return errors.New("payment gateway base_url is required")
	}

	if c.Notifications.Enabled && c.Notifications.BotToken == "" {
		return errors.New("notifications bot token is required when notifications are enabled")
	}

	return ValidateTables(c.Tables)
}

func ValidateTables(tables []models.Table) error {
	names := make(map[string]bool)
	for _, table := range tables {
		if table.Name == "" {
			return errors.New("table with empty name in config")
		}
		if table.Capacity <= 0 {
			return fmt.Errorf("table '%s' has invalid capacity %d", table.Name, table.Capacity)
		}
		if names[table.Name] {
			return fmt.Errorf("duplicate table name found: %s", table.Name)
		}
		names[table.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}
	if c.Orders.Timeout == 0 {
		c.Orders.Timeout = 10 * time.Second
	}

	if c.Settlement.PollMaxAttempts == 0 {
		c.Settlement.PollMaxAttempts = 30
	}
	if c.Settlement.PollInitialDelay == 0 {
		c.Settlement.PollInitialDelay = 5 * time.Second
	}
	if c.Settlement.PollMaxDelay == 0 {
		c.Settlement.PollMaxDelay = 2 * time.Minute
	}

	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = 60
	}
}
