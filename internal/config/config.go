package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Saga        SagaConfig        `yaml:"saga"`
	Bonus       BonusConfig       `yaml:"bonus"`
	TDS         TDSConfig         `yaml:"tds"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// DatabaseConfig contains PostgreSQL connection settings. Driver "memory"
// keeps everything in process, for local development.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// JWTConfig contains operator token settings
type JWTConfig struct {
	Secret             string `yaml:"secret"`
	OperatorTokenHours int    `yaml:"operator_token_hours"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// GatewayConfig contains payment gateway settings
type GatewayConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// FulfillmentConfig controls the fulfillment lock and saga hand-off
type FulfillmentConfig struct {
	LockWaitSeconds int    `yaml:"lock_wait_seconds"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	Dispatch        string `yaml:"dispatch"` // "inline" or "async"
	Workers         int    `yaml:"workers"`
	QueueSize       int    `yaml:"queue_size"`
}

func (f FulfillmentConfig) LockWait() time.Duration {
	return time.Duration(f.LockWaitSeconds) * time.Second
}

func (f FulfillmentConfig) LockTTL() time.Duration {
	return time.Duration(f.LockTTLSeconds) * time.Second
}

// SagaConfig contains recovery settings
type SagaConfig struct {
	StaleAfterHours    int `yaml:"stale_after_hours"`
	RunLockTTLSeconds  int `yaml:"run_lock_ttl_seconds"`
	AllocationWaitSecs int `yaml:"allocation_wait_seconds"`
}

func (s SagaConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterHours) * time.Hour
}

func (s SagaConfig) RunLockTTL() time.Duration {
	return time.Duration(s.RunLockTTLSeconds) * time.Second
}

func (s SagaConfig) AllocationWait() time.Duration {
	return time.Duration(s.AllocationWaitSecs) * time.Second
}

// BonusConfig describes the installment bonus rule
type BonusConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Percent         string `yaml:"percent"` // decimal string, e.g. "2.5"
	MinInstallments int32  `yaml:"min_installments"`
}

// TDSConfig holds withholding rates in percent, per income type
type TDSConfig struct {
	Rates map[string]TDSRate `yaml:"rates"`
}

type TDSRate struct {
	PanVerified string `yaml:"pan_verified"`
	NoPan       string `yaml:"no_pan"`
}

// AlertsConfig contains operator alerting settings
type AlertsConfig struct {
	SendGridAPIKey string   `yaml:"sendgrid_api_key"`
	FromEmail      string   `yaml:"from_email"`
	FromName       string   `yaml:"from_name"`
	Recipients     []string `yaml:"recipients"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	RecoverStaleSagas   string `yaml:"recover_stale_sagas"`
	AuditWalletLedgers  string `yaml:"audit_wallet_ledgers"`
	AuditPlatformLedger string `yaml:"audit_platform_ledger"`
	CleanupLeases       string `yaml:"cleanup_leases"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Secrets
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("GATEWAY_WEBHOOK_SECRET"); val != "" {
		c.Gateway.WebhookSecret = val
	}
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.Alerts.SendGridAPIKey = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("HTTP_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.HTTPPort)
	}
	if val := os.Getenv("GRPC_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.GRPCPort)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = c.Server.HTTPPort + 1
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.OperatorTokenHours == 0 {
		c.JWT.OperatorTokenHours = 8
	}

	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("gateway webhook secret is required")
	}

	// Fulfillment defaults
	if c.Fulfillment.LockWaitSeconds == 0 {
		c.Fulfillment.LockWaitSeconds = 10
	}
	if c.Fulfillment.LockTTLSeconds == 0 {
		c.Fulfillment.LockTTLSeconds = 30
	}
	if c.Fulfillment.LockTTLSeconds <= c.Fulfillment.LockWaitSeconds {
		return fmt.Errorf("lock ttl (%ds) must exceed lock wait (%ds)", c.Fulfillment.LockTTLSeconds, c.Fulfillment.LockWaitSeconds)
	}
	if c.Fulfillment.Dispatch == "" {
		c.Fulfillment.Dispatch = "inline"
	}
	if c.Fulfillment.Dispatch != "inline" && c.Fulfillment.Dispatch != "async" {
		return fmt.Errorf("unsupported dispatch mode: %s", c.Fulfillment.Dispatch)
	}
	if c.Fulfillment.Workers == 0 {
		c.Fulfillment.Workers = 4
	}
	if c.Fulfillment.QueueSize == 0 {
		c.Fulfillment.QueueSize = 256
	}

	if c.Saga.StaleAfterHours == 0 {
		c.Saga.StaleAfterHours = 24
	}
	if c.Saga.RunLockTTLSeconds == 0 {
		c.Saga.RunLockTTLSeconds = 300
	}
	if c.Saga.AllocationWaitSecs == 0 {
		c.Saga.AllocationWaitSecs = 30
	}

	if c.Bonus.Enabled && c.Bonus.Percent == "" {
		return fmt.Errorf("bonus percent is required when bonus is enabled")
	}

	// Scheduler defaults
	if c.Scheduler.RecoverStaleSagas == "" {
		c.Scheduler.RecoverStaleSagas = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.AuditWalletLedgers == "" {
		c.Scheduler.AuditWalletLedgers = "0 5 * * * *" // hourly at :05
	}
	if c.Scheduler.AuditPlatformLedger == "" {
		c.Scheduler.AuditPlatformLedger = "0 35 * * * *" // hourly at :35
	}
	if c.Scheduler.CleanupLeases == "" {
		c.Scheduler.CleanupLeases = "0 0 3 * * *" // 3 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetHTTPAddress returns the HTTP listen address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// GetGRPCAddress returns the gRPC listen address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
