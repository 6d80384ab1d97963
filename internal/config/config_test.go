package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
server:
  http_port: 8080
database:
  host: localhost
  user: fulfillment
  database: fulfillment
jwt:
  secret: 0123456789abcdef0123456789abcdef
gateway:
  webhook_secret: whsec
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 8081, cfg.Server.GRPCPort)
	assert.Equal(t, 10, cfg.Fulfillment.LockWaitSeconds)
	assert.Equal(t, 30, cfg.Fulfillment.LockTTLSeconds)
	assert.Equal(t, "inline", cfg.Fulfillment.Dispatch)
	assert.Equal(t, 24, cfg.Saga.StaleAfterHours)
	assert.Equal(t, 5*time.Minute, cfg.Saga.RunLockTTL())
	assert.Equal(t, 30*time.Second, cfg.Saga.AllocationWait())
	assert.Equal(t, "0 */15 * * * *", cfg.Scheduler.RecoverStaleSagas)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("GATEWAY_WEBHOOK_SECRET", "from-env")
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Gateway.WebhookSecret)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
}

func TestValidate_Rejects(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{HTTPPort: 8080},
			Database: DatabaseConfig{Driver: "memory"},
			JWT:      JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Gateway:  GatewayConfig{WebhookSecret: "whsec"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ShortSecret", func(c *Config) { c.JWT.Secret = "short" }},
		{"MissingWebhookSecret", func(c *Config) { c.Gateway.WebhookSecret = "" }},
		{"UnknownDriver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"TTLNotAboveWait", func(c *Config) { c.Fulfillment.LockWaitSeconds = 30; c.Fulfillment.LockTTLSeconds = 30 }},
		{"UnknownDispatch", func(c *Config) { c.Fulfillment.Dispatch = "kafka" }},
		{"BonusWithoutPercent", func(c *Config) { c.Bonus.Enabled = true }},
		{"BadPort", func(c *Config) { c.Server.HTTPPort = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestGetRouteSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetRouteSecurityLevel("health"))
	assert.Equal(t, SecuritySigned, GetRouteSecurityLevel("gateway-webhook"))
	assert.Equal(t, SecurityOperator, GetRouteSecurityLevel("admin-refund"))
	assert.Equal(t, SecurityOperator, GetRouteSecurityLevel("never-registered"))
}
