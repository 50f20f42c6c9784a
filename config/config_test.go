package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func validConfig() *Config {
	return &Config{
		Service:   ServiceConfig{Name: "registration", Port: "8080", Env: "dev"},
		Tracing:   TracingConfig{Enabled: false},
		Profiling: ProfilingConfig{Enabled: false},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Events:    EventsConfig{Exchange: "customers", RoutingKey: "customer.registered", ReconnectMaxInterval: 30 * time.Second},
		Registration: RegistrationConfig{
			BcryptCost:         bcrypt.DefaultCost,
			PhoneLookupTimeout: 5 * time.Second,
			SubmitTimeout:      15 * time.Second,
			SessionIdleTTL:     30 * time.Minute,
		},
	}
}

func TestLoadRegistrationDefaults(t *testing.T) {
	t.Setenv("PHONE_LOOKUP_TIMEOUT", "")
	t.Setenv("SESSION_IDLE_TTL", "")
	t.Setenv("BCRYPT_COST", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_RECONNECT_MAX_INTERVAL", "")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Registration.PhoneLookupTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Registration.SessionIdleTTL)
	assert.Equal(t, bcrypt.DefaultCost, cfg.Registration.BcryptCost)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "customers", cfg.Events.Exchange)
	assert.Equal(t, "customer.registered", cfg.Events.RoutingKey)
	assert.Equal(t, 30*time.Second, cfg.Events.ReconnectMaxInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PHONE_LOOKUP_TIMEOUT", "750ms")
	t.Setenv("LOOKUP_CACHE_TTL", "1h")
	t.Setenv("BCRYPT_COST", "12")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg := Load()

	assert.Equal(t, 750*time.Millisecond, cfg.Registration.PhoneLookupTimeout)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 12, cfg.Registration.BcryptCost)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("PHONE_LOOKUP_TIMEOUT", "soon")
	t.Setenv("SESSION_IDLE_TTL", "-5m")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.Registration.PhoneLookupTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Registration.SessionIdleTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.Service.Name = "" }, wantErr: "SERVICE_NAME"},
		{name: "bad port", mutate: func(c *Config) { c.Service.Port = "http" }, wantErr: "PORT must be a valid number"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "LOG_LEVEL"},
		{name: "database without name", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Host: "db", User: "u", Password: "p", Port: "5432"}
		}, wantErr: "DB_NAME"},
		{name: "rabbitmq without exchange", mutate: func(c *Config) {
			c.Events.RabbitMQURL = "amqp://localhost"
			c.Events.Exchange = ""
		}, wantErr: "EVENTS_EXCHANGE"},
		{name: "rabbitmq without reconnect interval", mutate: func(c *Config) {
			c.Events.RabbitMQURL = "amqp://localhost"
			c.Events.ReconnectMaxInterval = 0
		}, wantErr: "RABBITMQ_RECONNECT_MAX_INTERVAL"},
		{name: "bcrypt cost too high", mutate: func(c *Config) { c.Registration.BcryptCost = 40 }, wantErr: "BCRYPT_COST"},
		{name: "zero lookup timeout", mutate: func(c *Config) { c.Registration.PhoneLookupTimeout = 0 }, wantErr: "PHONE_LOOKUP_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", Name: "registration", User: "app", Password: "secret", SSLMode: "disable"}
	assert.Equal(t, "postgresql://app:secret@db:5432/registration?sslmode=disable", db.BuildDSN())
}
