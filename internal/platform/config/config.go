// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Redis    RedisConfig
	Identity IdentityConfig
	Workflow WorkflowConfig
	Engine   EngineConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// NATSConfig configures the notification publisher. An empty URL disables
// publishing and notifications are only logged.
type NATSConfig struct {
	URL    string
	Stream string

	// RoleEventsSubject carries identity role changes that invalidate the
	// role cache.
	RoleEventsSubject string
}

// RedisConfig configures the role directory cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// RoleTTL bounds how long a cached grant outlives its revocation when
	// no role change event arrives.
	RoleTTL    time.Duration
	MembersTTL time.Duration
}

// IdentityConfig points role lookups at the platform identity service. An
// empty GRPCAddr keeps them on the local user_roles table.
type IdentityConfig struct {
	GRPCAddr string
	EntityID string
}

// WorkflowConfig points at an optional YAML file of workflow definitions that
// replace or extend the built-in ones.
type WorkflowConfig struct {
	DefinitionsFile string
}

type EngineConfig struct {
	// MaxAttempts bounds the read-validate-write cycle on version conflicts.
	MaxAttempts int
	// NotifyTimeout bounds a single asynchronous notification delivery.
	NotifyTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-approvals"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			GRPCPort:        getEnvInt("GRPC_PORT", 9090),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "approvals"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_TIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK", time.Minute),
		},
		NATS: NATSConfig{
			URL:               getEnv("NATS_URL", ""),
			Stream:            getEnv("NATS_STREAM", "NOTIFICATIONS"),
			RoleEventsSubject: getEnv("NATS_ROLE_EVENTS_SUBJECT", "identity.roles.changed"),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			RoleTTL:    getEnvDuration("REDIS_ROLE_TTL", 30*time.Second),
			MembersTTL: getEnvDuration("REDIS_MEMBERS_TTL", 5*time.Minute),
		},
		Identity: IdentityConfig{
			GRPCAddr: getEnv("IDENTITY_GRPC_ADDR", ""),
			EntityID: getEnv("IDENTITY_ENTITY_ID", ""),
		},
		Workflow: WorkflowConfig{
			DefinitionsFile: getEnv("WORKFLOW_DEFINITIONS_FILE", ""),
		},
		Engine: EngineConfig{
			MaxAttempts:   getEnvInt("ENGINE_MAX_ATTEMPTS", 3),
			NotifyTimeout: getEnvDuration("ENGINE_NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid GRPC_PORT %d", c.Server.GRPCPort)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("ENGINE_MAX_ATTEMPTS must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Database,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
