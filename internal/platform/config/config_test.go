package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Redis.RoleTTL)
	assert.Equal(t, 5*time.Minute, cfg.Redis.MembersTTL)
	assert.Equal(t, "identity.roles.changed", cfg.NATS.RoleEventsSubject)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8181")
	t.Setenv("GRPC_PORT", "9191")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("DB_NAME", "finance")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "5")
	t.Setenv("REDIS_ROLE_TTL", "30s")
	t.Setenv("WORKFLOW_DEFINITIONS_FILE", "configs/workflows.yaml")
	t.Setenv("IDENTITY_GRPC_ADDR", "identity:9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 9191, cfg.Server.GRPCPort)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Redis.RoleTTL)
	assert.Equal(t, "configs/workflows.yaml", cfg.Workflow.DefinitionsFile)
	assert.Equal(t, "identity:9090", cfg.Identity.GRPCAddr)
	assert.Equal(t, "postgres://postgres:@db.internal:6432/finance?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("ENGINE_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "ENGINE_MAX_ATTEMPTS")
}

func TestDatabaseDSN_EscapesCredentials(t *testing.T) {
	d := DatabaseConfig{Host: "db.internal", Port: 5432, User: "ops", Password: "p@ss/w#rd", Database: "approvals", SSLMode: "disable"}

	u, err := url.Parse(d.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db.internal:5432", u.Host)
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/w#rd", pw)
	assert.Equal(t, "/approvals", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}
