package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, BackendSandbox, cfg.CloudJudge.Backend)
	assert.Equal(t, 2*time.Second, cfg.Matchmaking.PairingInterval)
	assert.Equal(t, 100, cfg.Matchmaking.RatingRange)
	assert.Equal(t, 5, cfg.ExecQueue.WorkerCount)
	assert.Equal(t, 5, cfg.Sandbox.MaxPerLanguage)
	assert.Equal(t, 2, cfg.Sandbox.WarmPerLanguage)
	assert.Equal(t, 10*time.Second, cfg.Cleanup.Interval)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadRequiresDBPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MATCHMAKING_RATING_RANGE", "250")
	t.Setenv("MATCHMAKING_INTERVAL", "5s")
	t.Setenv("JUDGE_BACKEND", "judge0")
	t.Setenv("JUDGE0_URL", "https://judge0.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 250, cfg.Matchmaking.RatingRange)
	assert.Equal(t, 5*time.Second, cfg.Matchmaking.PairingInterval)
	assert.Equal(t, BackendJudge0, cfg.CloudJudge.Backend)
}

func TestCloudJudgeValidation(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JUDGE_BACKEND", "judge0")
	t.Setenv("JUDGE0_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JUDGE0_URL")

	t.Setenv("JUDGE_BACKEND", "bogus")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JUDGE_BACKEND")
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p",
		Database: "d", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
