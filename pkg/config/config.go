// Package config loads process-wide configuration from the environment
// with documented defaults and per-section validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// JudgeBackend selects the code-execution backend.
type JudgeBackend string

// Judge backends.
const (
	BackendSandbox JudgeBackend = "sandbox"
	BackendJudge0  JudgeBackend = "judge0"
)

// Config is the process-wide configuration tree.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Sandbox     SandboxConfig
	CloudJudge  CloudJudgeConfig
	Matchmaking MatchmakingConfig
	ExecQueue   ExecQueueConfig
	Cleanup     CleanupConfig
	AI          AIConfig
}

// ServerConfig holds HTTP/WebSocket edge settings.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	FrontendURL    string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds the pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks the database configuration.
func (c DatabaseConfig) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// RedisConfig holds the ephemeral store settings.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// SandboxConfig holds container executor settings.
type SandboxConfig struct {
	// MaxPerLanguage bounds the container pool per language.
	MaxPerLanguage int
	// WarmPerLanguage containers are pre-created at startup.
	WarmPerLanguage int
	// IdleTimeout is how long a pooled sandbox may sit unused.
	IdleTimeout time.Duration
	// SweepInterval is the pool hygiene cadence.
	SweepInterval time.Duration
}

// CloudJudgeConfig holds the remote judge adapter settings.
type CloudJudgeConfig struct {
	Backend        JudgeBackend
	BaseURL        string
	APIKey         string
	PollInterval   time.Duration
	MaxPollingTime time.Duration
	MemoryLimitKB  int
}

// Validate checks backend selection consistency.
func (c CloudJudgeConfig) Validate() error {
	switch c.Backend {
	case BackendSandbox:
	case BackendJudge0:
		if c.BaseURL == "" {
			return fmt.Errorf("JUDGE0_URL is required when JUDGE_BACKEND=judge0")
		}
	default:
		return fmt.Errorf("JUDGE_BACKEND must be %q or %q, got %q", BackendSandbox, BackendJudge0, c.Backend)
	}
	return nil
}

// MatchmakingConfig holds pairing loop settings.
type MatchmakingConfig struct {
	PairingInterval time.Duration
	RatingRange     int
}

// Validate checks pairing settings.
func (c MatchmakingConfig) Validate() error {
	if c.PairingInterval <= 0 {
		return fmt.Errorf("MATCHMAKING_INTERVAL must be positive")
	}
	if c.RatingRange < 0 {
		return fmt.Errorf("MATCHMAKING_RATING_RANGE cannot be negative")
	}
	return nil
}

// ExecQueueConfig holds execution queue settings.
type ExecQueueConfig struct {
	WorkerCount int
	// RatePerSecond caps job starts; 0 disables the cap.
	RatePerSecond int
	MaxAttempts   int
	RetryBackoff  time.Duration
}

// Validate checks queue settings.
func (c ExecQueueConfig) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("EXEC_WORKERS must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("EXEC_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// CleanupConfig holds the match sweep settings.
type CleanupConfig struct {
	Interval        time.Duration
	LobbyMaxAge     time.Duration
	ActiveMaxAge    time.Duration
	CompletionGrace time.Duration
}

// AIConfig holds the optional AI provider settings.
type AIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether the external provider may be called.
func (c AIConfig) Enabled() bool { return c.APIKey != "" }

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("HTTP_PORT", "8080"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
			FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "codeclash"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnv("DB_NAME", "codeclash"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Sandbox: SandboxConfig{
			MaxPerLanguage:  getEnvInt("SANDBOX_MAX_PER_LANGUAGE", 5),
			WarmPerLanguage: getEnvInt("SANDBOX_WARM_PER_LANGUAGE", 2),
			IdleTimeout:     getEnvDuration("SANDBOX_IDLE_TIMEOUT", 5*time.Minute),
			SweepInterval:   getEnvDuration("SANDBOX_SWEEP_INTERVAL", time.Minute),
		},
		CloudJudge: CloudJudgeConfig{
			Backend:        JudgeBackend(getEnv("JUDGE_BACKEND", string(BackendSandbox))),
			BaseURL:        os.Getenv("JUDGE0_URL"),
			APIKey:         os.Getenv("JUDGE0_API_KEY"),
			PollInterval:   getEnvDuration("JUDGE0_POLL_INTERVAL", 500*time.Millisecond),
			MaxPollingTime: getEnvDuration("JUDGE0_MAX_POLLING_TIME", 30*time.Second),
			MemoryLimitKB:  getEnvInt("JUDGE0_MEMORY_LIMIT_KB", 128*1024),
		},
		Matchmaking: MatchmakingConfig{
			PairingInterval: getEnvDuration("MATCHMAKING_INTERVAL", 2*time.Second),
			RatingRange:     getEnvInt("MATCHMAKING_RATING_RANGE", 100),
		},
		ExecQueue: ExecQueueConfig{
			WorkerCount:   getEnvInt("EXEC_WORKERS", 5),
			RatePerSecond: getEnvInt("EXEC_RATE_PER_SECOND", 10),
			MaxAttempts:   getEnvInt("EXEC_MAX_ATTEMPTS", 3),
			RetryBackoff:  getEnvDuration("EXEC_RETRY_BACKOFF", time.Second),
		},
		Cleanup: CleanupConfig{
			Interval:        getEnvDuration("CLEANUP_INTERVAL", 10*time.Second),
			LobbyMaxAge:     getEnvDuration("CLEANUP_LOBBY_MAX_AGE", 10*time.Minute),
			ActiveMaxAge:    getEnvDuration("CLEANUP_ACTIVE_MAX_AGE", 30*time.Minute),
			CompletionGrace: getEnvDuration("CLEANUP_COMPLETION_GRACE", 10*time.Second),
		},
		AI: AIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("OPENAI_TIMEOUT", 20*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs all section validators.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.CloudJudge.Validate(); err != nil {
		return err
	}
	if err := c.Matchmaking.Validate(); err != nil {
		return err
	}
	if err := c.ExecQueue.Validate(); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
