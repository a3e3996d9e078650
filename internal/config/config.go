package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sync      SyncConfig      `yaml:"sync"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Game      GameConfig      `yaml:"game"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	ClaimTimeout  time.Duration `yaml:"claim_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds snapshot worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// LedgerConfig selects and configures the value-transfer ledger
type LedgerConfig struct {
	Driver         string        `yaml:"driver" validate:"oneof=solana memory"`
	RPCEndpoint    string        `yaml:"rpc_endpoint" validate:"required_if=Driver solana"`
	TokenMint      string        `yaml:"token_mint" validate:"required_if=Driver solana"`
	VaultSecret    string        `yaml:"vault_secret" validate:"required_if=Driver solana"`
	Commitment     string        `yaml:"commitment" validate:"oneof=processed confirmed finalized"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	LookbackLimit  int           `yaml:"lookback_limit"`
	MemoryBalance  int64         `yaml:"memory_balance"`
}

// GameConfig holds claim rules
type GameConfig struct {
	DataDir       string        `yaml:"data_dir" validate:"required"`
	ClaimRadius   float64       `yaml:"claim_radius" validate:"gt=0"`
	Cooldown      time.Duration `yaml:"cooldown" validate:"gt=0"`
	MaxStreak     *int          `yaml:"max_streak" validate:"omitempty,min=0"`
	MessageMaxAge time.Duration `yaml:"message_max_age"`
	EnforceLevel  bool          `yaml:"enforce_level"`
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its validation tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// covers a full ledger confirmation
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "claims"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "claim-engine"
	}
	if c.Kafka.ClaimTimeout == 0 {
		c.Kafka.ClaimTimeout = 90 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 500
	}

	// Ledger defaults
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "solana"
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = "confirmed"
	}
	if c.Ledger.ConfirmTimeout == 0 {
		c.Ledger.ConfirmTimeout = 60 * time.Second
	}
	if c.Ledger.PollInterval == 0 {
		c.Ledger.PollInterval = 1 * time.Second
	}
	if c.Ledger.LookbackLimit == 0 {
		c.Ledger.LookbackLimit = 200
	}
	if c.Ledger.MemoryBalance == 0 {
		c.Ledger.MemoryBalance = 1_000_000
	}

	// Game defaults
	if c.Game.DataDir == "" {
		c.Game.DataDir = "data"
	}
	if c.Game.ClaimRadius == 0 {
		c.Game.ClaimRadius = 50
	}
	if c.Game.Cooldown == 0 {
		c.Game.Cooldown = 60 * time.Second
	}
	// 0 turns the streak bonus off, so only an absent key takes the default
	if c.Game.MaxStreak == nil {
		limit := 20
		c.Game.MaxStreak = &limit
	}
	if c.Game.MessageMaxAge == 0 {
		c.Game.MessageMaxAge = 10 * time.Minute
	}

	// Rate limit defaults
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	cfg.RateLimit.Enabled = true
	cfg.Game.EnforceLevel = true
	return cfg
}
