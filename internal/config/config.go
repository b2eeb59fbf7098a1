// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Mining   MiningConfig   `mapstructure:"mining"`
	Epoch    EpochConfig    `mapstructure:"epoch"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Streak   StreakConfig   `mapstructure:"streak"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// MiningConfig holds mining accumulator configuration.
type MiningConfig struct {
	BaseRate     float64       `mapstructure:"base_rate"`     // waves per minute before multipliers
	TickInterval time.Duration `mapstructure:"tick_interval"` // accrual polling cadence
}

// EpochConfig holds epoch lifecycle configuration.
type EpochConfig struct {
	Duration      time.Duration `mapstructure:"duration"`       // epoch length
	CheckInterval time.Duration `mapstructure:"check_interval"` // expiry polling cadence
}

// RewardsConfig holds settlement multiplier configuration.
type RewardsConfig struct {
	NFTMultiplier    float64 `mapstructure:"nft_multiplier"`    // applied when the user owns at least one NFT
	StreakMultiplier float64 `mapstructure:"streak_multiplier"` // applied at or above the streak threshold
	StreakThreshold  int     `mapstructure:"streak_threshold"`
}

// StreakConfig holds daily streak claim configuration.
type StreakConfig struct {
	Reward float64 `mapstructure:"reward"` // waves granted per successful claim
}

// LedgerConfig holds offline ledger configuration.
type LedgerConfig struct {
	Path         string        `mapstructure:"path"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, SERVER_LISTEN_ADDR, MINING_BASE_RATE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.allow_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wavemine")
	v.SetDefault("database.name", "wavemine")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Mining defaults
	v.SetDefault("mining.base_rate", 1.0)
	v.SetDefault("mining.tick_interval", "10s")

	// Epoch defaults
	v.SetDefault("epoch.duration", "720h") // 30 days
	v.SetDefault("epoch.check_interval", "1m")

	// Reward defaults
	v.SetDefault("rewards.nft_multiplier", 1.5)
	v.SetDefault("rewards.streak_multiplier", 1.10)
	v.SetDefault("rewards.streak_threshold", 7)

	// Streak defaults
	v.SetDefault("streak.reward", 10.0)

	// Offline ledger defaults
	v.SetDefault("ledger.path", "wavemine-ledger.db")
	v.SetDefault("ledger.sync_interval", "30s")
}
