// Package config loads all WaFleet configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"wafleet/pkg/logger"
)

// StorageMode selects the backend for auth blob storage. Session
// metadata always lives in the relational store.
type StorageMode string

const (
	StorageModeMongoDB StorageMode = "mongodb"
	StorageModeFile    StorageMode = "file"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Mongo    MongoConfig    `json:"mongo"`
	Fleet    FleetConfig    `json:"fleet"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  logger.Config  `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	APIKey       string        `json:"api_key,omitempty"`
}

// DatabaseConfig holds relational database configuration. Driver is
// "postgres" or "sqlite"; sqlite is intended for file-mode and tests.
type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password,omitempty"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path"`
	Debug           bool          `json:"debug"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// MongoConfig holds the document store configuration (auth blobs)
type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// TelegramConfig holds the chat-bot notification sink configuration
type TelegramConfig struct {
	BotToken string        `json:"bot_token,omitempty"`
	Timeout  time.Duration `json:"timeout"`
}

// FleetConfig holds fleet controller tunables
type FleetConfig struct {
	StorageMode        StorageMode   `json:"storage_mode"`
	MaxSessions        int           `json:"max_sessions"`
	SessionsDir        string        `json:"sessions_dir"`
	AnnouncementFile   string        `json:"announcement_file"`
	Enable515Flow      bool          `json:"enable_515_flow"`
	ChannelJID         string        `json:"channel_jid"`
	DefaultAdminID     string        `json:"default_admin_id"`
	MessageTSOffset    time.Duration `json:"message_ts_offset"`
	InitConcurrency    int           `json:"init_concurrency"`
	InitStagger        time.Duration `json:"init_stagger"`
	InitBatchDelay     time.Duration `json:"init_batch_delay"`
	PingTimeout        time.Duration `json:"ping_timeout"`
	InactivityLimit    time.Duration `json:"inactivity_limit"`
	HealthSweepEvery   time.Duration `json:"health_sweep_every"`
	HealthProbeEvery   time.Duration `json:"health_probe_every"`
	WebDetectEvery     time.Duration `json:"web_detect_every"`
	BroadcastEvery     time.Duration `json:"broadcast_every"`
	PrefixRefreshEvery time.Duration `json:"prefix_refresh_every"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	config := &Config{
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		Mongo:    loadMongoConfig(),
		Fleet:    loadFleetConfig(),
		Telegram: loadTelegramConfig(),
		Logging:  loadLoggingConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
		Port:         getEnvAsIntOrDefault("SERVER_PORT", 8080),
		ReadTimeout:  getEnvAsDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvAsDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:  getEnvAsDurationOrDefault("SERVER_IDLE_TIMEOUT", 120*time.Second),
		APIKey:       os.Getenv("WAFLEET_API_KEY"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnvOrDefault("DATABASE_DRIVER", "postgres"),
		Host:            getEnvOrDefault("DATABASE_HOST", "localhost"),
		Port:            getEnvAsIntOrDefault("DATABASE_PORT", 5432),
		User:            getEnvOrDefault("DATABASE_USER", "wafleet"),
		Password:        os.Getenv("DATABASE_PASSWORD"),
		Name:            getEnvOrDefault("DATABASE_NAME", "wafleet"),
		SSLMode:         getEnvOrDefault("DATABASE_SSL_MODE", "disable"),
		SQLitePath:      getEnvOrDefault("DATABASE_SQLITE_PATH", "./wafleet.db"),
		Debug:           getEnvAsBoolOrDefault("DATABASE_DEBUG", false),
		MaxOpenConns:    getEnvAsIntOrDefault("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsIntOrDefault("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDurationOrDefault("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		Database: getEnvOrDefault("MONGODB_DATABASE", "wafleet"),
	}
}

func loadTelegramConfig() TelegramConfig {
	return TelegramConfig{
		BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		Timeout:  getEnvAsDurationOrDefault("NOTIFICATION_TIMEOUT", 8*time.Second),
	}
}

func loadFleetConfig() FleetConfig {
	return FleetConfig{
		StorageMode:        StorageMode(strings.ToLower(getEnvOrDefault("STORAGE_MODE", "file"))),
		MaxSessions:        getEnvAsIntOrDefault("MAX_SESSIONS", 200),
		SessionsDir:        getEnvOrDefault("SESSIONS_DIR", "./sessions"),
		AnnouncementFile:   getEnvOrDefault("ANNOUNCEMENT_FILE", "./announcement.txt"),
		Enable515Flow:      getEnvAsBoolOrDefault("ENABLE_515_FLOW", false),
		ChannelJID:         os.Getenv("WHATSAPP_CHANNEL_JID"),
		DefaultAdminID:     os.Getenv("DEFAULT_ADMIN_ID"),
		MessageTSOffset:    time.Duration(getEnvAsIntOrDefault("MESSAGE_TS_OFFSET_SECONDS", 0)) * time.Second,
		InitConcurrency:    getEnvAsIntOrDefault("INIT_CONCURRENCY", 3),
		InitStagger:        getEnvAsDurationOrDefault("INIT_STAGGER", 800*time.Millisecond),
		InitBatchDelay:     getEnvAsDurationOrDefault("INIT_BATCH_DELAY", 1500*time.Millisecond),
		PingTimeout:        getEnvAsDurationOrDefault("PING_TIMEOUT", 15*time.Second),
		InactivityLimit:    getEnvAsDurationOrDefault("INACTIVITY_LIMIT", 30*time.Minute),
		HealthSweepEvery:   getEnvAsDurationOrDefault("HEALTH_SWEEP_INTERVAL", 10*time.Minute),
		HealthProbeEvery:   getEnvAsDurationOrDefault("HEALTH_PROBE_INTERVAL", 60*time.Second),
		WebDetectEvery:     getEnvAsDurationOrDefault("WEB_DETECT_INTERVAL", 10*time.Second),
		BroadcastEvery:     getEnvAsDurationOrDefault("BROADCAST_INTERVAL", 5*time.Minute),
		PrefixRefreshEvery: getEnvAsDurationOrDefault("PREFIX_REFRESH_INTERVAL", 10*time.Minute),
	}
}

func loadLoggingConfig() logger.Config {
	return logger.Config{
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		Format:      getEnvOrDefault("LOG_FORMAT", "console"),
		ColorOutput: getEnvAsBoolOrDefault("LOG_COLOR", true),
		TimeFormat:  os.Getenv("LOG_TIME_FORMAT"),
		File:        os.Getenv("LOG_FILE"),
		MaxSizeMB:   getEnvAsIntOrDefault("LOG_MAX_SIZE_MB", 100),
		MaxBackups:  getEnvAsIntOrDefault("LOG_MAX_BACKUPS", 3),
		MaxAgeDays:  getEnvAsIntOrDefault("LOG_MAX_AGE_DAYS", 28),
	}
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Fleet.StorageMode {
	case StorageModeMongoDB, StorageModeFile:
	default:
		return fmt.Errorf("invalid STORAGE_MODE %q (expected mongodb or file)", c.Fleet.StorageMode)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER %q (expected postgres or sqlite)", c.Database.Driver)
	}

	if c.Fleet.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.Fleet.MaxSessions)
	}

	if c.Fleet.InitConcurrency <= 0 {
		c.Fleet.InitConcurrency = 3
	}

	return nil
}

// SetupLogger configures the global logger from the logging config
func (c *Config) SetupLogger() {
	logger.Setup(c.Logging)
}

// GetServerAddress returns the host:port address for the HTTP server
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetDatabaseDSN builds the DSN for the configured relational driver
func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode,
	)
}

// Environment helpers

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid boolean in environment, using default")
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
	}
	return defaultValue
}
