package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML file checked when TASKD_CONFIG is not set.
const DefaultConfigFile = "taskd.yaml"

// Supported database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DBDriver        string        `yaml:"db_driver"`
	DBHost          string        `yaml:"db_host"`
	DBPort          string        `yaml:"db_port"`
	DBUser          string        `yaml:"db_user"`
	DBPassword      string        `yaml:"db_password"`
	DBName          string        `yaml:"db_name"`
	SQLitePath      string        `yaml:"sqlite_path"`
	RedisHost       string        `yaml:"redis_host"`
	RedisPort       string        `yaml:"redis_port"`
	SessionSecret   string        `yaml:"session_secret"`
	GinMode         string        `yaml:"gin_mode"`
	Port            string        `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ServiceName     string        `yaml:"service_name"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	StatisticsTTL   time.Duration `yaml:"statistics_ttl"`
	StatisticsCache int64         `yaml:"statistics_cache_items"`
}

// Defaults returns the configuration used when neither the YAML file nor the
// environment provide a value.
func Defaults() Config {
	return Config{
		DBDriver:        DriverMySQL,
		DBHost:          "localhost",
		DBPort:          "3306",
		DBUser:          "taskuser",
		DBPassword:      "taskpassword",
		DBName:          "task_management",
		SQLitePath:      "taskd.db",
		RedisHost:       "localhost",
		RedisPort:       "6379",
		SessionSecret:   "default-secret-key-change-me",
		GinMode:         "debug",
		Port:            "8080",
		LogLevel:        "info",
		ServiceName:     "taskd",
		StatisticsTTL:   30 * time.Second,
		StatisticsCache: 100,
	}
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional.
func Load() (*Config, error) {
	path := os.Getenv("TASKD_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit YAML path.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

func loadEnv(cfg *Config) {
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisHost = getEnv("REDIS_HOST", cfg.RedisHost)
	cfg.RedisPort = getEnv("REDIS_PORT", cfg.RedisPort)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.GinMode = getEnv("GIN_MODE", cfg.GinMode)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)

	if v := os.Getenv("STATISTICS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StatisticsTTL = d
		}
	}
	if v := os.Getenv("STATISTICS_CACHE_ITEMS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StatisticsCache = n
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.DBDriver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported db_driver %q", cfg.DBDriver)
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", cfg.LogLevel)
	}

	if cfg.StatisticsTTL < 0 {
		return errors.New("statistics_ttl must not be negative")
	}
	if cfg.StatisticsCache < 1 {
		return errors.New("statistics_cache_items must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
