package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claude/fitcycle/internal/models"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// maxRolloverCheck bounds how late a midnight rollover may be noticed.
const maxRolloverCheck = time.Minute

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Workout   WorkoutConfig   `yaml:"workout"`
	Steps     StepsConfig     `yaml:"steps"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Driver     string         `yaml:"driver"`
	Dir        string         `yaml:"dir"`
	Migrations string         `yaml:"migrations"`
	Database   DatabaseConfig `yaml:"database"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type WorkoutConfig struct {
	DefaultGender string        `yaml:"default_gender"`
	DefaultLevel  int           `yaml:"default_level"`
	RolloverCheck time.Duration `yaml:"rollover_check"`
	CatalogPath   string        `yaml:"catalog_path"`
}

type StepsConfig struct {
	DefaultGoal   int           `yaml:"default_goal"`
	RolloverCheck time.Duration `yaml:"rollover_check"`
	HistoryDays   int           `yaml:"history_days"`
	// SensorAvailable is what the pushed sensor reports before the device
	// has said anything. Defaults to true.
	SensorAvailable *bool `yaml:"sensor_available"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file, fills defaults, then applies
// environment variable overrides. Env vars use the prefix FITCYCLE_:
//
//	FITCYCLE_SERVER_HOST, FITCYCLE_SERVER_PORT,
//	FITCYCLE_STORE_DRIVER, FITCYCLE_STORE_DIR,
//	FITCYCLE_DB_HOST, FITCYCLE_DB_PORT, FITCYCLE_DB_NAME,
//	FITCYCLE_DB_USER, FITCYCLE_DB_PASSWORD, FITCYCLE_DB_SSLMODE,
//	FITCYCLE_AUTH_API_KEY, FITCYCLE_TAILSCALE_ENABLED,
//	FITCYCLE_WORKOUT_CATALOG_PATH, FITCYCLE_STEPS_DEFAULT_GOAL
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "data"
	}
	if c.Store.Migrations == "" {
		c.Store.Migrations = "migrations"
	}
	if c.Store.Database.Port == 0 {
		c.Store.Database.Port = 5432
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "fitcycle"
	}
	if c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = "tsnet-state"
	}
	if c.Workout.DefaultGender == "" {
		c.Workout.DefaultGender = models.GenderMale
	}
	if c.Workout.DefaultLevel == 0 {
		c.Workout.DefaultLevel = 1
	}
	if c.Workout.RolloverCheck == 0 {
		c.Workout.RolloverCheck = maxRolloverCheck
	}
	if c.Steps.DefaultGoal == 0 {
		c.Steps.DefaultGoal = 10000
	}
	if c.Steps.RolloverCheck == 0 {
		c.Steps.RolloverCheck = maxRolloverCheck
	}
	if c.Steps.HistoryDays == 0 {
		c.Steps.HistoryDays = 30
	}
	if c.Steps.SensorAvailable == nil {
		available := true
		c.Steps.SensorAvailable = &available
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FITCYCLE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FITCYCLE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FITCYCLE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FITCYCLE_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("FITCYCLE_DB_HOST"); v != "" {
		cfg.Store.Database.Host = v
	}
	if v := os.Getenv("FITCYCLE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.Database.Port = port
		}
	}
	if v := os.Getenv("FITCYCLE_DB_NAME"); v != "" {
		cfg.Store.Database.Name = v
	}
	if v := os.Getenv("FITCYCLE_DB_USER"); v != "" {
		cfg.Store.Database.User = v
	}
	if v := os.Getenv("FITCYCLE_DB_PASSWORD"); v != "" {
		cfg.Store.Database.Password = v
	}
	if v := os.Getenv("FITCYCLE_DB_SSLMODE"); v != "" {
		cfg.Store.Database.SSLMode = v
	}
	if v := os.Getenv("FITCYCLE_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("FITCYCLE_TAILSCALE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = enabled
		}
	}
	if v := os.Getenv("FITCYCLE_WORKOUT_CATALOG_PATH"); v != "" {
		cfg.Workout.CatalogPath = v
	}
	if v := os.Getenv("FITCYCLE_STEPS_DEFAULT_GOAL"); v != "" {
		if goal, err := strconv.Atoi(v); err == nil {
			cfg.Steps.DefaultGoal = goal
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required")
		}
	case DriverPostgres:
		if c.Store.Database.Host == "" {
			return fmt.Errorf("store.database.host is required")
		}
		if c.Store.Database.Name == "" {
			return fmt.Errorf("store.database.name is required")
		}
		if c.Store.Database.User == "" {
			return fmt.Errorf("store.database.user is required")
		}
	default:
		return fmt.Errorf("store.driver %q: want %s or %s", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if !models.ValidGender(c.Workout.DefaultGender) {
		return fmt.Errorf("workout.default_gender %q: want male or female", c.Workout.DefaultGender)
	}
	if !models.ValidLevel(c.Workout.DefaultLevel) {
		return fmt.Errorf("workout.default_level %d: want 1, 2 or 3", c.Workout.DefaultLevel)
	}
	if c.Workout.RolloverCheck < 0 || c.Workout.RolloverCheck > maxRolloverCheck {
		return fmt.Errorf("workout.rollover_check %s: must be at most %s", c.Workout.RolloverCheck, maxRolloverCheck)
	}
	if c.Steps.DefaultGoal <= 0 {
		return fmt.Errorf("steps.default_goal must be positive")
	}
	if c.Steps.RolloverCheck < 0 || c.Steps.RolloverCheck > maxRolloverCheck {
		return fmt.Errorf("steps.rollover_check %s: must be at most %s", c.Steps.RolloverCheck, maxRolloverCheck)
	}
	if c.Steps.HistoryDays < 0 {
		return fmt.Errorf("steps.history_days must not be negative")
	}
	return nil
}
