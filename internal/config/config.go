package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override credentials from the YAML file
const (
	EnvConsoleUsername = "KONSOLE_CONSOLE_USERNAME"
	EnvConsolePassword = "KONSOLE_CONSOLE_PASSWORD"
	EnvJWTSecret       = "KONSOLE_JWT_SECRET"
	EnvNATSURL         = "KONSOLE_NATS_URL"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Console     ConsoleConfig     `yaml:"console"`
	Backups     BackupsConfig     `yaml:"backups"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	NATS        NATSConfig        `yaml:"nats"`
	Log         LogConfig         `yaml:"log"`
	// EnvFile is a dotenv file with credential overrides. Defaults to .env
	// next to the config file; a missing default file is not an error.
	EnvFile string `yaml:"env_file"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	// WaitLimit caps the ?wait= duration accepted by action endpoints
	WaitLimit time.Duration `yaml:"wait_limit"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// HistoryRetention drops transitions older than this at startup. Zero keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// ConsoleConfig describes the hosting console account and polling
type ConsoleConfig struct {
	Driver             string          `yaml:"driver"` // only "simulator" ships with konsole
	Address            string          `yaml:"address"`
	Username           string          `yaml:"username"`
	Password           string          `yaml:"password"`
	PollInterval       time.Duration   `yaml:"poll_interval"`
	MinReloginInterval time.Duration   `yaml:"min_relogin_interval"`
	ActionTimeout      time.Duration   `yaml:"action_timeout"`
	Simulator          SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig shapes the simulated console
type SimulatorConfig struct {
	MaxPlayers   int `yaml:"max_players"`
	QueueLength  int `yaml:"queue_length"`
	ConfirmPolls int `yaml:"confirm_polls"`
}

// BackupsConfig holds backup retention settings
type BackupsConfig struct {
	Limit            int  `yaml:"limit"`
	DisableAutomatic bool `yaml:"disable_automatic"`
}

// MaintenanceConfig holds the maintenance flag file settings
type MaintenanceConfig struct {
	FlagFile string `yaml:"flag_file"`
	Watch    bool   `yaml:"watch"`
}

// NATSConfig holds relay settings. An empty URL with Embedded false disables the relay.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
	// KVBucket keeps the latest value of each tracker; needs JetStream.
	KVBucket string `yaml:"kv_bucket"`
	// StoreDir is the JetStream directory of the embedded server
	StoreDir string `yaml:"store_dir"`
}

// Enabled reports whether events should be relayed
func (c NATSConfig) Enabled() bool {
	return c.URL != "" || c.Embedded
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadEnvFile(cfg.EnvFile, filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// loadEnvFile loads explicit if set, otherwise fallback when it exists.
// godotenv never overrides variables already set in the environment.
func loadEnvFile(explicit, fallback string) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(fallback); err != nil {
		return nil
	}
	if err := godotenv.Load(fallback); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvConsoleUsername); v != "" {
		cfg.Console.Username = v
	}
	if v := os.Getenv(EnvConsolePassword); v != "" {
		cfg.Console.Password = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.NATS.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.WaitLimit == 0 {
		cfg.Server.WaitLimit = 5 * time.Minute
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/konsole/konsole.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Console.Driver == "" {
		cfg.Console.Driver = "simulator"
	}
	if cfg.Console.PollInterval == 0 {
		cfg.Console.PollInterval = 5 * time.Second
	}
	if cfg.Console.MinReloginInterval == 0 {
		cfg.Console.MinReloginInterval = 10 * time.Minute
	}
	if cfg.Console.ActionTimeout == 0 {
		cfg.Console.ActionTimeout = 10 * time.Minute
	}
	if cfg.Backups.Limit == 0 {
		cfg.Backups.Limit = 10
	}
	if cfg.Maintenance.FlagFile == "" {
		cfg.Maintenance.FlagFile = "/var/lib/konsole/maintenance"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "konsole"
	}
	if cfg.NATS.Embedded && cfg.NATS.StoreDir == "" {
		cfg.NATS.StoreDir = filepath.Join(filepath.Dir(cfg.Database.Path), "nats")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the settings serve needs
func (c *Config) Validate() error {
	var errs []error
	if c.Console.Address == "" {
		errs = append(errs, errors.New("console.address is required"))
	}
	if c.Console.Username == "" || c.Console.Password == "" {
		errs = append(errs, fmt.Errorf("console credentials are required (set console.username/password or %s/%s)", EnvConsoleUsername, EnvConsolePassword))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is required (or %s)", EnvJWTSecret))
	}
	if c.Console.Driver != "simulator" {
		errs = append(errs, fmt.Errorf("unknown console driver %q", c.Console.Driver))
	}
	if c.Console.PollInterval <= 0 {
		errs = append(errs, errors.New("console.poll_interval must be positive"))
	}
	if c.Console.ActionTimeout < 0 {
		errs = append(errs, errors.New("console.action_timeout must not be negative"))
	}
	if c.Console.MinReloginInterval < 0 {
		errs = append(errs, errors.New("console.min_relogin_interval must not be negative"))
	}
	if c.Backups.Limit < 0 {
		errs = append(errs, errors.New("backups.limit must not be negative"))
	}
	return errors.Join(errs...)
}
