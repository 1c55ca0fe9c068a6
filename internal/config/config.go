package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchemaConfig selects which optional parts of the schema a deployment has
type SchemaConfig struct {
	// LegacyMessages creates messages without recipient_id, read_at and client_id
	LegacyMessages bool `yaml:"legacy_messages"`
	// ThreadViews creates the denormalized thread_overview view
	ThreadViews bool `yaml:"thread_views"`
}

// ChatConfig holds messaging behavior switches
type ChatConfig struct {
	ThreadPolicy  string  `yaml:"thread_policy"`
	ReconcileMode string  `yaml:"reconcile_mode"`
	SendRPS       float64 `yaml:"send_rps"`
}

// Config holds all application configuration
type Config struct {
	Port        string       `yaml:"port"`
	DBPath      string       `yaml:"db_path"`
	SeedFile    string       `yaml:"seed_file"`
	JWTSecret   string       `yaml:"jwt_secret"`
	GatewayURL  string       `yaml:"gateway_url"`
	AccessToken string       `yaml:"access_token"`
	Log         LogConfig    `yaml:"log"`
	Schema      SchemaConfig `yaml:"schema"`
	Chat        ChatConfig   `yaml:"chat"`
	SettingsDir string       `yaml:"-"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:       "8080",
		DBPath:     "data/app.db",
		GatewayURL: "http://localhost:8080",
		Log:        LogConfig{Level: "info", Format: "text"},
		Schema:     SchemaConfig{ThreadViews: true},
		Chat: ChatConfig{
			ThreadPolicy:  "allow-duplicates",
			ReconcileMode: "client-id",
			SendRPS:       5,
		},
		SettingsDir: "settings",
	}
}

// Load loads configuration from defaults, settings/app.yaml, .env and the environment
func Load() (*Config, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if dir := os.Getenv("SETTINGS_DIR"); dir != "" {
		cfg.SettingsDir = dir
	}

	if err := loadSettingsFile(filepath.Join(cfg.SettingsDir, "app.yaml"), cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile exports the variables of a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadSettingsFile overlays a YAML settings file onto cfg. A missing file is not an error.
func loadSettingsFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.SeedFile, "SEED_FILE")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.GatewayURL, "GATEWAY_URL")
	setString(&cfg.AccessToken, "ACCESS_TOKEN")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Chat.ThreadPolicy, "THREAD_POLICY")
	setString(&cfg.Chat.ReconcileMode, "RECONCILE_MODE")
	setBool(&cfg.Schema.LegacyMessages, "LEGACY_MESSAGES")
	setBool(&cfg.Schema.ThreadViews, "THREAD_VIEWS")

	if v := os.Getenv("SEND_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Chat.SendRPS = rps
		}
	}
}

// Validate rejects values the rest of the program cannot interpret
func (c *Config) Validate() error {
	switch c.Chat.ThreadPolicy {
	case "allow-duplicates", "serialize":
	default:
		return fmt.Errorf("invalid thread policy %q", c.Chat.ThreadPolicy)
	}
	switch c.Chat.ReconcileMode {
	case "client-id", "content":
	default:
		return fmt.Errorf("invalid reconcile mode %q", c.Chat.ReconcileMode)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
