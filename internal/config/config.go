// Package config loads workflowd configuration from YAML, .env files and
// WORKFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/directory"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/external/lark"
	httpapi "github.com/happy-code-egg/ruidao-sub002/internal/interfaces/http"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. WORKFLOW_DATABASE_DSN
const EnvPrefix = "WORKFLOW"

// Config holds all application configuration
type Config struct {
	Server    httpapi.ServerConfig `mapstructure:"server"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Logger    utils.LoggerConfig   `mapstructure:"logger"`
	Lark      lark.Config          `mapstructure:"lark"`
	Workflow  WorkflowConfig       `mapstructure:"workflow"`
	Directory directory.Config     `mapstructure:"directory"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Connection returns the settings pkg/database opens a connection with
func (d DatabaseConfig) Connection() database.Config {
	return database.Config{
		Driver:          d.Driver,
		Path:            d.Path,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// WorkflowConfig holds engine behaviour and template sources
type WorkflowConfig struct {
	// TemplatesDir holds YAML template definitions imported at startup
	TemplatesDir    string          `mapstructure:"templates_dir"`
	ImportOnStart   bool            `mapstructure:"import_on_start"`
	EnforceAssignee bool            `mapstructure:"enforce_assignee"`
	Rules           []template.Rule `mapstructure:"rules"`
	Reminder        ReminderConfig  `mapstructure:"reminder"`
}

// ReminderConfig schedules reminders for nodes left waiting
type ReminderConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// After is how long a node waits before its assignee is reminded
	After time.Duration `mapstructure:"after"`
	// Repeat is the gap between repeated reminders; zero reminds once per wait
	Repeat    time.Duration `mapstructure:"repeat"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Load reads configPath, then the optional .env file next to the working
// directory, then WORKFLOW_* environment variables. An empty configPath
// uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	server := httpapi.DefaultServerConfig()
	v.SetDefault("server.host", server.Host)
	v.SetDefault("server.port", server.Port)
	v.SetDefault("server.read_timeout", server.ReadTimeout)
	v.SetDefault("server.write_timeout", server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", server.ShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.receive_id_type", "open_id")
	v.SetDefault("lark.base_url", "")

	v.SetDefault("workflow.templates_dir", "configs/templates")
	v.SetDefault("workflow.import_on_start", true)
	v.SetDefault("workflow.enforce_assignee", false)
	v.SetDefault("workflow.reminder.enabled", false)
	v.SetDefault("workflow.reminder.after", 24*time.Hour)
	v.SetDefault("workflow.reminder.repeat", 24*time.Hour)
	v.SetDefault("workflow.reminder.interval", 10*time.Minute)
	v.SetDefault("workflow.reminder.batch_size", 100)
}

// bindEnvVars binds the unprefixed names operators already use for secrets
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", EnvPrefix+"_LARK_APP_ID", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", EnvPrefix+"_LARK_APP_SECRET", "LARK_APP_SECRET")
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	dialect, err := database.ParseDialect(c.Database.Driver)
	if err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	switch dialect {
	case database.DialectPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case database.DialectSQLite:
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("database.path or database.dsn is required")
		}
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	if r := c.Workflow.Reminder; r.Enabled && (r.After <= 0 || r.Interval <= 0) {
		return fmt.Errorf("workflow.reminder.after and workflow.reminder.interval must be positive")
	}

	for i, r := range c.Workflow.Rules {
		if r.BusinessType == "" || r.TemplateCode == "" {
			return fmt.Errorf("workflow.rules[%d]: business_type and template_code are required", i)
		}
	}

	return nil
}
