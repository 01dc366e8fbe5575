package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
)

const sampleYAML = `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/workflow-test.db
logger:
  level: debug
  format: console
workflow:
  templates_dir: /etc/workflowd/templates
  enforce_assignee: true
  rules:
    - business_type: case
      when: discriminant == "invention"
      template_code: case-invention
    - business_type: contract
      template_code: contract-review
directory:
  roles:
    agent: [agent-1, agent-2]
  dynamic:
    case_manager:
      source: role
      value: agent
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/workflow-test.db", cfg.Database.Path)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Lark.Enabled)

	assert.True(t, cfg.Workflow.EnforceAssignee)
	require.Len(t, cfg.Workflow.Rules, 2)
	assert.Equal(t, `discriminant == "invention"`, cfg.Workflow.Rules[0].When)
	assert.Equal(t, "contract-review", cfg.Workflow.Rules[1].TemplateCode)

	assert.Equal(t, []string{"agent-1", "agent-2"}, cfg.Directory.Roles["agent"])
	assert.Equal(t, "role", cfg.Directory.Dynamic["case_manager"].Source)

	conn := cfg.Database.Connection()
	assert.Equal(t, "sqlite", conn.Driver)
	assert.Equal(t, 25, conn.MaxOpenConns)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_SERVER_PORT", "7070")
	t.Setenv("WORKFLOW_DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://wf:wf@localhost:5432/wf?sslmode=disable")
	t.Setenv("WORKFLOW_LARK_ENABLED", "true")
	t.Setenv("LARK_APP_ID", "cli_a1")
	t.Setenv("LARK_APP_SECRET", "s3cret")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://wf:wf@localhost:5432/wf?sslmode=disable", cfg.Database.DSN)
	assert.True(t, cfg.Lark.Enabled)
	assert.Equal(t, "cli_a1", cfg.Lark.AppID)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/workflow.db", cfg.Database.Path)
	assert.Equal(t, "configs/templates", cfg.Workflow.TemplatesDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"lark without credentials", func(c *Config) { c.Lark.Enabled = true }},
		{"reminder without interval", func(c *Config) {
			c.Workflow.Reminder.Enabled = true
			c.Workflow.Reminder.Interval = 0
		}},
		{"rule without template", func(c *Config) {
			c.Workflow.Rules = []template.Rule{{BusinessType: "case"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WORKFLOW_DOTENV_PROBE=from-file\nWORKFLOW_DOTENV_KEEP=from-file\n"), 0o600))
	t.Setenv("WORKFLOW_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("WORKFLOW_DOTENV_PROBE") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("WORKFLOW_DOTENV_PROBE"))
	assert.Equal(t, "from-env", os.Getenv("WORKFLOW_DOTENV_KEEP"))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Workflow.EnforceAssignee)
	assert.NotEmpty(t, cfg.Workflow.Rules)
	assert.Contains(t, cfg.Directory.Roles, "patent_agent")
	assert.Equal(t, "u-legal-sun", cfg.Directory.Dynamic["case_handler"].ByBusinessType["contract"])
	assert.True(t, cfg.Workflow.Reminder.Enabled)
	assert.Equal(t, 48*time.Hour, cfg.Workflow.Reminder.After)
}
