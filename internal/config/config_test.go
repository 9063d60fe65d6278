package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "crm.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 80, cfg.Dedupe.Threshold)
	assert.Equal(t, 4, cfg.Dedupe.Workers)
	assert.Equal(t, 7, cfg.Workflow.DefaultTaskDueDays)
	assert.Equal(t, "log", cfg.Notify.Driver)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, DefaultScoringConfig(), cfg.Scoring)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/crm
log:
  level: debug
  format: console
scoring:
  title_vp: 30
dedupe:
  threshold: 70
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Scoring.TitleVP)
	assert.Equal(t, 70, cfg.Dedupe.Threshold)
	// Defaults still apply for unset values
	assert.Equal(t, 15, cfg.Scoring.TitleDirector)
	assert.Equal(t, 4, cfg.Workflow.Workers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CRM_STORE_DRIVER", "postgres")
	t.Setenv("CRM_LOG_LEVEL", "warn")
	t.Setenv("CRM_SALESFORCE_CLIENT_ID", "client-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "client-123", cfg.Salesforce.ClientID)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate_Store(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite", DatabaseURL: "crm.db"}}
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("store"), "unsupported store driver")

	cfg.Store = StoreConfig{Driver: "postgres"}
	assert.ErrorContains(t, cfg.Validate("store"), "store.database_url")
}

func TestValidate_Dedupe(t *testing.T) {
	cfg := &Config{Dedupe: DedupeConfig{Threshold: 101}}
	assert.Error(t, cfg.Validate("dedupe"))
	cfg.Dedupe.Threshold = 85
	assert.NoError(t, cfg.Validate("dedupe"))
}

func TestValidate_Workflow(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate("workflow"))
	cfg.Workflow.Workers = 2
	assert.NoError(t, cfg.Validate("workflow"))
}

func TestValidate_NotifyWebhookRequiresURL(t *testing.T) {
	cfg := &Config{Notify: NotifyConfig{Driver: "webhook"}}
	assert.ErrorContains(t, cfg.Validate("notify"), "notify.webhook_url")
	cfg.Notify.WebhookURL = "https://hooks.example.com/crm"
	assert.NoError(t, cfg.Validate("notify"))
}

func TestValidate_Salesforce(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("salesforce")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.client_id")
	assert.Contains(t, err.Error(), "salesforce.username")
	assert.Contains(t, err.Error(), "salesforce.key_path")
}

func TestValidate_UnknownSection(t *testing.T) {
	assert.Error(t, (&Config{}).Validate("bogus"))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
