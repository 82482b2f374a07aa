package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
news_collection:
  sources:
    rss_feeds:
      - name: "${FEED_NAME}"
        url: "https://example.com/rss"
        max_items: 20
        enabled: true
ai_analysis:
  provider: deepseek
  openrouter:
    api_key: "${OPENROUTER_KEY}"
    model: gpt-test
  deepseek:
    api_key: "static-key"
    model: deepseek-test
email:
  smtp:
    server: smtp.example.com
    port: 587
    username: bot@example.com
    password: "${SMTP_PASSWORD}"
  recipients:
    - a@example.com
database:
  sqlite:
    db_path: "${DB_DIR}/news.db"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("FEED_NAME", "wire")
	t.Setenv("OPENROUTER_KEY", "or-key")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("DB_DIR", "/tmp/newsflow")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.NewsCollection.CollectionInterval)
	assert.Equal(t, 10, cfg.AIAnalysis.AnalysisParams.MaxConcurrent)
	assert.Equal(t, 30, cfg.Database.Retention.MaxDays)
	assert.Equal(t, 60, cfg.Scheduler.MonitorSeconds)
	assert.Equal(t, "data/scheduler_state.json", cfg.Scheduler.StateFile)
}

func TestLoadExpandsEnvTokensEverywhere(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("FEED_NAME", "wire")
	t.Setenv("OPENROUTER_KEY", "or-key")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("DB_DIR", "/tmp/newsflow")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wire", cfg.NewsCollection.Sources.RSSFeeds[0].Name)
	assert.Equal(t, "or-key", cfg.AIAnalysis.OpenRouter.APIKey)
	assert.Equal(t, "secret", cfg.Email.SMTP.Password)
	assert.Equal(t, "/tmp/newsflow/news.db", cfg.Database.SQLite.DBPath)
}

func TestLoadLeavesNonTokenStringsUnchanged(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("FEED_NAME", "wire")
	t.Setenv("OPENROUTER_KEY", "or-key")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("DB_DIR", "/tmp/newsflow")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "static-key", cfg.AIAnalysis.DeepSeek.APIKey)
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTP.Server)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestExpandLeavesPlainStringsAlone(t *testing.T) {
	assert.Equal(t, "plain", expand("plain"))
}

func TestExpandSubstitutesUnsetVarWithEmptyString(t *testing.T) {
	assert.Equal(t, "", expand("${DEFINITELY_UNSET_VAR_XYZ}"))
}

func TestExpandMultipleTokens(t *testing.T) {
	t.Setenv("TOK_A", "foo")
	t.Setenv("TOK_B", "bar")
	assert.Equal(t, "foo-bar", expand("${TOK_A}-${TOK_B}"))
}
