package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/gh-activity-audit/pkg/client"
	"github.com/Sternrassler/gh-activity-audit/pkg/logging"
	"github.com/Sternrassler/gh-activity-audit/pkg/reconcile"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// clearEnv blanks every variable ApplyEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_API_URL", "USER_AGENT", "REDIS_URL", "AUDIT_ASOF",
		"AUDIT_REPOS_FILE", "AUDIT_OUTPUT_DIR", "AUDIT_HISTORY_DB", "AUDIT_SCHEDULE",
		"LOG_LEVEL", "PORT", "AUDIT_ORGS", "AUDIT_KINDS", "AUDIT_CONCURRENCY", "AUDIT_VERIFY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, client.DefaultBaseURL, cfg.GitHub.BaseURL)
	assert.Equal(t, 100, cfg.GitHub.PerPage)
	assert.Equal(t, []string{"commits", "issues"}, cfg.Audit.Kinds)
	assert.Equal(t, 11, cfg.Repos.Column)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeConfig(t, `
github:
  per_page: 50
  timeout: 10s
  initial_backoff: 250ms
audit:
  asof: "2017-05-10"
  kinds: [commits]
  concurrency: 8
repos:
  orgs: [microsoft]
log:
  level: debug
  pretty: true
`)
	clearEnv(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.GitHub.PerPage)
	assert.Equal(t, 10*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.GitHub.InitialBackoff)
	assert.Equal(t, "gh-activity-audit/0.1.0", cfg.GitHub.UserAgent, "unset keys keep defaults")
	assert.Equal(t, []string{"commits"}, cfg.Audit.Kinds)
	assert.Equal(t, 8, cfg.Audit.Concurrency)
	assert.Equal(t, []string{"microsoft"}, cfg.Repos.Orgs)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Pretty)

	cutoff, err := cfg.Cutoff(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2017-05-10", cutoff.Format("2006-01-02"))
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "github:\n  per_pgae: 50\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeConfig(t, "github:\n  per_page: 500\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github.per_page")
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.GitHub.PerPage)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"GITHUB_TOKEN":      "ghp_secret",
		"REDIS_URL":         "redis://cache:6379/2",
		"AUDIT_ASOF":        "2017-05-10",
		"AUDIT_ORGS":        "microsoft, azure ,",
		"AUDIT_KINDS":       "issues",
		"AUDIT_CONCURRENCY": "16",
		"AUDIT_VERIFY":      "true",
		"PORT":              "9090",
		"LOG_LEVEL":         "warn",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ghp_secret", cfg.GitHub.Token)
	assert.Equal(t, "2017-05-10", cfg.Audit.AsOf)
	assert.Equal(t, []string{"microsoft", "azure"}, cfg.Repos.Orgs)
	assert.Equal(t, []string{"issues"}, cfg.Audit.Kinds)
	assert.Equal(t, 16, cfg.Audit.Concurrency)
	assert.True(t, cfg.Audit.Verify)
	assert.Equal(t, ":9090", cfg.Schedule.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestApplyEnv_Invalid(t *testing.T) {
	assert.Error(t, Default().ApplyEnv(envMap(map[string]string{"AUDIT_CONCURRENCY": "many"})))
	assert.Error(t, Default().ApplyEnv(envMap(map[string]string{"AUDIT_VERIFY": "perhaps"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad asof", func(c *Config) { c.Audit.AsOf = "10.05.2017" }, "audit.asof"},
		{"unknown kind", func(c *Config) { c.Audit.Kinds = []string{"pulls"} }, "audit.kinds"},
		{"no kinds", func(c *Config) { c.Audit.Kinds = nil }, "audit.kinds"},
		{"zero concurrency", func(c *Config) { c.Audit.Concurrency = 0 }, "audit.concurrency"},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every day" }, "schedule.cron"},
		{"bad addr", func(c *Config) { c.Schedule.Addr = "8080" }, "schedule.addr"},
		{"bad exclude", func(c *Config) { c.Repos.Exclude = []string{"("} }, "repos.exclude"},
		{"bad base url", func(c *Config) { c.GitHub.BaseURL = "not a url" }, "github.base_url"},
		{"zero reserve", func(c *Config) { c.GitHub.RateLimitReserve = 0 }, "github.rate_limit_reserve"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCutoff_DefaultsToYesterday(t *testing.T) {
	cfg := Default()
	now := time.Date(2017, 5, 11, 1, 30, 0, 0, time.UTC)

	cutoff, err := cfg.Cutoff(now)
	require.NoError(t, err)
	assert.Equal(t, "2017-05-10", cutoff.Format("2006-01-02"))
}

func TestDerivedSettings(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Token = "ghp_x"
	cutoff := time.Date(2017, 5, 10, 0, 0, 0, 0, time.UTC)

	kinds, err := cfg.Kinds()
	require.NoError(t, err)
	assert.Equal(t, []client.Kind{client.KindCommits, client.KindIssues}, kinds)

	assert.Equal(t, filepath.Join("data-verification", "repototals-2017-05-10.csv"), cfg.TotalsPath(cutoff))
	assert.Equal(t, filepath.Join("data-verification", "audit_issues_2017-05-10.csv"), cfg.ReportPath(client.KindIssues, cutoff))

	cc := cfg.ClientConfig(nil)
	assert.Equal(t, "ghp_x", cc.Token)
	assert.Equal(t, cfg.GitHub.BaseURL, cc.BaseURL)
	assert.Equal(t, cfg.GitHub.RateLimitReserve, cc.RateLimitReserve)

	f, err := cfg.Filter()
	require.NoError(t, err)
	assert.True(t, f.Allows(reconcile.Entity{Org: "octo", Repo: "hello"}))
	assert.False(t, f.Allows(reconcile.Entity{Org: "octo", Repo: "hello-docs"}))

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
}
