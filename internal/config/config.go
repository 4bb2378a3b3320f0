// Package config loads the audit configuration: defaults, then an optional
// YAML file, then environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/gh-activity-audit/pkg/aggregate"
	"github.com/Sternrassler/gh-activity-audit/pkg/client"
	"github.com/Sternrassler/gh-activity-audit/pkg/dates"
	"github.com/Sternrassler/gh-activity-audit/pkg/logging"
	"github.com/Sternrassler/gh-activity-audit/pkg/reconcile"
)

// Config is the complete audit configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github" validate:"required"`
	Redis    RedisConfig    `yaml:"redis" validate:"required"`
	Audit    AuditConfig    `yaml:"audit" validate:"required"`
	Bulk     BulkConfig     `yaml:"bulk" validate:"required"`
	Repos    ReposConfig    `yaml:"repos" validate:"required"`
	Output   OutputConfig   `yaml:"output" validate:"required"`
	Schedule ScheduleConfig `yaml:"schedule" validate:"required"`
	Log      LogConfig      `yaml:"log" validate:"required"`
}

// GitHubConfig configures the API client.
type GitHubConfig struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	Token            string        `yaml:"token"`
	UserAgent        string        `yaml:"user_agent" validate:"required"`
	PerPage          int           `yaml:"per_page" validate:"min=1,max=100"`
	RateLimit        float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst            int           `yaml:"burst" validate:"gte=0"`
	RateLimitReserve int           `yaml:"rate_limit_reserve" validate:"min=1"`
	MaxRetries       int           `yaml:"max_retries" validate:"min=1,max=10"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// RedisConfig locates the Redis holding rate limit state and cached responses.
type RedisConfig struct {
	// URL is host:port or a redis:// URL.
	URL string `yaml:"url" validate:"required"`
	DB  int    `yaml:"db" validate:"gte=0,lte=15"`
}

// AuditConfig selects what is reconciled.
type AuditConfig struct {
	// AsOf is the cutoff day; empty means yesterday.
	AsOf        string   `yaml:"asof" validate:"omitempty,datetime=2006-01-02"`
	Kinds       []string `yaml:"kinds" validate:"required,min=1,dive,oneof=commits issues"`
	Concurrency int      `yaml:"concurrency" validate:"min=1,max=64"`
	Verify      bool     `yaml:"verify"`
}

// BulkConfig locates the bulk export.
type BulkConfig struct {
	// DailyFile is the daily totals export; when set, totals are rebuilt every run.
	DailyFile string `yaml:"daily_file"`

	// TotalsDir holds repototals-<date>.csv files.
	TotalsDir string `yaml:"totals_dir" validate:"required"`
}

// ReposConfig locates and filters the repository list.
type ReposConfig struct {
	File    string   `yaml:"file" validate:"required"`
	Column  int      `yaml:"column" validate:"gte=0"`
	Orgs    []string `yaml:"orgs"`
	Exclude []string `yaml:"exclude" validate:"dive,regexp_pattern"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	Dir string `yaml:"dir" validate:"required"`

	// HistoryDB is the SQLite run history; empty disables it.
	HistoryDB string `yaml:"history_db"`
}

// ScheduleConfig configures the schedule command.
type ScheduleConfig struct {
	Cron string `yaml:"cron" validate:"required,cronspec"`
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			BaseURL:          client.DefaultBaseURL,
			UserAgent:        "gh-activity-audit/0.1.0",
			PerPage:          100,
			RateLimit:        10,
			Burst:            5,
			RateLimitReserve: 10,
			MaxRetries:       3,
			InitialBackoff:   time.Second,
			Timeout:          30 * time.Second,
			CacheTTL:         24 * time.Hour,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Audit: AuditConfig{
			Kinds:       []string{string(client.KindCommits), string(client.KindIssues)},
			Concurrency: reconcile.DefaultConcurrency,
		},
		Bulk: BulkConfig{
			DailyFile: "data/verification_activities_repo.csv",
			TotalsDir: "data-verification",
		},
		Repos: ReposConfig{
			File:    "data/Repo.csv",
			Column:  reconcile.DefaultRepoColumn,
			Exclude: []string{reconcile.DocumentationPattern},
		},
		Output: OutputConfig{
			Dir: "data-verification",
		},
		Schedule: ScheduleConfig{
			Cron: "0 6 * * *",
			Addr: ":8080",
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration from path (optional) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg; unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("GITHUB_TOKEN", &c.GitHub.Token)
	str("GITHUB_API_URL", &c.GitHub.BaseURL)
	str("USER_AGENT", &c.GitHub.UserAgent)
	str("REDIS_URL", &c.Redis.URL)
	str("AUDIT_ASOF", &c.Audit.AsOf)
	str("AUDIT_REPOS_FILE", &c.Repos.File)
	str("AUDIT_OUTPUT_DIR", &c.Output.Dir)
	str("AUDIT_HISTORY_DB", &c.Output.HistoryDB)
	str("AUDIT_SCHEDULE", &c.Schedule.Cron)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Schedule.Addr = ":" + v
	}
	if v, ok := lookup("AUDIT_ORGS"); ok && v != "" {
		c.Repos.Orgs = splitList(v)
	}
	if v, ok := lookup("AUDIT_KINDS"); ok && v != "" {
		c.Audit.Kinds = splitList(v)
	}
	if v, ok := lookup("AUDIT_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUDIT_CONCURRENCY: %w", err)
		}
		c.Audit.Concurrency = n
	}
	if v, ok := lookup("AUDIT_VERIFY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUDIT_VERIFY: %w", err)
		}
		c.Audit.Verify = b
	}
	return nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Cutoff returns the as-of day: the configured one, or the day before now.
func (c *Config) Cutoff(now time.Time) (time.Time, error) {
	if c.Audit.AsOf == "" {
		return dates.Yesterday(now), nil
	}
	return dates.ParseDay(c.Audit.AsOf)
}

// Kinds returns the configured collection kinds.
func (c *Config) Kinds() ([]client.Kind, error) {
	kinds := make([]client.Kind, 0, len(c.Audit.Kinds))
	for _, s := range c.Audit.Kinds {
		k, err := client.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// RedisOptions returns go-redis options for the configured Redis.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if strings.Contains(c.Redis.URL, "://") {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Redis.URL, DB: c.Redis.DB}, nil
}

// ClientConfig returns the GitHub client configuration.
func (c *Config) ClientConfig(rdb *redis.Client) client.Config {
	cfg := client.DefaultConfig(rdb, c.GitHub.UserAgent)
	cfg.BaseURL = c.GitHub.BaseURL
	cfg.Token = c.GitHub.Token
	cfg.RateLimit = c.GitHub.RateLimit
	cfg.Burst = c.GitHub.Burst
	cfg.RateLimitReserve = c.GitHub.RateLimitReserve
	cfg.MaxRetries = c.GitHub.MaxRetries
	cfg.InitialBackoff = c.GitHub.InitialBackoff
	cfg.Timeout = c.GitHub.Timeout
	cfg.CacheTTL = c.GitHub.CacheTTL
	return cfg
}

// Filter returns the repository filter.
func (c *Config) Filter() (reconcile.Filter, error) {
	return reconcile.NewFilter(c.Repos.Orgs, c.Repos.Exclude)
}

// TotalsPath returns the totals file for cutoff.
func (c *Config) TotalsPath(cutoff time.Time) string {
	return filepath.Join(c.Bulk.TotalsDir, aggregate.FileName(cutoff))
}

// ReportPath returns the report file for kind and cutoff.
func (c *Config) ReportPath(kind client.Kind, cutoff time.Time) string {
	return filepath.Join(c.Output.Dir, reconcile.ReportFileName(string(kind), cutoff))
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("regexp_pattern", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
