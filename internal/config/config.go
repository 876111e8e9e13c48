// Package config handles extractor configuration from YAML files and
// environment variables. Environment variables override file values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// PatternConfig is the raw allow/deny regex lists for one name component.
type PatternConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Config holds the configuration for one lineage extraction run.
type Config struct {
	ProjectID string `yaml:"project_id"`

	// Extraction window. Defaults to the 24 hours ending now (UTC).
	StartTime time.Time `yaml:"start_time"`
	EndTime   time.Time `yaml:"end_time"`
	// MaxQueryDuration pads the window on both sides so completion events
	// that arrive late (or queries that started early) are not missed.
	MaxQueryDuration time.Duration `yaml:"max_query_duration"`

	// Log Source settings.
	LogPageSize    int64 `yaml:"log_page_size"`
	RateLimit      bool  `yaml:"rate_limit"`
	RequestsPerMin int   `yaml:"requests_per_min"`

	// Exported audit metadata settings. When UseExportedAuditMetadata is
	// set, lineage is read from the exported audit tables instead of the
	// Cloud Logging API.
	UseExportedAuditMetadata     bool     `yaml:"use_exported_audit_metadata"`
	AuditMetadataDatasets        []string `yaml:"audit_metadata_datasets"`
	UseDateShardedAuditLogTables bool     `yaml:"use_date_sharded_audit_log_tables"`

	// TempTableDatasetPrefix classifies intermediate tables the resolver
	// looks through.
	TempTableDatasetPrefix string `yaml:"temp_table_dataset_prefix"`

	// Destination filtering, applied to dataset and table independently.
	DatasetPattern PatternConfig `yaml:"dataset_pattern"`
	TablePattern   PatternConfig `yaml:"table_pattern"`

	// IncludeFullPayloads retains raw audit payloads on events. Debug only.
	IncludeFullPayloads bool `yaml:"debug_include_full_payloads"`

	PlatformInstance string `yaml:"platform_instance"`
	Env              string `yaml:"env"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// Warnings collects non-fatal notes generated while loading. They are
	// logged by the caller once the logger exists.
	Warnings []string `yaml:"-"`

	datasetPattern *domain.AllowDenyPattern
	tablePattern   *domain.AllowDenyPattern
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. Patterns are compiled as part of loading.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	end := time.Now().UTC().Truncate(time.Minute)
	return &Config{
		StartTime:              end.Add(-24 * time.Hour),
		EndTime:                end,
		MaxQueryDuration:       15 * time.Minute,
		LogPageSize:            1000,
		RequestsPerMin:         60,
		TempTableDatasetPrefix: "_",
		Env:                    "PROD",
		ListenAddr:             ":8080",
		LogLevel:               "info",
	}
}

// applyEnv overrides configuration from LINEAGE_* environment variables.
func (c *Config) applyEnv() error {
	setString(&c.ProjectID, "LINEAGE_PROJECT_ID")
	setString(&c.TempTableDatasetPrefix, "LINEAGE_TEMP_TABLE_DATASET_PREFIX")
	setString(&c.PlatformInstance, "LINEAGE_PLATFORM_INSTANCE")
	setString(&c.Env, "LINEAGE_ENV")
	setString(&c.ListenAddr, "LINEAGE_LISTEN_ADDR")
	setString(&c.LogLevel, "LINEAGE_LOG_LEVEL")

	if err := setTime(&c.StartTime, "LINEAGE_START_TIME"); err != nil {
		return err
	}
	if err := setTime(&c.EndTime, "LINEAGE_END_TIME"); err != nil {
		return err
	}
	if err := setDuration(&c.MaxQueryDuration, "LINEAGE_MAX_QUERY_DURATION"); err != nil {
		return err
	}
	if err := setInt64(&c.LogPageSize, "LINEAGE_LOG_PAGE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.RequestsPerMin, "LINEAGE_REQUESTS_PER_MIN"); err != nil {
		return err
	}
	if err := setBool(&c.RateLimit, "LINEAGE_RATE_LIMIT"); err != nil {
		return err
	}
	if err := setBool(&c.UseExportedAuditMetadata, "LINEAGE_USE_EXPORTED_AUDIT_METADATA"); err != nil {
		return err
	}
	if err := setBool(&c.UseDateShardedAuditLogTables, "LINEAGE_USE_DATE_SHARDED_AUDIT_LOG_TABLES"); err != nil {
		return err
	}
	if err := setBool(&c.IncludeFullPayloads, "LINEAGE_DEBUG_INCLUDE_FULL_PAYLOADS"); err != nil {
		return err
	}
	if v := os.Getenv("LINEAGE_AUDIT_METADATA_DATASETS"); v != "" {
		c.AuditMetadataDatasets = splitList(v)
	}
	return nil
}

// Validate checks internal consistency and compiles the filter patterns.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required (set LINEAGE_PROJECT_ID)")
	}
	if !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("end_time %s must be after start_time %s", c.EndTime.Format(time.RFC3339), c.StartTime.Format(time.RFC3339))
	}
	if c.RateLimit && c.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_min must be positive when rate_limit is enabled")
	}
	if c.LogPageSize <= 0 {
		return fmt.Errorf("log_page_size must be positive")
	}
	if c.UseExportedAuditMetadata && len(c.AuditMetadataDatasets) == 0 {
		c.Warnings = append(c.Warnings, "use_exported_audit_metadata is set but audit_metadata_datasets is empty; extraction will find no lineage")
	}

	var err error
	if c.datasetPattern, err = domain.NewAllowDenyPattern(c.DatasetPattern.Allow, c.DatasetPattern.Deny); err != nil {
		return fmt.Errorf("dataset_pattern: %w", err)
	}
	if c.tablePattern, err = domain.NewAllowDenyPattern(c.TablePattern.Allow, c.TablePattern.Deny); err != nil {
		return fmt.Errorf("table_pattern: %w", err)
	}
	return nil
}

// DatasetAllowed applies the dataset filter.
func (c *Config) DatasetAllowed(name string) bool {
	if c.datasetPattern == nil {
		return true
	}
	return c.datasetPattern.Allowed(name)
}

// TableAllowed applies the table filter.
func (c *Config) TableAllowed(name string) bool {
	if c.tablePattern == nil {
		return true
	}
	return c.tablePattern.Allowed(name)
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setTime(dst *time.Time, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed.UTC()
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
