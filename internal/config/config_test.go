package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LINEAGE_PROJECT_ID", "my-project")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.ProjectID)
	assert.Equal(t, 15*time.Minute, cfg.MaxQueryDuration)
	assert.Equal(t, int64(1000), cfg.LogPageSize)
	assert.Equal(t, "_", cfg.TempTableDatasetPrefix)
	assert.Equal(t, "PROD", cfg.Env)
	assert.True(t, cfg.EndTime.After(cfg.StartTime))
	assert.True(t, cfg.DatasetAllowed("anything"))
}

func TestLoad_MissingProjectID(t *testing.T) {
	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project_id: file-project
log_page_size: 500
rate_limit: true
requests_per_min: 30
dataset_pattern:
  deny: ["^staging_"]
`), 0o600))
	t.Setenv("LINEAGE_PROJECT_ID", "env-project")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "env-project", cfg.ProjectID, "env overrides file")
	assert.Equal(t, int64(500), cfg.LogPageSize)
	assert.True(t, cfg.RateLimit)
	assert.False(t, cfg.DatasetAllowed("staging_tmp"))
	assert.True(t, cfg.DatasetAllowed("analytics"))
}

func TestLoad_InvalidWindow(t *testing.T) {
	t.Setenv("LINEAGE_PROJECT_ID", "p")
	t.Setenv("LINEAGE_START_TIME", "2024-02-01T00:00:00Z")
	t.Setenv("LINEAGE_END_TIME", "2024-01-01T00:00:00Z")

	_, err := Load("")

	require.Error(t, err)
}

func TestLoad_ExportedModeWithoutDatasetsWarns(t *testing.T) {
	t.Setenv("LINEAGE_PROJECT_ID", "p")
	t.Setenv("LINEAGE_USE_EXPORTED_AUDIT_METADATA", "true")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoad_AuditMetadataDatasetsList(t *testing.T) {
	t.Setenv("LINEAGE_PROJECT_ID", "p")
	t.Setenv("LINEAGE_AUDIT_METADATA_DATASETS", "p.audit_a, p.audit_b")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, []string{"p.audit_a", "p.audit_b"}, cfg.AuditMetadataDatasets)
}

func TestConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelError, (&Config{LogLevel: "error"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: ""}).SlogLevel())
}
