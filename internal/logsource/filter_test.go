package logsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow() Window {
	return Window{
		Start:  time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Buffer: 15 * time.Minute,
	}
}

func TestWindow_Bounds(t *testing.T) {
	start, end := testWindow().Bounds()

	assert.Equal(t, time.Date(2024, 1, 29, 23, 45, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 15, 0, 0, time.UTC), end)
}

func TestBuildLogFilter(t *testing.T) {
	filter := BuildLogFilter(testWindow())

	assert.Contains(t, filter, `resource.type=("bigquery_project")`)
	assert.Contains(t, filter, `jobStatus.jobState="DONE"`)
	assert.Contains(t, filter, "NOT protoPayload.metadata.jobChange.job.jobStatus.errorResult:*")
	assert.Contains(t, filter, `timestamp >= "2024-01-29T23:45:00Z"`)
	assert.Contains(t, filter, `timestamp < "2024-01-31T00:15:00Z"`)
	assert.Contains(t, filter, "INFORMATION_SCHEMA")
}

func TestBuildAuditMetadataQuery(t *testing.T) {
	t.Run("partitioned", func(t *testing.T) {
		query := BuildAuditMetadataQuery("p.audit", false, testWindow(), 0)

		assert.Contains(t, query, "`p.audit.cloudaudit_googleapis_com_data_access`")
		assert.NotContains(t, query, "_TABLE_SUFFIX")
		assert.Contains(t, query, `timestamp >= "2024-01-29T23:45:00Z"`)
		assert.Contains(t, query, `jobStatus.jobState") = "DONE"`)
		assert.Contains(t, query, "errorResults\") IS NULL")
		assert.NotContains(t, query, "LIMIT")
	})

	t.Run("date_sharded", func(t *testing.T) {
		query := BuildAuditMetadataQuery("p.audit", true, testWindow(), 0)

		assert.Contains(t, query, "`p.audit.cloudaudit_googleapis_com_data_access_*`")
		assert.Contains(t, query, `_TABLE_SUFFIX BETWEEN "20240129" AND "20240131"`)
	})

	t.Run("with_limit", func(t *testing.T) {
		query := BuildAuditMetadataQuery("p.audit", false, testWindow(), 1)

		assert.Contains(t, query, "LIMIT 1")
	})
}

func TestParseEpoch(t *testing.T) {
	t.Run("scientific_notation", func(t *testing.T) {
		ts := parseEpoch("1.7067E9")

		assert.Equal(t, int64(1706700000), ts.Unix())
	})

	t.Run("invalid", func(t *testing.T) {
		assert.True(t, parseEpoch("nope").IsZero())
	})
}

func TestNewPageLimiter(t *testing.T) {
	assert.Nil(t, newPageLimiter(false, 60))
	assert.Nil(t, newPageLimiter(true, 0))
	require.NotNil(t, newPageLimiter(true, 60))

	// A nil limiter never blocks.
	assert.NoError(t, waitForToken(context.Background(), nil))
}
