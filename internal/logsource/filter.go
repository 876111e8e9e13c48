// Package logsource produces the lazy sequence of raw audit records for an
// extraction window. Two sources exist: the Cloud Logging API and exported
// audit-log tables queried through the BigQuery API. Both honor an optional
// cooperative rate limit on page fetches.
package logsource

import (
	"fmt"
	"strings"
	"time"
)

const (
	// datetimeFormat is the timestamp layout the audit filter languages expect.
	datetimeFormat = "2006-01-02T15:04:05Z"
	// dateShardFormat is the layout of date-shard table suffixes.
	dateShardFormat = "20060102"
)

// logFilterTemplate selects completed, non-errored query jobs that referenced
// at least one table or view, excluding anonymous/system tables. The two %s
// placeholders are the buffered window bounds.
const logFilterTemplate = `resource.type=("bigquery_project")
AND
(
    protoPayload.methodName=
        (
            "google.cloud.bigquery.v2.JobService.Query"
            OR
            "google.cloud.bigquery.v2.JobService.InsertJob"
        )
    AND
    protoPayload.metadata.jobChange.job.jobStatus.jobState="DONE"
    AND NOT protoPayload.metadata.jobChange.job.jobStatus.errorResult:*
    AND (
        protoPayload.metadata.jobChange.job.jobStats.queryStats.referencedTables:*
        OR
        protoPayload.metadata.jobChange.job.jobStats.queryStats.referencedViews:*
    )
    AND (
        protoPayload.metadata.jobChange.job.jobStats.queryStats.referencedTables !~ "projects/.*/datasets/_.*/tables/anon.*"
        AND
        protoPayload.metadata.jobChange.job.jobStats.queryStats.referencedTables !~ "projects/.*/datasets/.*/tables/INFORMATION_SCHEMA.*"
        AND
        protoPayload.metadata.jobChange.job.jobStats.queryStats.referencedTables !~ "projects/.*/datasets/.*/tables/__TABLES__"
        AND
        protoPayload.metadata.jobChange.job.jobConfig.queryConfig.destinationTable !~ "projects/.*/datasets/_.*/tables/anon.*"
    )
)
AND
timestamp >= "%s"
AND
timestamp < "%s"`

// Window is the extraction time range. Buffer widens the range on both sides
// to tolerate event-arrival skew: a query that started before the window or
// whose completion event landed late is still picked up.
type Window struct {
	Start  time.Time
	End    time.Time
	Buffer time.Duration
}

// Bounds returns the buffered range.
func (w Window) Bounds() (time.Time, time.Time) {
	return w.Start.Add(-w.Buffer), w.End.Add(w.Buffer)
}

// BuildLogFilter renders the Cloud Logging filter expression for the window.
func BuildLogFilter(w Window) string {
	start, end := w.Bounds()
	return fmt.Sprintf(logFilterTemplate, start.UTC().Format(datetimeFormat), end.UTC().Format(datetimeFormat))
}

// BuildAuditMetadataQuery renders the SQL that reads one exported audit-log
// dataset (given as project.dataset). Date-sharded exports are read through a
// table wildcard bounded by _TABLE_SUFFIX; partitioned exports through the
// single table. limit <= 0 means no LIMIT clause (a limit is used for
// connection testing).
func BuildAuditMetadataQuery(dataset string, useDateShardedTables bool, w Window, limit int64) string {
	start, end := w.Bounds()
	startTS := start.UTC().Format(datetimeFormat)
	endTS := end.UTC().Format(datetimeFormat)

	var b strings.Builder
	b.WriteString("SELECT\n")
	b.WriteString("    timestamp,\n")
	b.WriteString("    logName,\n")
	b.WriteString("    insertId,\n")
	b.WriteString("    protopayload_auditlog.metadataJson AS metadata\n")
	if useDateShardedTables {
		fmt.Fprintf(&b, "FROM\n    `%s.cloudaudit_googleapis_com_data_access_*`\n", dataset)
		fmt.Fprintf(&b, "WHERE\n    _TABLE_SUFFIX BETWEEN \"%s\" AND \"%s\"\n",
			start.UTC().Format(dateShardFormat), end.UTC().Format(dateShardFormat))
		b.WriteString("    AND ")
	} else {
		fmt.Fprintf(&b, "FROM\n    `%s.cloudaudit_googleapis_com_data_access`\n", dataset)
		b.WriteString("WHERE\n    ")
	}
	fmt.Fprintf(&b, "timestamp >= \"%s\"\n", startTS)
	fmt.Fprintf(&b, "    AND timestamp < \"%s\"\n", endTS)
	b.WriteString("    AND protopayload_auditlog.serviceName=\"bigquery.googleapis.com\"\n")
	b.WriteString("    AND JSON_EXTRACT_SCALAR(protopayload_auditlog.metadataJson, \"$.jobChange.job.jobStatus.jobState\") = \"DONE\"\n")
	b.WriteString("    AND JSON_EXTRACT(protopayload_auditlog.metadataJson, \"$.jobChange.job.jobStatus.errorResults\") IS NULL\n")
	b.WriteString("    AND JSON_EXTRACT(protopayload_auditlog.metadataJson, \"$.jobChange.job.jobConfig.queryConfig\") IS NOT NULL\n")
	if limit > 0 {
		fmt.Fprintf(&b, "LIMIT %d\n", limit)
	}
	return b.String()
}
