package logsource

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	bigquery "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/thefarmersfront/datahub/internal/audit"
	"github.com/thefarmersfront/datahub/internal/config"
	"github.com/thefarmersfront/datahub/internal/domain"
	"github.com/thefarmersfront/datahub/internal/lineage"
)

// AuditMetadataEvents reads the exported audit-log tables through the
// BigQuery API and yields parsed query events. It implements
// lineage.EventSource and is used when the organization exports its audit
// trail to BigQuery instead of granting Cloud Logging access.
type AuditMetadataEvents struct {
	cfg    *config.Config
	report *domain.ExtractionReport
	logger *slog.Logger
	opts   []option.ClientOption

	// Limit caps rows per dataset via a SQL LIMIT; 0 means unbounded.
	Limit int64
}

// NewAuditMetadataEvents wires an exported-audit event source.
func NewAuditMetadataEvents(cfg *config.Config, report *domain.ExtractionReport, logger *slog.Logger, opts ...option.ClientOption) *AuditMetadataEvents {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditMetadataEvents{cfg: cfg, report: report, logger: logger, opts: opts}
}

// Events opens the lazy row stream across all configured audit datasets.
func (s *AuditMetadataEvents) Events(ctx context.Context) (lineage.EventIterator, error) {
	if len(s.cfg.AuditMetadataDatasets) == 0 {
		s.report.MarkAuditMetadataDatasetsMissing()
		return nil, fmt.Errorf("audit_metadata_datasets is not configured")
	}

	svc, err := bigquery.NewService(ctx, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	window := Window{Start: s.cfg.StartTime, End: s.cfg.EndTime, Buffer: s.cfg.MaxQueryDuration}
	start, end := window.Bounds()
	startTS := start.UTC().Format(datetimeFormat)
	endTS := end.UTC().Format(datetimeFormat)
	s.report.SetAuditWindow(startTS, endTS)
	s.logger.Info("loading exported audit metadata",
		"project", s.cfg.ProjectID,
		"datasets", s.cfg.AuditMetadataDatasets,
		"start", startTS,
		"end", endTS)

	rows := &auditRowIterator{
		svc:      svc,
		project:  s.cfg.ProjectID,
		datasets: s.cfg.AuditMetadataDatasets,
		window:   window,
		sharded:  s.cfg.UseDateShardedAuditLogTables,
		limit:    s.Limit,
		limiter:  newPageLimiter(s.cfg.RateLimit, s.cfg.RequestsPerMin),
		logger:   s.logger,
	}
	parser := &audit.Parser{IncludeFullPayload: s.cfg.IncludeFullPayloads}
	return audit.NewRowEventStream(rows, parser, s.report, s.logger), nil
}

// auditRowIterator runs the audit query against each configured dataset in
// turn, paging through results lazily.
type auditRowIterator struct {
	svc      *bigquery.Service
	project  string
	datasets []string
	window   Window
	sharded  bool
	limit    int64
	limiter  *rate.Limiter
	logger   *slog.Logger

	datasetIdx int
	jobID      string
	pageToken  string
	active     bool
	buf        []audit.AuditMetadataRow
	idx        int
}

// Next returns the next exported audit row, advancing through datasets as
// each is drained. It returns iterator.Done after the last dataset.
func (it *auditRowIterator) Next(ctx context.Context) (audit.AuditMetadataRow, error) {
	for {
		if it.idx < len(it.buf) {
			row := it.buf[it.idx]
			it.idx++
			return row, nil
		}
		if it.active {
			if it.pageToken == "" {
				// Current dataset drained.
				it.active = false
				it.datasetIdx++
				continue
			}
			if err := it.fetchNextPage(ctx); err != nil {
				return audit.AuditMetadataRow{}, err
			}
			continue
		}
		if it.datasetIdx >= len(it.datasets) {
			return audit.AuditMetadataRow{}, iterator.Done
		}
		if err := it.startDataset(ctx, it.datasets[it.datasetIdx]); err != nil {
			return audit.AuditMetadataRow{}, err
		}
	}
}

// startDataset issues the audit query for one dataset and buffers the first
// page of results.
func (it *auditRowIterator) startDataset(ctx context.Context, dataset string) error {
	if err := waitForToken(ctx, it.limiter); err != nil {
		return err
	}

	query := BuildAuditMetadataQuery(dataset, it.sharded, it.window, it.limit)
	it.logger.Debug("querying exported audit dataset", "dataset", dataset)

	resp, err := it.svc.Jobs.Query(it.project, &bigquery.QueryRequest{
		Query:           query,
		UseLegacySql:    googleapi.Bool(false),
		ForceSendFields: []string{"UseLegacySql"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("query audit dataset %s: %w", dataset, err)
	}

	it.active = true
	it.jobID = ""
	if resp.JobReference != nil {
		it.jobID = resp.JobReference.JobId
	}
	it.setPage(resp.Rows, resp.PageToken)

	// An incomplete job returns no rows yet; poll until it finishes.
	for !resp.JobComplete {
		results, err := it.waitForResults(ctx)
		if err != nil {
			return err
		}
		it.setPage(results.Rows, results.PageToken)
		resp.JobComplete = results.JobComplete
	}
	return nil
}

// fetchNextPage continues paging an active job.
func (it *auditRowIterator) fetchNextPage(ctx context.Context) error {
	if err := waitForToken(ctx, it.limiter); err != nil {
		return err
	}
	results, err := it.svc.Jobs.GetQueryResults(it.project, it.jobID).
		PageToken(it.pageToken).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("fetch audit query results: %w", err)
	}
	it.setPage(results.Rows, results.PageToken)
	return nil
}

func (it *auditRowIterator) waitForResults(ctx context.Context) (*bigquery.GetQueryResultsResponse, error) {
	if err := waitForToken(ctx, it.limiter); err != nil {
		return nil, err
	}
	results, err := it.svc.Jobs.GetQueryResults(it.project, it.jobID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("wait for audit query results: %w", err)
	}
	return results, nil
}

func (it *auditRowIterator) setPage(rows []*bigquery.TableRow, pageToken string) {
	it.buf = it.buf[:0]
	it.idx = 0
	for _, row := range rows {
		it.buf = append(it.buf, convertAuditRow(row))
	}
	it.pageToken = pageToken
}

// convertAuditRow maps the positional result columns (timestamp, logName,
// insertId, metadata) onto a row value.
func convertAuditRow(row *bigquery.TableRow) audit.AuditMetadataRow {
	cell := func(i int) string {
		if row == nil || i >= len(row.F) {
			return ""
		}
		s, _ := row.F[i].V.(string)
		return s
	}
	return audit.AuditMetadataRow{
		Timestamp:    parseEpoch(cell(0)),
		LogName:      cell(1),
		InsertID:     cell(2),
		MetadataJSON: cell(3),
	}
}

// parseEpoch converts BigQuery's epoch-seconds cell encoding (for example
// "1.7067E9") into a time.
func parseEpoch(s string) time.Time {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
