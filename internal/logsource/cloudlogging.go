package logsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	logging "google.golang.org/api/logging/v2"
	"google.golang.org/api/option"

	"github.com/thefarmersfront/datahub/internal/audit"
	"github.com/thefarmersfront/datahub/internal/config"
	"github.com/thefarmersfront/datahub/internal/domain"
	"github.com/thefarmersfront/datahub/internal/lineage"
)

// CloudLoggingEvents reads audit records through the Cloud Logging API and
// yields parsed query events. It implements lineage.EventSource.
type CloudLoggingEvents struct {
	cfg    *config.Config
	report *domain.ExtractionReport
	logger *slog.Logger
	opts   []option.ClientOption

	// MaxResults caps the number of entries fetched; 0 means unbounded.
	// A cap of 1 is used for connection testing.
	MaxResults int64
}

// NewCloudLoggingEvents wires a Cloud Logging event source. opts are passed
// to the API client (credentials, endpoint overrides).
func NewCloudLoggingEvents(cfg *config.Config, report *domain.ExtractionReport, logger *slog.Logger, opts ...option.ClientOption) *CloudLoggingEvents {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudLoggingEvents{cfg: cfg, report: report, logger: logger, opts: opts}
}

// Events opens the lazy entry stream for the configured window.
func (s *CloudLoggingEvents) Events(ctx context.Context) (lineage.EventIterator, error) {
	svc, err := logging.NewService(ctx, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("create logging client: %w", err)
	}

	window := Window{Start: s.cfg.StartTime, End: s.cfg.EndTime, Buffer: s.cfg.MaxQueryDuration}
	start, end := window.Bounds()
	startTS := start.UTC().Format(datetimeFormat)
	endTS := end.UTC().Format(datetimeFormat)
	s.report.SetLogEntryWindow(startTS, endTS)
	s.logger.Info("loading audit log entries",
		"project", s.cfg.ProjectID,
		"start", startTS,
		"end", endTS)

	entries := &logEntryIterator{
		svc:        svc,
		project:    s.cfg.ProjectID,
		filter:     BuildLogFilter(window),
		pageSize:   s.cfg.LogPageSize,
		maxResults: s.MaxResults,
		limiter:    newPageLimiter(s.cfg.RateLimit, s.cfg.RequestsPerMin),
	}
	parser := &audit.Parser{IncludeFullPayload: s.cfg.IncludeFullPayloads}
	return audit.NewEntryEventStream(entries, parser, s.report, s.logger), nil
}

// logEntryIterator pages through entries.list lazily. Each page fetch waits
// on the rate limiter first.
type logEntryIterator struct {
	svc        *logging.Service
	project    string
	filter     string
	pageSize   int64
	maxResults int64
	limiter    *rate.Limiter

	pageToken string
	buf       []audit.LogEntry
	idx       int
	fetched   int64
	started   bool
	exhausted bool
}

// Next returns the next raw entry, fetching pages as needed. It returns
// iterator.Done at the end of the stream.
func (it *logEntryIterator) Next(ctx context.Context) (audit.LogEntry, error) {
	for {
		if it.maxResults > 0 && it.fetched >= it.maxResults {
			return audit.LogEntry{}, iterator.Done
		}
		if it.idx < len(it.buf) {
			entry := it.buf[it.idx]
			it.idx++
			it.fetched++
			return entry, nil
		}
		if it.started && it.exhausted {
			return audit.LogEntry{}, iterator.Done
		}
		if err := it.fetchPage(ctx); err != nil {
			return audit.LogEntry{}, err
		}
	}
}

func (it *logEntryIterator) fetchPage(ctx context.Context) error {
	if err := waitForToken(ctx, it.limiter); err != nil {
		return err
	}

	req := &logging.ListLogEntriesRequest{
		ResourceNames: []string{"projects/" + it.project},
		Filter:        it.filter,
		PageSize:      it.pageSize,
		PageToken:     it.pageToken,
	}
	resp, err := it.svc.Entries.List(req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("list log entries: %w", err)
	}

	it.started = true
	it.buf = it.buf[:0]
	it.idx = 0
	for _, entry := range resp.Entries {
		it.buf = append(it.buf, convertLogEntry(entry))
	}
	it.pageToken = resp.NextPageToken
	it.exhausted = resp.NextPageToken == ""
	return nil
}

// convertLogEntry decodes the protoPayload into a generic map. A payload that
// fails to decode leaves the map nil; the parser reports it as missing its
// required fields.
func convertLogEntry(entry *logging.LogEntry) audit.LogEntry {
	var payload map[string]any
	if len(entry.ProtoPayload) > 0 {
		_ = json.Unmarshal(entry.ProtoPayload, &payload)
	}
	ts, _ := time.Parse(time.RFC3339Nano, entry.Timestamp)
	return audit.LogEntry{
		InsertID:     entry.InsertId,
		LogName:      entry.LogName,
		Timestamp:    ts,
		ProtoPayload: payload,
	}
}
