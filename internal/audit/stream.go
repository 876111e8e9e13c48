package audit

import (
	"context"
	"log/slog"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// EntryIterator lazily yields Cloud Logging audit entries. Next returns
// iterator.Done (google.golang.org/api/iterator) when the sequence ends; any
// other error is a source failure that aborts the run.
type EntryIterator interface {
	Next(ctx context.Context) (LogEntry, error)
}

// RowIterator lazily yields exported audit-log rows.
type RowIterator interface {
	Next(ctx context.Context) (AuditMetadataRow, error)
}

// EntryEventStream pulls raw log entries, parses them, and yields query
// events. Unparsable records are counted, reported, and skipped; they never
// stop the stream. Source errors propagate unchanged.
type EntryEventStream struct {
	entries EntryIterator
	parser  *Parser
	report  *domain.ExtractionReport
	logger  *slog.Logger
}

// NewEntryEventStream wires a parse loop over entries. The report is shared
// with the caller and accumulates total/parsed counters.
func NewEntryEventStream(entries EntryIterator, parser *Parser, report *domain.ExtractionReport, logger *slog.Logger) *EntryEventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryEventStream{entries: entries, parser: parser, report: report, logger: logger}
}

// Next returns the next successfully parsed query event.
func (s *EntryEventStream) Next(ctx context.Context) (domain.QueryEvent, error) {
	for {
		entry, err := s.entries.Next(ctx)
		if err != nil {
			return domain.QueryEvent{}, err
		}
		s.report.CountLogEntry()

		event, err := s.parser.ParseLogEntry(entry)
		if err != nil {
			s.report.ReportFailure(entry.Source(), err.Error())
			s.logger.Error("unable to parse audit log entry", "source", entry.Source(), "error", err)
			continue
		}
		s.report.CountParsedLogEntry()
		return *event, nil
	}
}

// RowEventStream is the exported-audit-table counterpart of EntryEventStream.
type RowEventStream struct {
	rows   RowIterator
	parser *Parser
	report *domain.ExtractionReport
	logger *slog.Logger
}

// NewRowEventStream wires a parse loop over exported audit rows.
func NewRowEventStream(rows RowIterator, parser *Parser, report *domain.ExtractionReport, logger *slog.Logger) *RowEventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowEventStream{rows: rows, parser: parser, report: report, logger: logger}
}

// Next returns the next successfully parsed query event.
func (s *RowEventStream) Next(ctx context.Context) (domain.QueryEvent, error) {
	for {
		row, err := s.rows.Next(ctx)
		if err != nil {
			return domain.QueryEvent{}, err
		}
		s.report.CountAuditRow()

		event, err := s.parser.ParseAuditMetadataRow(row)
		if err != nil {
			s.report.ReportFailure(row.Source(), err.Error())
			s.logger.Error("unable to parse exported audit row", "source", row.Source(), "error", err)
			continue
		}
		s.report.CountParsedAuditRow()
		return *event, nil
	}
}
