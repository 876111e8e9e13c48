// Package lineage builds the table-level lineage map from parsed query events
// and answers upstream queries over it.
package lineage

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/api/iterator"

	"github.com/thefarmersfront/datahub/internal/domain"
	"github.com/thefarmersfront/datahub/internal/sqlparse"
)

// EventIterator lazily yields query events. Next returns iterator.Done when
// the sequence ends; any other error is a source failure.
type EventIterator interface {
	Next(ctx context.Context) (domain.QueryEvent, error)
}

// EventSource opens the event stream for one extraction run. Opening and
// iterating may both hit external services.
type EventSource interface {
	Events(ctx context.Context) (EventIterator, error)
}

// AllowFunc is the externally supplied allow/deny predicate, applied to the
// dataset and table components of a destination independently.
type AllowFunc func(name string) bool

// Builder consumes a stream of query events and produces the lineage map.
// It is single-pass and streaming: memory is bounded by the size of the
// resulting map, not the event volume.
type Builder struct {
	datasetAllowed AllowFunc
	tableAllowed   AllowFunc
	parser         sqlparse.TableParser
	report         *domain.ExtractionReport
	logger         *slog.Logger
}

// NewBuilder creates a builder. Nil predicates allow everything; the report
// is shared with the caller and accumulates skip counters.
func NewBuilder(datasetAllowed, tableAllowed AllowFunc, parser sqlparse.TableParser, report *domain.ExtractionReport, logger *slog.Logger) *Builder {
	if datasetAllowed == nil {
		datasetAllowed = func(string) bool { return true }
	}
	if tableAllowed == nil {
		tableAllowed = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		datasetAllowed: datasetAllowed,
		tableAllowed:   tableAllowed,
		parser:         parser,
		report:         report,
		logger:         logger,
	}
}

// Build consumes events until the iterator ends. A source error aborts the
// run and is returned; the caller must then discard the partial map.
func (b *Builder) Build(ctx context.Context, events EventIterator) (domain.LineageMap, error) {
	lineageMap := domain.LineageMap{}
	for {
		event, err := events.Next(ctx)
		if errors.Is(err, iterator.Done) {
			return lineageMap, nil
		}
		if err != nil {
			return nil, err
		}
		b.consume(lineageMap, event)
	}
}

// consume applies one event to the map.
func (b *Builder) consume(lineageMap domain.LineageMap, event domain.QueryEvent) {
	b.report.CountLineageEntry()

	if event.Destination == nil || (len(event.ReferencedTables) == 0 && len(event.ReferencedViews) == 0) {
		b.report.CountSkip(domain.SkipMissingData)
		return
	}

	dest := event.Destination.Sanitize()
	destKey := dest.Key()
	if !b.datasetAllowed(dest.Dataset) || !b.tableAllowed(dest.Table) {
		b.report.CountSkip(domain.SkipNotAllowed)
		return
	}

	// Track which upstream keys this event introduced so a disambiguation
	// failure can withdraw exactly this event's contribution.
	var added []string
	hasTable := false
	for _, ref := range event.ReferencedTables {
		refKey := ref.Sanitize().Key()
		if refKey == destKey {
			continue
		}
		if !lineageMap.Contains(destKey, refKey) {
			added = append(added, refKey)
		}
		lineageMap.Add(destKey, refKey)
		hasTable = true
	}
	hasView := false
	for _, ref := range event.ReferencedViews {
		refKey := ref.Sanitize().Key()
		if refKey == destKey {
			continue
		}
		if !lineageMap.Contains(destKey, refKey) {
			added = append(added, refKey)
		}
		lineageMap.Add(destKey, refKey)
		hasView = true
	}

	if hasTable && hasView {
		// The audit trail reports a referenced view together with its
		// underlying base tables, with no distinction between direct and
		// indirect access. Parse the query text and keep only objects it
		// actually names.
		names, err := b.parseReferencedNames(event.Query)
		if err != nil {
			b.report.CountSkip(domain.SkipSQLParserFailure)
			b.logger.Warn("SQL parser failed; query skipped from lineage",
				"source", event.Source, "query", event.Query, "error", err)
			// Withdraw rather than guess: unfiltered entries would credit the
			// destination with upstreams the query may never have read.
			upstreams, _ := lineageMap.Upstreams(destKey)
			for _, key := range added {
				delete(upstreams, key)
			}
			return
		}
		upstreams, _ := lineageMap.Upstreams(destKey)
		for key := range upstreams {
			if !names[bareTableName(key)] {
				delete(upstreams, key)
			}
		}
	}

	if !hasTable && !hasView {
		b.report.CountSkip(domain.SkipOther)
	}
}

// parseReferencedNames returns the set of bare (unqualified, lower-cased)
// table names the query text references.
func (b *Builder) parseReferencedNames(query string) (map[string]bool, error) {
	tables, err := b.parser.ParseTables(query)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		parts := strings.Split(t, ".")
		names[strings.ToLower(parts[len(parts)-1])] = true
	}
	return names, nil
}

// bareTableName extracts the final path segment of a canonical table key.
func bareTableName(key string) string {
	parts := strings.Split(key, "/")
	return parts[len(parts)-1]
}
