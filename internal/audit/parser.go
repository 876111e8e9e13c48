package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// Sentinel errors for records describing jobs that never produced lineage.
// The source filters already exclude these states, but records are
// double-checked here so a misconfigured filter cannot poison the map.
var (
	// ErrJobNotDone marks a record whose job had not reached the DONE state.
	ErrJobNotDone = errors.New("job not in DONE state")
	// ErrJobErrored marks a record whose job completed with an error result.
	ErrJobErrored = errors.New("job completed with an error result")
)

const (
	// flatJobPath roots the older flat AuditData schema.
	flatJobPath = "serviceData.jobCompletedEvent.job"
	// structuredJobPath roots the newer BigQueryAuditMetadata schema.
	structuredJobPath = "metadata.jobChange.job"
)

// Parser converts raw audit records into query events. It never panics on
// malformed input; every failure is a typed error naming what was wrong.
type Parser struct {
	// IncludeFullPayload retains the whole decoded protoPayload on each
	// event. Off by default: payloads are large and may carry sensitive
	// query parameters. The raw query text itself is always retained because
	// view disambiguation needs it.
	IncludeFullPayload bool
}

// ParseLogEntry parses a Cloud Logging audit entry, probing the flat schema
// first and the structured schema second. When neither matches, the returned
// *MissingKeyError lists the absent root of both variants.
func (p *Parser) ParseLogEntry(entry LogEntry) (*domain.QueryEvent, error) {
	if missing := missingPaths(entry.ProtoPayload, flatJobPath); missing == nil {
		return p.parseFlat(entry)
	}
	if missing := missingPaths(entry.ProtoPayload, structuredJobPath); missing == nil {
		return p.parseStructured(entry)
	}
	return nil, &MissingKeyError{
		Source: entry.Source(),
		Paths:  []string{flatJobPath, structuredJobPath},
	}
}

// ParseAuditMetadataRow parses a row read from an exported audit-log table.
// The metadata column holds the structured BigQueryAuditMetadata payload as a
// JSON string.
func (p *Parser) ParseAuditMetadataRow(row AuditMetadataRow) (*domain.QueryEvent, error) {
	var missing []string
	if row.LogName == "" {
		missing = append(missing, "logName")
	}
	if row.InsertID == "" {
		missing = append(missing, "insertId")
	}
	if row.MetadataJSON == "" {
		missing = append(missing, "metadata")
	}
	if missing != nil {
		return nil, &MissingKeyError{Source: row.Source(), Paths: missing}
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(row.MetadataJSON), &metadata); err != nil {
		return nil, fmt.Errorf("audit record %s: decode metadata json: %w", row.Source(), err)
	}
	job, ok := lookupMap(metadata, "jobChange.job")
	if !ok {
		return nil, &MissingKeyError{Source: row.Source(), Paths: []string{"metadata.jobChange.job"}}
	}
	return p.parseJob(job, metadata, row.Source(), row.Timestamp)
}

// parseFlat handles the older AuditData payload, where tables are reported as
// {projectId, datasetId, tableId} objects.
func (p *Parser) parseFlat(entry LogEntry) (*domain.QueryEvent, error) {
	job, _ := lookupMap(entry.ProtoPayload, flatJobPath)

	if missing := missingPaths(job, "jobConfiguration.query", "jobStatus.state"); missing != nil {
		return nil, &MissingKeyError{Source: entry.Source(), Paths: prefixPaths(flatJobPath, missing)}
	}
	if state, _ := lookupString(job, "jobStatus.state"); state != "DONE" {
		return nil, fmt.Errorf("audit record %s: %w (state %q)", entry.Source(), ErrJobNotDone, state)
	}
	if _, errored := lookup(job, "jobStatus.error"); errored {
		return nil, fmt.Errorf("audit record %s: %w", entry.Source(), ErrJobErrored)
	}

	event := &domain.QueryEvent{
		Timestamp: entry.Timestamp,
		Source:    entry.Source(),
	}
	event.Query, _ = lookupString(job, "jobConfiguration.query.query")
	if dest, ok := lookupMap(job, "jobConfiguration.query.destinationTable"); ok {
		if ref, ok := refFromObject(dest); ok {
			event.Destination = &ref
		}
	}
	event.ReferencedTables = refsFromObjects(job, "jobStatistics.referencedTables")
	event.ReferencedViews = refsFromObjects(job, "jobStatistics.referencedViews")
	if p.IncludeFullPayload {
		event.Payload = entry.ProtoPayload
	}
	return event, nil
}

// parseStructured handles the BigQueryAuditMetadata payload carried inline on
// a Cloud Logging entry.
func (p *Parser) parseStructured(entry LogEntry) (*domain.QueryEvent, error) {
	job, _ := lookupMap(entry.ProtoPayload, structuredJobPath)
	return p.parseJob(job, entry.ProtoPayload, entry.Source(), entry.Timestamp)
}

// parseJob handles a BigQueryAuditMetadata job object, where tables are
// reported as "projects/<p>/datasets/<d>/tables/<t>" strings.
func (p *Parser) parseJob(job, payload map[string]any, source string, timestamp time.Time) (*domain.QueryEvent, error) {
	if missing := missingPaths(job, "jobConfig.queryConfig", "jobStatus.jobState"); missing != nil {
		return nil, &MissingKeyError{Source: source, Paths: prefixPaths(structuredJobPath, missing)}
	}
	if state, _ := lookupString(job, "jobStatus.jobState"); state != "DONE" {
		return nil, fmt.Errorf("audit record %s: %w (state %q)", source, ErrJobNotDone, state)
	}
	if _, errored := lookup(job, "jobStatus.errorResult"); errored {
		return nil, fmt.Errorf("audit record %s: %w", source, ErrJobErrored)
	}

	event := &domain.QueryEvent{
		Timestamp: timestamp,
		Source:    source,
	}
	event.Query, _ = lookupString(job, "jobConfig.queryConfig.query")
	if dest, ok := lookupString(job, "jobConfig.queryConfig.destinationTable"); ok {
		if ref, err := domain.ParseTableRefKey(dest); err == nil {
			event.Destination = &ref
		}
	}
	event.ReferencedTables = refsFromKeys(job, "jobStats.queryStats.referencedTables")
	event.ReferencedViews = refsFromKeys(job, "jobStats.queryStats.referencedViews")
	if p.IncludeFullPayload {
		event.Payload = payload
	}
	return event, nil
}

// refFromObject converts a flat-schema table object into a canonical ref.
func refFromObject(obj map[string]any) (domain.TableRef, bool) {
	project, _ := obj["projectId"].(string)
	dataset, _ := obj["datasetId"].(string)
	table, _ := obj["tableId"].(string)
	if project == "" || dataset == "" || table == "" {
		return domain.TableRef{}, false
	}
	return domain.NewTableRef(project, dataset, table), true
}

// refsFromObjects collects flat-schema table references at path. Malformed
// elements are skipped rather than failing the whole record.
func refsFromObjects(m map[string]any, path string) []domain.TableRef {
	v, ok := lookup(m, path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var refs []domain.TableRef
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := refFromObject(obj); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// refsFromKeys collects structured-schema table reference strings at path.
func refsFromKeys(m map[string]any, path string) []domain.TableRef {
	v, ok := lookup(m, path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var refs []domain.TableRef
	for _, item := range items {
		key, ok := item.(string)
		if !ok {
			continue
		}
		if ref, err := domain.ParseTableRefKey(key); err == nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

func prefixPaths(prefix string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = prefix + "." + p
	}
	return out
}
