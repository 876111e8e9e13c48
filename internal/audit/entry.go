// Package audit parses raw BigQuery audit records into query events. Two
// record shapes are supported: Cloud Logging entries (carrying either the
// older flat AuditData payload or the newer BigQueryAuditMetadata payload)
// and rows read from exported audit-log tables.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// LogEntry is one raw Cloud Logging audit record with its protoPayload
// decoded into a generic map.
type LogEntry struct {
	InsertID     string
	LogName      string
	Timestamp    time.Time
	ProtoPayload map[string]any
}

// Source identifies the entry for error reporting.
func (e LogEntry) Source() string {
	return e.LogName + "-" + e.InsertID
}

// AuditMetadataRow is one row read from an exported audit-log table
// (cloudaudit_googleapis_com_data_access). The BigQueryAuditMetadata payload
// arrives as a JSON string in the metadata column.
type AuditMetadataRow struct {
	Timestamp    time.Time
	LogName      string
	InsertID     string
	MetadataJSON string
}

// Source identifies the row for error reporting.
func (r AuditMetadataRow) Source() string {
	return r.LogName + "-" + r.InsertID
}

// MissingKeyError reports which required field paths were absent from a raw
// record. It names every path that was checked so misrouted or truncated records
// are diagnosable from the report alone.
type MissingKeyError struct {
	Source string
	Paths  []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("audit record %s: missing required field(s): %s", e.Source, strings.Join(e.Paths, ", "))
}

// lookup walks a dotted path through nested maps.
func lookup(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupMap(m map[string]any, path string) (map[string]any, bool) {
	v, ok := lookup(m, path)
	if !ok {
		return nil, false
	}
	node, ok := v.(map[string]any)
	return node, ok
}

func lookupString(m map[string]any, path string) (string, bool) {
	v, ok := lookup(m, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// missingPaths returns the subset of paths absent from m, or nil when all are
// present.
func missingPaths(m map[string]any, paths ...string) []string {
	var missing []string
	for _, p := range paths {
		if _, ok := lookup(m, p); !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
