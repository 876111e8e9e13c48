package domain

import "time"

// QueryEvent is one completed, non-errored query execution extracted from the
// audit trail. Events are immutable; the builder consumes each exactly once.
type QueryEvent struct {
	// Timestamp is the audit-trail timestamp of the job completion.
	Timestamp time.Time
	// Source identifies the originating record (logName/insertId) for error
	// reporting.
	Source string
	// Query is the raw SQL text. Used only to disambiguate view references.
	Query string
	// Destination is the table written by the query; nil for read-only jobs.
	Destination *TableRef
	// ReferencedTables are the base tables the job read.
	ReferencedTables []TableRef
	// ReferencedViews are the views the job read. BigQuery reports a view
	// together with its underlying tables, which is why disambiguation exists.
	ReferencedViews []TableRef
	// Payload holds the full raw record when debug payload retention is on.
	Payload map[string]any
}
