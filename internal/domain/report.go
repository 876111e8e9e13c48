package domain

import (
	"sync"

	"github.com/google/uuid"
)

// Failure is one recorded extraction failure.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// SkipReason classifies why the builder dropped an event's contribution.
type SkipReason string

const (
	SkipMissingData      SkipReason = "missing-data"
	SkipNotAllowed       SkipReason = "not-allowed"
	SkipSQLParserFailure SkipReason = "sql-parser-failure"
	SkipOther            SkipReason = "other"
)

// ReportData is a point-in-time copy of the diagnostic counters for one
// extraction run. Counters are diagnostic only and never gate correctness.
type ReportData struct {
	RunID string `json:"runId"`

	// Event source counters.
	TotalLogEntries              int64  `json:"totalLogEntries"`
	ParsedLogEntries             int64  `json:"parsedLogEntries"`
	TotalAuditRows               int64  `json:"totalAuditRows"`
	ParsedAuditRows              int64  `json:"parsedAuditRows"`
	LogEntryStartTime            string `json:"logEntryStartTime,omitempty"`
	LogEntryEndTime              string `json:"logEntryEndTime,omitempty"`
	AuditStartTime               string `json:"auditStartTime,omitempty"`
	AuditEndTime                 string `json:"auditEndTime,omitempty"`
	AuditMetadataMissingDatasets bool   `json:"auditMetadataMissingDatasets,omitempty"`

	// Builder counters, one per documented skip reason.
	TotalLineageEntries     int64 `json:"totalLineageEntries"`
	SkippedMissingData      int64 `json:"skippedMissingData"`
	SkippedNotAllowed       int64 `json:"skippedNotAllowed"`
	SkippedSQLParserFailure int64 `json:"skippedSqlParserFailure"`
	SkippedOther            int64 `json:"skippedOther"`

	// LineageMapEntries is the number of destinations in the finished map.
	LineageMapEntries int `json:"lineageMapEntries"`

	Failures []Failure `json:"failures,omitempty"`
}

// ExtractionReport accumulates diagnostic counters for one extraction run.
// It is owned by the caller and shared with the pipeline components, which
// may write while another goroutine serves a report query: every mutation
// takes the mutex, and readers only ever see a Snapshot copy.
type ExtractionReport struct {
	mu   sync.Mutex
	data ReportData
}

// NewExtractionReport creates a report with a fresh run ID.
func NewExtractionReport() *ExtractionReport {
	return &ExtractionReport{data: ReportData{RunID: uuid.NewString()}}
}

// RunID identifies the run.
func (r *ExtractionReport) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.RunID
}

// Snapshot returns a copy that is safe to read and serialize while the
// pipeline is still writing.
func (r *ExtractionReport) Snapshot() ReportData {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.data
	snap.Failures = append([]Failure(nil), r.data.Failures...)
	return snap
}

// CountLogEntry records one raw log entry pulled from the source.
func (r *ExtractionReport) CountLogEntry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.TotalLogEntries++
}

// CountParsedLogEntry records one log entry parsed into a query event.
func (r *ExtractionReport) CountParsedLogEntry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.ParsedLogEntries++
}

// CountAuditRow records one raw exported audit row pulled from the source.
func (r *ExtractionReport) CountAuditRow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.TotalAuditRows++
}

// CountParsedAuditRow records one audit row parsed into a query event.
func (r *ExtractionReport) CountParsedAuditRow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.ParsedAuditRows++
}

// SetLogEntryWindow records the buffered window queried via Cloud Logging.
func (r *ExtractionReport) SetLogEntryWindow(start, end string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.LogEntryStartTime = start
	r.data.LogEntryEndTime = end
}

// SetAuditWindow records the buffered window queried via exported audit
// tables.
func (r *ExtractionReport) SetAuditWindow(start, end string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.AuditStartTime = start
	r.data.AuditEndTime = end
}

// MarkAuditMetadataDatasetsMissing flags a run that asked for exported audit
// metadata without configuring any datasets to read.
func (r *ExtractionReport) MarkAuditMetadataDatasetsMissing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.AuditMetadataMissingDatasets = true
}

// CountLineageEntry records one event considered by the builder.
func (r *ExtractionReport) CountLineageEntry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.TotalLineageEntries++
}

// CountSkip records one event dropped for the given reason.
func (r *ExtractionReport) CountSkip(reason SkipReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch reason {
	case SkipMissingData:
		r.data.SkippedMissingData++
	case SkipNotAllowed:
		r.data.SkippedNotAllowed++
	case SkipSQLParserFailure:
		r.data.SkippedSQLParserFailure++
	default:
		r.data.SkippedOther++
	}
}

// SetLineageMapEntries records the number of destinations in the finished map.
func (r *ExtractionReport) SetLineageMapEntries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.LineageMapEntries = n
}

// ReportFailure records one failure. Safe for use from the parse loop and the
// extractor boundary alike.
func (r *ExtractionReport) ReportFailure(key, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Failures = append(r.data.Failures, Failure{Key: key, Reason: reason})
}
