// Package domain defines the value types shared across the lineage pipeline:
// table references, query events, the lineage map, and the extraction report.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// shardSuffixPattern matches date-sharded table names such as events_20240131.
// The suffix is stripped during sanitization so all shards of a table collapse
// into a single canonical reference.
var shardSuffixPattern = regexp.MustCompile(`^(.+)[_](\d{4}|\d{6}|\d{8}|\d{10})$`)

// TableIdentifier is the caller-facing name of a BigQuery table.
type TableIdentifier struct {
	Project string
	Dataset string
	Table   string
}

// String returns the dotted form project.dataset.table.
func (t TableIdentifier) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// TableRef is the canonical reference to a table. All components are
// lower-cased so refs are stable map keys regardless of how the audit trail
// spelled them. TableRef is a comparable value type: it is used as a map key,
// a set member, and a sort element.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// NewTableRef builds a canonical (lower-cased) reference.
func NewTableRef(project, dataset, table string) TableRef {
	return TableRef{
		Project: strings.ToLower(project),
		Dataset: strings.ToLower(dataset),
		Table:   strings.ToLower(table),
	}
}

// TableRefFromIdentifier converts a caller-facing identifier to its canonical
// reference.
func TableRefFromIdentifier(id TableIdentifier) TableRef {
	return NewTableRef(id.Project, id.Dataset, id.Table)
}

// ParseTableRefKey parses the canonical key form
// "projects/<p>/datasets/<d>/tables/<t>" back into a TableRef.
func ParseTableRefKey(key string) (TableRef, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 6 || parts[0] != "projects" || parts[2] != "datasets" || parts[4] != "tables" {
		return TableRef{}, fmt.Errorf("invalid table reference key %q", key)
	}
	return NewTableRef(parts[1], parts[3], parts[5]), nil
}

// Key returns the canonical string form used as LineageMap key:
// "projects/<p>/datasets/<d>/tables/<t>".
func (r TableRef) Key() string {
	return fmt.Sprintf("projects/%s/datasets/%s/tables/%s", r.Project, r.Dataset, r.Table)
}

// Identifier converts the reference back to a caller-facing identifier.
func (r TableRef) Identifier() TableIdentifier {
	return TableIdentifier{Project: r.Project, Dataset: r.Dataset, Table: r.Table}
}

// Sanitize strips partition decorators ("$20240131"), snapshot decorators
// ("@1234567890") and date-shard suffixes ("events_20240131" -> "events") from
// the table component. Audit records report partition-level writes; lineage is
// tracked at table granularity.
func (r TableRef) Sanitize() TableRef {
	table := r.Table
	if i := strings.IndexAny(table, "$@"); i >= 0 {
		table = table[:i]
	}
	if m := shardSuffixPattern.FindStringSubmatch(table); m != nil {
		table = m[1]
	}
	return TableRef{Project: r.Project, Dataset: r.Dataset, Table: table}
}

// IsTemporary reports whether the reference points at an intermediate table:
// its dataset or table name starts with one of the configured prefixes.
// Temporary tables are transparent to lineage; the resolver substitutes their
// own upstreams for them.
func (r TableRef) IsTemporary(prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(r.Dataset, p) || strings.HasPrefix(r.Table, p) {
			return true
		}
	}
	return false
}
