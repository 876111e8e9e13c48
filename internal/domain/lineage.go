package domain

import "fmt"

// DefaultPlatform is the data platform name used in dataset URNs.
const DefaultPlatform = "bigquery"

// LineageTypeTransformed marks an upstream discovered from query execution.
const LineageTypeTransformed = "TRANSFORMED"

// LineageMap maps a destination table key to the set of upstream table keys
// observed across one windowed batch of audit events. Keys are canonical
// TableRef keys, so the map is stable under reordered input.
type LineageMap map[string]map[string]struct{}

// Add records upstream as a source of dest, creating the entry on first use.
func (m LineageMap) Add(dest, upstream string) {
	set, ok := m[dest]
	if !ok {
		set = make(map[string]struct{})
		m[dest] = set
	}
	set[upstream] = struct{}{}
}

// Contains reports whether upstream is already recorded for dest.
func (m LineageMap) Contains(dest, upstream string) bool {
	set, ok := m[dest]
	if !ok {
		return false
	}
	_, ok = set[upstream]
	return ok
}

// Upstreams returns the upstream key set for dest. The second return value
// distinguishes "no lineage recorded" from "recorded with zero upstreams".
func (m LineageMap) Upstreams(dest string) (map[string]struct{}, bool) {
	set, ok := m[dest]
	return set, ok
}

// Upstream is one caller-facing upstream record.
type Upstream struct {
	TableURN         string `json:"tableUrn"`
	RelationshipType string `json:"relationshipType"`
}

// UpstreamLineage is the result of an upstream lineage query. A non-nil value
// with an empty Upstreams slice means the table is known but every candidate
// upstream was filtered out; that is distinct from "no lineage", which is
// represented by a nil *UpstreamLineage.
type UpstreamLineage struct {
	Upstreams  []Upstream        `json:"upstreams"`
	Properties map[string]string `json:"extraProperties"`
}

// MakeDatasetURN builds the URN for a dataset on a platform, optionally
// qualified by a platform instance.
func MakeDatasetURN(platform, name, platformInstance, env string) string {
	if platformInstance != "" {
		return fmt.Sprintf("urn:li:dataset:(urn:li:dataPlatform:%s,%s.%s,%s)", platform, platformInstance, name, env)
	}
	return fmt.Sprintf("urn:li:dataset:(urn:li:dataPlatform:%s,%s,%s)", platform, name, env)
}
