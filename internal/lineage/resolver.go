package lineage

import (
	"log/slog"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// resolver expands temporary-table references into their ultimate
// non-temporary upstreams.
type resolver struct {
	tempPrefixes []string
	logger       *slog.Logger
}

// upstreamTables returns the non-temporary upstreams of target. Temporary
// tables are transparent: their own map entries are expanded in their place.
// seen is owned by the top-level call and shared across the whole recursive
// call tree, so each distinct temporary table is visited at most once and
// cycles and diamonds in the map terminate instead of recursing forever.
// A temporary table with no map entry is a dead end and contributes nothing.
func (r *resolver) upstreamTables(lineageMap domain.LineageMap, target string, seen map[string]struct{}) map[domain.TableRef]struct{} {
	upstreams := make(map[domain.TableRef]struct{})
	entry, ok := lineageMap.Upstreams(target)
	if !ok {
		return upstreams
	}
	for key := range entry {
		ref, err := domain.ParseTableRefKey(key)
		if err != nil {
			r.logger.Warn("skipping malformed upstream key", "key", key, "error", err)
			continue
		}
		if !ref.IsTemporary(r.tempPrefixes) {
			upstreams[ref] = struct{}{}
			continue
		}
		if _, visited := seen[key]; visited {
			continue
		}
		seen[key] = struct{}{}
		if _, present := lineageMap.Upstreams(key); present {
			for up := range r.upstreamTables(lineageMap, key, seen) {
				upstreams[up] = struct{}{}
			}
		}
	}
	return upstreams
}
