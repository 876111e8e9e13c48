package lineage

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// Options configures the lineage extractor facade.
type Options struct {
	// TempTablePrefixes classify intermediate tables by dataset or table
	// name prefix. Default: ["_"].
	TempTablePrefixes []string
	// Platform, PlatformInstance and Env shape the dataset URNs returned to
	// callers.
	Platform         string
	PlatformInstance string
	Env              string
	Logger           *slog.Logger
}

// Extractor orchestrates the pipeline: it lazily builds the lineage map from
// the event source on first query, caches it for the extractor's lifetime,
// and answers upstream lineage queries with deterministic ordering.
type Extractor struct {
	source  EventSource
	builder *Builder
	report  *domain.ExtractionReport
	logger  *slog.Logger

	tempPrefixes     []string
	platform         string
	platformInstance string
	env              string

	mu         sync.Mutex
	group      singleflight.Group
	lineageMap domain.LineageMap // nil until the first build completes
}

// NewExtractor wires an extractor. The report is shared: the source, builder
// and extractor all write their counters into it.
func NewExtractor(source EventSource, builder *Builder, report *domain.ExtractionReport, opts Options) *Extractor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.TempTablePrefixes) == 0 {
		opts.TempTablePrefixes = []string{"_"}
	}
	if opts.Platform == "" {
		opts.Platform = domain.DefaultPlatform
	}
	if opts.Env == "" {
		opts.Env = "PROD"
	}
	return &Extractor{
		source:           source,
		builder:          builder,
		report:           report,
		logger:           opts.Logger,
		tempPrefixes:     opts.TempTablePrefixes,
		platform:         opts.Platform,
		platformInstance: opts.PlatformInstance,
		env:              opts.Env,
	}
}

// Report exposes the shared diagnostic counters.
func (x *Extractor) Report() *domain.ExtractionReport {
	return x.report
}

// GetUpstreamLineage answers "which tables were read to produce target".
// A nil result means the target has no recorded lineage. A non-nil result
// with an empty Upstreams slice means lineage was recorded but every
// candidate upstream was filtered out — the two outcomes are distinct.
// Upstreams are sorted by URN so identical lineage serializes identically
// regardless of the order events arrived in.
func (x *Extractor) GetUpstreamLineage(ctx context.Context, target domain.TableIdentifier) *domain.UpstreamLineage {
	lineageMap := x.lineageMetadata(ctx)

	key := domain.TableRefFromIdentifier(target).Key()
	if _, ok := lineageMap.Upstreams(key); !ok {
		return nil
	}

	res := &resolver{tempPrefixes: x.tempPrefixes, logger: x.logger}
	seen := make(map[string]struct{})
	refs := res.upstreamTables(lineageMap, key, seen)

	urns := make([]string, 0, len(refs))
	for ref := range refs {
		urns = append(urns, domain.MakeDatasetURN(x.platform, ref.Identifier().String(), x.platformInstance, x.env))
	}
	sort.Strings(urns)

	upstreams := make([]domain.Upstream, 0, len(urns))
	for _, urn := range urns {
		upstreams = append(upstreams, domain.Upstream{
			TableURN:         urn,
			RelationshipType: domain.LineageTypeTransformed,
		})
	}
	return &domain.UpstreamLineage{
		Upstreams:  upstreams,
		Properties: map[string]string{},
	}
}

// Invalidate discards the cached map; the next query rebuilds it.
func (x *Extractor) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lineageMap = nil
}

// lineageMetadata returns the cached map, building it at most once. The
// singleflight group collapses concurrent first callers onto a single
// construction; everyone observes the same completed map.
func (x *Extractor) lineageMetadata(ctx context.Context) domain.LineageMap {
	x.mu.Lock()
	cached := x.lineageMap
	x.mu.Unlock()
	if cached != nil {
		return cached
	}

	v, _, _ := x.group.Do("build", func() (any, error) {
		x.mu.Lock()
		if x.lineageMap != nil {
			cached := x.lineageMap
			x.mu.Unlock()
			return cached, nil
		}
		x.mu.Unlock()

		built := x.compute(ctx)

		x.mu.Lock()
		x.lineageMap = built
		x.mu.Unlock()
		return built, nil
	})
	return v.(domain.LineageMap)
}

// compute runs one extraction. Source failures abort the run and yield an
// empty map rather than a partial one: under-reporting lineage silently is
// worse than reporting none with a recorded failure.
func (x *Extractor) compute(ctx context.Context) domain.LineageMap {
	x.logger.Info("populating lineage map from audit trail")

	events, err := x.source.Events(ctx)
	if err != nil {
		x.fail("lineage-source", err)
		return domain.LineageMap{}
	}
	lineageMap, err := x.builder.Build(ctx, events)
	if err != nil {
		x.fail("lineage-source", err)
		return domain.LineageMap{}
	}

	x.report.SetLineageMapEntries(len(lineageMap))
	x.logger.Info("built lineage map", "entries", len(lineageMap))
	return lineageMap
}

func (x *Extractor) fail(key string, err error) {
	x.report.ReportFailure(key, err.Error())
	x.logger.Error("lineage extraction failed", "key", key, "error", err)
}
