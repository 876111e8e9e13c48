package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thefarmersfront/datahub/internal/domain"
)

// countingSource counts how many times the event stream is opened.
type countingSource struct {
	mu     sync.Mutex
	opens  int
	events []domain.QueryEvent
	err    error
}

func (s *countingSource) Events(_ context.Context) (EventIterator, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	events := make([]domain.QueryEvent, len(s.events))
	copy(events, s.events)
	return &sliceEvents{events: events}, nil
}

func newTestExtractor(source EventSource, parser *stubParser, opts Options) *Extractor {
	report := domain.NewExtractionReport()
	builder := NewBuilder(nil, nil, parser, report, nil)
	return NewExtractor(source, builder, report, opts)
}

// === build-once semantics ===

func TestExtractor_BuildsMapExactlyOnce(t *testing.T) {
	source := &countingSource{events: []domain.QueryEvent{
		writeEvent(tref("p", "d", "t1"), []domain.TableRef{tref("p", "d", "raw")}, nil, ""),
	}}
	x := newTestExtractor(source, &stubParser{}, Options{})

	first := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t1"})
	second := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t1"})

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 1, source.opens)
}

func TestExtractor_InvalidateTriggersRebuild(t *testing.T) {
	source := &countingSource{}
	x := newTestExtractor(source, &stubParser{}, Options{})

	x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t"})
	x.Invalidate()
	x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t"})

	assert.Equal(t, 2, source.opens)
}

func TestExtractor_ConcurrentFirstCallsBuildOnce(t *testing.T) {
	source := &countingSource{events: []domain.QueryEvent{
		writeEvent(tref("p", "d", "t1"), []domain.TableRef{tref("p", "d", "raw")}, nil, ""),
	}}
	x := newTestExtractor(source, &stubParser{}, Options{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.opens)
}

func TestExtractor_ReportReadableDuringBuild(t *testing.T) {
	// The report endpoint serves snapshots while a build is still counting,
	// so encoding must never observe a half-written report.
	events := make([]domain.QueryEvent, 0, 2000)
	for i := range 2000 {
		dest := tref("p", "d", fmt.Sprintf("t%d", i))
		events = append(events, writeEvent(dest, []domain.TableRef{tref("p", "d", "raw")}, nil, ""))
	}
	x := newTestExtractor(&countingSource{events: events}, &stubParser{}, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t0"})
	}()
	for {
		_, err := json.Marshal(x.Report().Snapshot())
		require.NoError(t, err)
		select {
		case <-done:
			assert.Equal(t, int64(2000), x.Report().Snapshot().TotalLineageEntries)
			return
		default:
		}
	}
}

// === source failure ===

func TestExtractor_SourceFailureYieldsEmptyMap(t *testing.T) {
	source := &countingSource{err: assert.AnError}
	x := newTestExtractor(source, &stubParser{}, Options{})

	got := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t1"})

	assert.Nil(t, got, "empty map means no lineage for any table")
	assert.NotEmpty(t, x.Report().Snapshot().Failures)
	// The failed (empty) map is cached; the source is not retried.
	x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t1"})
	assert.Equal(t, 1, source.opens)
}

// === no-lineage vs empty-lineage ===

func TestExtractor_DistinguishesAbsentFromEmpty(t *testing.T) {
	// The single event's contribution is withdrawn by a parser failure,
	// leaving dest present with zero upstreams.
	source := &countingSource{events: []domain.QueryEvent{
		writeEvent(tref("p", "d", "dest"),
			[]domain.TableRef{tref("p", "d", "a"), tref("p", "d", "v")},
			[]domain.TableRef{tref("p", "d", "v")},
			"NOT PARSEABLE"),
	}}
	x := newTestExtractor(source, &stubParser{err: assert.AnError}, Options{})

	present := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "dest"})
	absent := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "nosuch"})

	require.NotNil(t, present)
	assert.Empty(t, present.Upstreams)
	assert.NotNil(t, present.Upstreams, "present-but-empty must serialize as [] not null")
	assert.Nil(t, absent)
}

// === determinism ===

func TestExtractor_DeterministicAcrossInputOrder(t *testing.T) {
	events := []domain.QueryEvent{
		writeEvent(tref("p", "d", "dest"), []domain.TableRef{tref("p", "d", "zulu")}, nil, ""),
		writeEvent(tref("p", "d", "dest"), []domain.TableRef{tref("p", "d", "alpha")}, nil, ""),
		writeEvent(tref("p", "d", "dest"), []domain.TableRef{tref("p", "d", "mike")}, nil, ""),
	}
	reversed := []domain.QueryEvent{events[2], events[1], events[0]}

	serialize := func(evs []domain.QueryEvent) []byte {
		x := newTestExtractor(&countingSource{events: evs}, &stubParser{}, Options{})
		result := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "dest"})
		require.NotNil(t, result)
		data, err := json.Marshal(result)
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, serialize(events), serialize(reversed))
}

func TestExtractor_UpstreamsSortedByURN(t *testing.T) {
	source := &countingSource{events: []domain.QueryEvent{
		writeEvent(tref("p", "d", "dest"),
			[]domain.TableRef{tref("p", "d", "zulu"), tref("p", "d", "alpha")}, nil, ""),
	}}
	x := newTestExtractor(source, &stubParser{}, Options{Env: "PROD"})

	result := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "dest"})

	require.NotNil(t, result)
	require.Len(t, result.Upstreams, 2)
	assert.Less(t, result.Upstreams[0].TableURN, result.Upstreams[1].TableURN)
	assert.Equal(t, domain.LineageTypeTransformed, result.Upstreams[0].RelationshipType)
}

// === end-to-end scenario ===

func TestExtractor_ResolvesThroughTemporaryTable(t *testing.T) {
	// Three events: t1 is built from raw, t2 from t1, and one read-only
	// query with no destination. With t1 classified temporary, t2's lineage
	// resolves through it to raw.
	source := &countingSource{events: []domain.QueryEvent{
		writeEvent(tref("p", "d", "t1"), []domain.TableRef{tref("p", "d", "raw")}, nil, ""),
		writeEvent(tref("p", "d", "t2"), []domain.TableRef{tref("p", "d", "t1")}, nil, ""),
		{ReferencedTables: []domain.TableRef{tref("p", "d", "raw")}},
	}}
	x := newTestExtractor(source, &stubParser{}, Options{TempTablePrefixes: []string{"t1"}})

	result := x.GetUpstreamLineage(context.Background(), domain.TableIdentifier{Project: "p", Dataset: "d", Table: "t2"})

	require.NotNil(t, result)
	require.Len(t, result.Upstreams, 1)
	assert.Equal(t,
		domain.MakeDatasetURN("bigquery", "p.d.raw", "", "PROD"),
		result.Upstreams[0].TableURN)
	snap := x.Report().Snapshot()
	assert.Equal(t, int64(1), snap.SkippedMissingData)
	assert.Equal(t, int64(3), snap.TotalLineageEntries)
}
