package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === TableRef canonical form ===

func TestNewTableRef_LowerCases(t *testing.T) {
	ref := NewTableRef("My-Project", "Analytics", "Orders")

	assert.Equal(t, "projects/my-project/datasets/analytics/tables/orders", ref.Key())
}

func TestParseTableRefKey(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		ref, err := ParseTableRefKey("projects/p/datasets/d/tables/t")

		require.NoError(t, err)
		assert.Equal(t, NewTableRef("p", "d", "t"), ref)
	})

	t.Run("invalid_shape", func(t *testing.T) {
		_, err := ParseTableRefKey("datasets/d/tables/t")

		require.Error(t, err)
	})

	t.Run("wrong_markers", func(t *testing.T) {
		_, err := ParseTableRefKey("projects/p/schemas/d/tables/t")

		require.Error(t, err)
	})
}

// === Sanitize ===

func TestTableRef_Sanitize(t *testing.T) {
	t.Run("partition_decorator", func(t *testing.T) {
		ref := NewTableRef("p", "d", "events$20240131").Sanitize()

		assert.Equal(t, "events", ref.Table)
	})

	t.Run("snapshot_decorator", func(t *testing.T) {
		ref := NewTableRef("p", "d", "events@1706700000000").Sanitize()

		assert.Equal(t, "events", ref.Table)
	})

	t.Run("date_shard_suffix", func(t *testing.T) {
		ref := NewTableRef("p", "d", "events_20240131").Sanitize()

		assert.Equal(t, "events", ref.Table)
	})

	t.Run("plain_name_unchanged", func(t *testing.T) {
		ref := NewTableRef("p", "d", "orders_v2").Sanitize()

		assert.Equal(t, "orders_v2", ref.Table)
	})
}

// === IsTemporary ===

func TestTableRef_IsTemporary(t *testing.T) {
	prefixes := []string{"_"}

	assert.True(t, NewTableRef("p", "_tmp", "t").IsTemporary(prefixes))
	assert.True(t, NewTableRef("p", "d", "_scratch").IsTemporary(prefixes))
	assert.False(t, NewTableRef("p", "d", "t").IsTemporary(prefixes))
	assert.False(t, NewTableRef("p", "d", "t").IsTemporary(nil))
	assert.False(t, NewTableRef("p", "d", "t").IsTemporary([]string{""}))
}

// === URN ===

func TestMakeDatasetURN(t *testing.T) {
	t.Run("without_instance", func(t *testing.T) {
		urn := MakeDatasetURN("bigquery", "p.d.t", "", "PROD")

		assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:bigquery,p.d.t,PROD)", urn)
	})

	t.Run("with_instance", func(t *testing.T) {
		urn := MakeDatasetURN("bigquery", "p.d.t", "main", "PROD")

		assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:bigquery,main.p.d.t,PROD)", urn)
	})
}
