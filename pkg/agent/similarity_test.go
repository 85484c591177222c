package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("Earth", "earth"))
	assert.Equal(t, 1.0, similarity("The Avengers", "the-avengers"))
	assert.GreaterOrEqual(t, similarity("The Avengers", "Avengers"), DuplicateThreshold)
	assert.Less(t, similarity("Sun", "Moon"), DuplicateThreshold)
	assert.Less(t, similarity("Mars", "Jupiter"), DuplicateThreshold)
	assert.Equal(t, 0.0, similarity("", ""))
	assert.Equal(t, 0.0, similarity("Earth", ""))
}

func TestIsDuplicateName(t *testing.T) {
	assert.True(t, isDuplicateName("Avengers", "The Avengers"))
	assert.True(t, isDuplicateName("earth", "Earth"))
	assert.False(t, isDuplicateName("Mercury", "Mars"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "theavengers", normalizeName("The Avengers"))
	assert.Equal(t, "r2d2", normalizeName("R2-D2"))
	assert.Equal(t, "", normalizeName("  ---  "))
}

func TestCommitLedger(t *testing.T) {
	l := NewCommitLedger(3)

	assert.False(t, l.Committed("p1"))
	assert.True(t, l.Record("p1"))
	assert.True(t, l.Committed("p1"))
	assert.False(t, l.Record("p1"), "second record reports duplicate")

	l.Record("p2")
	l.Record("p3")
	l.Committed("p1") // touch p1 so p2 is the LRU victim
	l.Record("p4")

	assert.True(t, l.Committed("p1"))
	assert.False(t, l.Committed("p2"), "least recently used id evicted")
	assert.Equal(t, 3, l.Len())
}

func TestArrowsFor(t *testing.T) {
	assert.Equal(t, []any{"t"}, arrowsFor("unidirectional", "s", "t"))
	assert.Equal(t, []any{"t"}, arrowsFor("", "s", "t"))
	assert.Equal(t, []any{"s", "t"}, arrowsFor("bidirectional", "s", "t"))
	assert.Equal(t, []any{}, arrowsFor("none", "s", "t"))
	assert.Equal(t, []any{}, arrowsFor("undirected", "s", "t"))
	assert.Equal(t, []any{"s"}, arrowsFor("reverse", "s", "t"))
}
