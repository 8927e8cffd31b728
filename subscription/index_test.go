package subscription

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddIsIdempotent(t *testing.T) {
	idx := New()
	idx.Add("alpha.io.sensor.temperature", "beta.io")
	idx.Add("alpha.io.sensor.temperature", "beta.io")
	got := idx.Lookup("alpha.io.sensor.temperature", "")
	assert.Equal(t, []string{"beta.io"}, got)
}

func TestAddThenRemoveLeavesNothing(t *testing.T) {
	idx := New()
	idx.Add("alpha.io.sensor.temperature", "beta.io")
	idx.Remove("alpha.io.sensor.temperature", "beta.io")
	assert.False(t, idx.Has("alpha.io.sensor.temperature", "beta.io"))
	assert.Empty(t, idx.Lookup("alpha.io.sensor.temperature", ""))
}

func TestLookupUnionsFullAndMajorKeys(t *testing.T) {
	idx := New()
	full, major := FullAndMajorKeys("alpha.io", "sensor.temperature")
	idx.Add(full, "beta.io")
	idx.Add(major, "gamma.io")

	got := idx.Lookup(full, major)
	sort.Strings(got)
	assert.Equal(t, []string{"beta.io", "gamma.io"}, got)
}

func TestLookupDedupesAcrossBothKeys(t *testing.T) {
	idx := New()
	full, major := FullAndMajorKeys("alpha.io", "sensor.temperature")
	idx.Add(full, "beta.io")
	idx.Add(major, "beta.io")

	got := idx.Lookup(full, major)
	assert.Equal(t, []string{"beta.io"}, got)
}

func TestEntriesWithPrefix(t *testing.T) {
	idx := New()
	idx.Add("alpha.io.sensor.temperature", "beta.io")
	idx.Add("gamma.io.sensor.temperature", "beta.io")

	got := idx.EntriesWithPrefix("alpha.")
	assert.Len(t, got, 1)
	_, ok := got["alpha.io.sensor.temperature"]
	assert.True(t, ok)
}
