package filter

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallParams() Params {
	return Params{InitialCapacity: 100, ErrorRate: 0.01, Growth: 2, Tightening: 0.9}
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultParams().Validate())

	bad := []Params{
		{InitialCapacity: 0, ErrorRate: 0.01, Growth: 2, Tightening: 0.9},
		{InitialCapacity: 10, ErrorRate: 0, Growth: 2, Tightening: 0.9},
		{InitialCapacity: 10, ErrorRate: 1, Growth: 2, Tightening: 0.9},
		{InitialCapacity: 10, ErrorRate: 0.01, Growth: 1, Tightening: 0.9},
		{InitialCapacity: 10, ErrorRate: 0.01, Growth: 2, Tightening: 1},
	}
	for i, p := range bad {
		assert.Error(t, p.Validate(), "case %d", i)
	}
}

func TestAddedIdentifiersAreAlwaysContained(t *testing.T) {
	t.Parallel()

	f, err := New(smallParams())
	require.NoError(t, err)
	require.False(t, f.Contains("never-added"))

	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("guid-%d", i))
	}
	for i := 0; i < 1000; i++ {
		require.True(t, f.Contains(fmt.Sprintf("guid-%d", i)), "identifier %d lost", i)
	}

	stats := f.Stats()
	assert.Greater(t, stats.Stages, 1, "filter should have grown past its first stage")
	assert.GreaterOrEqual(t, stats.Capacity, uint64(1000))
	assert.LessOrEqual(t, stats.Items, uint64(1000))
}

func TestFalsePositiveRateStaysNearTarget(t *testing.T) {
	t.Parallel()

	f, err := New(Params{InitialCapacity: 1000, ErrorRate: 0.01, Growth: 2, Tightening: 0.9})
	require.NoError(t, err)
	for i := 0; i < 4000; i++ {
		f.Add(fmt.Sprintf("seen-%d", i))
	}
	falsePositives := 0
	const probes = 20000
	for i := 0; i < probes; i++ {
		if f.Contains(fmt.Sprintf("fresh-%d", i)) {
			falsePositives++
		}
	}
	assert.Less(t, float64(falsePositives)/probes, 0.03)
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	f, err := New(smallParams())
	require.NoError(t, err)
	f.Add("a")
	v := f.Version()
	f.Add("a")
	assert.Equal(t, v, f.Version())
	assert.Equal(t, uint64(1), f.Stats().Items)
}

func TestConcurrentAddAndContains(t *testing.T) {
	t.Parallel()

	f, err := New(Params{InitialCapacity: 500, ErrorRate: 0.001, Growth: 2, Tightening: 0.9})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				f.Add(id)
				if !f.Contains(id) {
					t.Errorf("lost %s", id)
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		for i := 0; i < 500; i++ {
			require.True(t, f.Contains(fmt.Sprintf("w%d-%d", w, i)))
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	f, err := New(smallParams())
	require.NoError(t, err)
	for i := 0; i < 350; i++ {
		f.Add(fmt.Sprintf("https://example.com/%d", i))
	}

	blob, err := f.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(blob)
	require.NoError(t, err)
	for i := 0; i < 350; i++ {
		require.True(t, restored.Contains(fmt.Sprintf("https://example.com/%d", i)))
	}
	assert.Equal(t, f.Stats(), restored.Stats())
	assert.Equal(t, f.Params(), restored.Params())

	// The restored filter keeps growing from where the original stopped.
	restored.Add("after-restore")
	assert.True(t, restored.Contains("after-restore"))
}

func TestSnapshotOfEmptyFilter(t *testing.T) {
	t.Parallel()

	f, err := New(smallParams())
	require.NoError(t, err)
	blob, err := f.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(blob)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.Stats().Stages)
	assert.False(t, restored.Contains("x"))
}

func TestRestoreRejectsCorruptBlobs(t *testing.T) {
	t.Parallel()

	f, err := New(smallParams())
	require.NoError(t, err)
	f.Add("a")
	f.Add("b")
	blob, err := f.Snapshot()
	require.NoError(t, err)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)/2] ^= 0xFF

	cases := map[string][]byte{
		"empty":     nil,
		"short":     []byte{1, 2},
		"flipped":   flipped,
		"truncated": blob[:len(blob)-10],
		"garbage":   []byte("this is not a snapshot at all"),
	}
	for name, data := range cases {
		_, err := Restore(data)
		assert.ErrorIs(t, err, ErrCorruptSnapshot, name)
	}
}
