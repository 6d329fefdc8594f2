package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qlir/internal/model"
)

func testDelta(compKey, id string, v model.Verdict, n int) Delta {
	return Delta{
		SliceCompKey: compKey,
		Entry: Entry{
			SliceID:           id,
			SliceStatus:       v.Status,
			SliceStatusReason: v.Reason,
			NItems:            n,
			RelativePath:      "responses/" + id + ".json",
		},
	}
}

func TestApplyOverwritesByKey(t *testing.T) {
	m := New("binance", "klines", "BTCUSDT", "1m", 1000)

	m.Apply(testDelta("BTCUSDT:1m:0:1000", "id0", model.Partial(model.ReasonStillForming), 37))
	m.Apply(testDelta("BTCUSDT:1m:0:1000", "id0", model.Complete(model.ReasonNone), 1000))

	require.Len(t, m.Slices, 1)
	e, ok := m.Entry("BTCUSDT:1m:0:1000")
	require.True(t, ok)
	assert.Equal(t, model.StatusComplete, e.SliceStatus)
	assert.Equal(t, 1000, e.NItems)
	assert.True(t, e.Terminal())
}

func TestApplyIdempotent(t *testing.T) {
	m1 := New("binance", "klines", "BTCUSDT", "1m", 1000)
	m2 := New("binance", "klines", "BTCUSDT", "1m", 1000)
	d := testDelta("BTCUSDT:1m:0:1000", "id0", model.Complete(model.ReasonNone), 1000)

	m1.Apply(d)
	m2.Apply(d)
	m2.Apply(d)

	assert.Equal(t, m1.Slices, m2.Slices)
}

func TestRecomputeSummary(t *testing.T) {
	m := New("binance", "klines", "BTCUSDT", "1m", 1000)
	m.Apply(testDelta("k1", "id1", model.Complete(model.ReasonNone), 1000))
	m.Apply(testDelta("k2", "id2", model.Partial(model.ReasonStillForming), 12))
	m.Apply(testDelta("k3", "id3", model.Failed(model.ReasonHTTPError), 0))

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.RecomputeSummary(now)

	assert.Equal(t, 3, m.Summary.TotalSlices)
	assert.Equal(t, 1, m.Summary.Counts[model.StatusComplete])
	assert.Equal(t, 1, m.Summary.Counts[model.StatusPartial])
	assert.Equal(t, 1, m.Summary.Counts[model.StatusFailed])
	assert.Equal(t, "2024-06-01T12:00:00Z", m.Summary.LastEvaluatedAt)
}

func TestDeltaAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.delta")
	now := time.Now()

	require.NoError(t, Append(path, testDelta("k1", "id1", model.Failed(model.ReasonHTTPError), 0), now))
	require.NoError(t, Append(path, testDelta("k1", "id1", model.Complete(model.ReasonNone), 1000), now))

	tail := NewTail(path)
	ds, err := tail.Next()
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, model.StatusFailed, ds[0].SliceStatus)
	assert.Equal(t, model.StatusComplete, ds[1].SliceStatus)
	assert.NotEmpty(t, ds[0].TS)

	// nothing new
	ds, err = tail.Next()
	require.NoError(t, err)
	assert.Empty(t, ds)

	// appended later records are picked up from the saved offset
	require.NoError(t, Append(path, testDelta("k2", "id2", model.Partial(model.ReasonStillForming), 5), now))
	ds, err = tail.Next()
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "k2", ds[0].SliceCompKey)
}

func TestTailLeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.delta")
	require.NoError(t, Append(path, testDelta("k1", "id1", model.Complete(model.ReasonNone), 1000), time.Now()))

	// simulate a torn trailing write with no newline
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"slice_comp_key":"k2"`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tail := NewTail(path)
	ds, err := tail.Next()
	require.NoError(t, err)
	require.Len(t, ds, 1)

	off := tail.Offset()
	ds, err = tail.Next()
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.Equal(t, off, tail.Offset())
}

func TestTailMissingFile(t *testing.T) {
	tail := NewTail(filepath.Join(t.TempDir(), "manifest.delta"))
	ds, err := tail.Next()
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := New("binance", "klines", "BTCUSDT", "1m", 1000)
	m.Apply(testDelta("k1", "id1", model.Complete(model.ReasonHistoricalSparsity), 3))

	require.NoError(t, Write(path, m))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Symbol, got.Symbol)
	assert.Equal(t, m.Slices["k1"].SliceStatusReason, got.Slices["k1"].SliceStatusReason)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	require.True(t, os.IsNotExist(err))
}
