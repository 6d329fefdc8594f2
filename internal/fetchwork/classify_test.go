package fetchwork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qlir/internal/manifest"
	"qlir/internal/model"
	"qlir/internal/slice"
)

const (
	genesis  = int64(1_502_942_400_000)
	minuteMS = int64(60_000)
)

func testKeys(t *testing.T, n int, limit int) []slice.Key {
	t.Helper()
	span := minuteMS * int64(limit)
	keys, err := slice.Keys("BTCUSDT", "1m", genesis, genesis+int64(n)*span-1, limit)
	require.NoError(t, err)
	require.Len(t, keys, n)
	return keys
}

func entryDelta(k slice.Key, v model.Verdict) manifest.Delta {
	return manifest.Delta{
		SliceCompKey: k.CompositeKey(),
		Entry: manifest.Entry{
			SliceID:           k.ID(),
			SliceStatus:       v.Status,
			SliceStatusReason: v.Reason,
		},
	}
}

func TestClassifyFreshDataset(t *testing.T) {
	keys := testKeys(t, 4, 1000)
	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)

	// now falls inside the last slice
	now := keys[3].StartMS + 5*minuteMS
	cl, err := Classify(man, keys, now, false)
	require.NoError(t, err)

	assert.Equal(t, keys[3].CompositeKey(), cl.Current.CompositeKey())
	assert.Equal(t, model.StatusPartial, cl.Statuses[keys[3].CompositeKey()])
	for _, k := range keys[:3] {
		assert.Equal(t, model.StatusMissing, cl.Statuses[k.CompositeKey()])
	}
}

func TestClassifyCurrentOverridesComplete(t *testing.T) {
	keys := testKeys(t, 2, 1000)
	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)
	man.Apply(entryDelta(keys[1], model.Complete(model.ReasonNone)))

	now := keys[1].StartMS + minuteMS
	cl, err := Classify(man, keys, now, false)
	require.NoError(t, err)

	// manifest says COMPLETE but the slice contains now: forced PARTIAL
	assert.Equal(t, model.StatusPartial, cl.Statuses[keys[1].CompositeKey()])
}

func TestClassifyCopiesStoredStatus(t *testing.T) {
	keys := testKeys(t, 3, 1000)
	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)
	man.Apply(entryDelta(keys[0], model.Complete(model.ReasonHistoricalSparsity)))
	man.Apply(entryDelta(keys[1], model.Failed(model.ReasonHTTPError)))

	now := keys[2].StartMS + minuteMS
	cl, err := Classify(man, keys, now, false)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, cl.Statuses[keys[0].CompositeKey()])
	assert.Equal(t, model.StatusFailed, cl.Statuses[keys[1].CompositeKey()])
}

func TestClassifyNeedsRefreshOverride(t *testing.T) {
	keys := testKeys(t, 2, 1000)
	d := entryDelta(keys[0], model.Complete(model.ReasonNone))
	d.Entry.MetaContract = &manifest.MetaContract{Status: manifest.MetaContractOutOfSync}

	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)
	man.Apply(d)
	now := keys[1].StartMS + minuteMS

	// flag off: stored status wins
	cl, err := Classify(man, keys, now, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, cl.Statuses[keys[0].CompositeKey()])

	// flag on: reclassified for re-inspection
	cl, err = Classify(man, keys, now, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsRefresh, cl.Statuses[keys[0].CompositeKey()])
}

func TestClassifyClockRegression(t *testing.T) {
	keys := testKeys(t, 2, 1000)
	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)
	_, err := Classify(man, keys, genesis-1, false)
	require.ErrorIs(t, err, slice.ErrClockRegression)
}

func TestWorklistSkipsTerminal(t *testing.T) {
	keys := testKeys(t, 5, 1000)
	man := manifest.New("binance", "klines", "BTCUSDT", "1m", 1000)
	man.Apply(entryDelta(keys[0], model.Complete(model.ReasonNone)))
	man.Apply(entryDelta(keys[1], model.Complete(model.ReasonHistoricalSparsity)))
	man.Apply(entryDelta(keys[2], model.Failed(model.ReasonException)))

	now := keys[4].StartMS + minuteMS
	cl, err := Classify(man, keys, now, false)
	require.NoError(t, err)

	work := worklist(keys, cl)
	var comps []string
	for _, k := range work {
		comps = append(comps, k.CompositeKey())
	}
	// failed, missing and current are eligible; terminal slices never are
	assert.Equal(t, []string{
		keys[2].CompositeKey(),
		keys[3].CompositeKey(),
		keys[4].CompositeKey(),
	}, comps)
}
