package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qlir/internal/model"
)

const (
	start    = int64(1_502_942_400_000)
	minuteMS = int64(60_000)
)

func opensFrom(startMS int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = startMS + int64(i)*minuteMS
	}
	return out
}

func TestInspectCompleteQuick(t *testing.T) {
	// full 1000-candle slice, count matches exactly
	last := start + 999*minuteMS
	res, err := Inspect(opensFrom(start, 1000), start, last, minuteMS, last+minuteMS)
	require.NoError(t, err)

	assert.Equal(t, model.Complete(model.ReasonNone), res.Verdict)
	assert.Equal(t, ModeQuick, res.Mode)
	assert.Equal(t, 1000, res.NItems)
	assert.Equal(t, start, res.ReceivedFirstOpen)
	assert.Equal(t, last, res.ReceivedLastOpen)
	assert.Nil(t, res.Integrity)
}

func TestInspectEmptyIsTerminalSparsity(t *testing.T) {
	last := start + 999*minuteMS
	res, err := Inspect(nil, start, last, minuteMS, last+minuteMS)
	require.NoError(t, err)

	assert.Equal(t, model.Complete(model.ReasonHistoricalSparsity), res.Verdict)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 0, res.NItems)
}

func TestInspectSparseHistoricalSlice(t *testing.T) {
	// 3 contiguous candles then nothing, wall clock long past the window
	last := start + 999*minuteMS
	res, err := Inspect(opensFrom(start, 3), start, last, minuteMS, last+24*3600*1000)
	require.NoError(t, err)

	// contiguous short run, window strictly in the past: upstream truly has
	// no more data here; terminal, never retried
	assert.Equal(t, model.Complete(model.ReasonHistoricalSparsity), res.Verdict)
	require.NotNil(t, res.Integrity)
	assert.Equal(t, 0, res.Integrity.NGaps)
}

func TestInspectInternalGapsAreTerminal(t *testing.T) {
	last := start + 999*minuteMS
	opens := []int64{start, start + minuteMS, start + 5*minuteMS}
	res, err := Inspect(opens, start, last, minuteMS, last+minuteMS)
	require.NoError(t, err)

	assert.Equal(t, model.Complete(model.ReasonHistoricalSparsity), res.Verdict)
	require.NotNil(t, res.Integrity)
	assert.Equal(t, 1, res.Integrity.NGaps)
	assert.Equal(t, 4*minuteMS, res.Integrity.MaxGap)
}

func TestInspectCurrentSliceStillForming(t *testing.T) {
	// first 37 candles of the current slice, clock inside the window
	last := start + 999*minuteMS
	now := start + 37*minuteMS + 12_345
	res, err := Inspect(opensFrom(start, 37), start, last, minuteMS, now)
	require.NoError(t, err)

	assert.Equal(t, model.Partial(model.ReasonStillForming), res.Verdict)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 37, res.NItems)
}

func TestInspectAwaitingUpstream(t *testing.T) {
	// last expected candle opened but not yet closed: upstream lag
	last := start + 999*minuteMS
	res, err := Inspect(opensFrom(start, 998), start, last, minuteMS, last+1)
	require.NoError(t, err)
	assert.Equal(t, model.Partial(model.ReasonAwaitingUpstream), res.Verdict)

	// one full interval later the deficit is terminal
	res, err = Inspect(opensFrom(start, 998), start, last, minuteMS, last+minuteMS)
	require.NoError(t, err)
	assert.Equal(t, model.Complete(model.ReasonHistoricalSparsity), res.Verdict)
}

func TestInspectImpossibleShape(t *testing.T) {
	// short run whose last open reaches the end of the window with no gaps:
	// contradicts the lattice
	last := start + 2*minuteMS
	opens := []int64{start + minuteMS, start + 2*minuteMS}
	_, err := Inspect(opens, start, last, minuteMS, last+minuteMS)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestInspectTruncatedWindow(t *testing.T) {
	// truncated final window: only 2 expected candles
	last := start + minuteMS
	res, err := Inspect(opensFrom(start, 2), start, last, minuteMS, last+minuteMS)
	require.NoError(t, err)
	assert.Equal(t, model.Complete(model.ReasonNone), res.Verdict)
	assert.Equal(t, ModeQuick, res.Mode)
}

func TestAnalyzeIntegrityFacts(t *testing.T) {
	opens := []int64{start + 3*minuteMS, start, start + minuteMS} // unsorted on purpose
	integ := analyze(opens, minuteMS)

	assert.Equal(t, start, integ.FirstOpen)
	assert.Equal(t, start+3*minuteMS, integ.LastOpen)
	assert.Equal(t, 3, integ.UniqueOpens)
	assert.Equal(t, minuteMS, integ.MinDelta)
	assert.Equal(t, 2*minuteMS, integ.MaxDelta)
	assert.Equal(t, 1, integ.NGaps)
}
