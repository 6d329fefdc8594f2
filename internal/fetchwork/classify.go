package fetchwork

import (
	"fmt"

	"qlir/internal/manifest"
	"qlir/internal/model"
	"qlir/internal/slice"
)

// Classification is the worker's per-cycle view of the lattice.
type Classification struct {
	// Statuses maps composite key → effective status for this cycle.
	Statuses map[string]model.Status
	// Current is the slice containing wall-clock now.
	Current slice.Key
}

// Classify resolves the effective status of every expected slice. The
// current slice is resolved from the wall clock first and unconditionally
// marked PARTIAL, even when the manifest says COMPLETE: re-fetching a
// finished current slice is cheaper than never advancing on a stale entry.
// Other slices take their stored status, MISSING when absent, with the
// NEEDS_REFRESH override applied when enabled and the entry's metadata
// contract is flagged out of sync.
func Classify(man *manifest.Manifest, keys []slice.Key, nowMS int64, refreshOnMismatch bool) (Classification, error) {
	if len(keys) == 0 {
		return Classification{}, fmt.Errorf("classify: empty lattice")
	}
	current, err := slice.CurrentKey(keys[0], nowMS)
	if err != nil {
		return Classification{}, err
	}

	cl := Classification{
		Statuses: make(map[string]model.Status, len(keys)),
		Current:  current,
	}
	currentComp := current.CompositeKey()

	for _, k := range keys {
		comp := k.CompositeKey()
		if comp == currentComp {
			cl.Statuses[comp] = model.StatusPartial
			continue
		}
		entry, ok := man.Entry(comp)
		if !ok {
			cl.Statuses[comp] = model.StatusMissing
			continue
		}
		if refreshOnMismatch && entry.MetaContract != nil &&
			entry.MetaContract.Status == manifest.MetaContractOutOfSync {
			cl.Statuses[comp] = model.StatusNeedsRefresh
			continue
		}
		cl.Statuses[comp] = entry.SliceStatus
	}
	return cl, nil
}

// worklist selects the keys eligible for fetching this cycle, in lattice
// order. Terminal slices are skipped forever.
func worklist(keys []slice.Key, cl Classification) []slice.Key {
	var out []slice.Key
	for _, k := range keys {
		switch cl.Statuses[k.CompositeKey()] {
		case model.StatusMissing, model.StatusPartial, model.StatusNeedsRefresh, model.StatusFailed:
			out = append(out, k)
		}
	}
	return out
}
