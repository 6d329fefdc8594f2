package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Rebuild reconstructs a manifest for one dataset by scanning every raw
// response under responsesDir. Each file's meta verdict is trusted as-is.
// Unparsable response files are logged and skipped; the raw data stays on
// disk for a later refetch to overwrite.
func Rebuild(responsesDir, venue, endpoint, symbol, interval string, limit int, log *slog.Logger) (*Manifest, error) {
	m := New(venue, endpoint, symbol, interval, limit)

	entries, err := os.ReadDir(responsesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read responses dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(responsesDir, e.Name())
		rf, err := ReadResponse(path)
		if err != nil {
			log.Warn("skipping unreadable response", "path", path, "error", err)
			continue
		}
		if rf.Meta.SliceCompKey == "" {
			log.Warn("skipping response without slice key", "path", path)
			continue
		}
		entry := EntryFromResponse(rf, filepath.Join("responses", e.Name()))
		m.Slices[rf.Meta.SliceCompKey] = &entry
	}
	return m, nil
}
