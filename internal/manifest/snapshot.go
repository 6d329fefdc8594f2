package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"qlir/internal/fsx"
)

// ErrCorrupt means a manifest document failed to parse. The delta service
// refuses to start on it; the offline rebuild tool must produce a fresh
// snapshot from responses/.
var ErrCorrupt = errors.New("manifest: corrupt document")

// Write serializes the manifest and atomically replaces path.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fsx.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads a manifest document. Returns os.ErrNotExist when missing and
// ErrCorrupt when present but unparsable.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if m.Slices == nil {
		m.Slices = make(map[string]*Entry)
	}
	return &m, nil
}
