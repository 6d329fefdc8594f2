package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"qlir/internal/fsx"
)

// Delta is one line of the append-only manifest.delta log: a slice key plus
// the full replacement entry. After the fsynced append returns, the delta is
// authoritative and will eventually be folded into manifest.json.
type Delta struct {
	SliceCompKey string `json:"slice_comp_key"`
	Entry
	TS string `json:"ts,omitempty"`
}

// Append stamps ts and durably appends the delta to the log.
func Append(path string, d Delta, now time.Time) error {
	d.TS = now.UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	if err := fsx.AppendLine(path, line); err != nil {
		return fmt.Errorf("append delta: %w", err)
	}
	return nil
}

// Tail reads the delta log incrementally, remembering the byte offset of the
// last fully-terminated line it consumed. A trailing fragment without a
// newline is left for the next call.
type Tail struct {
	path   string
	offset int64
}

// NewTail starts a tail at byte 0.
func NewTail(path string) *Tail {
	return &Tail{path: path}
}

// Offset returns the current byte position.
func (t *Tail) Offset() int64 { return t.offset }

// Next returns the deltas appended since the last call. A missing log file
// is not an error; it simply has no new deltas yet.
func (t *Tail) Next() ([]Delta, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open delta log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek delta log: %w", err)
	}

	var out []Delta
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// partial line: not yet fsynced in full, leave it
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read delta log: %w", err)
		}
		t.offset += int64(len(line))
		if len(line) <= 1 {
			continue
		}
		var d Delta
		if err := json.Unmarshal(line, &d); err != nil {
			return out, fmt.Errorf("corrupt delta at offset %d: %w", t.offset-int64(len(line)), err)
		}
		out = append(out, d)
	}
}

// Size returns the current byte length of the delta log, 0 if missing.
func Size(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
