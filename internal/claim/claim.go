// Package claim implements the filesystem lock granting one process the
// right to fetch a slice. Acquisition is exclusive-create on a single inode,
// so it is linearizable per slice. Stale claims are taken over by renaming
// the old lock to a private tombstone, never by deleting it.
package claim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrHeld means another live owner holds the claim.
var ErrHeld = errors.New("claim: held by another owner")

// DefaultTTL is how old a claim's mtime may be before takeover.
const DefaultTTL = 60 * time.Second

// Info is the lock file payload, kept for stale-claim forensics.
type Info struct {
	SliceID   string `json:"slice_id"`
	ClaimedAt string `json:"claimed_at"`
	PID       int    `json:"pid"`
}

// Claim is a held lock.
type Claim struct {
	path    string
	sliceID string
}

// Path returns the lock file location.
func (c *Claim) Path() string { return c.path }

// Release removes the lock file.
func (c *Claim) Release() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release claim %s: %w", c.sliceID, err)
	}
	return nil
}

func lockPath(dir, sliceID string) string {
	return filepath.Join(dir, sliceID+".lock")
}

// Acquire tries to take claims/<slice_id>.lock. If the lock exists but its
// mtime is older than ttl, it is renamed to <name>.stale.<pid> and
// acquisition is retried once. Returns ErrHeld when a live owner exists.
func Acquire(dir, sliceID string, ttl time.Duration, clk clock.Clock) (*Claim, error) {
	path := lockPath(dir, sliceID)
	for attempt := 0; attempt < 2; attempt++ {
		c, err := tryCreate(path, sliceID, clk)
		if err == nil {
			return c, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire claim %s: %w", sliceID, err)
		}
		fi, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue // released between create and stat; retry
			}
			return nil, fmt.Errorf("stat claim %s: %w", sliceID, statErr)
		}
		if clk.Now().Sub(fi.ModTime()) <= ttl {
			return nil, ErrHeld
		}
		tomb := fmt.Sprintf("%s.stale.%d", path, os.Getpid())
		if renameErr := os.Rename(path, tomb); renameErr != nil && !os.IsNotExist(renameErr) {
			// someone else won the takeover race
			return nil, ErrHeld
		}
	}
	return nil, ErrHeld
}

func tryCreate(path, sliceID string, clk clock.Clock) (*Claim, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info := Info{
		SliceID:   sliceID,
		ClaimedAt: clk.Now().UTC().Format(time.RFC3339Nano),
		PID:       os.Getpid(),
	}
	payload, _ := json.Marshal(info)
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Claim{path: path, sliceID: sliceID}, nil
}

// Sweep renames every expired lock in dir to a tombstone and reports how
// many were taken over. Run by workers at startup.
func Sweep(dir string, ttl time.Duration, clk clock.Clock) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweep claims: %w", err)
	}
	swept := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if clk.Now().Sub(fi.ModTime()) <= ttl {
			continue
		}
		tomb := fmt.Sprintf("%s.stale.%d", path, os.Getpid())
		if err := os.Rename(path, tomb); err == nil {
			swept++
		}
	}
	return swept, nil
}
