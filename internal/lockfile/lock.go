// Package lockfile provides the per-WU cleanup mutex. All cleanup-class
// operations for a given WU id take this lock before touching worktrees or
// branches, so an explicit cleanup and a crash-recovery sweep for the same
// id cannot interleave destructively.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockBusy is returned by non-blocking acquisition when another process
// holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

// LockInfo is written into the lock file for diagnostics. The flock on the
// file descriptor, not the content, is the actual mutual exclusion.
type LockInfo struct {
	PID        int       `json:"pid"`
	Operation  string    `json:"operation"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held per-WU lock. Release on every exit path.
type Lock struct {
	f    *os.File
	path string
}

// lockPath returns the lock file for a WU id under the state directory.
func lockPath(stateDir, wuID string) string {
	return filepath.Join(stateDir, "locks", wuID+".lock")
}

// Acquire takes the exclusive cleanup lock for a WU id, blocking until it
// is available. The operation name is recorded in the lock file so a stuck
// lock can be diagnosed.
func Acquire(stateDir, wuID, operation string) (*Lock, error) {
	return acquire(stateDir, wuID, operation, true)
}

// TryAcquire is the non-blocking variant; returns ErrLockBusy if held.
func TryAcquire(stateDir, wuID, operation string) (*Lock, error) {
	return acquire(stateDir, wuID, operation, false)
}

func acquire(stateDir, wuID, operation string, block bool) (*Lock, error) {
	path := lockPath(stateDir, wuID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file for %s: %w", wuID, err)
	}
	if block {
		err = flockExclusiveBlocking(f)
	} else {
		err = flockExclusiveNonBlock(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	info := LockInfo{PID: os.Getpid(), Operation: operation, AcquiredAt: time.Now().UTC()}
	if data, merr := json.Marshal(&info); merr == nil {
		_ = f.Truncate(0)
		_, _ = f.WriteAt(data, 0)
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = flockUnlock(l.f)
	_ = l.f.Close()
	l.f = nil
}

// ReadInfo reads the diagnostic info from a WU's lock file, if present.
func ReadInfo(stateDir, wuID string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath(stateDir, wuID))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return &info, nil
}
