package store

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// lockPayload is the json body written into the lock file, per spec.md
// §4.2 ("Exclusive lock holders write a json payload {pid, acquired_at}").
type lockPayload struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is the cross-process advisory write lock serializing the
// dual-store write path. Staleness is judged by probing whether the
// holding pid still exists, mirroring the defensive os.Lstat-before-trust
// pattern in
// _examples/flexigpt-agentskills-go/fsskillprovider/skillmd.go
// (never trust a filesystem artifact without independently checking it).
type FileLock struct {
	path        string
	gracePeriod time.Duration
	held        bool
}

// NewFileLock builds a lock bound to path, with gracePeriod controlling
// how long a lock file is honored after its holder's process appears dead
// before the next acquirer forcibly breaks it.
func NewFileLock(path string, gracePeriod time.Duration) *FileLock {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	return &FileLock{path: path, gracePeriod: gracePeriod}
}

// Acquire takes the lock, breaking a stale lock (holder process gone and
// past grace period) if one is present. It is not reentrant.
func (l *FileLock) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			payload := lockPayload{PID: os.Getpid(), AcquiredAt: time.Now()}
			enc := json.NewEncoder(f)
			werr := enc.Encode(payload)
			cerr := f.Close()
			if werr != nil {
				return werr
			}
			if cerr != nil {
				return cerr
			}
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if l.breakIfStale() {
			continue
		}
		return fmt.Errorf("lock %s held by a live process: %w", l.path, errLockHeld)
	}
	return fmt.Errorf("lock %s: could not acquire after breaking stale holder", l.path)
}

var errLockHeld = fmt.Errorf("lock held")

// breakIfStale removes the lock file if its holder is dead and the grace
// period since acquisition has elapsed, returning whether it did so.
func (l *FileLock) breakIfStale() bool {
	b, err := os.ReadFile(l.path)
	if err != nil {
		// Lock file vanished between our failed create and this read;
		// treat as already broken.
		return true
	}
	var payload lockPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		// Unreadable payload: cannot prove liveness, don't break it.
		return false
	}

	if processAlive(payload.PID) || time.Since(payload.AcquiredAt) < l.gracePeriod {
		return false
	}
	_ = os.Remove(l.path)
	return true
}

// processAlive probes pid with signal 0, the POSIX "does this process
// exist" idiom; it reports false on any error (no permission also reads
// as "cannot confirm liveness," which is the safe default past the grace
// period since the lock will be broken on the next check anyway).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release drops the lock. It is a no-op if the lock is not held.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.path)
}
