package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
	"golang.org/x/sys/unix"
)

// ErrLocked is wrapped by LockedError.
var ErrLocked = errors.New("another vaultq instance is running")

// LockedError reports the live process holding the lock.
type LockedError struct {
	Holder LockInfo
	Path   string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s (pid %d, started %s, mode %s; lock file %s)",
		ErrLocked, e.Holder.PID, e.Holder.StartedAt, e.Holder.Mode, e.Path)
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// LockInfo is the JSON content of the lock file.
type LockInfo struct {
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
	Mode      string `json:"mode"`
}

// ProcessLock is a process-wide singleton lock file.
type ProcessLock interface {
	// Acquire takes the lock, removing a stale lock left by a dead process.
	Acquire(mode string) error
	// Release removes the lock if this process holds it.
	Release() error
	// Holder returns the current lock content, if any.
	Holder() (LockInfo, bool)
}

type fileProcessLock struct {
	path  string
	log   zerolog.Logger
	held  bool
	alive func(pid int) bool
}

// NewProcessLock creates a ProcessLock at path.
func NewProcessLock(path string, log zerolog.Logger) ProcessLock {
	return &fileProcessLock{path: path, log: log, alive: processAlive}
}

// processAlive sends signal 0 to pid. EPERM means the process exists but
// belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (l *fileProcessLock) Holder() (LockInfo, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return LockInfo{}, false
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, false
	}
	return info, true
}

// lockWriteGrace is how long an empty or unreadable lock file is treated as
// held before it counts as stale.
const lockWriteGrace = 5 * time.Second

func (l *fileProcessLock) recentlyWritten() bool {
	st, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return time.Since(st.ModTime()) < lockWriteGrace
}

func (l *fileProcessLock) Acquire(mode string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	info := LockInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now().Format(models.TimeFormat),
		Mode:      mode,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	// Two attempts: the second follows removal of a stale lock.
	for range 2 {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("writing lock file: %w", werr)
			}
			l.held = true
			l.log.Debug().Int("pid", info.PID).Str("mode", mode).Msg("lock acquired")
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		holder, ok := l.Holder()
		if ok && holder.PID != info.PID && l.alive(holder.PID) {
			return &LockedError{Holder: holder, Path: l.path}
		}
		if !ok && l.recentlyWritten() {
			// Another process created the file and has not written it yet.
			return &LockedError{Path: l.path}
		}
		l.log.Warn().Int("pid", holder.PID).Msg("removing stale lock")
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return fmt.Errorf("acquiring lock %s: lost race with another process", l.path)
}

func (l *fileProcessLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	holder, ok := l.Holder()
	if ok && holder.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	l.log.Debug().Msg("lock released")
	return nil
}
