// Package lock models advisory workspace execution locks.
//
// Locking here is cooperative, not OS-enforced: the lock rows in the state
// database are a convention honored by rmplan processes. Nothing stops an
// uncooperative process from touching a locked workspace. Staleness
// detection (dead holder process, or a pid lock past its maximum age)
// lets the next acquirer reclaim locks left behind by crashed processes.
package lock

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// Kind represents the lock flavor.
type Kind string

const (
	// KindPersistent locks never expire; they are held until explicitly
	// released (e.g. a workspace pinned for manual work).
	KindPersistent Kind = "persistent"
	// KindPID locks are tied to a specific OS process and become stale
	// when that process exits or the lock outlives MaxPIDAge.
	KindPID Kind = "pid"
)

// MaxPIDAge is the age past which a pid lock is presumed abandoned even
// if its process id happens to be alive again (pid reuse).
const MaxPIDAge = 24 * time.Hour

// ParseKind parses a lock kind string.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "persistent":
		return KindPersistent, nil
	case "pid":
		return KindPID, nil
	default:
		return "", fmt.Errorf("unknown lock kind: %s", s)
	}
}

// Info describes a lock holder.
type Info struct {
	Kind       Kind
	PID        int
	Hostname   string
	Command    string
	AcquiredAt time.Time
}

// NewInfo builds lock info for the current process.
func NewInfo(kind Kind) Info {
	hostname, _ := os.Hostname()
	return Info{
		Kind:       kind,
		PID:        os.Getpid(),
		Hostname:   hostname,
		Command:    strings.Join(os.Args, " "),
		AcquiredAt: time.Now().UTC(),
	}
}

// IsStale reports whether the lock can be reclaimed. Persistent locks are
// never stale. A pid lock is stale when its process is gone, or when it
// is older than MaxPIDAge regardless of process liveness.
func (i *Info) IsStale() bool {
	if i.Kind != KindPID {
		return false
	}
	if !ProcessAlive(i.PID) {
		return true
	}
	return time.Since(i.AcquiredAt) > MaxPIDAge
}

// Holder returns a short human-readable description of the lock holder.
func (i *Info) Holder() string {
	if i.Kind == KindPersistent {
		return fmt.Sprintf("persistent lock on %s", i.Hostname)
	}
	return fmt.Sprintf("pid %d on %s", i.PID, i.Hostname)
}

// ReleaseOptions controls lock release behavior.
type ReleaseOptions struct {
	// PID is the releasing process. When set, releasing a pid lock held
	// by a different, still-alive process is refused unless Force is set.
	PID int
	// Force releases the lock regardless of who holds it.
	Force bool
}

// AlreadyLockedError indicates the workspace is locked by someone else.
type AlreadyLockedError struct {
	WorkspaceID int64
	Info        Info
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("workspace %d is locked by %s (since %s)",
		e.WorkspaceID, e.Info.Holder(), e.Info.AcquiredAt.Format(time.RFC3339))
}

// HeldByOtherError indicates a release was refused because a different,
// still-alive process holds the lock.
type HeldByOtherError struct {
	WorkspaceID int64
	HolderPID   int
}

func (e *HeldByOtherError) Error() string {
	return fmt.Sprintf("workspace %d lock is held by running process %d; use force to release",
		e.WorkspaceID, e.HolderPID)
}

// ProcessAlive checks if a process with the given PID exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds. We need to send signal 0 to check.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
