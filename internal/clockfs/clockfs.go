// Package clockfs provides the Clock and FS collaborator contracts
// (spec §4.8) and their real, injectable implementations. Tests supply
// fakes so free-space and time-of-day behavior is deterministic.
package clockfs

import (
	"time"

	"golang.org/x/sys/unix"
)

// Clock abstracts wall-clock reads so tests can control "now" and day
// rollover.
type Clock interface {
	Now() time.Time
	Today() string // local calendar day, "YYYY-MM-DD"
}

// FS abstracts filesystem probes the core needs beyond the standard
// library's os package — specifically free space, which has no stdlib
// equivalent.
type FS interface {
	// FreeSpaceMB returns the free space, in megabytes, of the
	// filesystem containing dir.
	FreeSpaceMB(dir string) (int64, error)
}

// SystemClock is the real Clock, backed by time.Now in Local time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
func (SystemClock) Today() string  { return time.Now().Format("2006-01-02") }

// OSFS is the real FS, backed by statfs(2) via golang.org/x/sys/unix.
type OSFS struct{}

// FreeSpaceMB implements FS.
func (OSFS) FreeSpaceMB(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}

	// #nosec G115 -- Bavail/Bsize are platform-defined unsigned types;
	// free space realistically fits in an int64 of megabytes.
	freeBytes := uint64(st.Bavail) * uint64(st.Bsize)

	return int64(freeBytes / (1024 * 1024)), nil
}
