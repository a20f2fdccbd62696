// Package throttle implements the multi-axis admission controller from
// spec §4.3: free-space, daily file count, and daily volume rules,
// each independently enable-able, admitting a candidate only if every
// enabled rule agrees.
package throttle

import (
	"sync"

	"github.com/shuttle-av/shuttle/internal/clockfs"
	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/model"
)

// Reason identifies why a candidate was refused admission.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDiskLow
	ReasonDailyCount
	ReasonDailyVolume
)

// Refusal is a typed admission refusal, carrying enough context for a
// single notification per reason per run (spec §4.3).
type Refusal struct {
	Reason  Reason
	Dir     string // set for ReasonDiskLow
	FreeMB  int64  // set for ReasonDiskLow
}

func (r Refusal) String() string {
	switch r.Reason {
	case ReasonDiskLow:
		return "disk low on " + r.Dir
	case ReasonDailyCount:
		return "daily file count limit reached"
	case ReasonDailyVolume:
		return "daily volume limit reached"
	default:
		return "none"
	}
}

// Snapshot is the subset of Tracker state the Throttler evaluates
// against; it is supplied by the Tracker so that in-flight (pending)
// work counts against the limits.
type Snapshot = model.DailyAggregate

// Throttler holds the configured rule parameters and tracks which
// refusal reasons have already been notified this run.
type Throttler struct {
	cfg config.Throttle
	dirs map[string]int64 // directory -> min_free_mb, one entry per relevant dir

	fs clockfs.FS

	mu             sync.Mutex
	notified       map[Reason]bool
	runVolumeBytes int64
}

// New builds a Throttler. dirs maps each relevant directory
// (quarantine, destination, hazard) to the same configured
// min_free_mb threshold, per spec §4.3's table.
func New(cfg config.Throttle, dirs map[string]int64, fs clockfs.FS) *Throttler {
	return &Throttler{
		cfg:      cfg,
		dirs:     dirs,
		fs:       fs,
		notified: make(map[Reason]bool),
	}
}

// Admit decides whether a candidate of prospectiveSize bytes may enter
// the pipeline, given today's aggregate (including already-admitted
// pending records). It returns a zero Refusal when admitted.
func (t *Throttler) Admit(today Snapshot, prospectiveSize int64) (admit bool, refusal Refusal) {
	if !t.cfg.Enabled {
		return true, Refusal{}
	}

	if t.cfg.FreeSpaceMB > 0 {
		for dir, minFreeMB := range t.dirs {
			free, err := t.fs.FreeSpaceMB(dir)
			if err != nil {
				// A probe failure is conservative: refuse rather than
				// risk filling a volume we can't observe.
				return false, Refusal{Reason: ReasonDiskLow, Dir: dir, FreeMB: 0}
			}

			prospectiveMB := (prospectiveSize + (1024*1024 - 1)) / (1024 * 1024)
			if free-prospectiveMB < minFreeMB {
				return false, Refusal{Reason: ReasonDiskLow, Dir: dir, FreeMB: free}
			}
		}
	}

	if t.cfg.MaxFilesPerDay > 0 {
		registered := today.RegisteredTotal()
		if registered.Count+1 > t.cfg.MaxFilesPerDay {
			return false, Refusal{Reason: ReasonDailyCount}
		}
	}

	if t.cfg.MaxVolumeMBPerDay > 0 {
		registered := today.RegisteredTotal()
		maxBytes := t.cfg.MaxVolumeMBPerDay * 1024 * 1024
		if registered.VolumeBytes+prospectiveSize > maxBytes {
			return false, Refusal{Reason: ReasonDailyVolume}
		}
	}

	if t.cfg.MaxVolumeMBPerRun > 0 {
		t.mu.Lock()
		runVolume := t.runVolumeBytes
		t.mu.Unlock()

		maxBytes := t.cfg.MaxVolumeMBPerRun * 1024 * 1024
		if runVolume+prospectiveSize > maxBytes {
			return false, Refusal{Reason: ReasonDailyVolume}
		}
	}

	return true, Refusal{}
}

// RecordAdmission tells the Throttler that a file of size bytes was
// just admitted, so the per-run volume cap (throttle_max_file_volume_per_run_mb)
// can be enforced across the remainder of this run.
func (t *Throttler) RecordAdmission(size int64) {
	t.mu.Lock()
	t.runVolumeBytes += size
	t.mu.Unlock()
}

// ShouldNotify reports whether reason has not yet been notified this
// run, and marks it notified. Repeated refusals for the same reason
// within a run coalesce into a single notification (spec §4.3).
func (t *Throttler) ShouldNotify(reason Reason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notified[reason] {
		return false
	}
	t.notified[reason] = true
	return true
}
