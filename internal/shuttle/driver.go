// Package shuttle implements the PipelineDriver (spec §4.7): file
// discovery, stability checking, and composition of PathOps,
// InstanceLock, Throttler, DailyProcessingTracker, ScanOrchestrator
// and DispositionHandler into one run.
package shuttle

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shuttle-av/shuttle/internal/clockfs"
	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/disposition"
	"github.com/shuttle-av/shuttle/internal/errs"
	"github.com/shuttle-av/shuttle/internal/lock"
	"github.com/shuttle-av/shuttle/internal/logging"
	"github.com/shuttle-av/shuttle/internal/metrics"
	"github.com/shuttle-av/shuttle/internal/model"
	"github.com/shuttle-av/shuttle/internal/notify"
	"github.com/shuttle-av/shuttle/internal/pathops"
	"github.com/shuttle-av/shuttle/internal/scan"
	"github.com/shuttle-av/shuttle/internal/throttle"
	"github.com/shuttle-av/shuttle/internal/tracker"
)

// StabilityParams configures PathOps.IsFileStable for discovery.
type StabilityParams struct {
	ProbeInterval time.Duration
	Samples       int
}

// Driver composes spec §4's components into one run.
type Driver struct {
	Config          config.Config
	Log             *logging.Logger
	Clock           clockfs.Clock
	FS              clockfs.FS
	Scanners        []scan.Scanner
	Encryptor       disposition.Encryptor
	Notifier        notify.Notifier
	Metrics         *metrics.Registry
	Stability       StabilityParams
	QueueSize       int
	PersistInterval time.Duration

	// ShutdownGracePeriod bounds how long Run waits, beyond the base
	// scan timeout (malware_scan_timeout_seconds), for workers to
	// finish during a shutdown (spec §5).
	ShutdownGracePeriod time.Duration
}

// Summary is the end-of-run report (spec §4.7 step 8).
type Summary struct {
	RunID      string
	Aggregate  model.DailyAggregate
	Elapsed    time.Duration
	Interrupted bool
	RefusalSeen bool
}

// Run executes one full PipelineDriver pass per spec §4.7.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := d.Clock.Now()
	runID := uuid.New().String()

	instLock, err := lock.Acquire(d.Config.LockFilePath)
	if err != nil {
		return Summary{RunID: runID}, err
	}
	defer func() {
		if relErr := instLock.Release(); relErr != nil {
			d.Log.Warnw("failed to release instance lock", "error", relErr)
		}
	}()

	trackerDir := d.Config.LedgerFilePath
	if trackerDir == "" {
		trackerDir = d.Config.LogPath
	}

	trk, err := tracker.Open(trackerDir, d.Clock, d.PersistInterval)
	if err != nil {
		return Summary{RunID: runID}, errs.Wrap(errs.KindFilesystemError, err, "open tracker")
	}

	thr := throttle.New(d.Config.Throttle, map[string]int64{
		d.Config.QuarantinePath:    d.Config.Throttle.FreeSpaceMB,
		d.Config.DestinationPath:   d.Config.Throttle.FreeSpaceMB,
		hazardDirOrEmpty(d.Config): d.Config.Throttle.FreeSpaceMB,
	}, d.FS)

	disposer := disposition.New(disposition.Config{
		DestinationPath:             d.Config.DestinationPath,
		HazardArchivePath:           d.Config.HazardArchivePath,
		HazardEncryptionKeyPath:     d.Config.HazardEncryptionKeyPath,
		DeleteSourceAfterCopying:    d.Config.DeleteSourceAfterCopying,
		DefenderHandlesSuspectFiles: d.Config.DefenderHandlesSuspectFiles,
	}, d.Encryptor, d.Clock)

	orch := scan.New(d.Scanners, d.Config.ScanBounds, d.Config.MaxScanThreads)

	jobs := make(chan scan.Job, d.QueueSize)
	completions := make(chan scan.Completion, d.QueueSize)

	interrupted := false
	refusalSeen := false

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		return d.discoverAndAdmit(gctx, trk, thr, jobs, &interrupted, &refusalSeen)
	})

	g.Go(func() error {
		defer close(completions)
		orch.Run(gctx, jobs, completions)
		return nil
	})

	g.Go(func() error {
		return d.consumeCompletions(trk, disposer, completions)
	})

	runErr := d.waitForCompletion(ctx, g)

	if ctx.Err() != nil {
		interrupted = true
	}

	closeErr := trk.Close(tracker.PendingPolicyInterrupted, d.reconcile)
	if closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	if err := pathops.PruneEmptyDirs(d.Config.SourcePath); err != nil {
		d.Log.Warnw("prune empty source directories", "error", err)
	}

	agg := trk.Snapshot()
	if d.Metrics != nil {
		d.Metrics.Observe(agg)
		d.Metrics.Push(d.Config.MetricsPushAddr, d.Config.MetricsJobName)
	}

	summary := Summary{
		RunID:       runID,
		Aggregate:   agg,
		Elapsed:     d.Clock.Now().Sub(start),
		Interrupted: interrupted,
		RefusalSeen: refusalSeen,
	}

	if d.Config.Notifications.NotifySummary {
		d.Notifier.Notify(notify.SeverityInfo, "run summary", d.renderSummary(summary))
	}

	if interrupted && runErr == nil {
		runErr = errs.New(errs.KindInterrupted, "run interrupted by shutdown signal")
	}

	return summary, runErr
}

// waitForCompletion waits for g's goroutines to finish, same as
// g.Wait(), except once ctx is cancelled it bounds the remaining wait
// to the base scan timeout (ScanBounds.TimeoutSeconds) plus
// d.ShutdownGracePeriod (spec §5). The per-byte timeout allowance and
// scan retries are not included in this deadline. Cancellation stops
// discovery and new scans from starting; the deadline covers work
// that does not observe ctx — in-flight scans, which run on their own
// timeouts, and GPGEncryptor's subprocess.
func (d *Driver) waitForCompletion(ctx context.Context, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	deadline := time.Duration(d.Config.ScanBounds.TimeoutSeconds)*time.Second + d.ShutdownGracePeriod

	select {
	case err := <-done:
		return err
	case <-time.After(deadline):
		d.Log.Warnw("shutdown grace period elapsed before all workers finished", "deadline", deadline)
		return errs.New(errs.KindInterrupted, "shutdown grace period elapsed before workers finished")
	}
}

func hazardDirOrEmpty(cfg config.Config) string {
	if cfg.HazardArchivePath == "" {
		return cfg.QuarantinePath // degrade to an existing dir so the free-space map has no empty key
	}
	return cfg.HazardArchivePath
}

// discoverAndAdmit implements spec §4.7 steps 4–5: recursive,
// lexicographically ordered discovery; per-candidate stability and
// admission checks; quarantine copy-and-hash; Tracker.Register;
// enqueue for scanning. On a throttle refusal it stops admitting new
// files but lets the discovery loop end gracefully so in-flight jobs
// already enqueued keep draining.
func (d *Driver) discoverAndAdmit(ctx context.Context, trk *tracker.Tracker, thr *throttle.Throttler, jobs chan<- scan.Job, interrupted, refusalSeen *bool) error {
	candidates, err := discover(d.Config.SourcePath)
	if err != nil {
		return errs.Wrap(errs.KindFilesystemError, err, "discover candidates under source")
	}

	admitting := true

	for _, path := range candidates {
		if ctx.Err() != nil {
			*interrupted = true
			return nil
		}

		if !admitting {
			continue
		}

		if !pathops.IsFileStable(path, d.Stability.ProbeInterval, d.Stability.Samples) {
			continue
		}

		fi, err := os.Stat(path)
		if err != nil {
			continue
		}

		admit, refusal := thr.Admit(trk.Snapshot(), fi.Size())
		if !admit {
			admitting = false
			*refusalSeen = true
			if thr.ShouldNotify(refusal.Reason) {
				if d.Metrics != nil {
					d.Metrics.CountRefusal(refusal.String())
				}
				d.Notifier.Notify(notify.SeverityWarning, "throttled", refusal.String())
			}
			continue
		}

		quarantinePath := filepath.Join(d.Config.QuarantinePath, filepath.Base(path))

		_, hexDigest, err := pathops.CopyWithHash(path, quarantinePath)
		if err != nil {
			d.Log.Warnw("quarantine copy failed", "path", path, "error", err)
			continue
		}

		thr.RecordAdmission(fi.Size())

		rec := trk.Register(path, quarantinePath, fi.Size(), hexDigest)
		if rec.Status == model.StatusCompleted {
			// Idempotent re-ingest of already-completed content today
			// (spec §4.4): nothing left to scan, and the duplicate
			// quarantine copy we just made is no longer needed.
			_ = os.Remove(quarantinePath)
			continue
		}

		select {
		case jobs <- scan.Job{Hash: hexDigest, QuarantinePath: quarantinePath, SizeBytes: fi.Size()}:
		case <-ctx.Done():
			*interrupted = true
			return nil
		}
	}

	return nil
}

// discover walks root recursively and returns regular file paths in
// deterministic, lexicographic order (spec §4.7 step 4).
func discover(root string) ([]string, error) {
	var out []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(out)

	return out, nil
}

// consumeCompletions is the single DispositionHandler/Tracker.Complete
// consumer, so Complete calls happen in one goroutine; Register runs in
// the discovery goroutine, and the Tracker's own mutex serializes the
// two (spec §5).
func (d *Driver) consumeCompletions(trk *tracker.Tracker, disposer *disposition.Handler, completions <-chan scan.Completion) error {
	for c := range completions {
		records := trk.Records()
		rec, ok := records[c.Job.Hash]
		if !ok {
			d.Log.Errorw("completion for unknown hash", "hash", c.Job.Hash)
			continue
		}

		result := disposer.Dispose(rec, c)

		if err := trk.Complete(tracker.CompleteParams{
			Hash:            c.Job.Hash,
			Outcome:         result.Outcome,
			DestinationPath: result.DestinationPath,
			ErrorReason:     result.ErrorReason,
			ScannerResults:  c.ScannerResults,
		}); err != nil {
			d.Log.Errorw("tracker complete failed", "hash", c.Job.Hash, "error", err)
		}

		d.Log.Debugw("file disposed", "hash", c.Job.Hash, "outcome", result.Outcome.String())
	}

	return nil
}

// reconcile resolves a still-Pending record at shutdown by checking
// whether its quarantine copy already landed at the destination with
// matching content (spec §4.4: "reconciled by inspecting the
// filesystem if the driver can prove their outcome").
func (d *Driver) reconcile(rec model.FileRecord) (tracker.Reconciliation, bool) {
	dest := filepath.Join(d.Config.DestinationPath, filepath.Base(rec.SourcePath))

	if actual, err := pathops.HashFile(dest); err == nil && actual == rec.Hash {
		return tracker.Reconciliation{Outcome: model.OutcomeSuccess, DestinationPath: dest}, true
	}

	return tracker.Reconciliation{}, false
}
