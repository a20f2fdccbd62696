package scan

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/model"
)

// Job is one file queued for scanning.
type Job struct {
	Hash           string
	QuarantinePath string
	SizeBytes      int64
}

// Completion is the event the ScanOrchestrator produces per file,
// consumed by the DispositionHandler (spec §4.5's "output" contract).
type Completion struct {
	Job            Job
	Outcome        model.Outcome
	ScannerResults map[string]model.ScanResult
	ErrorReason    string // set when Outcome == OutcomeFailed
}

// Orchestrator runs a bounded pool of workers over a channel of Jobs,
// applying the AllMustBeClean policy across the configured scanner
// set, with per-scanner timeout and retry (spec §4.5).
type Orchestrator struct {
	scanners []Scanner
	bounds   config.ScanBounds
	sem      *semaphore.Weighted
}

// New builds an Orchestrator with maxWorkers concurrent scan slots.
func New(scanners []Scanner, bounds config.ScanBounds, maxWorkers int) *Orchestrator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Orchestrator{
		scanners: scanners,
		bounds:   bounds,
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
	}
}

// Run drains jobs, emitting one Completion per job onto completions,
// until jobs is closed or ctx is cancelled. In-flight scans are
// allowed to run to completion or their own timeout even after ctx is
// cancelled for new admissions (spec §4.5 cancellation contract);
// ctx cancellation only stops new jobs from starting.
func (o *Orchestrator) Run(ctx context.Context, jobs <-chan Job, completions chan<- Completion) {
	var wg sync.WaitGroup

	for job := range jobs {
		if ctx.Err() != nil {
			// Shutdown: stop accepting new items, per spec §4.5.
			break
		}

		if err := o.sem.Acquire(ctx, 1); err != nil {
			break
		}

		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.sem.Release(1)

			// In-flight scans run to completion or their own timeout even
			// if the caller's ctx was cancelled while they were queued;
			// detach from ctx cancellation (but not from process
			// lifetime) for the scan itself.
			completions <- o.scanOne(context.Background(), job)
		}()
	}

	wg.Wait()
}

func (o *Orchestrator) scanOne(ctx context.Context, job Job) Completion {
	results := make(map[string]model.ScanResult, len(o.scanners))

	// Priority across scanners within one file: Threat > Error > Clean.
	best := model.OutcomeSuccess
	var errReason string

	for _, s := range o.scanners {
		v := o.scanWithRetry(ctx, s, job)

		switch {
		case v.IsThreat():
			results[s.Name()] = model.ScanResult{Verdict: model.VerdictThreat, ThreatTag: v.ThreatName}
			if best != model.OutcomeSuspect {
				best = model.OutcomeSuspect
			}
		case v.IsError():
			results[s.Name()] = model.ScanResult{Verdict: model.VerdictError, ErrorKind: v.ErrKind, ErrorMsg: v.ErrDetail}
			if best == model.OutcomeSuccess {
				best = model.OutcomeFailed
				errReason = v.ErrKind + ": " + v.ErrDetail
			}
		default:
			results[s.Name()] = model.ScanResult{Verdict: model.VerdictClean}
		}
	}
	// Aggregation priority Threat > Error > Clean (spec §4.5) is
	// enforced by only ever upgrading best, never downgrading it,
	// above — every scanner still runs so scanner_results stays
	// complete for forensic purposes.

	return Completion{
		Job:            job,
		Outcome:        best,
		ScannerResults: results,
		ErrorReason:    errReason,
	}
}

// scanWithRetry invokes s up to bounds.RetryCount+1 times, waiting
// RetryWaitSeconds between attempts, escalating to an Error verdict
// only once retries are exhausted (spec §4.5). A Clean or Threat
// result short-circuits retry immediately.
func (o *Orchestrator) scanWithRetry(ctx context.Context, s Scanner, job Job) Verdict {
	timeout := o.timeoutFor(job.SizeBytes)

	var last Verdict

	for attempt := 0; attempt <= o.bounds.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(o.bounds.RetryWaitSeconds) * time.Second)
		}

		scanCtx, cancel := context.WithTimeout(ctx, timeout)
		last = s.Scan(scanCtx, job.QuarantinePath, job.SizeBytes)
		cancel()

		if !last.IsError() {
			return last
		}
	}

	return last
}

// timeoutFor implements spec §4.5's per-invocation bound:
// timeout_seconds + timeout_ms_per_byte * size.
func (o *Orchestrator) timeoutFor(size int64) time.Duration {
	base := time.Duration(o.bounds.TimeoutSeconds) * time.Second
	perByte := time.Duration(o.bounds.TimeoutMsPerByte*float64(size)) * time.Millisecond
	return base + perByte
}
