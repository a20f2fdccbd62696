// Package scan implements the ScanOrchestrator worker pool (spec §4.5)
// and the Scanner collaborator contract (spec §4.8).
package scan

import "context"

// Verdict is a single scanner invocation's raw result, before
// aggregation across the configured scanner set.
type Verdict struct {
	Clean bool

	// ThreatName is set when the scanner reports a threat.
	ThreatName string

	// ErrKind/ErrDetail are set when the scanner returned an error
	// (including timeout).
	ErrKind   string
	ErrDetail string
}

// IsThreat reports whether v represents a positive detection.
func (v Verdict) IsThreat() bool { return !v.Clean && v.ThreatName != "" }

// IsError reports whether v represents a scanner malfunction rather
// than a clean result or a detection.
func (v Verdict) IsError() bool { return !v.Clean && v.ThreatName == "" }

// Scanner is the abstract capability the core invokes concrete
// antivirus adapters (Defender, ClamAV — out of scope; see spec §1)
// through. Implementations must be safe to call concurrently from
// multiple workers.
type Scanner interface {
	// Name identifies the scanner for scanner_results keys and logs.
	Name() string

	// Scan inspects the file at path (size bytes long) and returns its
	// verdict. ctx carries the per-invocation timeout from spec §4.5;
	// implementations must honor cancellation by terminating any
	// subprocess they started, including its descendants.
	Scan(ctx context.Context, path string, size int64) Verdict
}
