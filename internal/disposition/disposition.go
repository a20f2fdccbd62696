// Package disposition applies the outcome-specific effects of a scan
// result — clean move, hazard encrypt-and-archive, or leave-and-log —
// and reports the terminal record state back to the Tracker (spec
// §4.6).
package disposition

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shuttle-av/shuttle/internal/clockfs"
	"github.com/shuttle-av/shuttle/internal/model"
	"github.com/shuttle-av/shuttle/internal/pathops"
	"github.com/shuttle-av/shuttle/internal/scan"
)

// Encryptor is the abstract GPG capability (spec §1, §4.8).
type Encryptor interface {
	Encrypt(plainPath, cipherPath, publicKeyRef string) error
}

// Config mirrors the subset of settings disposition needs.
type Config struct {
	DestinationPath             string
	HazardArchivePath           string // empty means "no hazard archive configured"
	HazardEncryptionKeyPath     string
	DeleteSourceAfterCopying    bool
	DefenderHandlesSuspectFiles bool
}

// Handler applies Completion outcomes.
type Handler struct {
	cfg       Config
	encryptor Encryptor
	clock     clockfs.Clock
}

// New builds a Handler.
func New(cfg Config, encryptor Encryptor, clock clockfs.Clock) *Handler {
	return &Handler{cfg: cfg, encryptor: encryptor, clock: clock}
}

// Result is the terminal disposition of one file, ready to hand to
// Tracker.Complete.
type Result struct {
	Outcome         model.Outcome
	DestinationPath string
	ErrorReason     string
}

// Dispose applies c's outcome to rec and returns the terminal Result.
func (h *Handler) Dispose(rec model.FileRecord, c scan.Completion) Result {
	switch c.Outcome {
	case model.OutcomeSuccess:
		return h.disposeClean(rec)
	case model.OutcomeSuspect:
		return h.disposeSuspect(rec, c)
	default:
		return h.disposeFailed(c)
	}
}

// disposeClean implements spec §4.6's Clean case: atomic move into
// destination, hash-verified, idempotent against a matching pre-
// existing destination file, and Failed(DestinationCollision) on a
// hash mismatch.
func (h *Handler) disposeClean(rec model.FileRecord) Result {
	dest := filepath.Join(h.cfg.DestinationPath, filepath.Base(rec.SourcePath))

	if fi, err := os.Stat(dest); err == nil && !fi.IsDir() {
		if pathops.VerifyEqualByHash(dest, rec.QuarantinePath) {
			_ = pathops.SafeDelete(rec.QuarantinePath, rec.Hash)
			h.maybeDeleteSource(rec)
			return Result{Outcome: model.OutcomeSuccess, DestinationPath: dest}
		}
		return Result{Outcome: model.OutcomeFailed, ErrorReason: "DestinationCollision: " + dest}
	}

	if err := pathops.AtomicMove(rec.QuarantinePath, dest); err != nil {
		return Result{Outcome: model.OutcomeFailed, ErrorReason: fmt.Sprintf("move to destination: %v", err)}
	}

	actual, err := pathops.HashFile(dest)
	if err != nil || actual != rec.Hash {
		return Result{Outcome: model.OutcomeFailed, ErrorReason: "post-move hash verification failed for " + dest}
	}

	h.maybeDeleteSource(rec)

	return Result{Outcome: model.OutcomeSuccess, DestinationPath: dest}
}

// disposeSuspect implements spec §4.6's Suspect case.
func (h *Handler) disposeSuspect(rec model.FileRecord, c scan.Completion) Result {
	if h.cfg.DefenderHandlesSuspectFiles {
		if defenderReportedThreat(c) {
			if _, err := os.Stat(rec.QuarantinePath); os.IsNotExist(err) {
				// The scanner self-quarantined the file; nothing left
				// for us to do.
				h.maybeDeleteSource(rec)
				return Result{Outcome: model.OutcomeSuspect}
			}
			// Defender claims to handle suspect files but the
			// quarantine copy is still present: fall through to manual
			// handling (spec §9 Open Question — resolved as "fall
			// through").
		}
	}

	if err := h.manualHandle(rec.QuarantinePath, rec.SourcePath, rec.Hash, "quarantine"); err != nil {
		// EncryptionError: fall back to deleting the quarantine copy;
		// the source is deliberately left untouched (spec §7).
		_ = os.Remove(rec.QuarantinePath)
		return Result{Outcome: model.OutcomeSuspect, ErrorReason: "manual hazard handling failed, quarantine copy deleted: " + err.Error()}
	}

	// Source-file disposition (spec §4.6): if the source still exists
	// and still carries the same content, it must not be left behind
	// holding a copy of suspect content, regardless of
	// delete_source_files_after_copying — that setting governs source
	// cleanup on a Clean outcome and on the Defender self-quarantine
	// path above.
	if actual, err := pathops.HashFile(rec.SourcePath); err == nil && actual == rec.Hash {
		if err := h.manualHandle(rec.SourcePath, rec.SourcePath, rec.Hash, "source"); err != nil {
			_ = os.Remove(rec.SourcePath)
		}
	}

	return Result{Outcome: model.OutcomeSuspect}
}

func defenderReportedThreat(c scan.Completion) bool {
	r, ok := c.ScannerResults["defender"]
	return ok && r.Verdict == model.VerdictThreat
}

// manualHandle implements the hazard archive / delete-only path common
// to both the quarantine copy and (when applicable) the source file.
// tag disambiguates the hazard filename when both the quarantine copy
// and the source carry identical content and are archived separately.
func (h *Handler) manualHandle(targetPath, basenameSource, hash, tag string) error {
	if h.cfg.HazardArchivePath == "" {
		return os.Remove(targetPath)
	}

	cipherPath := h.hazardPath(filepath.Base(basenameSource), hash, tag)

	if err := os.MkdirAll(h.cfg.HazardArchivePath, 0o750); err != nil {
		return err
	}

	if err := h.encryptor.Encrypt(targetPath, cipherPath, h.cfg.HazardEncryptionKeyPath); err != nil {
		_ = os.Remove(cipherPath) // Encryptor contract: never leak plaintext on failure
		return err
	}

	return os.Remove(targetPath)
}

// hazardPath builds `<original_basename>_<ISO8601>_<hash_prefix>[_src].gpg`
// (spec §6; the `_src` suffix, added when tag is "source", is a
// SPEC_FULL.md refinement disambiguating a quarantine-copy artifact
// from a same-content source-file artifact archived in the same run).
func (h *Handler) hazardPath(basename, hash, tag string) string {
	ts := h.clock.Now().UTC().Format("20060102T150405Z")
	prefix := hash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	name := fmt.Sprintf("%s_%s_%s.gpg", basename, ts, prefix)
	if tag == "source" {
		name = fmt.Sprintf("%s_%s_%s_src.gpg", basename, ts, prefix)
	}

	return filepath.Join(h.cfg.HazardArchivePath, name)
}

func (h *Handler) maybeDeleteSource(rec model.FileRecord) {
	if !h.cfg.DeleteSourceAfterCopying {
		return
	}
	if _, err := os.Stat(rec.SourcePath); err != nil {
		return
	}
	_ = pathops.SafeDelete(rec.SourcePath, rec.Hash)
}

func (h *Handler) disposeFailed(c scan.Completion) Result {
	return Result{Outcome: model.OutcomeFailed, ErrorReason: c.ErrorReason}
}
