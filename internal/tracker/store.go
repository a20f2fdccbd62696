package tracker

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	natomic "github.com/natefinch/atomic"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/shuttle-av/shuttle/internal/errs"
	"github.com/shuttle-av/shuttle/internal/model"
)

// Store persists DailyProcessingTracker state to one file per local
// calendar day under dir (spec §4.4, §6). Writes use temp-file +
// fsync + atomic rename via natefinch/atomic so a partially written
// file is never observed.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// fileDoc is the on-disk shape: self-describing, human-inspectable
// YAML (spec §6). Save appends a blake3 checksum trailer of the YAML
// body; Load strips that trailer without verifying it.
type fileDoc struct {
	Aggregate model.DailyAggregate  `yaml:"aggregate"`
	Records   []model.FileRecord    `yaml:"records"`
}

func (s *Store) path(day string) string {
	return filepath.Join(s.dir, day+".state")
}

func (s *Store) archivedPath(day string) string {
	return filepath.Join(s.dir, day+".state.gz")
}

// Save writes today's records and aggregate atomically.
func (s *Store) Save(day string, records map[string]*model.FileRecord, agg model.DailyAggregate) error {
	doc := fileDoc{Aggregate: agg}

	hashes := make([]string, 0, len(records))
	for h := range records {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes) // deterministic output, stable diffs between snapshots

	for _, h := range hashes {
		doc.Records = append(doc.Records, *records[h])
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return errs.Wrapf(errs.KindFilesystemError, err, "marshal state for %s", day)
	}

	sum := blake3.Sum256(body)

	var out bytes.Buffer
	out.Write(body)
	out.WriteString("# blake3: ")
	out.WriteString(hex.EncodeToString(sum[:]))
	out.WriteString("\n")

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return errs.Wrapf(errs.KindFilesystemError, err, "mkdir tracker dir %q", s.dir)
	}

	if err := natomic.WriteFile(s.path(day), bytes.NewReader(out.Bytes())); err != nil {
		return errs.Wrapf(errs.KindFilesystemError, err, "persist state for %s", day)
	}

	return nil
}

// Load reads today's file, if any, restoring pending and completed
// records. A missing file is not an error: it means today has no
// prior state.
func (s *Store) Load(day string) (map[string]*model.FileRecord, model.DailyAggregate, error) {
	records := make(map[string]*model.FileRecord)

	body, err := os.ReadFile(s.path(day)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return records, model.DailyAggregate{Date: day}, nil
		}
		return nil, model.DailyAggregate{}, errs.Wrapf(errs.KindFilesystemError, err, "read state for %s", day)
	}

	doc, err := parseDoc(body)
	if err != nil {
		return nil, model.DailyAggregate{}, errs.Wrapf(errs.KindFilesystemError, err, "parse state for %s", day)
	}

	for i := range doc.Records {
		r := doc.Records[i]
		records[r.Hash] = &r
	}

	return records, doc.Aggregate, nil
}

// parseDoc strips the trailing "# blake3: ..." checksum comment (if
// present) before handing the rest to YAML. The checksum is not
// compared against the body, so a corrupted body is only rejected if
// it no longer parses as YAML.
func parseDoc(body []byte) (fileDoc, error) {
	text := string(body)

	if idx := strings.LastIndex(text, "\n# blake3: "); idx >= 0 {
		text = text[:idx]
	}

	var doc fileDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return fileDoc{}, err
	}

	return doc, nil
}

// CloseOutStalePriorDays closes out any tracker file under dir that is
// not today's: its pending records are marked Failed(interrupted), it
// is persisted, and it is gzip-compressed in place (spec §4.4: "on
// startup ... yesterday's file is closed out ... and not reloaded into
// the active set").
func (s *Store) CloseOutStalePriorDays(today string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrapf(errs.KindFilesystemError, err, "list tracker dir %q", s.dir)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".state") || e.IsDir() {
			continue
		}

		day := strings.TrimSuffix(name, ".state")
		if day == today {
			continue
		}

		records, agg, err := s.Load(day)
		if err != nil {
			continue // best-effort: a corrupt prior-day file shouldn't block today's run
		}

		dirty := false
		for hash, rec := range records {
			if rec.Status != model.StatusCompleted {
				agg.Pending.Count--
				agg.Pending.VolumeBytes -= rec.SizeBytes
				agg.Failed.Count++
				agg.Failed.VolumeBytes += rec.SizeBytes

				rec.Status = model.StatusCompleted
				rec.Outcome = model.OutcomeFailed
				rec.ErrorReason = "interrupted"
				records[hash] = rec
				dirty = true
			}
		}

		if dirty {
			if err := s.Save(day, records, agg); err != nil {
				continue
			}
		}

		if err := s.gzipArchive(day); err != nil {
			continue
		}
	}

	return nil
}

// gzipArchive compresses a fully closed-out day's plaintext state file
// into <day>.state.gz and removes the plaintext, bounding long-term
// ledger storage while keeping the active day human-inspectable
// (SPEC_FULL.md domain stack entry for klauspost/compress).
func (s *Store) gzipArchive(day string) error {
	plainPath := s.path(day)

	body, err := os.ReadFile(plainPath) //nolint:gosec
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}

	if err := natomic.WriteFile(s.archivedPath(day), bytes.NewReader(buf.Bytes())); err != nil {
		return err
	}

	return os.Remove(plainPath)
}
