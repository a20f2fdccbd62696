package shuttle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/logging"
	"github.com/shuttle-av/shuttle/internal/notify"
	"github.com/shuttle-av/shuttle/internal/scan"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }
func (f fixedClock) Today() string  { return f.t.Format("2006-01-02") }

type unlimitedFS struct{}

func (unlimitedFS) FreeSpaceMB(dir string) (int64, error) { return 1 << 20, nil }

type scriptedScanner struct {
	name    string
	verdict func(path string) scan.Verdict
}

func (s scriptedScanner) Name() string { return s.name }
func (s scriptedScanner) Scan(ctx context.Context, path string, size int64) scan.Verdict {
	return s.verdict(path)
}

type noopEncryptor struct{}

func (noopEncryptor) Encrypt(plainPath, cipherPath, publicKeyRef string) error {
	return os.WriteFile(cipherPath, []byte("cipher"), 0o640)
}

type collectingNotifier struct {
	topics []string
}

func (c *collectingNotifier) Notify(severity notify.Severity, topic, body string) {
	c.topics = append(c.topics, topic)
}

func newTestDriver(t *testing.T, root string, scanners []scan.Scanner) (*Driver, *collectingNotifier) {
	t.Helper()

	log, err := logging.New(logging.Settings{NoLogs: true, Level: "DEBUG"})
	require.NoError(t, err)

	notifier := &collectingNotifier{}

	cfg := config.Config{
		SourcePath:      filepath.Join(root, "source"),
		QuarantinePath:  filepath.Join(root, "quarantine"),
		DestinationPath: filepath.Join(root, "dest"),
		LogPath:         filepath.Join(root, "log"),
		LedgerFilePath:  filepath.Join(root, "ledger"),
		LockFilePath:    filepath.Join(root, "shuttle.lock"),
		MaxScanThreads:  2,
		ScanBounds:      config.ScanBounds{TimeoutSeconds: 5, RetryCount: 0},
	}

	for _, dir := range []string{cfg.SourcePath, cfg.QuarantinePath, cfg.DestinationPath} {
		require.NoError(t, os.MkdirAll(dir, 0o750))
	}

	return &Driver{
		Config:          cfg,
		Log:             log,
		Clock:           fixedClock{t: time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)},
		FS:              unlimitedFS{},
		Scanners:        scanners,
		Encryptor:       noopEncryptor{},
		Notifier:        notifier,
		Stability:       StabilityParams{ProbeInterval: time.Millisecond, Samples: 1},
		QueueSize:       8,
		PersistInterval: time.Hour,
	}, notifier
}

func TestRun_CleanFileReachesDestination(t *testing.T) {
	root := t.TempDir()
	cleanScanner := scriptedScanner{name: "clean", verdict: func(string) scan.Verdict { return scan.Verdict{Clean: true} }}

	driver, _ := newTestDriver(t, root, []scan.Scanner{cleanScanner})

	srcFile := filepath.Join(driver.Config.SourcePath, "report.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("quarterly numbers"), 0o640))

	summary, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Aggregate.Successful.Count)
	require.Zero(t, summary.Aggregate.Failed.Count)
	require.Zero(t, summary.Aggregate.Suspect.Count)

	require.FileExists(t, filepath.Join(driver.Config.DestinationPath, "report.txt"))
	require.FileExists(t, srcFile, "source untouched unless delete_source_files_after_copying is set")
}

func TestRun_ThreatIsQuarantinedNotDelivered(t *testing.T) {
	root := t.TempDir()
	threatScanner := scriptedScanner{name: "av", verdict: func(string) scan.Verdict { return scan.Verdict{ThreatName: "eicar"} }}

	driver, _ := newTestDriver(t, root, []scan.Scanner{threatScanner})
	driver.Config.HazardArchivePath = filepath.Join(root, "hazard")

	srcFile := filepath.Join(driver.Config.SourcePath, "malware.bin")
	require.NoError(t, os.WriteFile(srcFile, []byte("evil payload"), 0o640))

	summary, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Aggregate.Suspect.Count)

	entries, err := os.ReadDir(driver.Config.DestinationPath)
	require.NoError(t, err)
	require.Empty(t, entries, "a Suspect file must never reach the destination directory")
}

func TestRun_IsIdempotentUnderDoubleInvocationOfSameContent(t *testing.T) {
	root := t.TempDir()
	cleanScanner := scriptedScanner{name: "clean", verdict: func(string) scan.Verdict { return scan.Verdict{Clean: true} }}

	driver, _ := newTestDriver(t, root, []scan.Scanner{cleanScanner})

	srcFile := filepath.Join(driver.Config.SourcePath, "a.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("identical content"), 0o640))

	_, err := driver.Run(context.Background())
	require.NoError(t, err)

	// Same content reappears under a new name before the day rolls over.
	secondFile := filepath.Join(driver.Config.SourcePath, "a-again.txt")
	require.NoError(t, os.WriteFile(secondFile, []byte("identical content"), 0o640))

	summary, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Aggregate.Successful.Count, "identical content registered twice in one day must not double-count")
}

func TestRun_ThrottleRefusesOverCapacity(t *testing.T) {
	root := t.TempDir()
	cleanScanner := scriptedScanner{name: "clean", verdict: func(string) scan.Verdict { return scan.Verdict{Clean: true} }}

	driver, notifier := newTestDriver(t, root, []scan.Scanner{cleanScanner})
	driver.Config.Throttle = config.Throttle{Enabled: true, MaxFilesPerDay: 1}

	require.NoError(t, os.WriteFile(filepath.Join(driver.Config.SourcePath, "a.txt"), []byte("a"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(driver.Config.SourcePath, "b.txt"), []byte("b"), 0o640))

	summary, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.True(t, summary.RefusalSeen)
	require.Contains(t, notifier.topics, "throttled")
}

func TestRun_SecondRunSameDayDoesNotRecountCompletedWork(t *testing.T) {
	root := t.TempDir()
	cleanScanner := scriptedScanner{name: "clean", verdict: func(string) scan.Verdict { return scan.Verdict{Clean: true} }}

	driver, _ := newTestDriver(t, root, []scan.Scanner{cleanScanner})

	srcFile := filepath.Join(driver.Config.SourcePath, "a.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("payload"), 0o640))

	summary, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Aggregate.Successful.Count)
	require.Zero(t, summary.Aggregate.Pending.Count, "a completed run must leave no Pending records behind")

	// A second run the same day, with a.txt still in source, must not
	// recount the work already completed today.
	summary2, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary2.Aggregate.Successful.Count)
}
