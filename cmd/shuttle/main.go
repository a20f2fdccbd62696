// Command shuttle is the entrypoint binary: it loads configuration,
// wires the concrete collaborators, and runs one PipelineDriver pass.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/shuttle-av/shuttle/internal/clockfs"
	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/encrypt"
	"github.com/shuttle-av/shuttle/internal/errs"
	"github.com/shuttle-av/shuttle/internal/logging"
	"github.com/shuttle-av/shuttle/internal/metrics"
	"github.com/shuttle-av/shuttle/internal/notify"
	"github.com/shuttle-av/shuttle/internal/scan"
	"github.com/shuttle-av/shuttle/internal/shuttle"
)

var (
	app        = kingpin.New("shuttle", "Scans and relocates files through a quarantine gate.")
	configFlag = app.Flag("config", "Path to the INI configuration file; overrides "+config.ShuttleConfigEnvVar+".").Short('c').String()
	noLogsFlag = app.Flag("no-logs", "Write only to stdout; skip the daily log file.").Bool()
	dryRun     = app.Flag("dry-run", "Turn off delete_source_files_after_copying for this run; files are still copied, scanned and moved, and suspect source files are still archived.").Bool()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfgPath := config.ResolveEnvOverride(*configFlag)
	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "shuttle: no configuration file given (use --config or "+config.ShuttleConfigEnvVar+")")
		os.Exit(errs.ExitConfigInvalid)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "shuttle: "+err.Error())
		os.Exit(errs.ExitCode(err))
	}

	log, err := logging.New(logging.Settings{LogDir: cfg.LogPath, NoLogs: *noLogsFlag, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "shuttle: failed to initialize logging: "+err.Error())
		os.Exit(errs.ExitFatalIO)
	}
	defer log.Sync() //nolint:errcheck

	if *dryRun {
		cfg.DeleteSourceAfterCopying = false
	}

	driver := buildDriver(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := driver.Run(ctx)

	if runErr != nil {
		log.Errorw("run failed", "run_id", summary.RunID, "error", runErr)
		log.FatalLine(runErr.Error())
	} else {
		log.Summary(fmt.Sprintf("run %s complete: %d success, %d suspect, %d failed",
			summary.RunID, summary.Aggregate.Successful.Count, summary.Aggregate.Suspect.Count, summary.Aggregate.Failed.Count), true)
	}

	os.Exit(exitCode(summary, runErr))
}

// exitCode maps the run's outcome to spec §6's stable exit codes,
// distinguishing a run that completed but left Failed records behind
// from one that errored outright.
func exitCode(summary shuttle.Summary, runErr error) int {
	if runErr != nil {
		return errs.ExitCode(runErr)
	}
	if summary.Aggregate.Failed.Count > 0 {
		return errs.ExitPartialFailureWithFailed
	}
	return errs.ExitSuccess
}

// buildDriver wires every collaborator contract from spec §4.8 to its
// concrete, config-driven implementation.
func buildDriver(cfg config.Config, log *logging.Logger) *shuttle.Driver {
	var scanners []scan.Scanner

	if cfg.Scanners.Defender {
		scanners = append(scanners, &scan.ExecScanner{
			ScannerName: "defender",
			Command:     "mdatp",
			Args:        []string{"scan", "custom", "--path", "{path}"},
			Adapt:       scan.ThreatPatternAdapter([]int{0}, regexp.MustCompile(`Threat:\s*(\S+)`)),
		})
	}
	if cfg.Scanners.ClamAV {
		scanners = append(scanners, &scan.ExecScanner{
			ScannerName: "clamav",
			Command:     "clamdscan",
			Args:        []string{"--no-summary", "{path}"},
			Adapt:       scan.ThreatPatternAdapter([]int{0}, regexp.MustCompile(`:\s*(\S+)\s+FOUND`)),
		})
	}

	notifier := notify.NewMulti(
		notify.NewConsole(log),
		notify.NewEmail(cfg.Notifications, log),
	)

	var reg *metrics.Registry
	if cfg.MetricsPushAddr != "" {
		reg = metrics.NewRegistry()
	}

	return &shuttle.Driver{
		Config:    cfg,
		Log:       log,
		Clock:     clockfs.SystemClock{},
		FS:        clockfs.OSFS{},
		Scanners:  scanners,
		Encryptor: encrypt.GPGEncryptor{},
		Notifier:  notifier,
		Metrics:   reg,
		Stability:       shuttle.StabilityParams{ProbeInterval: defaultProbeInterval, Samples: defaultStabilitySamples},
		QueueSize:       defaultQueueSize,
		PersistInterval: defaultPersistInterval,
	}
}

const (
	defaultProbeInterval    = 2 * time.Second
	defaultStabilitySamples = 2
	defaultQueueSize        = 64
	defaultPersistInterval  = 30 * time.Second
)
