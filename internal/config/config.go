// Package config loads Shuttle's INI configuration (spec §6). Each key
// takes its value from the file, or a default when absent. Only the
// config file's own path is resolved from a CLI flag or the
// environment (ResolveEnvOverride); individual keys have no CLI or
// environment override.
package config

import (
	"os"
	"strings"

	"github.com/go-ini/ini"

	"github.com/shuttle-av/shuttle/internal/errs"
)

// Scanners enumerates the scanner set a run is configured with. At
// least one must be enabled (spec §6).
type Scanners struct {
	Defender bool
	ClamAV   bool
}

// Enabled reports whether any scanner is turned on.
func (s Scanners) Enabled() bool { return s.Defender || s.ClamAV }

// Throttle holds the admission-control parameters from spec §4.3.
type Throttle struct {
	Enabled             bool
	FreeSpaceMB         int64
	MaxFilesPerDay      int64 // 0 = unlimited
	MaxVolumeMBPerRun   int64 // 0 = unlimited
	MaxVolumeMBPerDay   int64 // 0 = unlimited
}

// ScanBounds holds the per-scanner timeout/retry parameters from
// spec §6 [scanning].
type ScanBounds struct {
	TimeoutSeconds    int
	TimeoutMsPerByte  float64
	RetryWaitSeconds  int
	RetryCount        int
}

// Notifications holds the [notifications] section.
type Notifications struct {
	Notify        bool
	NotifySummary bool
	Recipients    []string
	Sender        string
	SMTPServer    string
	SMTPPort      int
	Username      string
	Password      string
	UseTLS        bool
}

// Config is the single struct plumbed through construction (spec §9:
// "Configuration is one struct plumbed through construction").
type Config struct {
	// [paths]
	SourcePath            string
	QuarantinePath        string
	DestinationPath       string
	HazardArchivePath     string
	LogPath               string
	LedgerFilePath        string
	HazardEncryptionKeyPath string
	LockFilePath          string

	// [settings]
	MaxScanThreads               int
	DeleteSourceAfterCopying     bool
	DefenderHandlesSuspectFiles  bool
	Scanners                     Scanners
	Throttle                     Throttle

	// [scanning]
	ScanBounds ScanBounds

	// [logging]
	LogLevel string

	// [notifications]
	Notifications Notifications

	// Diagnostic-only (SPEC_FULL.md §DOMAIN STACK): an optional cron
	// expression describing the scheduler that is expected to invoke
	// this binary, surfaced in the summary notification. Shuttle never
	// schedules itself off it.
	ScheduleCronExpr string

	// Metrics push gateway, optional.
	MetricsPushAddr string
	MetricsJobName  string
}

// ShuttleConfigEnvVar names the environment variable that points at the
// config file (spec §6: "a single variable points at the config file;
// its name is not part of the core contract" — shuttle names it here
// for the CLI entrypoint only).
const ShuttleConfigEnvVar = "SHUTTLE_CONFIG_FILE"

// Load reads path (an INI file) and validates it, applying required
// fields and returning a ConfigInvalid-kinded error when something is
// missing or contradictory.
func Load(path string) (Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Config{}, errs.Wrapf(errs.KindConfigInvalid, err, "reading config file %q", path)
	}

	var cfg Config

	paths := f.Section("paths")
	cfg.SourcePath = paths.Key("source_path").String()
	cfg.QuarantinePath = paths.Key("quarantine_path").String()
	cfg.DestinationPath = paths.Key("destination_path").String()
	cfg.HazardArchivePath = paths.Key("hazard_archive_path").String()
	cfg.LogPath = paths.Key("log_path").String()
	cfg.LedgerFilePath = paths.Key("ledger_file_path").String()
	cfg.HazardEncryptionKeyPath = paths.Key("hazard_encryption_key_path").String()
	cfg.LockFilePath = paths.Key("lock_file_path").String()

	settings := f.Section("settings")
	cfg.MaxScanThreads = settings.Key("max_scan_threads").MustInt(1)
	cfg.DeleteSourceAfterCopying = settings.Key("delete_source_files_after_copying").MustBool(false)
	cfg.DefenderHandlesSuspectFiles = settings.Key("defender_handles_suspect_files").MustBool(false)
	cfg.Scanners.Defender = settings.Key("on_demand_defender").MustBool(false)
	cfg.Scanners.ClamAV = settings.Key("on_demand_clam_av").MustBool(false)

	cfg.Throttle.Enabled = settings.Key("throttle").MustBool(false)
	cfg.Throttle.FreeSpaceMB = settings.Key("throttle_free_space_mb").MustInt64(0)
	cfg.Throttle.MaxFilesPerDay = settings.Key("throttle_max_file_count_per_day").MustInt64(0)
	cfg.Throttle.MaxVolumeMBPerRun = settings.Key("throttle_max_file_volume_per_run_mb").MustInt64(0)
	cfg.Throttle.MaxVolumeMBPerDay = settings.Key("throttle_max_file_volume_per_day_mb").MustInt64(0)

	scanning := f.Section("scanning")
	cfg.ScanBounds.TimeoutSeconds = scanning.Key("malware_scan_timeout_seconds").MustInt(60)
	cfg.ScanBounds.TimeoutMsPerByte = scanning.Key("malware_scan_timeout_ms_per_byte").MustFloat64(0)
	cfg.ScanBounds.RetryWaitSeconds = scanning.Key("malware_scan_retry_wait_seconds").MustInt(5)
	cfg.ScanBounds.RetryCount = scanning.Key("malware_scan_retry_count").MustInt(2)

	logging := f.Section("logging")
	cfg.LogLevel = logging.Key("log_level").MustString("INFO")

	notif := f.Section("notifications")
	cfg.Notifications.Notify = notif.Key("notify").MustBool(false)
	cfg.Notifications.NotifySummary = notif.Key("notify_summary").MustBool(false)
	if recips := notif.Key("recipient_email").String(); recips != "" {
		for _, r := range strings.Split(recips, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Notifications.Recipients = append(cfg.Notifications.Recipients, r)
			}
		}
	}
	cfg.Notifications.Sender = notif.Key("sender_email").String()
	cfg.Notifications.SMTPServer = notif.Key("smtp_server").String()
	cfg.Notifications.SMTPPort = notif.Key("smtp_port").MustInt(587)
	cfg.Notifications.Username = notif.Key("username").String()
	cfg.Notifications.Password = notif.Key("password").String()
	cfg.Notifications.UseTLS = notif.Key("use_tls").MustBool(true)

	diag := f.Section("diagnostics")
	cfg.ScheduleCronExpr = diag.Key("schedule_cron_expr").String()
	cfg.MetricsPushAddr = diag.Key("metrics_push_addr").String()
	cfg.MetricsJobName = diag.Key("metrics_job_name").MustString("shuttle")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces the required-paths and contradictory-selection
// rules from spec §6/§7 (ConfigInvalid).
func (c Config) Validate() error {
	required := map[string]string{
		"paths.source_path":      c.SourcePath,
		"paths.quarantine_path":  c.QuarantinePath,
		"paths.destination_path": c.DestinationPath,
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			return errs.Newf(errs.KindConfigInvalid, "missing required config key %q", key)
		}
	}

	if !c.Scanners.Enabled() {
		return errs.New(errs.KindConfigInvalid, "at least one of settings.on_demand_defender or settings.on_demand_clam_av must be true")
	}

	if c.MaxScanThreads < 1 {
		return errs.Newf(errs.KindConfigInvalid, "settings.max_scan_threads must be >= 1, got %d", c.MaxScanThreads)
	}

	if c.Notifications.Notify && len(c.Notifications.Recipients) == 0 {
		return errs.New(errs.KindConfigInvalid, "notifications.notify is true but notifications.recipient_email is empty")
	}

	return nil
}

// ResolveEnvOverride returns the config file path to load, honoring
// the environment-variable indirection from spec §6.
func ResolveEnvOverride(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(ShuttleConfigEnvVar); v != "" {
		return v
	}
	return ""
}
