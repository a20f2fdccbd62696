// Package logging wires up the structured, leveled logger shared by
// every Shuttle component.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//nolint:gochecknoglobals
var (
	defaultColor = color.New()
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgHiRed)
	successColor = color.New(color.FgHiGreen)
)

// Settings controls where the logger writes and at what level.
type Settings struct {
	// LogDir is the directory holding the daily log file. Ignored when
	// NoLogs is set.
	LogDir string

	// NoLogs routes everything to stdout only; no files are created.
	NoLogs bool

	// Level is one of DEBUG, INFO, WARNING, ERROR, CRITICAL (spec §6).
	Level string
}

// Logger is a goroutine-safe *zap.SugaredLogger wrapper plus a
// colorized console writer used for the human-facing summary.
type Logger struct {
	*zap.SugaredLogger

	console *color.Color
	once    sync.Once
}

// New builds a Logger per settings. It creates LogDir eagerly (when file
// logging is enabled) so permission problems on a scheduled run surface
// at startup rather than on the first write.
func New(settings Settings) (*Logger, error) {
	level := parseLevel(settings.Level)

	var core zapcore.Core

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if settings.NoLogs {
		core = zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.AddSync(colorable.NewColorableStdout()),
			level,
		)
	} else {
		if settings.LogDir == "" {
			return nil, errNoLogDir
		}
		if err := os.MkdirAll(settings.LogDir, 0o750); err != nil {
			return nil, err
		}

		date := time.Now().Format("2006-01-02")
		logFile := filepath.Join(settings.LogDir, "shuttle_"+date+".log")

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
		if err != nil {
			return nil, err
		}

		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), level)
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(colorable.NewColorableStdout()), zapcore.WarnLevel)
		core = zapcore.NewTee(fileCore, consoleCore)
	}

	z := zap.New(core)

	return &Logger{SugaredLogger: z.Sugar(), console: defaultColor}, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARNING", "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "CRITICAL":
		return zapcore.DPanicLevel
	default:
		return zapcore.InfoLevel
	}
}

// Summary prints a colorized end-of-run line to stdout, independent of
// the structured log sink, for operators watching an interactive run.
func (l *Logger) Summary(msg string, ok bool) {
	if ok {
		successColor.Println(msg)
		return
	}
	warningColor.Println(msg)
}

// FatalLine prints msg in red to stderr; used only for conditions the
// driver has already decided are unrecoverable. It does not exit: the
// caller chooses the exit code.
func (l *Logger) FatalLine(msg string) {
	errorColor.Fprintln(os.Stderr, msg)
}

var errNoLogDir = &dirError{"log dir is empty"}

type dirError struct{ s string }

func (e *dirError) Error() string { return e.s }
