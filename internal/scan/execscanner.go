package scan

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// maxCapturedOutput bounds how much of a scanner subprocess's
// stdout/stderr is retained, preventing a runaway or malicious process
// from exhausting memory (spec §9 design note).
const maxCapturedOutput = 64 * 1024

// AdaptFunc maps a finished process's exit code and captured output to
// a Verdict. One AdaptFunc is supplied per configured scanner, keeping
// ExecScanner itself ignorant of any specific antivirus product's
// conventions (SPEC_FULL.md supplemented feature #5).
type AdaptFunc func(exitCode int, combinedOutput []byte, timedOut bool) Verdict

// ExecScanner runs an operator-configured external command against a
// file and adapts its result via Adapt. It is the one concrete Scanner
// implementation the core ships, deliberately generic: which binary it
// runs and how that binary's output maps to Clean/Threat/Error is all
// configuration, not code (spec §1: Defender/ClamAV wrappers
// themselves are out of scope).
type ExecScanner struct {
	ScannerName string
	Command     string
	Args        []string // may contain the literal token "{path}", substituted with the scan target
	Adapt       AdaptFunc
}

func (e *ExecScanner) Name() string { return e.ScannerName }

// Scan implements Scanner. ctx's deadline bounds the subprocess; on
// expiry the whole process group is killed so descendants (e.g. a
// scanner that forks a helper) do not outlive the timeout (spec §9).
func (e *ExecScanner) Scan(ctx context.Context, path string, size int64) Verdict {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		if a == "{path}" {
			a = path
		}
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, e.Command, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &boundedWriter{buf: &out, max: maxCapturedOutput}
	cmd.Stderr = cmd.Stdout

	cmd.Cancel = func() error {
		// Negative pid targets the whole process group created above.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	err := cmd.Run()

	timedOut := ctx.Err() == context.DeadlineExceeded

	exitCode := 0
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
	} else if err != nil && !timedOut {
		return Verdict{ErrKind: "exec", ErrDetail: err.Error()}
	}

	return e.Adapt(exitCode, out.Bytes(), timedOut)
}

// boundedWriter caps how many bytes it retains, discarding the rest,
// so a chatty or adversarial scanner process cannot blow up memory.
type boundedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

// ThreatPatternAdapter builds an AdaptFunc for the common convention:
// output matching threatRE means Threat whatever the exit code;
// otherwise an exit code listed in cleanExitCodes means Clean, and
// anything else (including a timeout) is an Error. threatRE's first
// capture group, if it has one, names the threat; without one the name
// is "unknown".
func ThreatPatternAdapter(cleanExitCodes []int, threatRE *regexp.Regexp) AdaptFunc {
	isClean := func(code int) bool {
		for _, c := range cleanExitCodes {
			if c == code {
				return true
			}
		}
		return false
	}

	return func(exitCode int, output []byte, timedOut bool) Verdict {
		if timedOut {
			return Verdict{ErrKind: "timeout", ErrDetail: "scan exceeded configured timeout"}
		}

		if m := threatRE.FindSubmatch(output); m != nil {
			name := "unknown"
			if len(m) > 1 {
				name = string(m[1])
			}
			return Verdict{ThreatName: name}
		}

		if isClean(exitCode) {
			return Verdict{Clean: true}
		}

		return Verdict{ErrKind: "exit_code", ErrDetail: strconv.Itoa(exitCode)}
	}
}
