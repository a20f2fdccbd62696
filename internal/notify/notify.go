// Package notify implements the Notifier collaborator contract (spec
// §4.8, §1: "best-effort, must not throw into callers") plus the
// concrete senders Shuttle ships: an email sender and a colorized
// console sender for interactive runs.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/fatih/color"

	"github.com/shuttle-av/shuttle/internal/config"
	"github.com/shuttle-av/shuttle/internal/logging"
)

// Severity classifies a notification for display/formatting.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Notifier is the abstract capability the driver and Throttler invoke
// (spec §4.8). Implementations must never propagate a failure to the
// caller; log and swallow instead.
type Notifier interface {
	Notify(severity Severity, topic, body string)
}

// Multi fans a single Notify call out to every configured sender.
type Multi struct {
	senders []Notifier
}

// NewMulti builds a Multi from any number of senders.
func NewMulti(senders ...Notifier) Multi {
	return Multi{senders: senders}
}

func (m Multi) Notify(severity Severity, topic, body string) {
	for _, s := range m.senders {
		s.Notify(severity, topic, body)
	}
}

// ConsoleNotifier prints notifications to stdout, colorized by
// severity, the same palette the teacher's CLI package uses for
// warning/error output.
type ConsoleNotifier struct {
	log *logging.Logger
}

// NewConsole builds a ConsoleNotifier.
func NewConsole(log *logging.Logger) ConsoleNotifier { return ConsoleNotifier{log: log} }

func (c ConsoleNotifier) Notify(severity Severity, topic, body string) {
	line := fmt.Sprintf("[%s] %s", topic, body)
	switch severity {
	case SeverityError:
		color.New(color.FgHiRed).Println(line)
	case SeverityWarning:
		color.New(color.FgYellow).Println(line)
	default:
		color.New(color.FgHiCyan).Println(line)
	}
}

// EmailNotifier sends notifications over SMTP using net/smtp (the
// standard library's client; no third-party SMTP client appears
// anywhere in the retrieval pack's dependency surface — only a mock
// *server* for tests — so this is the one ambient-concern exception
// built on the standard library, per SPEC_FULL.md/DESIGN.md).
type EmailNotifier struct {
	cfg config.Notifications
	log *logging.Logger
}

// NewEmail builds an EmailNotifier from the [notifications] config
// section.
func NewEmail(cfg config.Notifications, log *logging.Logger) EmailNotifier {
	return EmailNotifier{cfg: cfg, log: log}
}

func (e EmailNotifier) Notify(severity Severity, topic, body string) {
	if !e.cfg.Notify || len(e.cfg.Recipients) == 0 {
		return
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPServer, e.cfg.SMTPPort)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPServer)
	}

	subject := fmt.Sprintf("[shuttle] %s: %s", severityLabel(severity), topic)
	msg := buildMessage(e.cfg.Sender, e.cfg.Recipients, subject, body)

	if err := smtp.SendMail(addr, auth, e.cfg.Sender, e.cfg.Recipients, []byte(msg)); err != nil {
		// Notifier failures are swallowed after logging (spec §7):
		// they never influence processing outcomes.
		if e.log != nil {
			e.log.Warnw("email notification failed", "topic", topic, "error", err)
		}
	}
}

func severityLabel(s Severity) string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func buildMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}
