package notify

import (
	"strings"
	"testing"
	"time"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"
	"github.com/stretchr/testify/require"

	"github.com/shuttle-av/shuttle/internal/config"
)

const (
	testTimeout  = 2 * time.Second
	testInterval = 10 * time.Millisecond
)

type recordingNotifier struct {
	calls []string
}

func (r *recordingNotifier) Notify(severity Severity, topic, body string) {
	r.calls = append(r.calls, topic)
}

func TestMulti_FansOutToEverySender(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}

	m := NewMulti(a, b)
	m.Notify(SeverityWarning, "throttled", "disk low on /data")

	require.Equal(t, []string{"throttled"}, a.calls)
	require.Equal(t, []string{"throttled"}, b.calls)
}

func TestEmailNotifier_DoesNothingWhenDisabled(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	defer server.Stop() //nolint:errcheck

	cfg := config.Notifications{
		Notify:     false,
		Recipients: []string{"ops@example.com"},
		SMTPServer: "127.0.0.1",
		SMTPPort:   server.PortNumber(),
	}

	n := NewEmail(cfg, nil)
	n.Notify(SeverityInfo, "run summary", "all clean")

	require.Empty(t, server.Messages())
}

func TestEmailNotifier_SendsWhenConfigured(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	defer server.Stop() //nolint:errcheck

	cfg := config.Notifications{
		Notify:     true,
		Sender:     "shuttle@example.com",
		Recipients: []string{"ops@example.com"},
		SMTPServer: "127.0.0.1",
		SMTPPort:   server.PortNumber(),
	}

	n := NewEmail(cfg, nil)
	n.Notify(SeverityError, "run failed", "lock contended")

	require.Eventually(t, func() bool {
		return len(server.Messages()) == 1
	}, testTimeout, testInterval)

	msg := server.Messages()[0].MsgRequest()
	require.True(t, strings.Contains(msg, "run failed"))
	require.True(t, strings.Contains(msg, "shuttle@example.com"))
}
