package email

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/incident-bridge/internal/domain"
	"github.com/avolkov/incident-bridge/internal/notifications"
)

func validConfig() Config {
	return Config{
		Enabled:     true,
		SMTPHost:    "mail.internal",
		FromAddress: "noreply@incidents.example.com",
	}
}

func TestNewSender_Validation(t *testing.T) {
	t.Run("enabled without host", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTPHost = ""
		_, err := NewSender(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SMTP host is required")
	})

	t.Run("enabled without from address", func(t *testing.T) {
		cfg := validConfig()
		cfg.FromAddress = ""
		_, err := NewSender(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "from address is required")
	})

	t.Run("disabled skips validation", func(t *testing.T) {
		sender, err := NewSender(Config{Enabled: false})
		require.NoError(t, err)
		assert.NotNil(t, sender)
	})

	t.Run("valid", func(t *testing.T) {
		sender, err := NewSender(validConfig())
		require.NoError(t, err)
		assert.NotNil(t, sender)
	})
}

func TestNewSender_PortDefault(t *testing.T) {
	sender, err := NewSender(validConfig())
	require.NoError(t, err)
	assert.Equal(t, 587, sender.config.SMTPPort)
}

func TestNewSender_Auth(t *testing.T) {
	cfg := validConfig()
	cfg.SMTPUser = "bridge"
	cfg.SMTPPassword = "secret"

	withCreds, err := NewSender(cfg)
	require.NoError(t, err)
	assert.NotNil(t, withCreds.auth)

	withoutCreds, err := NewSender(validConfig())
	require.NoError(t, err)
	assert.Nil(t, withoutCreds.auth)
}

func TestSender_Type(t *testing.T) {
	sender, err := NewSender(validConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelTypeEmail, sender.Type())
}

func TestSender_SendDisabled(t *testing.T) {
	sender, err := NewSender(Config{Enabled: false})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifications.Notification{
		To:      "oncall@example.com",
		Subject: "Test",
		Body:    "body",
	})
	assert.NoError(t, err)
}

func TestExtractEmail(t *testing.T) {
	cases := map[string]string{
		"user@example.com":                                 "user@example.com",
		"On-Call <oncall@example.com>":                     "oncall@example.com",
		"<oncall@example.com>":                             "oncall@example.com",
		"IncidentBridge <noreply@incidents.example.com>":   "noreply@incidents.example.com",
		"broken<":                                          "broken<",
		"":                                                 "",
	}

	for input, want := range cases {
		assert.Equal(t, want, extractEmail(input), "input %q", input)
	}
}

func TestSender_BuildMessage(t *testing.T) {
	sender := &Sender{config: Config{FromAddress: "IncidentBridge <noreply@example.com>"}}

	msg := string(sender.buildMessage("Incident opened", "Details follow", "oncall@example.com"))

	assert.Contains(t, msg, "From: IncidentBridge <noreply@example.com>\r\n")
	assert.Contains(t, msg, "To: oncall@example.com\r\n")
	assert.Contains(t, msg, "Subject: Incident opened\r\n")
	assert.Contains(t, msg, "MIME-Version: 1.0\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nDetails follow"))
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		errors.New("421 Service not available"),
		errors.New("450 Requested mail action not taken"),
		errors.New("451 Requested action aborted"),
		errors.New("452 Insufficient system storage"),
		&timeoutError{},
		&net.OpError{Op: "dial", Err: errors.New("connection refused")},
	}
	for _, err := range retryable {
		assert.True(t, IsRetryable(err), "expected retryable: %v", err)
	}

	permanent := []error{
		nil,
		errors.New("550 No such user here"),
		errors.New("535 Authentication credentials invalid"),
		errors.New("template render failed"),
	}
	for _, err := range permanent {
		assert.False(t, IsRetryable(err), "expected permanent: %v", err)
	}
}
