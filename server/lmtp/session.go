package lmtp

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mailflow/rudder/helpers"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/pkg/metrics"
)

type session struct {
	backend *Backend
	remote  string

	sender     string
	recipients []string
}

func newSession(b *Backend, remote string) *session {
	return &session{backend: b, remote: remote}
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if helpers.DomainFromAddress(to) == "" {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, to)
	return nil
}

// Data reads the message once and runs the pipeline per recipient. LMTP
// requires one reply per accepted RCPT; go-smtp handles that via the
// StatusCollector when the session implements LMTPSession.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}

	for _, rcpt := range s.recipients {
		if err := s.processOne(raw, rcpt); err != nil {
			return err
		}
	}
	return nil
}

// LMTPData implements go-smtp's LMTPSession so each recipient gets its own
// status line.
func (s *session) LMTPData(r io.Reader, sc smtp.StatusCollector) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}

	for _, rcpt := range s.recipients {
		sc.SetStatus(rcpt, s.processOne(raw, rcpt))
	}
	return nil
}

func (s *session) processOne(raw []byte, recipient string) error {
	msg, err := helpers.NormalizeMessage(raw, s.sender, recipient, time.Now())
	if err != nil {
		metrics.IngestedMessagesTotal.WithLabelValues("lmtp", "malformed").Inc()
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}

	outcome, err := s.backend.processor.Process(s.backend.appCtx, &msg)
	if err != nil {
		metrics.IngestedMessagesTotal.WithLabelValues("lmtp", "dispatch_error").Inc()
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary processing failure, try again later",
		}
	}

	metrics.IngestedMessagesTotal.WithLabelValues("lmtp", string(outcome.State)).Inc()

	switch outcome.State {
	case pipeline.StateRouted:
		return nil
	case pipeline.StateUnresolved:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Unable to attribute message to a tenant",
		}
	default:
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 5},
			Message:      "Tenant configuration error",
		}
	}
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	s.backend.activeConnections.Add(-1)
	logger.Debug("LMTP connection closed", "remote", s.remote)
	return nil
}
