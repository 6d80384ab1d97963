// Package alert delivers critical, operator-facing alerts: sagas whose
// compensation failed and ledgers that disagree with themselves.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"fulfillment-backend-trusted/internal/logger"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Kind string

const (
	KindCompensationFailed Kind = "compensation_failed"
	KindLedgerCorruption   Kind = "ledger_corruption"
	KindIntegrityViolation Kind = "integrity_violation"
	KindStaleSaga          Kind = "stale_saga"
)

type Alert struct {
	Kind    Kind
	Subject string
	Fields  map[string]any
}

func (a Alert) body() string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Subject)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.Fields[k])
	}
	return b.String()
}

type Alerter interface {
	Critical(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct{}

func (LogAlerter) Critical(ctx context.Context, a Alert) error {
	args := []any{"alert", string(a.Kind)}
	for k, v := range a.Fields {
		args = append(args, k, v)
	}
	logger.ErrorContext(ctx, "CRITICAL: "+a.Subject, args...)
	return nil
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridAlerter emails every recipient.
type SendGridAlerter struct {
	client     mailSender
	from       *mail.Email
	recipients []string
}

func NewSendGridAlerter(apiKey, fromEmail, fromName string, recipients []string) *SendGridAlerter {
	return &SendGridAlerter{
		client:     sendgrid.NewSendClient(apiKey),
		from:       mail.NewEmail(fromName, fromEmail),
		recipients: recipients,
	}
}

func (s *SendGridAlerter) Critical(ctx context.Context, a Alert) error {
	subject := fmt.Sprintf("[CRITICAL] %s", a.Subject)

	message := mail.NewV3Mail()
	message.SetFrom(s.from)
	message.Subject = subject
	p := mail.NewPersonalization()
	for _, r := range s.recipients {
		p.AddTos(mail.NewEmail("", r))
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", a.body()))

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		logger.ExternalServiceResult("sendgrid", "send", err, "alert", string(a.Kind))
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
		logger.ExternalServiceResult("sendgrid", "send", err, "alert", string(a.Kind))
		return err
	}
	logger.ExternalServiceResult("sendgrid", "send", nil, "alert", string(a.Kind))
	return nil
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Critical(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Critical(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
