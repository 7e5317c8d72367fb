// Package notify implements the outbound notification pipeline: the mail
// collaborator contract, template rendering, booking-event scheduling, and
// the polling delivery worker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mail "gopkg.in/mail.v2"
)

// Message is the outbound mail payload handed to the Mailer.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer is the external mail-sending collaborator contract. Send either
// succeeds with a delivery identifier or returns an error; permanent errors
// (never worth retrying) are wrapped in *PermanentError.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// PermanentError marks a delivery failure that a retry cannot fix: invalid
// recipient, missing template, deleted booking. The worker fails such items
// immediately instead of burning attempts.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }

// Unwrap exposes the underlying cause.
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsPermanent reports whether err carries the permanent classification.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// SMTPMailer sends mail over SMTP. A hard dial/send timeout is applied so one
// stuck attempt cannot stall a worker batch.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Send implements Mailer. The context deadline (if any) and the configured
// timeout both bound the attempt.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	message := mail.NewMessage()
	message.SetHeader("From", m.From)
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		message.AddAlternative("text/html", msg.HTML)
	}

	dialer := mail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer.Timeout = timeout

	done := make(chan error, 1)
	go func() { done <- dialer.DialAndSend(message) }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", err
		}
	}
	return uuid.NewString(), nil
}
