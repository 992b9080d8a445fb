// Package mailer delivers verification and password-reset codes.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/gomail.v2"
)

type Email struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, email Email) error
}

// SMTPSender dials the configured relay once per message.
type SMTPSender struct {
	from   string
	dialer *gomail.Dialer
}

func NewSMTPSender(host string, port int, username string, password string, from string) *SMTPSender {
	return &SMTPSender{
		from:   from,
		dialer: gomail.NewDialer(host, port, username, password),
	}
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if email.To == "" {
		return errors.New("no recipient specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.Body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. It is the
// development fallback when no SMTP host is configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.log.Info("mail not sent; SMTP is not configured", "to", email.To, "subject", email.Subject, "body", email.Body)
	return nil
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Email
}

func (r *Recorder) Send(_ context.Context, email Email) error {
	r.mu.Lock()
	r.sent = append(r.sent, email)
	r.mu.Unlock()
	return nil
}

// Last returns the most recent message sent to the address.
func (r *Recorder) Last(to string) (Email, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == to {
			return r.sent[i], true
		}
	}
	return Email{}, false
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
