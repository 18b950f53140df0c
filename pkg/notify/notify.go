// Package notify delivers transactional email for the paper lifecycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"golang.org/x/sync/errgroup"
	"gopkg.in/gomail.v2"
)

// Message is one notification. Data feeds the Kind's template.
type Message struct {
	Kind Kind              `json:"kind"`
	To   []string          `json:"to"`
	Data map[string]string `json:"data,omitempty"`
}

// Notifier delivers a message or reports why it could not.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// EmailDialer is satisfied by *gomail.Dialer.
type EmailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier renders templates and sends them immediately over SMTP.
type SMTPNotifier struct {
	Dialer    EmailDialer
	From      string
	Templates Templates
}

// NewSMTPNotifier builds a notifier with a gomail dialer.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	return &SMTPNotifier{
		Dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		From:      cfg.From,
		Templates: NewTemplates(),
	}, nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("notification has no recipients")
	}
	subject, body, err := n.Templates.Render(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// gomail has no context support; the send keeps running in the
	// background when ctx expires first.
	sent := make(chan error, 1)
	go func() { sent <- n.Dialer.DialAndSend(m) }()
	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("dialing and sending email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending email: %w", ctx.Err())
	}
}

// LogNotifier renders messages and writes them to the log instead of
// sending them. It is the development default.
type LogNotifier struct {
	Templates Templates
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{Templates: NewTemplates()}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	subject, body, err := n.Templates.Render(msg)
	if err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("email_not_sent",
		"kind", string(msg.Kind),
		"to", msg.To,
		"subject", subject,
		"body", body,
	)
	return nil
}

// Dispatcher sends best-effort notifications concurrently. Failures are
// logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout}
}

// Dispatch delivers every message and returns once all of them finish or
// the timeout elapses, whichever is first. Notifiers that ignore their
// context are left running in the background. The caller's cancellation
// does not abort delivery of committed events.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	if d == nil || d.notifier == nil || len(msgs) == 0 {
		return
	}
	logger := util.LoggerFromContext(ctx)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, msg := range msgs {
		g.Go(func() error {
			if err := d.notifier.Notify(sendCtx, msg); err != nil {
				logger.Warn("notification_failed",
					"kind", string(msg.Kind),
					"to", maskAll(msg.To),
					"err", err,
				)
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debug("notifications_dispatched", slog.Int("count", len(msgs)))
	case <-sendCtx.Done():
		logger.Warn("notifications_timed_out", slog.Int("count", len(msgs)), slog.Duration("timeout", d.timeout))
	}
}

func maskAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, util.MaskEmail(a))
	}
	return out
}
