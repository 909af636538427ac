package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	gomail "gopkg.in/mail.v2"

	"compintel/internal/config"
	"compintel/internal/logging"
)

// Service defines the notification surface used by the pipeline.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary RunSummary) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

var summaryTemplate = template.Must(template.New("summary").Parse(summaryHTMLTemplate))

// Option customizes the email service.
type Option func(*emailService)

// WithDialer replaces the SMTP dialer (useful for tests).
func WithDialer(d Dialer) Option {
	return func(s *emailService) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *emailService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Configured reports whether [notifications] is enabled with a host and at
// least one recipient.
func Configured(cfg *config.Config) bool {
	n := cfg.Notifications
	return n.Enabled && n.SMTPHost != "" && len(n.To) > 0
}

// NewService builds an SMTP-backed service. Disabled or incomplete settings
// yield a no-op implementation.
func NewService(cfg *config.Config, opts ...Option) Service {
	if !Configured(cfg) {
		return noopService{}
	}
	n := cfg.Notifications
	timeout := time.Duration(n.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := gomail.NewDialer(n.SMTPHost, n.SMTPPort, n.SMTPUser, n.SMTPPass)
	dialer.Timeout = timeout

	svc := &emailService{
		from:          n.From,
		to:            append([]string(nil), n.To...),
		onlyOnFailure: n.OnlyOnFailure,
		dialer:        dialer,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type emailService struct {
	from          string
	to            []string
	onlyOnFailure bool
	dialer        Dialer
	logger        *slog.Logger
}

type rendered struct {
	subject string
	text    string
	html    string
}

func (e *emailService) NotifyRunCompleted(ctx context.Context, summary RunSummary) error {
	if e.onlyOnFailure && !summary.Failed() {
		return nil
	}
	var htmlBuf bytes.Buffer
	if err := summaryTemplate.Execute(&htmlBuf, summary.htmlView()); err != nil {
		return fmt.Errorf("render summary email: %w", err)
	}
	return e.send(ctx, rendered{
		subject: summary.subject(),
		text:    renderPlainText(summary),
		html:    htmlBuf.String(),
	})
}

func (e *emailService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return e.send(ctx, rendered{
		subject: "[compintel] run failed",
		text:    builder.String(),
	})
}

func (e *emailService) TestNotification(ctx context.Context) error {
	return e.send(ctx, rendered{
		subject: "[compintel] test",
		text:    "Notification system test",
	})
}

func (e *emailService) send(ctx context.Context, msg rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", msg.subject)
	m.SetBody("text/plain", msg.text)
	if msg.html != "" {
		m.AddAlternative("text/html", msg.html)
	}

	if err := e.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email %q: %w", msg.subject, err)
	}
	logging.WithContext(ctx, e.logger).Info("notification sent",
		logging.String("subject", msg.subject),
		logging.Int("recipients", len(e.to)),
	)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunSummary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error     { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
