package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/config"

	mail "github.com/wneessen/go-mail"
)

// Notifier delivers a plain-text message to a recipient. The account
// service uses it to send password-reset links; it never sees tokens
// beyond the message body it is given.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPNotifier(cfg config.Config) *SMTPNotifier {
	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.MailFrom,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return err
	}
	if err := m.To(to); err != nil {
		return err
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(n.port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if n.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.username),
			mail.WithPassword(n.password),
		)
	}
	c, err := mail.NewClient(n.host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, m)
}

// LogNotifier writes notifications to the log instead of delivering
// them. Used when no SMTP relay is configured (local development).
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.Logger.Infow("notification (mail not configured)", "to", to, "subject", subject)
	return nil
}
