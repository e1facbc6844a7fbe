package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"

	"github.com/avwx-rest/account-backend/pkg/observability"
)

// Config holds SMTP settings. An empty Host puts the mailer in log-only mode
// for local development.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends transactional account mail over SMTP.
type SMTPMailer struct {
	cfg     Config
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewSMTPMailer creates a new SMTPMailer.
func NewSMTPMailer(cfg Config, logger *slog.Logger, metrics observability.Metrics) *SMTPMailer {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SMTPMailer{cfg: cfg, logger: logger, metrics: metrics}
}

// SendVerification mails the email confirmation link.
func (m *SMTPMailer) SendVerification(ctx context.Context, email, link string) error {
	return m.send(ctx, email, "verification", "Confirm your email address", verificationTmpl, map[string]string{"Link": link})
}

// SendPasswordReset mails the password reset link.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	return m.send(ctx, email, "password_reset", "Reset your password", passwordResetTmpl, map[string]string{"Link": link})
}

// SendDisableWarning mails a failed-payment warning with a billing portal
// link.
func (m *SMTPMailer) SendDisableWarning(ctx context.Context, email, portalURL string) error {
	return m.send(ctx, email, "disable_warning", "Payment failed - action required", disableWarningTmpl, map[string]string{"Link": portalURL})
}

// SendDisabled mails the account disabled notice.
func (m *SMTPMailer) SendDisabled(ctx context.Context, email string) error {
	return m.send(ctx, email, "disabled", "Your account has been disabled", disabledTmpl, nil)
}

// SendReEnabled mails the account re-enabled notice.
func (m *SMTPMailer) SendReEnabled(ctx context.Context, email string) error {
	return m.send(ctx, email, "re_enabled", "Your account has been re-enabled", reEnabledTmpl, nil)
}

// SendEmailChanged notifies the previous address about the change.
func (m *SMTPMailer) SendEmailChanged(ctx context.Context, oldEmail, newEmail string) error {
	return m.send(ctx, oldEmail, "email_changed", "Your account email was changed", emailChangedTmpl, map[string]string{"NewEmail": newEmail})
}

func (m *SMTPMailer) send(ctx context.Context, to, kind, subject string, tmpl *template.Template, data map[string]string) error {
	if m.cfg.Host == "" {
		m.logger.Info("mail suppressed, no smtp host configured", "kind", kind, "to", to)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n", m.cfg.From, to, subject)
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("rendering %s mail: %w", kind, err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, body.Bytes()); err != nil {
		m.metrics.Counter(observability.MetricMailErrors, 1, observability.T("kind", kind))
		return fmt.Errorf("sending %s mail: %w", kind, err)
	}
	m.metrics.Counter(observability.MetricMailSent, 1, observability.T("kind", kind))
	return nil
}

var verificationTmpl = template.Must(template.New("verification").Parse(
	`Welcome!

Please confirm your email address by opening the link below:

{{.Link}}

If you did not create this account, you can ignore this mail.
`))

var passwordResetTmpl = template.Must(template.New("password_reset").Parse(
	`A password reset was requested for your account.

Open the link below to choose a new password:

{{.Link}}

If you did not request this, you can ignore this mail.
`))

var disableWarningTmpl = template.Must(template.New("disable_warning").Parse(
	`We could not process your last payment.

Please update your payment details here to keep your account active:

{{.Link}}
`))

var disabledTmpl = template.Must(template.New("disabled").Parse(
	`Your account has been disabled after repeated failed payments.

Log in to update your payment details and restore access.
`))

var reEnabledTmpl = template.Must(template.New("re_enabled").Parse(
	`Your payment went through and your account has been re-enabled.

Thank you!
`))

var emailChangedTmpl = template.Must(template.New("email_changed").Parse(
	`The email address on your account was changed to {{.NewEmail}}.

If this was not you, contact support immediately.
`))
