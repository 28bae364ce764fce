// Package mail renders and sends applicant emails.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"recruitment-sync-service/internal/config"
	"recruitment-sync-service/internal/logger"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through an SMTP relay. Port 465 uses implicit TLS.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender only logs. It is used when no SMTP host is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	logger.Log.Info("Mail not sent, SMTP is not configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

const defaultThankYou = `<!DOCTYPE html>
<html><body>
<p>Hi {{.Name}},</p>
<p>Thank you for applying. We have received your application and will get back to you soon.</p>
</body></html>`

const defaultReminder = `<!DOCTYPE html>
<html><body>
<p>Hi {{.Name}},</p>
<p>You registered with us but have not submitted an application yet. There is still time to apply.</p>
</body></html>`

// Mailer renders the applicant templates and hands them to a Sender.
type Mailer struct {
	sender          Sender
	thankYou        *template.Template
	reminder        *template.Template
	subject         string
	reminderSubject string
}

func NewMailer(cfg config.MailConfig, sender Sender) (*Mailer, error) {
	thankYou := template.New("thank-you")
	var err error
	if cfg.TemplateFile != "" {
		thankYou, err = template.ParseFiles(cfg.TemplateFile)
	} else {
		thankYou, err = thankYou.Parse(defaultThankYou)
	}
	if err != nil {
		return nil, fmt.Errorf("parse mail template: %w", err)
	}
	reminder := template.Must(template.New("reminder").Parse(defaultReminder))

	return &Mailer{
		sender:          sender,
		thankYou:        thankYou,
		reminder:        reminder,
		subject:         cfg.Subject,
		reminderSubject: cfg.ReminderSubject,
	}, nil
}

func (m *Mailer) ThankYou(ctx context.Context, to, name string) error {
	return m.send(ctx, m.thankYou, m.subject, to, name)
}

func (m *Mailer) Reminder(ctx context.Context, to, name string) error {
	return m.send(ctx, m.reminder, m.reminderSubject, to, name)
}

func (m *Mailer) send(ctx context.Context, tmpl *template.Template, subject, to, name string) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Name string }{name}); err != nil {
		return fmt.Errorf("render mail: %w", err)
	}
	return m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: buf.String()})
}
