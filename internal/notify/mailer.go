package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "Updates from ICBR Illumina Run Manager"

// Message is one outgoing digest.
type Message struct {
	Subject string
	Lines   []string
}

// Mailer delivers digests.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var sendMail = smtp.SendMail

// SMTPMailer sends plain-text mail through a relay without authentication.
type SMTPMailer struct {
	// Server is host:port; a bare host gets port 25.
	Server     string
	Sender     string
	Recipients []string
	Subject    string
}

// NewSMTPMailer returns a mailer for the given relay.
func NewSMTPMailer(server, sender string, recipients []string, subject string) *SMTPMailer {
	if subject == "" {
		subject = DefaultSubject
	}
	return &SMTPMailer{Server: server, Sender: sender, Recipients: recipients, Subject: subject}
}

// Send delivers msg. An empty message is not sent.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.Lines) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Server == "" || m.Sender == "" || len(m.Recipients) == 0 {
		return errors.New("notify: smtp server, sender and recipients are required")
	}
	addr := m.Server
	if !strings.Contains(addr, ":") {
		addr += ":25"
	}
	return sendMail(addr, nil, m.Sender, m.Recipients, m.compose(msg))
}

func (m *SMTPMailer) compose(msg Message) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = m.Subject
	}
	var b strings.Builder
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("From: " + m.Sender + "\r\n")
	b.WriteString("To: " + strings.Join(m.Recipients, ", ") + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.Join(msg.Lines, "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Discard drops every message; it stands in when mail is not configured.
type Discard struct{}

// Send implements Mailer.
func (Discard) Send(context.Context, Message) error { return nil }
