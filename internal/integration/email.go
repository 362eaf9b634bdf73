// Package integration holds the external action capabilities the executor
// dispatches to: email over SMTP, webhooks over HTTP, social posts through an
// external command, and the generic no-op action.
package integration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// EmailMessage is the email described by an action record body.
type EmailMessage struct {
	To      []string
	CC      []string
	Subject string
	Body    string
}

// ParseEmail reads the "## To", "## CC", "## Subject" and "## Body" sections
// of a record body. To and Subject take the first non-blank line of their
// section; Body takes every line up to the next recognized section.
func ParseEmail(body string) (*EmailMessage, error) {
	msg := &EmailMessage{}
	var section string
	var lines []string

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "## To"):
			section = "to"
			continue
		case strings.HasPrefix(line, "## CC"):
			section = "cc"
			continue
		case strings.HasPrefix(line, "## Subject"):
			section = "subject"
			continue
		case strings.HasPrefix(line, "## Body"):
			section = "body"
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch section {
		case "to":
			if trimmed != "" && msg.To == nil {
				msg.To = splitAddresses(trimmed)
			}
		case "cc":
			if trimmed != "" && msg.CC == nil {
				msg.CC = splitAddresses(trimmed)
			}
		case "subject":
			if trimmed != "" && msg.Subject == "" {
				msg.Subject = trimmed
			}
		case "body":
			lines = append(lines, line)
		}
	}
	msg.Body = strings.TrimSpace(strings.Join(lines, "\n"))

	if len(msg.To) == 0 || msg.Subject == "" {
		return nil, models.Permanentf("missing required fields: to or subject")
	}
	return msg, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Render formats the message as an RFC 5322 plain-text email.
func (m *EmailMessage) Render(from string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	if len(m.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(m.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// SendFunc delivers a rendered message. smtp.SendMail satisfies it.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender sends the email described by an action record.
type EmailSender struct {
	cfg  models.EmailConfig
	send SendFunc
	log  zerolog.Logger
}

// NewEmailSender creates an EmailSender. A nil send uses smtp.SendMail, which
// upgrades to STARTTLS when the server offers it.
func NewEmailSender(cfg models.EmailConfig, send SendFunc, log zerolog.Logger) *EmailSender {
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailSender{cfg: cfg, send: send, log: log}
}

// Execute sends the record's email. Missing fields or credentials are
// permanent failures; 4xx SMTP replies and network errors are transient.
func (s *EmailSender) Execute(_ context.Context, rec *models.TaskRecord) error {
	msg, err := ParseEmail(rec.Body)
	if err != nil {
		return err
	}
	if s.cfg.Sender == "" || s.cfg.Password == "" {
		return models.Permanentf("missing email.sender or email.password (VAULTQ_EMAIL_PASSWORD)")
	}

	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	auth := smtp.PlainAuth("", s.cfg.Sender, s.cfg.Password, s.cfg.SMTPHost)
	recipients := append(append([]string{}, msg.To...), msg.CC...)

	if err := s.send(addr, auth, s.cfg.Sender, recipients, msg.Render(s.cfg.Sender)); err != nil {
		return classifySMTP(fmt.Errorf("email sending failed: %w", err))
	}
	s.log.Info().Str("record", rec.Name).Strs("to", msg.To).Msg("email sent")
	return nil
}

func classifySMTP(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		if tp.Code >= 400 && tp.Code < 500 {
			return models.Transient(err)
		}
		return models.Permanent(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return models.Transient(err)
	}
	return err
}
