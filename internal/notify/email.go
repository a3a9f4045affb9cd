package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailSubject is the subject line of alert mails
const EmailSubject = "Log Whisperer Alert: New log patterns detected"

const smtpTimeout = 15 * time.Second

// EmailSettings configures the SMTP transport
type EmailSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To is a comma-separated recipient list
	To    string
	NoTLS bool
}

// Email sends plain-text alert mails over SMTP with optional STARTTLS
type Email struct {
	settings EmailSettings
	now      func() time.Time
}

// NewEmail creates an SMTP notifier
func NewEmail(s EmailSettings) *Email {
	if s.Port == 0 {
		s.Port = 587
	}
	return &Email{settings: s, now: time.Now}
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) recipients() []string {
	var out []string
	for _, r := range strings.Split(e.settings.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Notify sends body with the fixed alert subject
func (e *Email) Notify(ctx context.Context, _, body string) error {
	s := e.settings
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	to := e.recipients()

	dialer := &net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	deadline := time.Now().Add(smtpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if !s.NoTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.Mail(s.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(buildMessage(s.From, to, EmailSubject, body, e.now())); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	return c.Quit()
}

// buildMessage renders an RFC 5322 plain-text message with CRLF line endings
func buildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
