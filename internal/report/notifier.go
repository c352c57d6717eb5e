package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
)

// Message is one outbound report email.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Notifier delivers a Message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPNotifier sends mail through the configured SMTP server.
type SMTPNotifier struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	now     func() time.Time
}

// NewSMTPNotifier returns a notifier for cfg.
func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, timeout: 30 * time.Second, now: time.Now}
}

// Send delivers msg to every recipient in one SMTP transaction. Errors are
// wrapped in ErrDelivery.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.Host == "" {
		return fmt.Errorf("%w: notifications.smtp.host not set", ErrDelivery)
	}
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	raw, err := buildMessage(n.cfg.From, msg, n.now())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.deliver(ctx, msg.To, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// deliver uses implicit TLS on port 465 and STARTTLS elsewhere when UseTLS
// is set; otherwise it speaks plain SMTP.
func (n *SMTPNotifier) deliver(ctx context.Context, to []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName: n.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	var conn net.Conn
	var err error
	if n.cfg.UseTLS && n.cfg.Port == 465 {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Close()

	if n.cfg.UseTLS && n.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp server %s does not support STARTTLS", addr)
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}

	if n.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA close: %w", err)
	}
	return c.Quit()
}

// buildMessage renders RFC 5322 headers and a quoted-printable HTML body.
func buildMessage(from string, msg Message, now time.Time) ([]byte, error) {
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
