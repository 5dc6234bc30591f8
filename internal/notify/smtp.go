package notify

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/inboxly/mailvault/internal/observability/logger"
)

// SMTPConfig holds the connection settings for the outgoing SMTP server.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	TLSMode   string `yaml:"tls_mode"` // "auto" | "starttls" | "ssl" | "none"

	// InsecureSkipVerify disables certificate verification. Dev only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SMTPSender implements Sender over SMTP.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender builds a sender from config, defaulting port and TLS mode.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{cfg: cfg}
}

// Send delivers a multipart/alternative (text + html) message.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.With(
		logger.String("component", "SMTPSender"),
		logger.String("host", s.cfg.Host),
		logger.Int("port", s.cfg.Port),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify}
	default:
		// "auto"/"starttls": the dialer negotiates STARTTLS when offered
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}

	log.Debug("email sent")
	return nil
}
