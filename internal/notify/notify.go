// Package notify sends reconnect nudges to principals whose mail
// connection dropped into a state that needs their attention.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htemplate "html/template"
	"strings"
	ttemplate "text/template"

	"github.com/inboxly/mailvault/internal/observability/logger"
)

var (
	ErrNoRecipient    = errors.New("notify: no recipient email on record")
	ErrTemplateRender = errors.New("notify: template render failed")
	ErrSendFailed     = errors.New("notify: send failed")
)

// Sender delivers a rendered message. Satisfied by SMTPSender.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// reauthVars feed the reconnect templates.
type reauthVars struct {
	Email        string
	ProviderName string
	ReconnectURL string
}

const defaultReauthText = `Hi,

Your {{.ProviderName}} mailbox connection stopped working and we can no
longer read new messages for {{.Email}}.

Reconnect it here: {{.ReconnectURL}}

If you did not expect this, you can ignore this message.
`

const defaultReauthHTML = `<p>Hi,</p>
<p>Your <strong>{{.ProviderName}}</strong> mailbox connection stopped working and we can
no longer read new messages for <strong>{{.Email}}</strong>.</p>
<p><a href="{{.ReconnectURL}}">Reconnect your mailbox</a></p>
<p>If you did not expect this, you can ignore this message.</p>
`

// Config configures the reconnect mailer.
type Config struct {
	// BaseURL is the public base URL of the service, used to build the
	// reconnect link (ex: https://vault.example.com).
	BaseURL string

	// Subject overrides the default reconnect subject line.
	Subject string

	// TextTemplate and HTMLTemplate override the built-in templates.
	// Both receive .Email, .ProviderName and .ReconnectURL.
	TextTemplate string
	HTMLTemplate string
}

// Mailer emails a reconnect link when a connection needs re-consent.
// It implements the lifecycle engine's Notifier.
type Mailer struct {
	sender  Sender
	baseURL string
	subject string

	textTmpl *ttemplate.Template
	htmlTmpl *htemplate.Template
}

// NewMailer builds a Mailer on top of a Sender. Template overrides are
// compiled eagerly so a broken template fails at startup, not mid-send.
func NewMailer(sender Sender, cfg Config) (*Mailer, error) {
	text := cfg.TextTemplate
	if text == "" {
		text = defaultReauthText
	}
	html := cfg.HTMLTemplate
	if html == "" {
		html = defaultReauthHTML
	}

	textTmpl, err := ttemplate.New("reauth_text").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("notify: parse text template: %w", err)
	}
	htmlTmpl, err := htemplate.New("reauth_html").Parse(html)
	if err != nil {
		return nil, fmt.Errorf("notify: parse html template: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "Action needed: reconnect your mailbox"
	}

	return &Mailer{
		sender:   sender,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		subject:  subject,
		textTmpl: textTmpl,
		htmlTmpl: htmlTmpl,
	}, nil
}

// NotifyReauthRequired emails the principal a link back into the consent
// flow for the broken provider. Token material never appears in the mail.
func (m *Mailer) NotifyReauthRequired(ctx context.Context, principalID, provider, email string) error {
	log := logger.From(ctx).With(
		logger.Layer("notify"), logger.Op("NotifyReauthRequired"),
		logger.PrincipalID(principalID), logger.Provider(provider),
	)

	if email == "" {
		log.Debug("skipping reconnect mail, record has no email")
		return ErrNoRecipient
	}

	vars := reauthVars{
		Email:        email,
		ProviderName: displayName(provider),
		ReconnectURL: fmt.Sprintf("%s/v1/auth/%s/start?principal_id=%s", m.baseURL, provider, principalID),
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := m.textTmpl.Execute(&textBuf, vars); err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	if err := m.htmlTmpl.Execute(&htmlBuf, vars); err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	if err := m.sender.Send(email, m.subject, htmlBuf.String(), textBuf.String()); err != nil {
		log.Warn("reconnect mail failed", logger.Err(err))
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	log.Info("reconnect mail sent", logger.Email(email))
	return nil
}

func displayName(provider string) string {
	switch provider {
	case "google":
		return "Google"
	case "microsoft":
		return "Microsoft"
	default:
		return provider
	}
}
