package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier mails notices to the identity's address.
type SMTPNotifier struct {
	from   string
	client sender
}

var funcs = template.FuncMap{
	"join": func(s []string) string { return strings.Join(s, ", ") },
}

var templates = map[Kind]*template.Template{
	KindLockout: template.Must(template.New("lockout").Funcs(funcs).Parse(
		`Your account was locked at {{.At.Format "2006-01-02 15:04 MST"}} after repeated failed sign-in attempts.
It will unlock automatically at {{.LockedUntil.Format "2006-01-02 15:04 MST"}}.
{{if .IP}}Last attempt from: {{.IP}}{{if .Location}} ({{.Location}}){{end}}
{{end}}If this was not you, contact your administrator.
`)),
	KindSuspicious: template.Must(template.New("suspicious").Funcs(funcs).Parse(
		`A sign-in to your account at {{.At.Format "2006-01-02 15:04 MST"}} looked unusual (risk {{printf "%.2f" .RiskScore}}).
{{if .Reasons}}Signals: {{join .Reasons}}
{{end}}{{if .IP}}From: {{.IP}}{{if .Location}} ({{.Location}}){{end}}{{if .Device}}, {{.Device}}{{end}}
{{end}}If this was not you, change your password and contact your administrator.
`)),
}

var subjects = map[Kind]string{
	KindLockout:    "Your account has been locked",
	KindSuspicious: "Unusual sign-in to your account",
}

// NewSMTPNotifier builds a mail client for cfg. No connection is made until
// the first notice.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.TLS {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: mail client: %w", err)
	}
	return &SMTPNotifier{from: cfg.From, client: client}, nil
}

// Message renders n without sending it.
func (s *SMTPNotifier) Message(n Notice) (*mail.Msg, error) {
	if n.Email == "" {
		return nil, errors.New("notify: notice has no recipient")
	}
	tmpl, ok := templates[n.Kind]
	if !ok {
		return nil, fmt.Errorf("notify: unknown notice kind %q", n.Kind)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, n); err != nil {
		return nil, fmt.Errorf("notify: render %s: %w", n.Kind, err)
	}

	msg := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(n.Email); err != nil {
		return nil, fmt.Errorf("notify: to address: %w", err)
	}
	msg.Subject(subjects[n.Kind])
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body.String())
	return msg, nil
}

// Notify renders and sends n.
func (s *SMTPNotifier) Notify(ctx context.Context, n Notice) error {
	msg, err := s.Message(n)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s: %w", n.Kind, err)
	}
	return nil
}
