package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/missing-persons/internal/config"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/wneessen/go-mail"
)

// ErrNoRecipient is returned when the person has no guardian email.
var ErrNoRecipient = errors.New("no guardian email on record")

// sender abstracts the SMTP client for tests.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier sends guardian notifications over SMTP.
type SMTPNotifier struct {
	client sender
	from   string
}

// NewSMTPNotifier creates a notifier from the SMTP configuration.
func NewSMTPNotifier(cfg *config.SMTPConfig) (*SMTPNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPortPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPNotifier{client: client, from: cfg.Sender()}, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch strings.ToLower(s) {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

// NotifyFound emails the guardian.
func (n *SMTPNotifier) NotifyFound(ctx context.Context, person *database.MissingPerson) error {
	if person.GuardianEmail == "" {
		return ErrNoRecipient
	}

	msg, err := n.buildMessage(person)
	if err != nil {
		return err
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", person.GuardianEmail, err)
	}
	return nil
}

func (n *SMTPNotifier) buildMessage(person *database.MissingPerson) (*mail.Msg, error) {
	subject, body := FoundMessage(person)

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.from, err)
	}
	if err := msg.To(person.GuardianEmail); err != nil {
		return nil, fmt.Errorf("invalid guardian email %q: %w", person.GuardianEmail, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
