// Package mail composes contact notification emails and delivers them through
// a pluggable provider (Resend, Amazon SES, or a logging stub for development).
package mail

import (
	"context"
	"strings"

	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// Message is a fully rendered email ready for a provider.
type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
}

// Sender delivers a Message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg *Message) (id string, err error)
}

// Provider names accepted by config.
const (
	ProviderResend = "resend"
	ProviderSES    = "ses"
	ProviderLog    = "log"
)

// ValidProvider reports whether name is a known provider.
func ValidProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderResend, ProviderSES, ProviderLog:
		return true
	}
	return false
}

// SenderFunc adapts a function into a Sender.
type SenderFunc func(ctx context.Context, msg *Message) (string, error)

func (f SenderFunc) Send(ctx context.Context, msg *Message) (string, error) { return f(ctx, msg) }

func checkMessage(msg *Message) error {
	if msg == nil {
		return xerrors.New("mail: nil message")
	}
	if msg.From == "" || msg.To == "" {
		return xerrors.New("mail: from and to are required")
	}
	return nil
}
