package mail

import (
	"context"

	"github.com/resend/resend-go/v2"

	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// resendEmails is the subset of the Resend emails service we call.
// Extracted as an interface so tests don't need an API key or network.
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers through the Resend HTTP API.
type ResendSender struct {
	emails resendEmails
}

// NewResendSender returns a sender authenticated with apiKey.
func NewResendSender(apiKey string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, xerrors.New("resend api key is required")
	}
	client := resend.NewClient(apiKey)
	return &ResendSender{emails: client.Emails}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := checkMessage(msg); err != nil {
		return "", err
	}
	resp, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", xerrors.Wrap(err, "resend send email")
	}
	if resp == nil || resp.Id == "" {
		return "", xerrors.New("resend returned no message id")
	}
	return resp.Id, nil
}
