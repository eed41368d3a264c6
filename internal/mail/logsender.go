package mail

import (
	"context"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// LogSender writes messages to the log instead of sending them. For local
// development only.
type LogSender struct {
	Logger log.Logger
}

func (s *LogSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := checkMessage(msg); err != nil {
		return "", err
	}
	L := s.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	id := uuid.NewString()
	L.Info(ctx, "email not sent (log provider)",
		"message_id", id,
		"from", msg.From,
		"to", msg.To,
		"reply_to", msg.ReplyTo,
		"subject", msg.Subject,
		"html_bytes", len(msg.HTML),
	)
	return id, nil
}
