package contacthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
)

const (
	MsgAccepted       = "Thank you for your message! We'll get back to you soon."
	MsgUnavailable    = "System temporarily unavailable. Please try again later or contact us directly by phone."
	MsgInvalidBody    = "Invalid request body"
	MsgBodyTooLarge   = "Request body too large"
	msgRateLimitedFmt = "Too many submissions. Please try again in %s."
)

// Submission results recorded in contact_submissions_total.
const (
	ResultAccepted    = "accepted"
	ResultInvalid     = "invalid"
	ResultRateLimited = "rate_limited"
	ResultBadRequest  = "bad_request"
	ResultSendFailed  = "send_failed"
)

// SuccessBody is the 200 response for an accepted submission. ID is the
// provider's message id.
type SuccessBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

var tracer = otel.Tracer("linnemanlabs-contact/contacthttp")

func (a *API) handleContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, a.logger)

	var p gate.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		a.metrics.IncSubmission(ResultBadRequest)
		if httpmw.IsBodyTooLarge(err) {
			httpmw.WriteError(w, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return
		}
		L.Debug(ctx, "contact body rejected", "reason", err.Error())
		httpmw.WriteError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	clientID := clientIdentifier(r)
	now := a.gate.Now()
	d := a.gate.Evaluate(clientID, now, p)

	switch d.Outcome {
	case gate.RateLimited:
		a.metrics.IncSubmission(ResultRateLimited)
		L.Info(ctx, "contact submission rate limited", "retry_after_seconds", d.RetryAfter.Seconds())
		if d.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		}
		httpmw.WriteError(w, http.StatusTooManyRequests, rateLimitedMessage(a.gate.Ledger().Window()))
		return
	case gate.Invalid:
		a.metrics.IncSubmission(ResultInvalid)
		L.Debug(ctx, "contact submission invalid", "reason", d.Err.Error())
		httpmw.WriteError(w, http.StatusBadRequest, d.Err.Error())
		return
	}

	// a failed send must not count against the client
	defer d.Reservation.Release()

	submissionID := uuid.NewString()
	L = L.With("submission_id", submissionID, "provider", a.provider)

	msg, err := a.composer.Compose(d.Submission, mail.Meta{
		SubmissionID: submissionID,
		SubmittedAt:  now,
		ClientID:     clientID,
	})
	if err != nil {
		a.metrics.IncSubmission(ResultSendFailed)
		L.Error(ctx, err, "compose contact email failed")
		httpmw.WriteError(w, http.StatusInternalServerError, MsgUnavailable)
		return
	}

	messageID, err := a.send(ctx, msg)
	if err != nil {
		a.metrics.IncSubmission(ResultSendFailed)
		L.Error(ctx, err, "contact email send failed")
		httpmw.WriteError(w, http.StatusInternalServerError, MsgUnavailable)
		return
	}

	d.Reservation.Commit()
	a.metrics.IncSubmission(ResultAccepted)
	L.Info(ctx, "contact submission delivered", "message_id", messageID)
	httpmw.WriteJSON(w, http.StatusOK, SuccessBody{Success: true, Message: MsgAccepted, ID: messageID})
}

// send calls the provider under the send timeout inside an email.send span.
// The call is detached from request cancellation: a client hanging up after
// posting must not turn a delivered email into a released slot.
func (a *API) send(ctx context.Context, msg *mail.Message) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.sendTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "email.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("email.provider", a.provider)),
	)
	defer span.End()

	start := time.Now()
	id, err := a.sender.Send(ctx, msg)
	a.metrics.ObserveEmailSend(a.provider, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return "", err
	}
	span.SetAttributes(attribute.String("email.message_id", id))
	return id, nil
}

// clientIdentifier is the resolved client IP, falling back to the peer host
// when the ClientIP middleware did not run.
func clientIdentifier(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimitedMessage renders the window in whole minutes, e.g. "15 minutes".
func rateLimitedMessage(window time.Duration) string {
	mins := int(math.Ceil(window.Minutes()))
	unit := "minutes"
	if mins == 1 {
		unit = "minute"
	}
	return fmt.Sprintf(msgRateLimitedFmt, fmt.Sprintf("%d %s", mins, unit))
}
