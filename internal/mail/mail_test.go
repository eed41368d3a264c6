package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// test stubs

type stubResend struct {
	got  *resend.SendEmailRequest
	resp *resend.SendEmailResponse
	err  error
}

func (s *stubResend) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	s.got = params
	return s.resp, s.err
}

type stubSES struct {
	got *sesv2.SendEmailInput
	out *sesv2.SendEmailOutput
	err error
}

func (s *stubSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.got = params
	return s.out, s.err
}

type stubSSM struct {
	got *ssm.GetParameterInput
	out *ssm.GetParameterOutput
	err error
}

func (s *stubSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	s.got = params
	return s.out, s.err
}

func testMessage() *Message {
	return &Message{
		From:    "Contact Form <noreply@example.com>",
		To:      "owner@example.com",
		ReplyTo: "jo@example.com",
		Subject: "New Contact: Jo - General Inquiry",
		HTML:    "<p>hi</p>",
	}
}

func testSubmission() gate.Submission {
	return gate.Submission{
		Name:    "Jo Smith",
		Email:   "jo@example.com",
		Message: "Hello there!\n\nSecond paragraph.",
		Package: "Premium",
		Phone:   "555-1234",
	}
}

// Compose

func TestSubject(t *testing.T) {
	assert.Equal(t, "New Contact: Jo Smith - Premium", Subject(testSubmission()))

	sub := testSubmission()
	sub.Name = "Jo\r\nBcc: x@y.z"
	assert.NotContains(t, Subject(sub), "\n")
	assert.NotContains(t, Subject(sub), "\r")
}

func TestNewComposer_RequiresAddresses(t *testing.T) {
	_, err := NewComposer("", "owner@example.com", nil)
	require.Error(t, err)
	_, err = NewComposer("noreply@example.com", "", nil)
	require.Error(t, err)
}

func TestCompose_FieldsRoundTrip(t *testing.T) {
	c, err := NewComposer("noreply@example.com", "owner@example.com", time.UTC)
	require.NoError(t, err)

	sub := testSubmission()
	at := time.Date(2025, 6, 1, 14, 30, 5, 0, time.UTC)
	msg, err := c.Compose(sub, Meta{SubmissionID: "sub-123", SubmittedAt: at, ClientID: "203.0.113.9"})
	require.NoError(t, err)

	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Equal(t, sub.Email, msg.ReplyTo)
	assert.Equal(t, "New Contact: Jo Smith - Premium", msg.Subject)

	for _, want := range []string{
		sub.Name,
		`<a href="mailto:jo@example.com">jo@example.com</a>`,
		sub.Phone,
		sub.Package,
		sub.Message,
		"white-space: pre-wrap",
		"Sunday, June 1, 2025 at 2:30:05 PM UTC",
		"203.0.113.9",
		"sub-123",
	} {
		assert.Contains(t, msg.HTML, want)
	}
}

func TestCompose_EscapesHTML(t *testing.T) {
	c, err := NewComposer("noreply@example.com", "owner@example.com", nil)
	require.NoError(t, err)

	sub := testSubmission()
	sub.Message = `<script>alert("x")</script> hello world`
	msg, err := c.Compose(sub, Meta{SubmittedAt: time.Now()})
	require.NoError(t, err)

	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestCompose_DisplayTimeZone(t *testing.T) {
	loc := time.FixedZone("EST", -5*60*60)
	c, err := NewComposer("noreply@example.com", "owner@example.com", loc)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	msg, err := c.Compose(testSubmission(), Meta{SubmittedAt: at})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "9:00:00 AM EST")
}

// Resend

func TestResendSender_Send(t *testing.T) {
	stub := &stubResend{resp: &resend.SendEmailResponse{Id: "re_123"}}
	s := &ResendSender{emails: stub}

	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "re_123", id)

	require.NotNil(t, stub.got)
	assert.Equal(t, "Contact Form <noreply@example.com>", stub.got.From)
	assert.Equal(t, []string{"owner@example.com"}, stub.got.To)
	assert.Equal(t, "jo@example.com", stub.got.ReplyTo)
	assert.Equal(t, "<p>hi</p>", stub.got.Html)
}

func TestResendSender_Error(t *testing.T) {
	s := &ResendSender{emails: &stubResend{err: errors.New("401 unauthorized")}}
	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestResendSender_EmptyID(t *testing.T) {
	s := &ResendSender{emails: &stubResend{resp: &resend.SendEmailResponse{}}}
	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
}

func TestResendSender_InvalidMessage(t *testing.T) {
	stub := &stubResend{}
	s := &ResendSender{emails: stub}
	_, err := s.Send(context.Background(), &Message{To: "owner@example.com"})
	require.Error(t, err)
	assert.Nil(t, stub.got, "provider must not be called")
}

func TestNewResendSender_RequiresKey(t *testing.T) {
	_, err := NewResendSender("")
	require.Error(t, err)

	s, err := NewResendSender("re_test_key")
	require.NoError(t, err)
	require.NotNil(t, s.emails)
}

// SES

func TestSESSender_Send(t *testing.T) {
	stub := &stubSES{out: &sesv2.SendEmailOutput{MessageId: aws.String("ses-abc")}}
	s := &SESSender{client: stub}

	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-abc", id)

	require.NotNil(t, stub.got)
	assert.Equal(t, "Contact Form <noreply@example.com>", aws.ToString(stub.got.FromEmailAddress))
	assert.Equal(t, []string{"owner@example.com"}, stub.got.Destination.ToAddresses)
	assert.Equal(t, []string{"jo@example.com"}, stub.got.ReplyToAddresses)
	assert.Equal(t, "<p>hi</p>", aws.ToString(stub.got.Content.Simple.Body.Html.Data))
	assert.Equal(t, "New Contact: Jo - General Inquiry", aws.ToString(stub.got.Content.Simple.Subject.Data))
}

func TestSESSender_Error(t *testing.T) {
	s := &SESSender{client: &stubSES{err: errors.New("throttled")}}
	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestSESSender_NilClient(t *testing.T) {
	s := &SESSender{}
	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
}

// LogSender

func TestLogSender_ReturnsID(t *testing.T) {
	s := &LogSender{Logger: log.Nop()}
	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Len(t, id, 36)

	id2, _ := s.Send(context.Background(), testMessage())
	assert.NotEqual(t, id, id2)
}

func TestLogSender_FallsBackToContextLogger(t *testing.T) {
	s := &LogSender{}
	_, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
}

// SenderFunc / providers

func TestSenderFunc(t *testing.T) {
	var called bool
	var s Sender = SenderFunc(func(ctx context.Context, msg *Message) (string, error) {
		called = true
		return "id-1", nil
	})
	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "id-1", id)
}

func TestValidProvider(t *testing.T) {
	for _, p := range []string{"resend", "ses", "log", " RESEND "} {
		assert.True(t, ValidProvider(p), p)
	}
	for _, p := range []string{"", "smtp", "sendgrid"} {
		assert.False(t, ValidProvider(p), p)
	}
}

// ResolveAPIKey

func TestResolveAPIKey(t *testing.T) {
	stub := &stubSSM{out: &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String("  re_secret\n")},
	}}
	key, err := ResolveAPIKey(context.Background(), stub, "/app/contact/resend-api-key")
	require.NoError(t, err)
	assert.Equal(t, "re_secret", key)
	assert.Equal(t, "/app/contact/resend-api-key", aws.ToString(stub.got.Name))
	assert.True(t, aws.ToBool(stub.got.WithDecryption))
}

func TestResolveAPIKey_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := ResolveAPIKey(ctx, nil, "/x")
	require.Error(t, err)

	_, err = ResolveAPIKey(ctx, &stubSSM{}, "")
	require.Error(t, err)

	_, err = ResolveAPIKey(ctx, &stubSSM{err: errors.New("access denied")}, "/x")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "access denied"))

	_, err = ResolveAPIKey(ctx, &stubSSM{out: &ssm.GetParameterOutput{}}, "/x")
	require.Error(t, err)

	_, err = ResolveAPIKey(ctx, &stubSSM{out: &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String("   ")},
	}}, "/x")
	require.Error(t, err)
}
