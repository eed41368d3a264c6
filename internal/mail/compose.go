package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

//go:embed templates/contact.html.tmpl
var templateFS embed.FS

// TimeLayout is how submission times are rendered in the email body.
const TimeLayout = "Monday, January 2, 2006 at 3:04:05 PM MST"

var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")

// Meta is request context rendered alongside the submission.
type Meta struct {
	SubmissionID string
	SubmittedAt  time.Time
	ClientID     string
}

// Composer renders contact submissions into Messages addressed to the site owner.
type Composer struct {
	from string
	to   string
	loc  *time.Location
	tmpl *template.Template
}

// NewComposer parses the embedded body template. loc controls how submission
// times are displayed; nil means UTC.
func NewComposer(from, to string, loc *time.Location) (*Composer, error) {
	if from == "" || to == "" {
		return nil, xerrors.New("mail composer requires from and to addresses")
	}
	if loc == nil {
		loc = time.UTC
	}
	tmpl, err := template.ParseFS(templateFS, "templates/contact.html.tmpl")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse contact email template")
	}
	return &Composer{from: from, to: to, loc: loc, tmpl: tmpl}, nil
}

// Subject returns "New Contact: {name} - {package}" with line breaks flattened.
func Subject(sub gate.Submission) string {
	return headerSafe.Replace(fmt.Sprintf("New Contact: %s - %s", sub.Name, sub.Package))
}

// Compose builds the notification email for an accepted submission. Reply-To
// is the submitter so the owner can answer directly.
func (c *Composer) Compose(sub gate.Submission, meta Meta) (*Message, error) {
	subject := Subject(sub)
	data := struct {
		Subject      string
		SubmissionID string
		Name         string
		Email        string
		MailTo       template.URL
		Phone        string
		Package      string
		Message      string
		SubmittedAt  string
		ClientID     string
	}{
		Subject:      subject,
		SubmissionID: meta.SubmissionID,
		Name:         sub.Name,
		Email:        sub.Email,
		MailTo:       mailtoURL(sub.Email),
		Phone:        sub.Phone,
		Package:      sub.Package,
		Message:      sub.Message,
		SubmittedAt:  meta.SubmittedAt.In(c.loc).Format(TimeLayout),
		ClientID:     meta.ClientID,
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return nil, xerrors.Wrap(err, "render contact email")
	}

	return &Message{
		From:    c.from,
		To:      c.to,
		ReplyTo: sub.Email,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}

// mailtoURL builds a mailto: link. The address already passed the email
// pattern; path escaping keeps anything odd from breaking out of the href.
func mailtoURL(addr string) template.URL {
	u := url.URL{Scheme: "mailto", Opaque: url.PathEscape(addr)}
	return template.URL(u.String())
}
