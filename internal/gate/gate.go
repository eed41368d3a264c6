package gate

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is the rolling window submissions are counted over.
	DefaultWindow = 15 * time.Minute
	// DefaultMaxRequests is the number of accepted submissions allowed per window.
	DefaultMaxRequests = 10
	// DefaultSweepInterval is how often the ledger is swept of idle clients.
	DefaultSweepInterval = time.Hour

	MinNameLength    = 2
	MinMessageLength = 10

	DefaultPackage = "General Inquiry"
	DefaultPhone   = "Not provided"
)

// Payload is the raw contact request body. Fields hold whatever JSON value the
// client sent (nil when absent).
type Payload struct {
	Name    any `json:"name"`
	Email   any `json:"email"`
	Message any `json:"message"`
	Package any `json:"package"`
	Phone   any `json:"phone"`
}

// Submission holds sanitized fields, computed once and reused for validation
// and for the outbound email.
type Submission struct {
	Name    string
	Email   string
	Message string
	Package string
	Phone   string
}

// Outcome is the gate's verdict on a submission.
type Outcome int

const (
	Accepted Outcome = iota
	RateLimited
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RateLimited:
		return "rate_limited"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome Outcome

	// Err is a *ValidationError when Outcome is Invalid.
	Err error

	// RetryAfter is set when Outcome is RateLimited: the time until the
	// oldest counted submission leaves the window.
	RetryAfter time.Duration

	// Submission and Reservation are set when Outcome is Accepted.
	Submission  Submission
	Reservation *Reservation
}

// Gate admits or rejects contact submissions against a Ledger.
type Gate struct {
	ledger *Ledger
	max    int
	now    func() time.Time
}

type Option func(*Gate)

// WithMaxRequests sets how many accepted submissions a client gets per window.
func WithMaxRequests(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.max = n
		}
	}
}

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a gate backed by ledger. A nil ledger gets a fresh one with the
// default window.
func New(ledger *Ledger, opts ...Option) *Gate {
	if ledger == nil {
		ledger = NewLedger(DefaultWindow)
	}
	g := &Gate{
		ledger: ledger,
		max:    DefaultMaxRequests,
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Ledger returns the ledger the gate records into.
func (g *Gate) Ledger() *Ledger { return g.ledger }

// MaxRequests returns the per-window submission limit.
func (g *Gate) MaxRequests() int { return g.max }

// Now returns the gate's current time.
func (g *Gate) Now() time.Time { return g.now() }

// Evaluate checks the rate limit for clientID, then validates p. Rejections
// leave the ledger untouched. On acceptance a slot is reserved at now and
// returned on the decision; the caller must Commit or Release it.
func (g *Gate) Evaluate(clientID string, now time.Time, p Payload) Decision {
	if g.ledger.full(clientID, now, g.max) {
		return g.limited(clientID, now)
	}

	sub, err := validate(p)
	if err != nil {
		return Decision{Outcome: Invalid, Err: err}
	}

	// a concurrent request may have taken the last slot since the check above
	if !g.ledger.reserve(clientID, now, g.max) {
		return g.limited(clientID, now)
	}

	return Decision{
		Outcome:     Accepted,
		Submission:  sub,
		Reservation: &Reservation{ledger: g.ledger, clientID: clientID, at: now},
	}
}

func (g *Gate) limited(clientID string, now time.Time) Decision {
	return Decision{Outcome: RateLimited, RetryAfter: g.ledger.retryAfter(clientID, now)}
}

// validate applies the field rules in order and stops at the first failure.
func validate(p Payload) (Submission, error) {
	if !present(p.Name) || !present(p.Email) || !present(p.Message) {
		return Submission{}, ErrMissingFields
	}

	sub := Submission{
		Name:    Sanitize(p.Name),
		Email:   strings.TrimSpace(text(p.Email)),
		Message: Sanitize(p.Message),
		Package: Sanitize(p.Package),
		Phone:   Sanitize(p.Phone),
	}

	if runeLen(sub.Name) < MinNameLength {
		return Submission{}, ErrNameTooShort
	}
	if !ValidEmail(sub.Email) {
		return Submission{}, ErrInvalidEmail
	}
	if runeLen(sub.Message) < MinMessageLength {
		return Submission{}, ErrMessageTooShort
	}

	if sub.Package == "" {
		sub.Package = DefaultPackage
	}
	if sub.Phone == "" {
		sub.Phone = DefaultPhone
	}
	return sub, nil
}

// Reservation is a ledger slot held for an accepted submission.
type Reservation struct {
	ledger   *Ledger
	clientID string
	at       time.Time

	once sync.Once
}

// At returns the timestamp recorded for the reservation.
func (r *Reservation) At() time.Time { return r.at }

// Commit keeps the slot. Safe to call on a nil reservation.
func (r *Reservation) Commit() {
	if r == nil {
		return
	}
	r.once.Do(func() {})
}

// Release gives the slot back. It is a no-op after Commit or a prior Release,
// so callers can defer it unconditionally.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.ledger.remove(r.clientID, r.at)
	})
}
