package contacthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keithlinneman/linnemanlabs-contact/internal/gate"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const validBody = `{"name":"Jo Smith","email":"jo@example.com","message":"Hello, I'd like a quote."}`

type recordingMetrics struct {
	mu       sync.Mutex
	results  map[string]int
	sends    int
	sendErrs int
}

func (m *recordingMetrics) IncSubmission(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[result]++
}

func (m *recordingMetrics) ObserveEmailSend(_ string, _ float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if err != nil {
		m.sendErrs++
	}
}

func (m *recordingMetrics) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[result]
}

type fixture struct {
	handler http.Handler
	gate    *gate.Gate
	metrics *recordingMetrics

	mu      sync.Mutex
	sent    []*mail.Message
	sendErr error
	block   bool
	// onSend runs at the start of each Send, before the context is checked
	onSend func()
}

func (f *fixture) Send(ctx context.Context, msg *mail.Message) (string, error) {
	f.mu.Lock()
	block, err, onSend := f.block, f.sendErr, f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg_%d", len(f.sent)), nil
}

func (f *fixture) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fixture) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{metrics: &recordingMetrics{}}
	f.gate = gate.New(gate.NewLedger(gate.DefaultWindow), gate.WithClock(func() time.Time { return t0 }))

	composer, err := mail.NewComposer("Contact Form <noreply@example.com>", "owner@example.com", time.UTC)
	require.NoError(t, err)

	opts := Options{
		Gate:      f.gate,
		Sender:    f,
		Composer:  composer,
		Provider:  "test",
		Service:   "contact-test",
		StartedAt: time.Now().Add(-time.Minute),
		Metrics:   f.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	api, err := New(opts)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{}))
	r.Use(httpmw.MaxBody(httpmw.DefaultMaxBody))
	api.RegisterRoutes(r)
	f.handler = r
	return f
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	return f.postFrom("203.0.113.10", body)
}

func (f *fixture) postFrom(ip, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) httpmw.ErrorBody {
	t.Helper()
	var b httpmw.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b), rec.Body.String())
	return b
}

// POST /api/contact

func TestContact_Accepted(t *testing.T) {
	f := newFixture(t)
	rec := f.post(validBody)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body SuccessBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, MsgAccepted, body.Message)
	assert.Equal(t, "msg_1", body.ID)

	require.Equal(t, 1, f.sentCount())
	msg := f.sent[0]
	assert.Equal(t, "New Contact: Jo Smith - General Inquiry", msg.Subject)
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Equal(t, "jo@example.com", msg.ReplyTo)
	assert.Contains(t, msg.HTML, "Not provided")
	assert.Contains(t, msg.HTML, "203.0.113.10")

	assert.Equal(t, 1, f.gate.Ledger().Count("203.0.113.10", t0))
	assert.Equal(t, 1, f.metrics.count(ResultAccepted))
}

func TestContact_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", `{"name":"Jo Smith","email":"jo@example.com"}`, gate.ErrMissingFields.Message},
		{"empty object", `{}`, gate.ErrMissingFields.Message},
		{"null body", `null`, gate.ErrMissingFields.Message},
		{"short name", `{"name":"J","email":"jo@example.com","message":"Hello, I'd like a quote."}`, gate.ErrNameTooShort.Message},
		{"bad email", `{"name":"Jo","email":"jo@example","message":"Hello, I'd like a quote."}`, gate.ErrInvalidEmail.Message},
		{"short message", `{"name":"Jo","email":"jo@example.com","message":"   Hi there   "}`, gate.ErrMessageTooShort.Message},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.post(tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			b := errorBody(t, rec)
			assert.False(t, b.Success)
			assert.Equal(t, tt.want, b.Message)
			assert.Zero(t, f.sentCount())
			assert.Zero(t, f.gate.Ledger().Clients())
			assert.Equal(t, 1, f.metrics.count(ResultInvalid))
		})
	}
}

func TestContact_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"name":`, `[1,2]`, `"just a string"`, ``} {
		rec := f.post(body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, MsgInvalidBody, errorBody(t, rec).Message)
	}
	assert.Zero(t, f.sentCount())
}

func TestContact_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"name":"Jo","email":"jo@example.com","message":"` + strings.Repeat("a", int(httpmw.DefaultMaxBody)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/contact", io.NopCloser(strings.NewReader(big)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, MsgBodyTooLarge, errorBody(t, rec).Message)
	assert.Zero(t, f.sentCount())
}

func TestContact_RateLimitAfterTen(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < gate.DefaultMaxRequests; i++ {
		rec := f.post(validBody)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := f.post(validBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	b := errorBody(t, rec)
	assert.False(t, b.Success)
	assert.Equal(t, "Too many submissions. Please try again in 15 minutes.", b.Message)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, gate.DefaultMaxRequests, f.sentCount())
	assert.Equal(t, 1, f.metrics.count(ResultRateLimited))

	// other clients are unaffected
	assert.Equal(t, http.StatusOK, f.postFrom("198.51.100.7", validBody).Code)
}

func TestContact_RateLimitBeforeValidation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < gate.DefaultMaxRequests; i++ {
		f.post(validBody)
	}
	rec := f.post(`{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestContact_SendFailureDoesNotCount(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.post(validBody).Code)
	}

	f.setSendErr(errors.New("provider 503"))
	rec := f.post(validBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	b := errorBody(t, rec)
	assert.False(t, b.Success)
	assert.Equal(t, MsgUnavailable, b.Message)
	assert.NotContains(t, rec.Body.String(), "provider 503")

	assert.Equal(t, 3, f.gate.Ledger().Count("203.0.113.10", t0))
	assert.Equal(t, 1, f.metrics.count(ResultSendFailed))

	f.setSendErr(nil)
	for i := 0; i < gate.DefaultMaxRequests-3; i++ {
		require.Equal(t, http.StatusOK, f.post(validBody).Code, "request %d after failure", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.post(validBody).Code)
}

func TestContact_SendTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SendTimeout = 20 * time.Millisecond })
	f.block = true

	rec := f.post(validBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, MsgUnavailable, errorBody(t, rec).Message)
	assert.Zero(t, f.gate.Ledger().Clients())
	assert.Equal(t, 1, f.metrics.sendErrs)
}

func TestContact_ClientDisconnectStillCounts(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < gate.DefaultMaxRequests+5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		f.mu.Lock()
		f.onSend = cancel
		f.mu.Unlock()

		req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(validBody)).WithContext(ctx)
		req.RemoteAddr = "203.0.113.10:40000"
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		cancel()

		if i < gate.DefaultMaxRequests {
			require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, rec.Code, "request %d", i+1)
		}
	}

	assert.Equal(t, gate.DefaultMaxRequests, f.sentCount())
	assert.Equal(t, gate.DefaultMaxRequests, f.gate.Ledger().Count("203.0.113.10", t0))
}

func TestContact_ConcurrentNeverOverAdmits(t *testing.T) {
	f := newFixture(t)

	const n = 30
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- f.post(validBody).Code
		}()
	}
	wg.Wait()
	close(codes)

	got := map[int]int{}
	for c := range codes {
		got[c]++
	}
	assert.Equal(t, gate.DefaultMaxRequests, got[http.StatusOK])
	assert.Equal(t, n-gate.DefaultMaxRequests, got[http.StatusTooManyRequests])
	assert.Equal(t, gate.DefaultMaxRequests, f.sentCount())
}

func TestContact_SanitizedFieldsReachEmail(t *testing.T) {
	f := newFixture(t)
	body := `{"name":"  Jo <b>Smith</b>  ","email":"  jo@example.com ","message":"Line one\nLine two","package":"  Premium ","phone":5551234}`
	require.Equal(t, http.StatusOK, f.post(body).Code)

	msg := f.sent[0]
	assert.Equal(t, "New Contact: Jo <b>Smith</b> - Premium", msg.Subject)
	assert.Equal(t, "jo@example.com", msg.ReplyTo)
	assert.Contains(t, msg.HTML, "Jo &lt;b&gt;Smith&lt;/b&gt;")
	assert.Contains(t, msg.HTML, "5551234")
}

func TestContact_WrongMethodNotRouted(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contact", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// GET /api/health

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, "contact-test", body.Service)
	assert.GreaterOrEqual(t, body.Uptime, 59.0)
	assert.NotZero(t, body.Memory.HeapAlloc)
	assert.Positive(t, body.Memory.Goroutines)
	_, err := time.Parse(time.RFC3339Nano, body.Timestamp)
	assert.NoError(t, err)
}

// construction and helpers

func TestNew_RequiresCollaborators(t *testing.T) {
	composer, err := mail.NewComposer("a@example.com", "b@example.com", nil)
	require.NoError(t, err)
	sender := mail.SenderFunc(func(context.Context, *mail.Message) (string, error) { return "x", nil })
	g := gate.New(nil)

	_, err = New(Options{Sender: sender, Composer: composer})
	assert.Error(t, err)
	_, err = New(Options{Gate: g, Composer: composer})
	assert.Error(t, err)
	_, err = New(Options{Gate: g, Sender: sender})
	assert.Error(t, err)

	a, err := New(Options{Gate: g, Sender: sender, Composer: composer})
	require.NoError(t, err)
	assert.Equal(t, DefaultSendTimeout, a.sendTimeout)
}

func TestRateLimitedMessage(t *testing.T) {
	assert.Equal(t, "Too many submissions. Please try again in 15 minutes.", rateLimitedMessage(15*time.Minute))
	assert.Equal(t, "Too many submissions. Please try again in 1 minute.", rateLimitedMessage(30*time.Second))
}

func TestClientIdentifier_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
	req.RemoteAddr = "192.0.2.44:5000"
	assert.Equal(t, "192.0.2.44", clientIdentifier(req))

	req = req.WithContext(httpmw.WithClientIP(req.Context(), "198.51.100.1"))
	assert.Equal(t, "198.51.100.1", clientIdentifier(req))
}
