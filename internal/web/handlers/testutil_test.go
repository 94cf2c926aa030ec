package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/database/mock"
	"github.com/kozaktomas/missing-persons/internal/facematch"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/uploads"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
	"github.com/kozaktomas/missing-persons/internal/web/static"
)

// fakeEncoder returns a configurable encoding for every photo
type fakeEncoder struct {
	mu  sync.Mutex
	enc []float32
	err error
}

func (f *fakeEncoder) set(enc []float32, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enc, f.err = enc, err
}

func (f *fakeEncoder) Encode(ctx context.Context, jpegData []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.enc...), nil
}

func (f *fakeEncoder) Name() string { return "fake" }

// fakeNotifier records notified person IDs
type fakeNotifier struct {
	mu       sync.Mutex
	notified []int64
	err      error
}

func (f *fakeNotifier) NotifyFound(ctx context.Context, p *database.MissingPerson) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notified = append(f.notified, p.ID)
	return nil
}

// testEnv wires the services over the in-memory backend
type testEnv struct {
	backend  *database.Backend
	accounts *accounts.Service
	reports  *reports.Service
	sessions *middleware.SessionManager
	metrics  *metrics.Metrics
	encoder  *fakeEncoder
	notifier *fakeNotifier
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := uploads.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	backend := mock.NewBackend()
	env := &testEnv{
		backend:  backend,
		accounts: accounts.NewService(backend.Users),
		sessions: middleware.NewSessionManager("test-secret", backend.Sessions),
		metrics:  metrics.New(),
		encoder:  &fakeEncoder{enc: []float32{0, 0, 0}},
		notifier: &fakeNotifier{},
		logger:   slog.New(slog.DiscardHandler),
	}
	env.reports = reports.NewService(reports.Deps{
		Persons:  backend.Persons,
		Matches:  backend.Matches,
		Encoder:  env.encoder,
		Matcher:  facematch.NewMatcher(backend.Persons, database.MetricEuclidean, 0.6),
		Notifier: env.notifier,
		Uploads:  store,
		Metrics:  env.metrics,
		Logger:   env.logger,
	})
	return env
}

func (e *testEnv) pages(t *testing.T) *PagesHandler {
	t.Helper()
	templates, err := static.ParseTemplates()
	if err != nil {
		t.Fatalf("failed to parse templates: %v", err)
	}
	return NewPagesHandler(PagesDeps{
		Accounts:       e.accounts,
		Reports:        e.reports,
		SessionManager: e.sessions,
		Metrics:        e.metrics,
		Templates:      templates,
		Logger:         e.logger,
	})
}

// register creates an account and returns a session for it
func (e *testEnv) register(t *testing.T, username string) *middleware.Session {
	t.Helper()
	user, err := e.accounts.Register(context.Background(), accounts.RegisterInput{
		Username: username,
		Password: "secret-password",
		Email:    username + "@example.com",
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	session, err := e.sessions.CreateSession(context.Background(), user.ID, user.Username)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

// report stores a missing person with the given encoding
func (e *testEnv) report(t *testing.T, name string, enc []float32, by int64) *database.MissingPerson {
	t.Helper()
	e.encoder.set(enc, nil)
	p, err := e.reports.Report(context.Background(), reports.ReportInput{
		Name:          name,
		Age:           10,
		GuardianEmail: "guardian@example.com",
		Image:         testImage(t),
		ReportedBy:    by,
	})
	if err != nil {
		t.Fatalf("failed to report %s: %v", name, err)
	}
	return p
}

// testImage returns a small valid PNG
func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a multipart request with the given fields and an
// optional image part
func multipartRequest(t *testing.T, method, path string, fields map[string]string, img []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if img != nil {
		part, err := writer.CreateFormFile(imageField, "photo.png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(img)
	}
	writer.Close()

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// withSession puts the session into the request context
func withSession(r *http.Request, session *middleware.Session) *http.Request {
	return r.WithContext(middleware.SetSessionInContext(r.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// flashFrom decodes the flash cookie set on a response
func flashFrom(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range recorder.Result().Cookies() {
		if c.Name == flashCookieName && c.MaxAge > 0 {
			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(c)
			h := &PagesHandler{}
			return h.popFlash(httptest.NewRecorder(), req)
		}
	}
	return ""
}
