package reports

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/database/mock"
	"github.com/kozaktomas/missing-persons/internal/faceenc"
	"github.com/kozaktomas/missing-persons/internal/facematch"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/uploads"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

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

type fixture struct {
	svc      *Service
	persons  *mock.MockPersonStore
	matches  *mock.MockMatchStore
	encoder  *fakeEncoder
	notifier *fakeNotifier
	uploads  *uploads.Store
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := uploads.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		persons:  mock.NewMockPersonStore(),
		matches:  mock.NewMockMatchStore(),
		encoder:  &fakeEncoder{enc: []float32{0, 0, 0}},
		notifier: &fakeNotifier{},
		uploads:  store,
		metrics:  metrics.New(),
	}
	f.svc = NewService(Deps{
		Persons:  f.persons,
		Matches:  f.matches,
		Encoder:  f.encoder,
		Matcher:  facematch.NewMatcher(f.persons, database.MetricEuclidean, 0.6),
		Notifier: f.notifier,
		Uploads:  store,
		Metrics:  f.metrics,
	})
	return f
}

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func (f *fixture) report(t *testing.T, name string, enc []float32, by int64) *database.MissingPerson {
	t.Helper()
	f.encoder.set(enc, nil)
	p, err := f.svc.Report(context.Background(), ReportInput{
		Name:          name,
		Age:           9,
		Gender:        "female",
		GuardianEmail: "guardian@example.com",
		Image:         testImage(t),
		ReportedBy:    by,
	})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	return p
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	p := f.report(t, "  Anna  ", []float32{1, 2, 3}, 42)

	if p.ID == 0 || p.Name != "Anna" || p.Encoder != "fake" || p.ReportedBy != 42 {
		t.Errorf("unexpected person %+v", p)
	}
	rc, err := f.svc.Image(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("stored photo is not a decodable image: %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.Reports.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("expected 1 successful report, got %v", got)
	}
}

func TestReport_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := ReportInput{Name: "Anna", Age: 9, GuardianEmail: "g@example.com", Image: testImage(t)}

	in := valid
	in.Image = nil
	if _, err := f.svc.Report(ctx, in); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}

	in = valid
	in.Image = []byte("garbage")
	if _, err := f.svc.Report(ctx, in); !errors.Is(err, faceenc.ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}

	f.encoder.set(nil, faceenc.ErrNoFace)
	if _, err := f.svc.Report(ctx, valid); !errors.Is(err, faceenc.ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
	if n := countFiles(t, f.uploads.Root()); n != 0 {
		t.Errorf("expected nothing stored after failures, found %d files", n)
	}
	if n, _ := f.persons.CountPersons(ctx); n != 0 {
		t.Errorf("expected no persons, got %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.Reports.WithLabelValues(metrics.OutcomeNoFace)); got != 1 {
		t.Errorf("expected 1 no-face report, got %v", got)
	}

	f.encoder.set([]float32{1}, nil)
	f.persons.CreateError = errors.New("db down")
	if _, err := f.svc.Report(ctx, valid); err == nil {
		t.Error("expected storage error")
	}
	if n := countFiles(t, f.uploads.Root()); n != 0 {
		t.Errorf("expected orphaned photo to be removed, found %d files", n)
	}
}

func TestReport_Validation(t *testing.T) {
	f := newFixture(t)
	img := testImage(t)

	tests := []struct {
		name  string
		in    ReportInput
		field string
	}{
		{"missing name", ReportInput{Age: 1, GuardianEmail: "g@example.com", Image: img}, "name"},
		{"negative age", ReportInput{Name: "A", Age: -1, GuardianEmail: "g@example.com", Image: img}, "age"},
		{"huge age", ReportInput{Name: "A", Age: 151, GuardianEmail: "g@example.com", Image: img}, "age"},
		{"long gender", ReportInput{Name: "A", Gender: "abcdefghijk", GuardianEmail: "g@example.com", Image: img}, "gender"},
		{"bad email", ReportInput{Name: "A", GuardianEmail: "nope", Image: img}, "guardian_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Report(context.Background(), tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected validation error on %q, got %v", tt.field, err)
			}
		})
	}
}

func TestSearch_Match(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	near := f.report(t, "Near", []float32{0, 0, 0}, 1)
	f.report(t, "Far", []float32{5, 5, 5}, 1)

	f.encoder.set([]float32{0.1, 0, 0}, nil)
	res, err := f.svc.Search(ctx, testImage(t), 7)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Person.ID != near.ID {
		t.Errorf("expected %q, got %q", near.Name, res.Person.Name)
	}
	if !res.Event.Notified || res.Event.SearchedBy != 7 || res.Event.QueryImagePath == "" {
		t.Errorf("unexpected event %+v", res.Event)
	}
	if len(f.notifier.notified) != 1 || f.notifier.notified[0] != near.ID {
		t.Errorf("expected guardian of %d to be notified, got %v", near.ID, f.notifier.notified)
	}
	if events := f.matches.Events(); len(events) != 1 || events[0].PersonID != near.ID {
		t.Errorf("expected one recorded match, got %+v", events)
	}
}

func TestSearch_NotificationFailureStillMatches(t *testing.T) {
	f := newFixture(t)
	f.report(t, "Anna", []float32{0, 0}, 1)
	f.notifier.err = errors.New("smtp down")

	f.encoder.set([]float32{0, 0}, nil)
	res, err := f.svc.Search(context.Background(), testImage(t), 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Event.Notified || res.Event.NotifyError != "smtp down" {
		t.Errorf("expected failed notification on event, got %+v", res.Event)
	}
	if got := testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.OutcomeFailure)); got != 1 {
		t.Errorf("expected 1 failed notification, got %v", got)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.report(t, "Anna", []float32{0, 0}, 1)

	f.encoder.set([]float32{1, 1}, nil)
	if _, err := f.svc.Search(ctx, testImage(t), 2); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}

	if _, err := f.svc.SetFound(ctx, p.ID, 1, true); err != nil {
		t.Fatalf("SetFound() error = %v", err)
	}
	f.encoder.set([]float32{0, 0}, nil)
	if _, err := f.svc.Search(ctx, testImage(t), 2); !errors.Is(err, ErrNoMatch) {
		t.Errorf("found persons must not match, got %v", err)
	}
	if len(f.notifier.notified) != 0 {
		t.Errorf("expected no notifications, got %v", f.notifier.notified)
	}
	if _, err := f.svc.Search(ctx, nil, 2); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.Searches.WithLabelValues(metrics.OutcomeNoMatch)); got != 2 {
		t.Errorf("expected 2 unmatched searches, got %v", got)
	}
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.report(t, "Anna", []float32{0, 0}, 1)

	if _, err := f.svc.SetFound(ctx, p.ID, 2, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden on SetFound, got %v", err)
	}
	if err := f.svc.Delete(ctx, p.ID, 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden on Delete, got %v", err)
	}
	if _, err := f.svc.Matches(ctx, p.ID, 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden on Matches, got %v", err)
	}
	if _, err := f.svc.Get(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_RemovesPhotos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.report(t, "Anna", []float32{0, 0}, 1)

	f.encoder.set([]float32{0, 0}, nil)
	if _, err := f.svc.Search(ctx, testImage(t), 3); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if n := countFiles(t, f.uploads.Root()); n != 2 {
		t.Fatalf("expected report and search photo, found %d files", n)
	}

	if err := f.svc.Delete(ctx, p.ID, 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n := countFiles(t, f.uploads.Root()); n != 0 {
		t.Errorf("expected photos to be removed, found %d files", n)
	}
	if _, err := f.svc.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected person to be gone, got %v", err)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.report(t, "Šárka Nováková", []float32{0}, 1)
	f.report(t, "Petr Svoboda", []float32{1}, 1)

	got, err := f.svc.List(context.Background(), database.ListOptions{Name: "sarka", Limit: 10_000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Šárka Nováková" {
		t.Errorf("unexpected list %+v", got)
	}
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.report(t, "Anna", []float32{0, 0}, 1)

	f.encoder.set([]float32{9, 9, 9}, nil)
	if err := f.svc.Reindex(ctx, p); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	got, _ := f.svc.Get(ctx, p.ID)
	if len(got.Encoding) != 3 || got.Encoding[0] != 9 {
		t.Errorf("expected new encoding, got %v", got.Encoding)
	}

	res, err := f.svc.Search(ctx, testImage(t), 2)
	if err != nil || res.Person.ID != p.ID {
		t.Errorf("expected match on new encoding, got %v (err %v)", res, err)
	}
}

func TestIsStale(t *testing.T) {
	f := newFixture(t)
	p := f.report(t, "Anna", []float32{0, 0}, 1)

	if f.svc.IsStale(p) {
		t.Errorf("fresh encoding from %q reported stale", f.svc.EncoderName())
	}
	if !f.svc.IsStale(&database.MissingPerson{Encoder: "remote:buffalo_l", Encoding: []float32{1}}) {
		t.Error("encoding from another model should be stale")
	}
	if !f.svc.IsStale(&database.MissingPerson{Encoder: f.svc.EncoderName()}) {
		t.Error("missing encoding should be stale")
	}
}
