// Package reports implements missing-person reports and face searches.
package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/faceenc"
	"github.com/kozaktomas/missing-persons/internal/facematch"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/notify"
	"github.com/kozaktomas/missing-persons/internal/uploads"
)

var (
	// ErrNoImage is returned when a report or search arrives without a photo.
	ErrNoImage = errors.New("no image uploaded")
	// ErrNoMatch is returned when no searchable person lies within tolerance.
	ErrNoMatch = errors.New("no matching person found")
	// ErrNotFound is returned for unknown person IDs.
	ErrNotFound = errors.New("person not found")
	// ErrForbidden is returned when a user changes a report they did not file.
	ErrForbidden = errors.New("only the reporting user may change this record")
)

// ValidationError describes a rejected report field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Deps are the collaborators of the service.
type Deps struct {
	Persons      database.PersonWriter
	Matches      database.MatchStore
	Encoder      faceenc.Encoder
	Matcher      *facematch.Matcher
	Notifier     notify.Notifier
	Uploads      *uploads.Store
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	MaxImageSize int
}

// Service coordinates storage, face encoding and notifications.
type Service struct {
	persons      database.PersonWriter
	matches      database.MatchStore
	encoder      faceenc.Encoder
	matcher      *facematch.Matcher
	notifier     notify.Notifier
	uploads      *uploads.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxImageSize int
}

// NewService creates the service. Missing optional dependencies get defaults.
func NewService(d Deps) *Service {
	s := &Service{
		persons:      d.Persons,
		matches:      d.Matches,
		encoder:      d.Encoder,
		matcher:      d.Matcher,
		notifier:     d.Notifier,
		uploads:      d.Uploads,
		metrics:      d.Metrics,
		logger:       d.Logger,
		maxImageSize: d.MaxImageSize,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger)
	}
	if s.matcher == nil {
		s.matcher = facematch.NewMatcher(d.Persons, database.MetricEuclidean, constants.DefaultTolerance)
	}
	if s.maxImageSize <= 0 {
		s.maxImageSize = constants.MaxImageSize
	}
	return s
}

// ReportInput is the data submitted for a new missing person.
type ReportInput struct {
	Name          string
	Age           int
	Gender        string
	Description   string
	GuardianEmail string
	Image         []byte
	ReportedBy    int64
}

func (in *ReportInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Gender = strings.TrimSpace(in.Gender)
	in.Description = strings.TrimSpace(in.Description)
	in.GuardianEmail = strings.TrimSpace(in.GuardianEmail)

	if in.Name == "" || utf8.RuneCountInString(in.Name) > constants.MaxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("Name is required and must be at most %d characters", constants.MaxNameLength)}
	}
	if in.Age < 0 || in.Age > constants.MaxAge {
		return &ValidationError{Field: "age", Message: fmt.Sprintf("Age must be between 0 and %d", constants.MaxAge)}
	}
	if utf8.RuneCountInString(in.Gender) > constants.MaxGenderLength {
		return &ValidationError{Field: "gender", Message: fmt.Sprintf("Gender must be at most %d characters", constants.MaxGenderLength)}
	}
	addr, err := mail.ParseAddress(in.GuardianEmail)
	if err != nil || addr.Address != in.GuardianEmail {
		return &ValidationError{Field: "guardian_email", Message: "Invalid guardian email address"}
	}
	return nil
}

// encode normalizes the photo and computes its face encoding.
func (s *Service) encode(ctx context.Context, image []byte) ([]byte, []float32, error) {
	if len(image) == 0 {
		return nil, nil, ErrNoImage
	}
	jpegData, err := faceenc.PrepareImage(image, s.maxImageSize)
	if err != nil {
		return nil, nil, err
	}
	enc, err := s.encoder.Encode(ctx, jpegData)
	if err != nil {
		return nil, nil, err
	}
	return jpegData, enc, nil
}

// Report stores a new missing person. Nothing is written unless a face was
// found in the photo.
func (s *Service) Report(ctx context.Context, in ReportInput) (*database.MissingPerson, error) {
	person, err := s.report(ctx, in)
	switch {
	case err == nil:
		s.metrics.Reports.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.Is(err, faceenc.ErrNoFace):
		s.metrics.Reports.WithLabelValues(metrics.OutcomeNoFace).Inc()
	default:
		s.metrics.Reports.WithLabelValues(metrics.OutcomeFailure).Inc()
	}
	return person, err
}

func (s *Service) report(ctx context.Context, in ReportInput) (*database.MissingPerson, error) {
	if len(in.Image) == 0 {
		return nil, ErrNoImage
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	jpegData, enc, err := s.encode(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	rel, err := s.uploads.Save(constants.PersonsUploadDir, jpegData)
	if err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}

	person := &database.MissingPerson{
		Name:          in.Name,
		Age:           in.Age,
		Gender:        in.Gender,
		Description:   in.Description,
		GuardianEmail: in.GuardianEmail,
		ImagePath:     rel,
		Encoding:      enc,
		Encoder:       s.encoder.Name(),
		ReportedBy:    in.ReportedBy,
	}
	if err := s.persons.CreatePerson(ctx, person); err != nil {
		if rmErr := s.uploads.Remove(rel); rmErr != nil {
			s.logger.WarnContext(ctx, "failed to remove orphaned photo", "path", rel, "error", rmErr)
		}
		return nil, fmt.Errorf("save person: %w", err)
	}

	s.matcher.Add(*person)
	s.logger.InfoContext(ctx, "missing person reported", "person_id", person.ID, "reported_by", in.ReportedBy)
	return person, nil
}

// SearchResult describes a successful match.
type SearchResult struct {
	Person   *database.MissingPerson
	Distance float64
	Event    *database.MatchEvent
}

// Search looks for the reported person closest to the face in the photo.
// On a match the guardian is notified and the match is recorded; a failed
// notification is recorded on the event but does not fail the search.
func (s *Service) Search(ctx context.Context, image []byte, searchedBy int64) (*SearchResult, error) {
	start := time.Now()
	res, err := s.search(ctx, image, searchedBy)
	s.metrics.SearchSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.Searches.WithLabelValues(metrics.OutcomeMatch).Inc()
	case errors.Is(err, ErrNoMatch):
		s.metrics.Searches.WithLabelValues(metrics.OutcomeNoMatch).Inc()
	case errors.Is(err, faceenc.ErrNoFace):
		s.metrics.Searches.WithLabelValues(metrics.OutcomeNoFace).Inc()
	default:
		s.metrics.Searches.WithLabelValues(metrics.OutcomeFailure).Inc()
	}
	return res, err
}

func (s *Service) search(ctx context.Context, image []byte, searchedBy int64) (*SearchResult, error) {
	jpegData, enc, err := s.encode(ctx, image)
	if err != nil {
		return nil, err
	}

	person, dist, err := s.matcher.Best(ctx, enc)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, ErrNoMatch
	}

	event := &database.MatchEvent{
		PersonID:   person.ID,
		SearchedBy: searchedBy,
		Distance:   dist,
	}

	if rel, err := s.uploads.Save(constants.SearchesUploadDir, jpegData); err != nil {
		s.logger.WarnContext(ctx, "failed to store search photo", "error", err)
	} else {
		event.QueryImagePath = rel
	}

	if err := s.notifier.NotifyFound(ctx, person); err != nil {
		event.NotifyError = err.Error()
		s.metrics.Notifications.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.logger.ErrorContext(ctx, "failed to notify guardian", "person_id", person.ID, "error", err)
	} else {
		event.Notified = true
		s.metrics.Notifications.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}

	if err := s.matches.RecordMatch(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to record match", "person_id", person.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "search matched",
		"person_id", person.ID,
		"distance", dist,
		"searched_by", searchedBy,
		"notified", event.Notified,
	)
	return &SearchResult{Person: person, Distance: dist, Event: event}, nil
}

// List returns persons matching the options with the limit clamped.
func (s *Service) List(ctx context.Context, opts database.ListOptions) ([]database.MissingPerson, error) {
	if opts.Limit <= 0 {
		opts.Limit = constants.DefaultPageSize
	}
	opts.Limit = min(opts.Limit, constants.MaxPageSize)
	opts.Offset = max(opts.Offset, 0)
	return s.persons.ListPersons(ctx, opts)
}

// Get returns a person by ID.
func (s *Service) Get(ctx context.Context, id int64) (*database.MissingPerson, error) {
	p, err := s.persons.GetPerson(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// getOwned returns the person if userID filed the report.
func (s *Service) getOwned(ctx context.Context, id, userID int64) (*database.MissingPerson, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ReportedBy == 0 || p.ReportedBy != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

// SetFound marks a person as found, or missing again.
func (s *Service) SetFound(ctx context.Context, id, userID int64, found bool) (*database.MissingPerson, error) {
	p, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := s.persons.SetFound(ctx, id, found); err != nil {
		return nil, fmt.Errorf("update person: %w", err)
	}
	p.Found = found
	s.matcher.Add(*p)
	s.logger.InfoContext(ctx, "person status changed", "person_id", id, "found", found)
	return p, nil
}

// Delete removes a person together with the stored photos.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	p, err := s.getOwned(ctx, id, userID)
	if err != nil {
		return err
	}

	events, err := s.matches.ListMatches(ctx, id)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	if err := s.persons.DeletePerson(ctx, id); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	s.matcher.Remove(id)

	paths := []string{p.ImagePath}
	for _, e := range events {
		if e.QueryImagePath != "" {
			paths = append(paths, e.QueryImagePath)
		}
	}
	for _, rel := range paths {
		if err := s.uploads.Remove(rel); err != nil {
			s.logger.WarnContext(ctx, "failed to remove photo", "path", rel, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "person deleted", "person_id", id)
	return nil
}

// Matches lists the match events of a person to its reporter.
func (s *Service) Matches(ctx context.Context, id, userID int64) ([]database.MatchEvent, error) {
	if _, err := s.getOwned(ctx, id, userID); err != nil {
		return nil, err
	}
	events, err := s.matches.ListMatches(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return events, nil
}

// Image opens the stored photo of a person.
func (s *Service) Image(ctx context.Context, id int64) (io.ReadCloser, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := s.uploads.Open(p.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("open photo: %w", err)
	}
	return f, nil
}

// EncoderName is the name new encodings are stored under. The remote
// encoder only knows its model after the first request.
func (s *Service) EncoderName() string {
	return s.encoder.Name()
}

// IsStale reports whether p lacks an encoding from the current encoder.
func (s *Service) IsStale(p *database.MissingPerson) bool {
	return len(p.Encoding) == 0 || p.Encoder != s.encoder.Name()
}

// Reindex recomputes the encoding of a person from the stored photo with
// the current encoder.
func (s *Service) Reindex(ctx context.Context, p *database.MissingPerson) error {
	f, err := s.uploads.Open(p.ImagePath)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}

	enc, err := s.encoder.Encode(ctx, data)
	if err != nil {
		return err
	}
	name := s.encoder.Name()
	if err := s.persons.UpdateEncoding(ctx, p.ID, enc, name); err != nil {
		return err
	}
	p.Encoding = enc
	p.Encoder = name
	s.matcher.Add(*p)
	return nil
}
