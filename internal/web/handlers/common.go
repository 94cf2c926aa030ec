package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/faceenc"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// imageField is the multipart field carrying the photo on every upload form.
const imageField = "image"

// User-facing messages shared by the JSON API and the HTML pages.
const (
	msgInvalidCredentials = "Invalid username or password"
	msgUsernameTaken      = "Username already exists"
	msgEmailTaken         = "Email already registered"
	msgRegistered         = "Registration successful. Please log in."
	msgReported           = "Missing person added successfully"
	msgNoFace             = "No face detected in the image. Please try again with a clear face image."
	msgNoImage            = "No image uploaded. Please upload an image."
	msgNoMatch            = "No matching person found"
	msgInvalidImage       = "The uploaded file is not a supported image"
	msgTooLarge           = "The uploaded file is too large"
	msgNotFound           = "person not found"
	msgForbidden          = "only the reporting user may change this record"
	msgInternal           = "internal server error"
)

// errTooLarge is returned when a request body exceeds the upload limit.
var errTooLarge = errors.New("request body too large")

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps a service error to an HTTP status and a message that is
// safe to show to the user.
func errorStatus(err error) (int, string) {
	var accErr *accounts.ValidationError
	var repErr *reports.ValidationError

	switch {
	case errors.As(err, &accErr):
		return http.StatusBadRequest, accErr.Message
	case errors.As(err, &repErr):
		return http.StatusBadRequest, repErr.Message
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidCredentials
	case errors.Is(err, accounts.ErrUsernameTaken):
		return http.StatusConflict, msgUsernameTaken
	case errors.Is(err, accounts.ErrEmailTaken):
		return http.StatusConflict, msgEmailTaken
	case errors.Is(err, reports.ErrNoImage):
		return http.StatusBadRequest, msgNoImage
	case errors.Is(err, faceenc.ErrInvalidImage):
		return http.StatusBadRequest, msgInvalidImage
	case errors.Is(err, faceenc.ErrNoFace):
		return http.StatusUnprocessableEntity, msgNoFace
	case errors.Is(err, reports.ErrNoMatch):
		return http.StatusNotFound, msgNoMatch
	case errors.Is(err, reports.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, reports.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// respondServiceError logs unexpected failures and writes the mapped error.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", sanitizeForLog(r.URL.Path),
			"error", err,
		)
	}
	respondError(w, status, msg)
}

// parseMultipart bounds the body to maxBytes and parses the form.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	if r.ContentLength > maxBytes {
		return errTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errTooLarge
		}
		return err
	}
	return nil
}

// readImage returns the uploaded photo, or nil when the form has none.
func readImage(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errTooLarge
		}
		return nil, err
	}
	return data, nil
}

// parseID reads a positive integer URL parameter.
func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// PersonResponse is the public view of a missing person.
type PersonResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender,omitempty"`
	Description   string `json:"description,omitempty"`
	GuardianEmail string `json:"guardian_email,omitempty"`
	ImageURL      string `json:"image_url"`
	ReportedBy    int64  `json:"reported_by,omitempty"`
	Found         bool   `json:"found"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// toPersonResponse builds the public view. The guardian's email is only
// shown to the user who filed the report.
func toPersonResponse(p *database.MissingPerson, viewer *middleware.Session) PersonResponse {
	resp := PersonResponse{
		ID:          p.ID,
		Name:        p.Name,
		Age:         p.Age,
		Gender:      p.Gender,
		Description: p.Description,
		ImageURL:    "/api/v1/persons/" + strconv.FormatInt(p.ID, 10) + "/image",
		ReportedBy:  p.ReportedBy,
		Found:       p.Found,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if viewer != nil && viewer.UserID == p.ReportedBy {
		resp.GuardianEmail = p.GuardianEmail
	}
	return resp
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
