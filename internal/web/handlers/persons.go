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

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
)

// PersonsHandler handles missing-person endpoints
type PersonsHandler struct {
	reports  *reports.Service
	maxBytes int64
	logger   *slog.Logger
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(svc *reports.Service, maxBytes int64, logger *slog.Logger) *PersonsHandler {
	if maxBytes <= 0 {
		maxBytes = constants.MaxUploadSize
	}
	return &PersonsHandler{reports: svc, maxBytes: maxBytes, logger: logger}
}

// PersonListResponse is returned by List
type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List returns persons, newest first. Supports name, mine, include_found,
// limit and offset query parameters.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := database.ListOptions{
		Name:         q.Get("name"),
		IncludeFound: q.Get("include_found") == "true",
		Limit:        min(queryInt(r, "limit", constants.DefaultPageSize), constants.MaxPageSize),
		Offset:       queryInt(r, "offset", 0),
	}
	session := middleware.GetSessionFromContext(r.Context())
	if q.Get("mine") == "true" && session != nil {
		opts.ReportedBy = session.UserID
	}
	if opts.Limit == 0 {
		opts.Limit = constants.DefaultPageSize
	}

	persons, err := h.reports.List(r.Context(), opts)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}

	resp := PersonListResponse{
		Persons: make([]PersonResponse, 0, len(persons)),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for i := range persons {
		resp.Persons = append(resp.Persons, toPersonResponse(&persons[i], session))
	}
	respondJSON(w, http.StatusOK, resp)
}

// reportInputFromForm reads the report fields from a parsed form.
func reportInputFromForm(r *http.Request) (reports.ReportInput, error) {
	in := reports.ReportInput{
		Name:          r.FormValue("name"),
		Gender:        r.FormValue("gender"),
		Description:   r.FormValue("description"),
		GuardianEmail: r.FormValue("guardian_email"),
	}
	if v := strings.TrimSpace(r.FormValue("age")); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil {
			return in, &reports.ValidationError{Field: "age", Message: "Age must be a whole number"}
		}
		in.Age = age
	}
	return in, nil
}

// Create reports a new missing person from a multipart form
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := parseMultipart(w, r, h.maxBytes); err != nil {
		if errors.Is(err, errTooLarge) {
			respondServiceError(w, r, h.logger, err)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	in, err := reportInputFromForm(r)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	if in.Image, err = readImage(r); err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	in.ReportedBy = session.UserID

	person, err := h.reports.Report(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, toPersonResponse(person, session))
}

// Get returns a single person
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	person, err := h.reports.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toPersonResponse(person, session))
}

// Delete removes a person reported by the current user
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	id, ok := parseID(r, "id")
	if !ok || session == nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	if err := h.reports.Delete(r.Context(), id, session.UserID); err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Image streams the stored photo of a person
func (h *PersonsHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	f, err := h.reports.Image(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.DebugContext(r.Context(), "image copy interrupted", "person_id", id, "error", err)
	}
}

// setFoundRequest is the body of SetFound
type setFoundRequest struct {
	Found *bool `json:"found"`
}

// SetFound marks a person as found or missing again
func (h *PersonsHandler) SetFound(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	id, ok := parseID(r, "id")
	if !ok || session == nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	var req setFoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Found == nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	person, err := h.reports.SetFound(r.Context(), id, session.UserID, *req.Found)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toPersonResponse(person, session))
}

// MatchResponse is the public view of a match event
type MatchResponse struct {
	ID          int64   `json:"id"`
	PersonID    int64   `json:"person_id"`
	SearchedBy  int64   `json:"searched_by,omitempty"`
	Distance    float64 `json:"distance"`
	Notified    bool    `json:"notified"`
	NotifyError string  `json:"notify_error,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toMatchResponse(e *database.MatchEvent) MatchResponse {
	return MatchResponse{
		ID:          e.ID,
		PersonID:    e.PersonID,
		SearchedBy:  e.SearchedBy,
		Distance:    e.Distance,
		Notified:    e.Notified,
		NotifyError: e.NotifyError,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Matches lists the searches that matched a person
func (h *PersonsHandler) Matches(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	id, ok := parseID(r, "id")
	if !ok || session == nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	events, err := h.reports.Matches(r.Context(), id, session.UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]MatchResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toMatchResponse(&events[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}
