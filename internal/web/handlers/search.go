package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
)

// SearchHandler handles face searches
type SearchHandler struct {
	reports  *reports.Service
	maxBytes int64
	logger   *slog.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(svc *reports.Service, maxBytes int64, logger *slog.Logger) *SearchHandler {
	if maxBytes <= 0 {
		maxBytes = constants.MaxUploadSize
	}
	return &SearchHandler{reports: svc, maxBytes: maxBytes, logger: logger}
}

// SearchResponse is returned when a search photo matched a person
type SearchResponse struct {
	Person   PersonResponse `json:"person"`
	Distance float64        `json:"distance"`
	Notified bool           `json:"notified"`
}

// Search compares the uploaded photo against the reported persons
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
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
	image, err := readImage(r)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.reports.Search(r.Context(), image, session.UserID)
	if err != nil {
		respondServiceError(w, r, h.logger, err)
		return
	}

	resp := SearchResponse{
		Person:   toPersonResponse(res.Person, session),
		Distance: res.Distance,
	}
	if res.Event != nil {
		resp.Notified = res.Event.Notified
	}
	respondJSON(w, http.StatusOK, resp)
}
