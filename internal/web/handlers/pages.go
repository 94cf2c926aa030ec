package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/web/middleware"
)

const flashCookieName = "missing_persons_flash"

// homeListLimit caps the reports shown on the home page.
const homeListLimit = 20

// PagesHandler serves the server-rendered HTML pages
type PagesHandler struct {
	accounts       *accounts.Service
	reports        *reports.Service
	sessionManager *middleware.SessionManager
	metrics        *metrics.Metrics
	templates      map[string]*template.Template
	maxBytes       int64
	logger         *slog.Logger
}

// PagesDeps are the collaborators of PagesHandler
type PagesDeps struct {
	Accounts       *accounts.Service
	Reports        *reports.Service
	SessionManager *middleware.SessionManager
	Metrics        *metrics.Metrics
	Templates      map[string]*template.Template
	MaxBytes       int64
	Logger         *slog.Logger
}

// NewPagesHandler creates a new pages handler
func NewPagesHandler(d PagesDeps) *PagesHandler {
	if d.MaxBytes <= 0 {
		d.MaxBytes = constants.MaxUploadSize
	}
	return &PagesHandler{
		accounts:       d.Accounts,
		reports:        d.Reports,
		sessionManager: d.SessionManager,
		metrics:        d.Metrics,
		templates:      d.Templates,
		maxBytes:       d.MaxBytes,
		logger:         d.Logger,
	}
}

// pageData is passed to every template
type pageData struct {
	Title    string
	Flash    string
	User     *middleware.Session
	Person   *database.MissingPerson
	Persons  []database.MissingPerson
	Notified bool
}

func (h *PagesHandler) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	data.Flash = h.popFlash(w, r)
	if data.User == nil {
		data.User = middleware.GetSessionFromContext(r.Context())
	}

	t, ok := h.templates[name]
	if !ok {
		h.logger.ErrorContext(r.Context(), "unknown template", "name", name)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page", "name", name, "error", err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// setFlash stores a one-shot message shown on the next rendered page.
func setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(msg)),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   constants.FlashMaxAge,
	})
}

func (h *PagesHandler) popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	msg, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return ""
	}
	return string(msg)
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, path, msg string) {
	if msg != "" {
		setFlash(w, msg)
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// Index sends logged-in users home and everyone else to the login form.
func (h *PagesHandler) Index(w http.ResponseWriter, r *http.Request) {
	if h.sessionManager.GetSessionFromRequest(r) != nil {
		http.Redirect(w, r, "/home", http.StatusSeeOther)
		return
	}
	h.render(w, r, "login", pageData{Title: "Log in"})
}

// LoginForm renders the login page
func (h *PagesHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login", pageData{Title: "Log in"})
}

// Login authenticates a form submission
func (h *PagesHandler) Login(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Authenticate(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		h.metrics.Logins.WithLabelValues(metrics.OutcomeFailure).Inc()
		_, msg := errorStatus(err)
		if !errors.Is(err, accounts.ErrInvalidCredentials) {
			h.logger.ErrorContext(r.Context(), "login failed", "error", err)
		}
		redirectWithFlash(w, r, "/login", msg)
		return
	}

	session, err := h.sessionManager.CreateSession(r.Context(), user.ID, user.Username)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create session", "error", err)
		redirectWithFlash(w, r, "/login", msgInternal)
		return
	}
	h.metrics.Logins.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.sessionManager.SetSessionCookie(w, r, session)
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

// RegisterForm renders the registration page
func (h *PagesHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register", pageData{Title: "Register"})
}

// Register creates an account from a form submission
func (h *PagesHandler) Register(w http.ResponseWriter, r *http.Request) {
	_, err := h.accounts.Register(r.Context(), accounts.RegisterInput{
		Username:    r.PostFormValue("username"),
		Password:    r.PostFormValue("password"),
		Email:       r.PostFormValue("email"),
		ContactInfo: r.PostFormValue("contact_info"),
	})
	if err != nil {
		h.metrics.Registrations.WithLabelValues(metrics.OutcomeFailure).Inc()
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "registration failed", "error", err)
		}
		redirectWithFlash(w, r, "/register", msg)
		return
	}
	h.metrics.Registrations.WithLabelValues(metrics.OutcomeSuccess).Inc()
	redirectWithFlash(w, r, "/login", msgRegistered)
}

// Home shows the reports of the logged-in user
func (h *PagesHandler) Home(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	data := pageData{Title: "Home", User: session}

	persons, err := h.reports.List(r.Context(), database.ListOptions{
		ReportedBy:   session.UserID,
		IncludeFound: true,
		Limit:        homeListLimit,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list reports", "error", err)
	}
	data.Persons = persons
	h.render(w, r, "home", data)
}

// UpdateMissingForm renders the report form
func (h *PagesHandler) UpdateMissingForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "update_missing", pageData{Title: "Report a missing person"})
}

// UpdateMissing stores a report submitted from the form
func (h *PagesHandler) UpdateMissing(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	if err := parseMultipart(w, r, h.maxBytes); err != nil {
		msg := msgNoImage
		if errors.Is(err, errTooLarge) {
			msg = msgTooLarge
		}
		redirectWithFlash(w, r, "/home", msg)
		return
	}

	in, err := reportInputFromForm(r)
	if err == nil {
		in.Image, err = readImage(r)
	}
	if err == nil {
		in.ReportedBy = session.UserID
		_, err = h.reports.Report(r.Context(), in)
	}
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "report failed", "error", err)
		}
		redirectWithFlash(w, r, "/home", msg)
		return
	}
	redirectWithFlash(w, r, "/home", msgReported)
}

// SearchMissingForm renders the search form
func (h *PagesHandler) SearchMissingForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "search_missing", pageData{Title: "Search"})
}

// SearchMissing runs a face search and renders the matched person
func (h *PagesHandler) SearchMissing(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	if err := parseMultipart(w, r, h.maxBytes); err != nil {
		msg := msgNoImage
		if errors.Is(err, errTooLarge) {
			msg = msgTooLarge
		}
		redirectWithFlash(w, r, "/search_missing", msg)
		return
	}

	image, err := readImage(r)
	var res *reports.SearchResult
	if err == nil {
		res, err = h.reports.Search(r.Context(), image, session.UserID)
	}
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "search failed", "error", err)
		}
		redirectWithFlash(w, r, "/search_missing", msg)
		return
	}

	data := pageData{Title: "Match found", User: session, Person: res.Person}
	if res.Event != nil {
		data.Notified = res.Event.Notified
	}
	h.render(w, r, "search_result", data)
}

// Logout ends the session and returns to the login page
func (h *PagesHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		if err := h.sessionManager.DeleteSession(r.Context(), session.ID); err != nil {
			h.logger.WarnContext(r.Context(), "failed to delete session", "error", err)
		}
	}
	h.sessionManager.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
