package server

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/mail-composer/internal/mailer"
)

// Composer sends a stored template with a request payload.
type Composer interface {
	Send(ctx context.Context, templateID int, payload io.Reader) (*mailer.Result, error)
}

type problem struct {
	Title     string              `json:"title"`
	Status    int                 `json:"status"`
	RequestID string              `json:"request_id,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

type sendResponse struct {
	Provider  string `json:"provider"`
	MessageID string `json:"message_id,omitempty"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/send/{id}", s.handleSend)
		r.Handle("/debug/vars", expvar.Handler())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "template id must be an integer", nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.config.MaxPayloadSize)
	defer body.Close()

	logger := slog.With("template_id", id, "request_id", middleware.GetReqID(r.Context()))

	result, err := s.config.Composer.Send(r.Context(), id, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		var authoring *mailer.AuthoringError
		switch {
		case errors.As(err, &maxErr):
			logger.Warn("payload too large", "limit", maxErr.Limit)
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "payload too large", nil)
		case errors.As(err, &authoring):
			logger.Error("template authoring error", "part", authoring.Part, "error", err)
			writeProblem(w, r, http.StatusInternalServerError, "template error", nil)
		case errors.Is(err, context.Canceled):
			logger.Info("request cancelled")
			writeProblem(w, r, 499, "request cancelled", nil)
		default:
			logger.Error("mail delivery failed", "error", err)
			writeProblem(w, r, http.StatusBadGateway, "delivery failed", nil)
		}
		return
	}

	switch result.Status {
	case mailer.StatusSent:
		resp := sendResponse{}
		if result.Response != nil {
			resp.Provider = result.Response.Provider
			resp.MessageID = result.Response.MessageID
		}
		logger.Info("mail sent", "provider", resp.Provider, "message_id", resp.MessageID)
		writeJSON(w, http.StatusOK, resp)
	case mailer.StatusNotFound:
		writeProblem(w, r, http.StatusNotFound, "template not found", nil)
	case mailer.StatusInvalid:
		logger.Info("payload invalid", "violations", len(result.Errors))
		writeProblem(w, r, http.StatusBadRequest, "invalid payload", result.Errors.ByField())
	default:
		logger.Error("unexpected send status", "status", result.Status.String())
		writeProblem(w, r, http.StatusInternalServerError, "unexpected status", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title string, fields map[string][]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Title:     title,
		Status:    status,
		RequestID: middleware.GetReqID(r.Context()),
		Errors:    fields,
	})
}
