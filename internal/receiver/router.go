package receiver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bargom/hookrelay/pkg/logging"
)

// maxBodyBytes caps how much of a delivery body is recorded.
const maxBodyBytes = 1 << 20

// NewRouter creates the receiver's router: hook endpoints that record
// and answer, plus inspection endpoints over the recording ring.
func NewRouter(rec *Recorder, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.NewHTTPMiddleware(logger).Handler)
	r.Use(middleware.Recoverer)

	r.Post("/hook", handleHook(rec, http.StatusOK))
	r.Post("/hook/{code}", handleHookWithCode(rec))
	r.Get("/requests", handleListRequests(rec))
	r.Delete("/requests", handleClearRequests(rec))

	return r
}

func handleHook(rec *Recorder, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record(rec, w, r, status)
	}
}

func handleHookWithCode(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "code")
		code, err := strconv.Atoi(raw)
		// 1xx interim responses do not terminate the exchange; they are
		// useless for delivery tests, so only final codes are accepted.
		if err != nil || code < 200 || code > 599 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "code must be a status code between 200 and 599",
			})
			return
		}
		record(rec, w, r, code)
	}
}

// record stores the request and answers with the requested status.
func record(rec *Recorder, w http.ResponseWriter, r *http.Request, status int) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	id := rec.Record(RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		Body:       string(body),
		RemoteAddr: r.RemoteAddr,
		Status:     status,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// 204/304 must not carry a body.
	if status != http.StatusNoContent && status != http.StatusNotModified {
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func handleListRequests(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		requests := rec.List(limit)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"requests": requests,
			"count":    len(requests),
		})
	}
}

func handleClearRequests(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}
