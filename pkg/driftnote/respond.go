package driftnote

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/driftnote/driftnote/internal/codec"
	"github.com/driftnote/driftnote/pkg/assist"
	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/backup"
	"github.com/driftnote/driftnote/pkg/categories"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/models"
	"github.com/driftnote/driftnote/pkg/notesync"
)

var (
	errBadRequest  = errors.New("invalid request payload")
	errUnavailable = errors.New("feature not configured")
)

var jsonCodec codec.JSON

func respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	data, err := jsonCodec.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, backup.ErrNoCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, categories.ErrDefaultCategory),
		errors.Is(err, categories.ErrExists),
		errors.Is(err, backup.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, notesync.ErrNoteNotFound),
		errors.Is(err, backup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrUnknownField),
		errors.Is(err, models.ErrImmutableField),
		errors.Is(err, models.ErrDuplicateTodoID),
		errors.Is(err, categories.ErrInvalid),
		errors.Is(err, assist.ErrEmptyText),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, notesync.ErrRemoteUnavailable),
		errors.Is(err, backup.ErrUploadFailed),
		errors.Is(err, assist.ErrBadResponse):
		return http.StatusBadGateway
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *App) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "status", status, "error", err)
	}
	respondError(w, status, err.Error())
}

// statusRecorder captures the response status for metrics. It keeps
// http.Hijacker so websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// observe records the duration of every request by route template.
func (a *App) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		a.metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
	})
}
