package driftnote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/driftnote/driftnote/pkg/auth"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP API.
//
//	GET    /api/health
//	GET    /api/notes
//	GET    /api/notes/stream          websocket, one snapshot per message
//	POST   /api/notes
//	PATCH  /api/notes/{id}
//	DELETE /api/notes/{id}
//	POST   /api/notes/{id}/todos
//	GET    /api/categories
//	POST   /api/categories
//	DELETE /api/categories/{id}
//	POST   /api/backups
//	GET    /api/backups/last
//	GET    /api/backups/status
//	POST   /api/assist
//	GET    /metrics
//
// Everything under /api except health requires a bearer token.
func (a *App) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(a.observe)

	router.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(auth.Middleware(a.issuer, func(w http.ResponseWriter, _ *http.Request, err error) {
		a.respondErr(w, err)
	}))

	authed.HandleFunc("/notes", a.handleListNotes).Methods(http.MethodGet)
	authed.HandleFunc("/notes/stream", a.handleStreamNotes).Methods(http.MethodGet)
	authed.HandleFunc("/notes", a.handleCreateNote).Methods(http.MethodPost)
	authed.HandleFunc("/notes/{id}", a.handleUpdateNote).Methods(http.MethodPatch)
	authed.HandleFunc("/notes/{id}", a.handleDeleteNote).Methods(http.MethodDelete)
	authed.HandleFunc("/notes/{id}/todos", a.handleAddTodo).Methods(http.MethodPost)

	authed.HandleFunc("/categories", a.handleListCategories).Methods(http.MethodGet)
	authed.HandleFunc("/categories", a.handleAddCategory).Methods(http.MethodPost)
	authed.HandleFunc("/categories/{id}", a.handleRemoveCategory).Methods(http.MethodDelete)

	authed.HandleFunc("/backups", a.handleRunBackup).Methods(http.MethodPost)
	authed.HandleFunc("/backups/last", a.handleLastBackup).Methods(http.MethodGet)
	authed.HandleFunc("/backups/status", a.handleBackupStatus).Methods(http.MethodGet)

	authed.HandleFunc("/assist", a.handleAssist).Methods(http.MethodPost)

	return router
}

// Run serves the API until ctx ends, then allows in-flight requests
// shutdownTimeout to complete.
func (a *App) Run(ctx context.Context, _ *RunCommand) error {
	if a.config.JWTSecret == "" {
		return ErrNoSecret
	}

	server := &http.Server{
		Addr:              a.config.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("starting driftnote server", "addr", a.config.Addr, "store", a.config.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
