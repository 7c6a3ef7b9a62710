package driftnote

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/models"
)

// maxBodyBytes bounds request bodies; notes are text.
const maxBodyBytes = 1 << 20

var validate = validator.New()

type todoRequest struct {
	Text string `json:"text" validate:"required"`
}

type categoryRequest struct {
	Label string `json:"label" validate:"required"`
	Icon  string `json:"icon"`
}

type assistRequest struct {
	Text string `json:"text" validate:"required"`
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return data, nil
}

// decode reads a JSON body into dst and checks its validate tags.
func decode(r *http.Request, dst any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := jsonCodec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return validate.Struct(dst)
}

// session reads the caller set by auth.Middleware.
func (a *App) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	sess, err := auth.FromContext(r.Context())
	if err != nil {
		a.respondErr(w, err)
		return auth.Session{}, false
	}
	return sess, true
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": a.config.Store})
}

func (a *App) handleListNotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	notes, err := a.syncer.Notes(r.Context(), sess)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notes)
}

func (a *App) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var draft models.NoteDraft
	if err := decode(r, &draft); err != nil {
		a.respondErr(w, err)
		return
	}
	if err := a.syncer.Create(r.Context(), sess, draft); err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *App) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	data, err := readBody(r)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	patch, err := models.ParsePatchJSON(data)
	if err != nil {
		a.respondErr(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := a.syncer.Update(r.Context(), sess, mux.Vars(r)["id"], patch); err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *App) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := a.syncer.Delete(r.Context(), sess, mux.Vars(r)["id"]); err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *App) handleAddTodo(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req todoRequest
	if err := decode(r, &req); err != nil {
		a.respondErr(w, err)
		return
	}
	todo, err := a.syncer.AddTodo(r.Context(), sess, mux.Vars(r)["id"], req.Text)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, todo)
}

func (a *App) handleListCategories(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	cats, err := a.categories.List(r.Context(), sess)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cats)
}

func (a *App) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		a.respondErr(w, err)
		return
	}
	cat, err := a.categories.Add(r.Context(), sess, req.Label, req.Icon)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cat)
}

func (a *App) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := a.categories.Remove(r.Context(), sess, mux.Vars(r)["id"]); err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *App) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	notes, err := a.syncer.Notes(r.Context(), sess)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	record, err := a.backups.Run(r.Context(), sess, notes)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func (a *App) handleLastBackup(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	record, err := a.backups.GetLastBackupInfo(r.Context(), sess)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "no backup yet")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (a *App) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	st, err := a.backups.Status(sess.UID)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (a *App) handleAssist(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.session(w, r); !ok {
		return
	}
	if a.assistant == nil {
		a.respondErr(w, fmt.Errorf("%w: assist needs OPENAI_API_KEY", errUnavailable))
		return
	}
	var req assistRequest
	if err := decode(r, &req); err != nil {
		a.respondErr(w, err)
		return
	}
	analysis, err := a.assistant.Analyze(r.Context(), req.Text)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}
