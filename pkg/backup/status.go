package backup

import (
	"context"
	"time"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/models"
)

type State string

const (
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
)

// Status is the outcome of the latest Run of a user.
type Status struct {
	State     State                `json:"state"`
	Message   string               `json:"message"`
	Record    *models.BackupRecord `json:"record,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Run performs UploadBackup and tracks its progress for Status. Only one
// Run per user may be in progress.
func (r *Resolver) Run(ctx context.Context, sess auth.Session, notes []models.Note) (*models.BackupRecord, error) {
	r.statusMu.Lock()
	if st, ok := r.status[sess.UID]; ok && st.State == StateInProgress {
		r.statusMu.Unlock()
		return nil, ErrInProgress
	}
	r.status[sess.UID] = Status{State: StateInProgress, Message: "backup in progress", UpdatedAt: r.now()}
	r.statusMu.Unlock()

	record, err := r.UploadBackup(ctx, sess, notes)
	r.metrics.Backup(err)

	st := Status{State: StateSuccess, Message: "backup completed", Record: record, UpdatedAt: r.now()}
	if err != nil {
		st = Status{State: StateFailure, Message: err.Error(), UpdatedAt: r.now()}
		r.log.Error("backup failed", "uid", sess.UID, "error", err)
	}

	r.statusMu.Lock()
	r.status[sess.UID] = st
	r.statusMu.Unlock()
	return record, err
}

// Status returns the status of the latest Run, or ErrNotFound.
func (r *Resolver) Status(uid string) (Status, error) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	st, ok := r.status[uid]
	if !ok {
		return Status{}, ErrNotFound
	}
	return st, nil
}
