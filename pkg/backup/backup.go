// Package backup writes versioned JSON snapshots of a user's notes into
// a dedicated folder of their cloud drive, and keeps a single record of
// the last successful backup per user.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftnote/driftnote/internal/codec"
	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/metrics"
	"github.com/driftnote/driftnote/pkg/models"
)

const (
	// FolderName is the drive folder holding every backup.
	FolderName = "driftnote-backups"
	// FormatVersion is written to every snapshot.
	FormatVersion = "1.0"
	CreatedBy     = "driftnote"
	MimeType      = "application/json"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrNoCredential = errors.New("no storage credential")
	ErrUploadFailed = errors.New("backup upload failed")
	ErrNotFound     = errors.New("no backup status")
	ErrInProgress   = errors.New("backup already in progress")
)

// Snapshot is the content of a backup file.
type Snapshot struct {
	Version   string           `json:"version"`
	Timestamp string           `json:"timestamp"`
	UID       string           `json:"uid"`
	Notes     []models.Note    `json:"notes"`
	Metadata  SnapshotMetadata `json:"metadata"`
}

type SnapshotMetadata struct {
	TotalNotes int    `json:"totalNotes"`
	CreatedBy  string `json:"createdBy"`
}

type Resolver struct {
	meta    docstore.MetaStore
	drives  DriveConnector
	log     logger.Logger
	metrics *metrics.Collector
	now     func() time.Time

	// locks holds one *sync.Mutex per uid, serializing folder resolution.
	locks sync.Map

	statusMu sync.Mutex
	status   map[string]Status
}

type Option func(*Resolver)

func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock replaces time.Now for snapshot timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(meta docstore.MetaStore, drives DriveConnector, opts ...Option) *Resolver {
	r := &Resolver{
		meta:   meta,
		drives: drives,
		log:    logger.Default(),
		now:    time.Now,
		status: make(map[string]Status),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) lock(uid string) func() {
	m, _ := r.locks.LoadOrStore(uid, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *Resolver) userMeta(ctx context.Context, uid string) (models.UserMeta, error) {
	doc, err := r.meta.GetMeta(ctx, uid)
	if err != nil {
		return models.UserMeta{}, fmt.Errorf("backup: read metadata: %w", err)
	}
	return models.UserMetaFromWire(doc), nil
}

// ResolveBackupFolder returns the handle of the user's backup folder,
// finding or creating it on first use. A stored handle is returned
// without any drive call.
func (r *Resolver) ResolveBackupFolder(ctx context.Context, sess auth.Session) (string, error) {
	if sess.StorageToken == "" {
		return "", ErrNoCredential
	}

	meta, err := r.userMeta(ctx, sess.UID)
	if err != nil {
		return "", err
	}
	if meta.BackupFolderID != "" {
		return meta.BackupFolderID, nil
	}

	unlock := r.lock(sess.UID)
	defer unlock()

	// Another resolution may have finished while we waited.
	meta, err = r.userMeta(ctx, sess.UID)
	if err != nil {
		return "", err
	}
	if meta.BackupFolderID != "" {
		return meta.BackupFolderID, nil
	}

	drive, err := r.drives.Connect(ctx, sess.StorageToken)
	if err != nil {
		return "", fmt.Errorf("backup: open drive: %w", err)
	}

	folderID, err := r.findOrCreate(ctx, drive)
	if err != nil {
		return "", err
	}

	if err := r.meta.MergeMeta(ctx, sess.UID, docstore.Document{models.MetaBackupFolder: folderID}); err != nil {
		return "", fmt.Errorf("backup: save folder handle: %w", err)
	}
	r.log.Info("backup folder resolved", "uid", sess.UID, "folder", folderID)
	return folderID, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, drive Drive) (string, error) {
	folders, err := drive.FindFolders(ctx, FolderName)
	if err != nil {
		return "", fmt.Errorf("backup: search folder: %w", err)
	}
	if len(folders) > 0 {
		return earliest(folders).ID, nil
	}

	created, err := drive.CreateFolder(ctx, FolderName)
	if err != nil {
		return "", fmt.Errorf("backup: create folder: %w", err)
	}

	// Another process may have created one concurrently; everyone adopts
	// the earliest.
	folders, err = drive.FindFolders(ctx, FolderName)
	if err != nil || len(folders) < 2 {
		return created.ID, nil //nolint:nilerr // the created folder is usable
	}
	chosen := earliest(folders)
	if chosen.ID != created.ID {
		r.log.Warn("duplicate backup folders, adopting the earliest", "created", created.ID, "adopted", chosen.ID)
	}
	return chosen.ID, nil
}

// FileName returns the backup file name for a point in time.
func FileName(at time.Time) string {
	stamp := at.UTC().Format(timestampLayout)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "backup-" + stamp + ".json"
}

// NewSnapshot builds the backup content for notes.
func NewSnapshot(uid string, notes []models.Note, at time.Time) Snapshot {
	if notes == nil {
		notes = []models.Note{}
	}
	return Snapshot{
		Version:   FormatVersion,
		Timestamp: at.UTC().Format(timestampLayout),
		UID:       uid,
		Notes:     notes,
		Metadata: SnapshotMetadata{
			TotalNotes: len(notes),
			CreatedBy:  CreatedBy,
		},
	}
}

// UploadBackup writes a snapshot of notes into the backup folder and
// replaces the user's backup record. On failure the previous record is
// kept.
func (r *Resolver) UploadBackup(ctx context.Context, sess auth.Session, notes []models.Note) (*models.BackupRecord, error) {
	folderID, err := r.ResolveBackupFolder(ctx, sess)
	if errors.Is(err, ErrNoCredential) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	at := r.now()
	var buf bytes.Buffer
	if err := (codec.JSON{Indent: "  "}).NewEncoder(&buf).Encode(NewSnapshot(sess.UID, notes, at)); err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %w", ErrUploadFailed, err)
	}

	drive, err := r.drives.Connect(ctx, sess.StorageToken)
	if err != nil {
		return nil, fmt.Errorf("%w: open drive: %w", ErrUploadFailed, err)
	}
	file, err := drive.Upload(ctx, folderID, FileName(at), MimeType, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	record := &models.BackupRecord{
		Date:       at.UTC(),
		FileID:     file.ID,
		FileName:   file.Name,
		NotesCount: len(notes),
	}
	if record.FileName == "" {
		record.FileName = FileName(at)
	}
	if err := r.meta.MergeMeta(ctx, sess.UID, docstore.Document{models.MetaLastBackup: record.Wire()}); err != nil {
		return nil, fmt.Errorf("backup: save record: %w", err)
	}

	r.log.Info("backup uploaded", "uid", sess.UID, "file", record.FileName, "notes", record.NotesCount)
	return record, nil
}

// GetLastBackupInfo returns the last backup record, or nil when the user
// has never backed up.
func (r *Resolver) GetLastBackupInfo(ctx context.Context, sess auth.Session) (*models.BackupRecord, error) {
	meta, err := r.userMeta(ctx, sess.UID)
	if err != nil {
		return nil, err
	}
	return meta.LastBackup, nil
}
