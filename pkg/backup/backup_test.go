package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/docstore/memdoc"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/metrics"
	"github.com/driftnote/driftnote/pkg/models"
)

type fakeDrive struct {
	mu       sync.Mutex
	folders  []Folder
	files    map[string][]byte
	parents  map[string]string
	next     int
	clock    time.Time
	searches atomic.Int32
	creates  atomic.Int32

	failUpload error
	// afterCreate runs after a folder is created, before CreateFolder returns.
	afterCreate func()
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		files:   make(map[string][]byte),
		parents: make(map[string]string),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (d *fakeDrive) FindFolders(_ context.Context, name string) ([]Folder, error) {
	d.searches.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Folder
	for _, f := range d.folders {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out, nil
}

func (d *fakeDrive) addFolder(name string) Folder {
	d.next++
	d.clock = d.clock.Add(time.Second)
	f := Folder{ID: fmt.Sprintf("folder-%d", d.next), Name: name, CreatedTime: d.clock}
	d.folders = append(d.folders, f)
	return f
}

func (d *fakeDrive) CreateFolder(_ context.Context, name string) (Folder, error) {
	d.creates.Add(1)
	d.mu.Lock()
	f := d.addFolder(name)
	d.mu.Unlock()
	if d.afterCreate != nil {
		d.afterCreate()
	}
	return f, nil
}

func (d *fakeDrive) Upload(_ context.Context, folderID, name, _ string, content []byte) (File, error) {
	if d.failUpload != nil {
		return File{}, d.failUpload
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := fmt.Sprintf("file-%d", d.next)
	d.files[id] = content
	d.parents[id] = folderID
	return File{ID: id, Name: name}, nil
}

func (d *fakeDrive) Connect(_ context.Context, token string) (Drive, error) {
	if token == "" {
		return nil, errors.New("no token")
	}
	return d, nil
}

var (
	sess = auth.Session{UID: "u1", StorageToken: "drive-token"}
	now  = time.Date(2024, 5, 1, 12, 30, 15, 250_000_000, time.UTC)
)

func newResolver(t *testing.T, drive *fakeDrive, opts ...Option) (*Resolver, *memdoc.Store) {
	t.Helper()
	store := memdoc.New()
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	opts = append([]Option{WithLogger(logger.Discard()), WithClock(func() time.Time { return now })}, opts...)
	return NewResolver(store, drive, opts...), store
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "backup-2024-05-01T12-30-15-250Z.json", FileName(now))
	assert.Equal(t, "backup-2024-05-01T12-30-15-250Z.json", FileName(now.In(time.FixedZone("x", 3600))))
}

func TestResolveCreatesFolderOnce(t *testing.T) {
	drive := newFakeDrive()
	r, store := newResolver(t, drive)
	ctx := context.Background()

	id, err := r.ResolveBackupFolder(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "folder-1", id)
	assert.EqualValues(t, 1, drive.creates.Load())

	meta, err := store.GetMeta(ctx, sess.UID)
	require.NoError(t, err)
	assert.Equal(t, "folder-1", meta[models.MetaBackupFolder])

	searches := drive.searches.Load()
	again, err := r.ResolveBackupFolder(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, searches, drive.searches.Load(), "stored handle must not touch the drive")
}

func TestResolveAdoptsExistingFolder(t *testing.T) {
	drive := newFakeDrive()
	drive.addFolder("unrelated")
	second := drive.addFolder(FolderName)
	first := second
	first.ID = "older"
	first.CreatedTime = second.CreatedTime.Add(-time.Hour)
	drive.folders = append(drive.folders, first)

	r, _ := newResolver(t, drive)
	id, err := r.ResolveBackupFolder(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "older", id)
	assert.Zero(t, drive.creates.Load())
}

func TestResolveReconcilesConcurrentCreate(t *testing.T) {
	drive := newFakeDrive()
	// Another process created its folder a moment before ours.
	drive.afterCreate = func() {
		drive.mu.Lock()
		defer drive.mu.Unlock()
		drive.folders = append(drive.folders, Folder{
			ID: "theirs", Name: FolderName, CreatedTime: drive.clock.Add(-time.Millisecond),
		})
	}

	r, _ := newResolver(t, drive)
	id, err := r.ResolveBackupFolder(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "theirs", id)
}

func TestResolveConcurrentCallsCreateOneFolder(t *testing.T) {
	drive := newFakeDrive()
	r, _ := newResolver(t, drive)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.ResolveBackupFolder(context.Background(), sess)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, drive.creates.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveRequiresCredential(t *testing.T) {
	drive := newFakeDrive()
	r, _ := newResolver(t, drive)

	_, err := r.ResolveBackupFolder(context.Background(), auth.Session{UID: "u1"})
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, drive.searches.Load())
}

func TestUploadBackup(t *testing.T) {
	drive := newFakeDrive()
	r, store := newResolver(t, drive)
	ctx := context.Background()

	notes := []models.Note{
		{ID: "b", UID: "u1", Title: "second", Tags: []string{}, Todos: []models.Todo{}},
		{ID: "a", UID: "u1", Title: "first", Tags: []string{"x"}, Todos: []models.Todo{}},
	}
	record, err := r.UploadBackup(ctx, sess, notes)
	require.NoError(t, err)
	assert.Equal(t, "backup-2024-05-01T12-30-15-250Z.json", record.FileName)
	assert.Equal(t, 2, record.NotesCount)
	assert.Equal(t, now, record.Date)
	assert.Equal(t, "folder-1", drive.parents[record.FileID])

	var snap Snapshot
	require.NoError(t, json.Unmarshal(drive.files[record.FileID], &snap))
	assert.Equal(t, FormatVersion, snap.Version)
	assert.Equal(t, "2024-05-01T12:30:15.250Z", snap.Timestamp)
	assert.Equal(t, "u1", snap.UID)
	assert.Equal(t, SnapshotMetadata{TotalNotes: 2, CreatedBy: CreatedBy}, snap.Metadata)
	require.Len(t, snap.Notes, 2)
	assert.Equal(t, "second", snap.Notes[0].Title)

	last, err := r.GetLastBackupInfo(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, record, last)

	meta, err := store.GetMeta(ctx, sess.UID)
	require.NoError(t, err)
	assert.Equal(t, "folder-1", meta[models.MetaBackupFolder], "record merge keeps the folder handle")
}

func TestUploadEmptyNotes(t *testing.T) {
	drive := newFakeDrive()
	r, _ := newResolver(t, drive)

	record, err := r.UploadBackup(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.Zero(t, record.NotesCount)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(drive.files[record.FileID], &snap))
	assert.Equal(t, []any{}, snap["notes"])
}

func TestUploadFailureKeepsPreviousRecord(t *testing.T) {
	drive := newFakeDrive()
	r, _ := newResolver(t, drive)
	ctx := context.Background()

	first, err := r.UploadBackup(ctx, sess, nil)
	require.NoError(t, err)

	drive.failUpload = errors.New("quota exceeded")
	_, err = r.UploadBackup(ctx, sess, []models.Note{{ID: "a", UID: "u1"}})
	assert.ErrorIs(t, err, ErrUploadFailed)

	last, err := r.GetLastBackupInfo(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first, last)
}

func TestUploadWithoutCredential(t *testing.T) {
	r, _ := newResolver(t, newFakeDrive())
	_, err := r.UploadBackup(context.Background(), auth.Session{UID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.NotErrorIs(t, err, ErrUploadFailed)
}

func TestLastBackupInfoNone(t *testing.T) {
	r, _ := newResolver(t, newFakeDrive())
	last, err := r.GetLastBackupInfo(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRunTracksStatus(t *testing.T) {
	drive := newFakeDrive()
	m := metrics.New()
	r, _ := newResolver(t, drive, WithMetrics(m))
	ctx := context.Background()

	_, err := r.Status(sess.UID)
	assert.ErrorIs(t, err, ErrNotFound)

	record, err := r.Run(ctx, sess, nil)
	require.NoError(t, err)
	st, err := r.Status(sess.UID)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, record, st.Record)

	drive.failUpload = errors.New("boom")
	_, err = r.Run(ctx, sess, nil)
	require.Error(t, err)
	st, err = r.Status(sess.UID)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, st.State)
	assert.Contains(t, st.Message, "boom")
	assert.Nil(t, st.Record)
}

// blockingMeta holds MergeMeta until released, keeping a Run in progress.
type blockingMeta struct {
	docstore.MetaStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingMeta) MergeMeta(ctx context.Context, uid string, fields docstore.Document) error {
	if _, ok := fields[models.MetaLastBackup]; ok {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.MetaStore.MergeMeta(ctx, uid, fields)
}

func TestRunRejectsOverlap(t *testing.T) {
	store := memdoc.New()
	defer store.Close(context.Background())
	meta := &blockingMeta{MetaStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewResolver(meta, newFakeDrive(), WithLogger(logger.Discard()))

	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), sess, nil)
		errc <- err
	}()
	<-meta.entered

	st, err := r.Status(sess.UID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, st.State)

	_, err = r.Run(context.Background(), sess, nil)
	assert.ErrorIs(t, err, ErrInProgress)

	close(meta.release)
	require.NoError(t, <-errc)
}
