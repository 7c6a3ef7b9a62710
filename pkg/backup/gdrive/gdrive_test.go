package gdrive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftnote/driftnote/pkg/backup"
)

type upload struct {
	meta    map[string]any
	content string
}

type fakeAPI struct {
	mu      sync.Mutex
	queries []string
	folders []map[string]any
	uploads []upload
	reject  bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.reject || r.Header.Get("Authorization") != "Bearer tok" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/drive/v3/files":
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{"files": f.folders})

	case r.Method == http.MethodPost && r.URL.Path == "/drive/v3/files":
		var meta map[string]any
		_ = json.NewDecoder(r.Body).Decode(&meta)
		folder := map[string]any{
			"id":          fmt.Sprintf("folder-%d", len(f.folders)+1),
			"name":        meta["name"],
			"createdTime": "2024-05-01T10:00:00.000Z",
		}
		f.folders = append(f.folders, folder)
		_ = json.NewEncoder(w).Encode(folder)

	case r.Method == http.MethodPost && r.URL.Path == "/upload/drive/v3/files":
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		var up upload
		for i := 0; ; i++ {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if i == 0 {
				_ = json.Unmarshal(data, &up.meta)
			} else {
				up.content = string(data)
			}
		}
		f.uploads = append(f.uploads, up)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   fmt.Sprintf("file-%d", len(f.uploads)),
			"name": up.meta["name"],
		})

	default:
		http.NotFound(w, r)
	}
}

func open(t *testing.T, api *fakeAPI) backup.Drive {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	d, err := Connector{Endpoint: srv.URL + "/drive/v3/", HTTPClient: srv.Client()}.Connect(context.Background(), "tok")
	require.NoError(t, err)
	return d
}

func TestFolderQuery(t *testing.T) {
	assert.Equal(t,
		"name='driftnote-backups' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		folderQuery(backup.FolderName))
	assert.Equal(t, `name='it\'s' and mimeType='application/vnd.google-apps.folder' and trashed=false`, folderQuery("it's"))
}

func TestCreateAndFindFolder(t *testing.T) {
	api := &fakeAPI{}
	d := open(t, api)
	ctx := context.Background()

	found, err := d.FindFolders(ctx, backup.FolderName)
	require.NoError(t, err)
	assert.Empty(t, found)

	created, err := d.CreateFolder(ctx, backup.FolderName)
	require.NoError(t, err)
	assert.Equal(t, "folder-1", created.ID)
	assert.Equal(t, 2024, created.CreatedTime.Year())

	found, err = d.FindFolders(ctx, backup.FolderName)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, created, found[0])
	assert.Equal(t, folderQuery(backup.FolderName), api.queries[0])
}

func TestUpload(t *testing.T) {
	api := &fakeAPI{}
	d := open(t, api)

	file, err := d.Upload(context.Background(), "folder-9", "backup-x.json", backup.MimeType, []byte(`{"version":"1.0"}`))
	require.NoError(t, err)
	assert.Equal(t, backup.File{ID: "file-1", Name: "backup-x.json"}, file)

	require.Len(t, api.uploads, 1)
	up := api.uploads[0]
	assert.Equal(t, "backup-x.json", up.meta["name"])
	assert.Equal(t, []any{"folder-9"}, up.meta["parents"])
	assert.JSONEq(t, `{"version":"1.0"}`, up.content)
}

func TestRejectedToken(t *testing.T) {
	api := &fakeAPI{reject: true}
	d := open(t, api)

	_, err := d.FindFolders(context.Background(), backup.FolderName)
	assert.ErrorIs(t, err, backup.ErrNoCredential)
}

func TestConnectWithoutToken(t *testing.T) {
	_, err := Connector{}.Connect(context.Background(), "")
	assert.ErrorIs(t, err, backup.ErrNoCredential)
}
