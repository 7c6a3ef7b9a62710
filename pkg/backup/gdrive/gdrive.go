// Package gdrive implements backup.Drive on the Google Drive v3 API,
// authorized by the user's OAuth access token.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/driftnote/driftnote/pkg/backup"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Connector opens drives for backup.Resolver.
type Connector struct {
	// Endpoint overrides the API base path, e.g. "http://127.0.0.1:8080/drive/v3/".
	Endpoint string
	// HTTPClient is the base transport; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

var _ backup.DriveConnector = Connector{}

func (c Connector) Connect(ctx context.Context, token string) (backup.Drive, error) {
	if token == "" {
		return nil, backup.ErrNoCredential
	}

	base := c.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: new service: %w", err)
	}
	return &Drive{svc: svc}, nil
}

type Drive struct {
	svc *drive.Service
}

func folderQuery(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escaped, folderMimeType)
}

func (d *Drive) FindFolders(ctx context.Context, name string) ([]backup.Folder, error) {
	var out []backup.Folder
	err := d.svc.Files.List().
		Q(folderQuery(name)).
		Spaces("drive").
		Fields("nextPageToken, files(id, name, createdTime)").
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				out = append(out, toFolder(f))
			}
			return nil
		})
	if err != nil {
		return nil, wrap("list folders", err)
	}
	return out, nil
}

func (d *Drive) CreateFolder(ctx context.Context, name string) (backup.Folder, error) {
	f, err := d.svc.Files.Create(&drive.File{Name: name, MimeType: folderMimeType}).
		Fields("id, name, createdTime").
		Context(ctx).
		Do()
	if err != nil {
		return backup.Folder{}, wrap("create folder", err)
	}
	return toFolder(f), nil
}

func (d *Drive) Upload(ctx context.Context, folderID, name, mimeType string, content []byte) (backup.File, error) {
	meta := &drive.File{Name: name, MimeType: mimeType, Parents: []string{folderID}}
	f, err := d.svc.Files.Create(meta).
		Media(bytes.NewReader(content), googleapi.ContentType(mimeType)).
		Fields("id, name").
		Context(ctx).
		Do()
	if err != nil {
		return backup.File{}, wrap("upload", err)
	}
	return backup.File{ID: f.Id, Name: f.Name}, nil
}

func toFolder(f *drive.File) backup.Folder {
	folder := backup.Folder{ID: f.Id, Name: f.Name}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		folder.CreatedTime = t
	}
	return folder
}

// wrap marks rejected tokens as backup.ErrNoCredential.
func wrap(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("gdrive: %s: %w: %w", op, backup.ErrNoCredential, err)
	}
	return fmt.Errorf("gdrive: %s: %w", op, err)
}
