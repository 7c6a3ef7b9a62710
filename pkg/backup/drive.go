package backup

import (
	"context"
	"time"
)

// Folder is a folder in the user's drive.
type Folder struct {
	ID          string
	Name        string
	CreatedTime time.Time
}

// File is an uploaded file.
type File struct {
	ID   string
	Name string
}

// Drive is one user's cloud drive, authorized by their bearer token.
type Drive interface {
	// FindFolders lists the non-trashed folders with exactly this name.
	FindFolders(ctx context.Context, name string) ([]Folder, error)
	CreateFolder(ctx context.Context, name string) (Folder, error)
	// Upload stores content as a new file in the folder.
	Upload(ctx context.Context, folderID, name, mimeType string, content []byte) (File, error)
}

// DriveConnector opens a user's drive from a bearer token.
type DriveConnector interface {
	Connect(ctx context.Context, token string) (Drive, error)
}

// earliest returns the folder created first; ties keep list order.
func earliest(folders []Folder) Folder {
	best := folders[0]
	for _, f := range folders[1:] {
		if f.CreatedTime.Before(best.CreatedTime) {
			best = f
		}
	}
	return best
}
