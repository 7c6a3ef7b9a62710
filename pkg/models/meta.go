package models

import (
	"time"
)

// Wire names of the per-user metadata document.
const (
	MetaBackupFolder     = "backup_folder_id"
	MetaLastBackup       = "last_backup"
	MetaCustomCategories = "custom_categories"
)

type BackupRecord struct {
	Date       time.Time `json:"date"`
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName"`
	NotesCount int       `json:"notesCount"`
}

func (r BackupRecord) Wire() map[string]any {
	return map[string]any{
		"date":        r.Date.UTC().Format(time.RFC3339Nano),
		"file_id":     r.FileID,
		"file_name":   r.FileName,
		"notes_count": int64(r.NotesCount),
	}
}

// UserMeta is the per-user metadata document.
type UserMeta struct {
	BackupFolderID   string
	LastBackup       *BackupRecord
	CustomCategories []Category
}

// UserMetaFromWire decodes a metadata document; nil yields the zero value.
func UserMetaFromWire(doc map[string]any) UserMeta {
	var meta UserMeta
	if doc == nil {
		return meta
	}
	meta.BackupFolderID = asString(doc[MetaBackupFolder])

	if rec, ok := doc[MetaLastBackup].(map[string]any); ok {
		r := BackupRecord{
			FileID:     asString(rec["file_id"]),
			FileName:   asString(rec["file_name"]),
			NotesCount: int(asInt64(rec["notes_count"])),
		}
		if t := asTime(rec["date"]); t != nil {
			r.Date = *t
		}
		meta.LastBackup = &r
	}

	if list, ok := doc[MetaCustomCategories].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			meta.CustomCategories = append(meta.CustomCategories, Category{
				ID:    asString(m["id"]),
				Label: asString(m["label"]),
				Icon:  asString(m["icon"]),
			})
		}
	}
	return meta
}

// CategoriesWire encodes custom categories for the metadata document.
func CategoriesWire(cats []Category) []any {
	out := make([]any, 0, len(cats))
	for _, c := range cats {
		out = append(out, map[string]any{
			"id":    c.ID,
			"label": c.Label,
			"icon":  c.Icon,
		})
	}
	return out
}
