package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCategories(t *testing.T) {
	cats := DefaultCategories()
	require.Len(t, cats, 5)
	for _, c := range cats {
		require.True(t, c.IsDefault)
		require.True(t, IsDefaultCategory(c.ID))
	}
	cats[0].ID = "mutated"
	require.Equal(t, "general", DefaultCategories()[0].ID)
	require.False(t, IsDefaultCategory("recetas"))
}

func TestCategoryID(t *testing.T) {
	require.Equal(t, "recetas-de-cocina", CategoryID("  Recetas de Cocina!! "))
	require.Equal(t, "año-2024", CategoryID("Año 2024"))
	require.Equal(t, "", CategoryID("!!!"))
}

func TestUserMetaFromWire(t *testing.T) {
	rec := BackupRecord{FileID: "f1", FileName: "backup-x.json", NotesCount: 2}
	meta := UserMetaFromWire(map[string]any{
		MetaBackupFolder:     "folder-1",
		MetaLastBackup:       rec.Wire(),
		MetaCustomCategories: CategoriesWire([]Category{{ID: "recetas", Label: "Recetas", Icon: "🍲"}}),
	})
	require.Equal(t, "folder-1", meta.BackupFolderID)
	require.NotNil(t, meta.LastBackup)
	require.Equal(t, 2, meta.LastBackup.NotesCount)
	require.Equal(t, "f1", meta.LastBackup.FileID)
	require.Len(t, meta.CustomCategories, 1)

	require.Equal(t, UserMeta{}, UserMetaFromWire(nil))
}
