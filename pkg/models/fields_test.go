package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFieldTableIsBijective(t *testing.T) {
	for _, f := range NoteFields {
		wire, ok := WireName(f.Model)
		require.True(t, ok)
		model, ok := ModelName(wire)
		require.True(t, ok)
		require.Equal(t, f.Model, model)
	}
	_, ok := WireName("pinned")
	require.False(t, ok)
}

func TestWireRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := Note{
		UID:        "u1",
		Title:      "t",
		Content:    "c",
		Tags:       []string{"x", "y"},
		Category:   "ideas",
		IsFavorite: true,
		Reminder:   "2030-01-01T00:00:00Z",
		Todos:      []Todo{{ID: 7, Text: "do", Completed: true}},
	}

	doc := ToWire(in)
	require.NotContains(t, doc, "id")
	require.NotContains(t, doc, "created_at")
	require.Equal(t, true, doc["is_favorite"])

	doc["id"] = NewRecordID("note", "abc")
	doc["created_at"] = created
	out := FromWire(doc)

	in.ID = "abc"
	in.CreatedAt = &created
	require.Equal(t, in, out)
}

func TestFromWireLenient(t *testing.T) {
	n := FromWire(map[string]any{
		"id":         "note:z",
		"created_at": "garbage",
		"todos":      []any{map[string]any{"id": float64(3), "text": "a"}},
		"extra":      1,
	})
	require.Equal(t, "z", n.ID)
	require.Nil(t, n.CreatedAt)
	require.Equal(t, DefaultCategoryID, n.Category)
	require.Equal(t, []Todo{{ID: 3, Text: "a"}}, n.Todos)
	require.Equal(t, []string{}, n.Tags)
}

func TestPatchWireOnlyPresent(t *testing.T) {
	fav := true
	doc := NotePatch{IsFavorite: &fav}.Wire()
	require.Equal(t, map[string]any{"is_favorite": true}, doc)
	require.True(t, NotePatch{}.IsEmpty())
}

func TestParsePatchJSON(t *testing.T) {
	patch, err := ParsePatchJSON([]byte(`{"isFavorite": true, "title": "new \"t\"", "tags": ["a"], "reminder": null}`))
	require.NoError(t, err)
	require.NotNil(t, patch.IsFavorite)
	require.True(t, *patch.IsFavorite)
	require.Equal(t, `new "t"`, *patch.Title)
	require.Equal(t, []string{"a"}, *patch.Tags)
	require.Equal(t, "", *patch.Reminder)
	require.Nil(t, patch.Content)
	require.Nil(t, patch.Todos)

	_, err = ParsePatchJSON([]byte(`{"pinned": true}`))
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = ParsePatchJSON([]byte(`{"createdAt": "2024-01-01"}`))
	require.ErrorIs(t, err, ErrImmutableField)

	_, err = ParsePatchJSON([]byte(`{"title": 3}`))
	require.Error(t, err)
}
