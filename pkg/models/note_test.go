package models

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) *time.Time {
	t, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSortNotesNewestFirst(t *testing.T) {
	notes := []Note{
		{ID: "1", CreatedAt: ts("2024-01-01")},
		{ID: "3"},
		{ID: "2", CreatedAt: ts("2024-03-01")},
	}
	SortNotes(notes)

	ids := []string{notes[0].ID, notes[1].ID, notes[2].ID}
	require.Equal(t, []string{"2", "1", "3"}, ids)
}

func TestSortNotesTiesByID(t *testing.T) {
	same := ts("2024-02-02T10:00:00Z")
	notes := []Note{{ID: "b", CreatedAt: same}, {ID: "a", CreatedAt: same}, {ID: "d"}, {ID: "c"}}
	SortNotes(notes)
	require.Equal(t, "a", notes[0].ID)
	require.Equal(t, "b", notes[1].ID)
	require.Equal(t, "c", notes[2].ID)
	require.Equal(t, "d", notes[3].ID)
}

func TestHasActiveReminder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := map[string]bool{
		"":                     false,
		"not a date":           false,
		"2024-05-01T12:00:00Z": false,
		"2024-05-01T12:00:01Z": true,
		"2024-04-30T12:00:00Z": false,
		"2024-05-02":           true,
	}
	for reminder, want := range cases {
		assert.Equal(t, want, Note{Reminder: reminder}.HasActiveReminder(now), reminder)
	}
}

func TestPreview(t *testing.T) {
	short := Note{Content: "hola"}
	require.Equal(t, "hola", short.Preview())

	long := Note{Content: strings.Repeat("ñ", PreviewLength+10)}
	p := long.Preview()
	require.Equal(t, strings.Repeat("ñ", PreviewLength)+"...", p)
	require.Len(t, []rune(long.Content), PreviewLength+10)
}

func TestParseTags(t *testing.T) {
	require.Equal(t, []string{"go", "notes", "ideas"}, ParseTags(" go, notes,,go , ideas "))
	require.Equal(t, []string{}, ParseTags(""))
}

func TestAddTodoUnique(t *testing.T) {
	var n Note
	for i := 0; i < 50; i++ {
		n.AddTodo("item")
	}
	require.NoError(t, n.Validate())
	require.Len(t, n.Todos, 50)
}

func TestAppendTodoSkipsExistingIDs(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	todos, todo := AppendTodo([]Todo{{ID: future}}, "x")
	require.Len(t, todos, 2)
	require.Greater(t, todo.ID, future)
}

func TestValidateDuplicateTodo(t *testing.T) {
	n := Note{Todos: []Todo{{ID: 1}, {ID: 1}}}
	require.ErrorIs(t, n.Validate(), ErrDuplicateTodoID)
}

func TestTodoIDsMonotonic(t *testing.T) {
	fixed := time.UnixMilli(1000)
	gen := NewTodoIDs(func() time.Time { return fixed })

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 20)
	require.True(t, seen[1000])
	require.True(t, seen[1019])
}

func TestDraftDefaults(t *testing.T) {
	n := NoteDraft{Title: "t"}.Note("u1")
	require.Equal(t, "u1", n.UID)
	require.Equal(t, DefaultCategoryID, n.Category)
	require.Equal(t, []string{}, n.Tags)
	require.Equal(t, []Todo{}, n.Todos)
	require.False(t, n.IsFavorite)
	require.Equal(t, "", n.Reminder)
}

func TestPatchApply(t *testing.T) {
	fav := true
	n := Note{Title: "keep", Content: "keep", Tags: []string{"a"}}
	NotePatch{IsFavorite: &fav}.Apply(&n)
	require.True(t, n.IsFavorite)
	require.Equal(t, "keep", n.Title)
	require.Equal(t, []string{"a"}, n.Tags)
}
