package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultCategoryID is assigned to notes created without a category.
	DefaultCategoryID = "general"

	// PreviewLength is the number of characters shown in note previews.
	PreviewLength = 200
)

var ErrDuplicateTodoID = errors.New("duplicate todo id")

type Todo struct {
	ID        int64  `json:"id" validate:"required"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type Note struct {
	ID         string     `json:"id"`
	UID        string     `json:"uid"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Tags       []string   `json:"tags"`
	Category   string     `json:"category"`
	IsFavorite bool       `json:"isFavorite"`
	Reminder   string     `json:"reminder"`
	Todos      []Todo     `json:"todos"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// HasActiveReminder reports whether the reminder is set and strictly after now.
func (n Note) HasActiveReminder(now time.Time) bool {
	if n.Reminder == "" {
		return false
	}
	at, err := ParseTimestamp(n.Reminder)
	if err != nil {
		return false
	}
	return at.After(now)
}

// Preview returns at most PreviewLength characters of the content,
// followed by "..." when it was cut.
func (n Note) Preview() string {
	if utf8.RuneCountInString(n.Content) <= PreviewLength {
		return n.Content
	}
	runes := []rune(n.Content)
	return string(runes[:PreviewLength]) + "..."
}

// Validate checks the per-note invariants.
func (n Note) Validate() error {
	seen := make(map[int64]struct{}, len(n.Todos))
	for _, t := range n.Todos {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateTodoID, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// AddTodo appends an unchecked todo whose id is unique within the note.
func (n *Note) AddTodo(text string) Todo {
	todos, todo := AppendTodo(n.Todos, text)
	n.Todos = todos
	return todo
}

// AppendTodo appends an unchecked todo with a fresh id to todos.
func AppendTodo(todos []Todo, text string) ([]Todo, Todo) {
	id := NextTodoID()
	for _, t := range todos {
		if t.ID >= id {
			id = t.ID + 1
		}
	}
	todo := Todo{ID: id, Text: text}
	return append(todos, todo), todo
}

// ParseTags splits comma separated input, trimming blanks and dropping
// empty and repeated entries. Order of first appearance is kept.
func ParseTags(input string) []string {
	tags := []string{}
	seen := map[string]struct{}{}
	for _, raw := range strings.Split(input, ",") {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// SortNotes orders notes newest first. Notes without CreatedAt go last;
// ties are broken by id.
func SortNotes(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i].CreatedAt, notes[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return notes[i].ID < notes[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return notes[i].ID < notes[j].ID
		default:
			return a.After(*b)
		}
	})
}

// ParseTimestamp accepts RFC 3339 timestamps, with or without fractional
// seconds, and bare dates.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// NoteDraft is the payload of a create. Zero values are replaced by
// the note defaults.
type NoteDraft struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Category   string   `json:"category"`
	IsFavorite bool     `json:"isFavorite"`
	Reminder   string   `json:"reminder"`
	Todos      []Todo   `json:"todos"`
}

// Note returns the draft as a note owned by uid, with defaults filled in.
func (d NoteDraft) Note(uid string) Note {
	n := Note{
		UID:        uid,
		Title:      d.Title,
		Content:    d.Content,
		Tags:       d.Tags,
		Category:   d.Category,
		IsFavorite: d.IsFavorite,
		Reminder:   d.Reminder,
		Todos:      d.Todos,
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.Category == "" {
		n.Category = DefaultCategoryID
	}
	if n.Todos == nil {
		n.Todos = []Todo{}
	}
	return n
}

// NotePatch is a partial update: nil fields are not touched.
type NotePatch struct {
	Title      *string
	Content    *string
	Tags       *[]string
	Category   *string
	IsFavorite *bool
	Reminder   *string
	Todos      *[]Todo
}

func (p NotePatch) IsEmpty() bool {
	return len(p.Wire()) == 0
}

// Apply merges the present fields into n.
func (p NotePatch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Tags != nil {
		n.Tags = *p.Tags
	}
	if p.Category != nil {
		n.Category = *p.Category
	}
	if p.IsFavorite != nil {
		n.IsFavorite = *p.IsFavorite
	}
	if p.Reminder != nil {
		n.Reminder = *p.Reminder
	}
	if p.Todos != nil {
		n.Todos = *p.Todos
	}
}
