package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"
)

// Field pairs a model field name with its name on the wire.
type Field struct {
	Model string
	Wire  string
	// Immutable fields are assigned by the store and never patched.
	Immutable bool
}

// NoteFields is the single mapping table between in-memory and stored
// note field names.
var NoteFields = []Field{
	{Model: "id", Wire: "id", Immutable: true},
	{Model: "uid", Wire: "uid", Immutable: true},
	{Model: "title", Wire: "title"},
	{Model: "content", Wire: "content"},
	{Model: "tags", Wire: "tags"},
	{Model: "category", Wire: "category"},
	{Model: "isFavorite", Wire: "is_favorite"},
	{Model: "reminder", Wire: "reminder"},
	{Model: "todos", Wire: "todos"},
	{Model: "createdAt", Wire: "created_at", Immutable: true},
}

var (
	modelToWire = map[string]Field{}
	wireToModel = map[string]Field{}
)

func init() {
	for _, f := range NoteFields {
		modelToWire[f.Model] = f
		wireToModel[f.Wire] = f
	}
}

// WireName maps a model field name to its stored name.
func WireName(model string) (string, bool) {
	f, ok := modelToWire[model]
	return f.Wire, ok
}

// ModelName maps a stored field name to its model name.
func ModelName(wire string) (string, bool) {
	f, ok := wireToModel[wire]
	return f.Model, ok
}

var (
	ErrUnknownField   = errors.New("unknown note field")
	ErrImmutableField = errors.New("note field cannot be changed")
)

// ToWire converts a note to a stored document. id and created_at are
// left out; the store owns them.
func ToWire(n Note) map[string]any {
	doc := map[string]any{
		"uid":         n.UID,
		"title":       n.Title,
		"content":     n.Content,
		"tags":        stringsToAny(n.Tags),
		"category":    n.Category,
		"is_favorite": n.IsFavorite,
		"reminder":    n.Reminder,
		"todos":       todosToWire(n.Todos),
	}
	return doc
}

// Wire returns the present fields keyed by wire name.
func (p NotePatch) Wire() map[string]any {
	doc := map[string]any{}
	if p.Title != nil {
		doc["title"] = *p.Title
	}
	if p.Content != nil {
		doc["content"] = *p.Content
	}
	if p.Tags != nil {
		doc["tags"] = stringsToAny(*p.Tags)
	}
	if p.Category != nil {
		doc["category"] = *p.Category
	}
	if p.IsFavorite != nil {
		doc["is_favorite"] = *p.IsFavorite
	}
	if p.Reminder != nil {
		doc["reminder"] = *p.Reminder
	}
	if p.Todos != nil {
		doc["todos"] = todosToWire(*p.Todos)
	}
	return doc
}

// FromWire converts a stored document to a note. Unknown fields are
// ignored, and a missing or unparsable created_at leaves CreatedAt nil.
func FromWire(doc map[string]any) Note {
	var n Note
	for key, raw := range doc {
		f, ok := wireToModel[key]
		if !ok {
			continue
		}
		switch f.Model {
		case "id":
			n.ID = idString(raw)
		case "uid":
			n.UID = asString(raw)
		case "title":
			n.Title = asString(raw)
		case "content":
			n.Content = asString(raw)
		case "tags":
			n.Tags = asStrings(raw)
		case "category":
			n.Category = asString(raw)
		case "isFavorite":
			n.IsFavorite, _ = raw.(bool)
		case "reminder":
			n.Reminder = asString(raw)
		case "todos":
			n.Todos = asTodos(raw)
		case "createdAt":
			n.CreatedAt = asTime(raw)
		}
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.Todos == nil {
		n.Todos = []Todo{}
	}
	if n.Category == "" {
		n.Category = DefaultCategoryID
	}
	return n
}

// ParsePatchJSON decodes a JSON object keyed by model field names into a
// patch, keeping track of which keys were present. Explicit nulls clear
// string and list fields.
func ParsePatchJSON(data []byte) (NotePatch, error) {
	var patch NotePatch
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		name := string(key)
		f, ok := modelToWire[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if f.Immutable {
			return fmt.Errorf("%w: %s", ErrImmutableField, name)
		}
		if dataType == jsonparser.Null {
			value = nil
		}
		return patch.set(name, value, dataType)
	})
	return patch, err
}

func (p *NotePatch) set(name string, value []byte, dataType jsonparser.ValueType) error {
	switch name {
	case "title", "content", "category", "reminder":
		s := ""
		if value != nil {
			if dataType != jsonparser.String {
				return fmt.Errorf("%s must be a string", name)
			}
			var err error
			if s, err = jsonparser.ParseString(value); err != nil {
				return err
			}
		}
		switch name {
		case "title":
			p.Title = &s
		case "content":
			p.Content = &s
		case "category":
			p.Category = &s
		case "reminder":
			p.Reminder = &s
		}
	case "isFavorite":
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return fmt.Errorf("isFavorite must be a boolean: %w", err)
		}
		p.IsFavorite = &b
	case "tags":
		tags := []string{}
		if value != nil {
			if err := json.Unmarshal(value, &tags); err != nil {
				return fmt.Errorf("tags must be a list of strings: %w", err)
			}
		}
		p.Tags = &tags
	case "todos":
		todos := []Todo{}
		if value != nil {
			if err := json.Unmarshal(value, &todos); err != nil {
				return fmt.Errorf("todos must be a list of todo items: %w", err)
			}
		}
		p.Todos = &todos
	}
	return nil
}

func stringsToAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func todosToWire(todos []Todo) []any {
	out := make([]any, 0, len(todos))
	for _, t := range todos {
		out = append(out, map[string]any{
			"id":        t.ID,
			"text":      t.Text,
			"completed": t.Completed,
		})
	}
	return out
}

func idString(v any) string {
	switch id := v.(type) {
	case RecordID:
		return id.Key()
	case *RecordID:
		return id.Key()
	case string:
		if rid, err := ParseRecordID(id); err == nil {
			return rid.Key()
		}
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asTodos(v any) []Todo {
	switch list := v.(type) {
	case []Todo:
		return append([]Todo{}, list...)
	case []any:
		out := make([]Todo, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			completed, _ := m["completed"].(bool)
			out = append(out, Todo{
				ID:        asInt64(m["id"]),
				Text:      asString(m["text"]),
				Completed: completed,
			})
		}
		return out
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64, uint64, int, float64:
		return toInt64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return 0
}

func asTime(v any) *time.Time {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case *time.Time:
		if val == nil {
			return nil
		}
		t = *val
	case DateTime:
		t = val.Time
	case string:
		parsed, err := ParseTimestamp(val)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
