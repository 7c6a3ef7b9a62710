package models

import (
	"strings"
	"unicode"
)

type Category struct {
	ID        string `json:"id"`
	Label     string `json:"label" validate:"required,max=40"`
	Icon      string `json:"icon" validate:"max=16"`
	IsDefault bool   `json:"isDefault"`
}

var defaultCategories = []Category{
	{ID: "general", Label: "General", Icon: "📝", IsDefault: true},
	{ID: "personal", Label: "Personal", Icon: "👤", IsDefault: true},
	{ID: "trabajo", Label: "Trabajo", Icon: "💼", IsDefault: true},
	{ID: "ideas", Label: "Ideas", Icon: "💡", IsDefault: true},
	{ID: "proyectos", Label: "Proyectos", Icon: "🚀", IsDefault: true},
}

// DefaultCategories returns a copy of the built-in categories.
func DefaultCategories() []Category {
	return append([]Category(nil), defaultCategories...)
}

func IsDefaultCategory(id string) bool {
	for _, c := range defaultCategories {
		if c.ID == id {
			return true
		}
	}
	return false
}

// CategoryID derives a category id from its label: lower case, with runs
// of anything but letters and digits collapsed to a single '-'.
func CategoryID(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
