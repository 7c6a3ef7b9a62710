// Package categories manages the per-user category list: the built-in
// defaults followed by the user's custom categories, kept in the user's
// metadata document.
package categories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/models"
)

var (
	ErrExists          = errors.New("category already exists")
	ErrDefaultCategory = errors.New("default categories cannot be removed")
	ErrInvalid         = errors.New("invalid category")
)

type Service struct {
	meta     docstore.MetaStore
	validate *validator.Validate

	// locks holds one *sync.Mutex per uid, serializing read-modify-write
	// cycles of that user's custom list.
	locks sync.Map
}

func New(meta docstore.MetaStore) *Service {
	return &Service{meta: meta, validate: validator.New()}
}

// List returns the defaults followed by the session's custom categories.
func (s *Service) List(ctx context.Context, sess auth.Session) ([]models.Category, error) {
	custom, err := s.custom(ctx, sess.UID)
	if err != nil {
		return nil, err
	}
	return append(models.DefaultCategories(), custom...), nil
}

// Add creates a custom category whose id is derived from the label.
func (s *Service) Add(ctx context.Context, sess auth.Session, label, icon string) (models.Category, error) {
	c := models.Category{ID: models.CategoryID(label), Label: label, Icon: icon}
	if err := s.validate.Struct(c); err != nil {
		return models.Category{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.ID == "" {
		return models.Category{}, fmt.Errorf("%w: label has no letters or digits", ErrInvalid)
	}
	if c.Icon == "" {
		c.Icon = "📁"
	}

	defer s.lock(sess.UID)()

	custom, err := s.custom(ctx, sess.UID)
	if err != nil {
		return models.Category{}, err
	}
	if models.IsDefaultCategory(c.ID) {
		return models.Category{}, fmt.Errorf("%w: %s", ErrExists, c.ID)
	}
	for _, existing := range custom {
		if existing.ID == c.ID {
			return models.Category{}, fmt.Errorf("%w: %s", ErrExists, c.ID)
		}
	}

	custom = append(custom, c)
	if err := s.save(ctx, sess.UID, custom); err != nil {
		return models.Category{}, err
	}
	return c, nil
}

// Remove deletes a custom category. Unknown ids are a no-op; notes that
// used the category keep their value.
func (s *Service) Remove(ctx context.Context, sess auth.Session, id string) error {
	if models.IsDefaultCategory(id) {
		return fmt.Errorf("%w: %s", ErrDefaultCategory, id)
	}

	defer s.lock(sess.UID)()

	custom, err := s.custom(ctx, sess.UID)
	if err != nil {
		return err
	}
	kept := custom[:0]
	for _, c := range custom {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(custom) {
		return nil
	}
	return s.save(ctx, sess.UID, kept)
}

func (s *Service) lock(uid string) func() {
	m, _ := s.locks.LoadOrStore(uid, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) custom(ctx context.Context, uid string) ([]models.Category, error) {
	doc, err := s.meta.GetMeta(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	return models.UserMetaFromWire(doc).CustomCategories, nil
}

func (s *Service) save(ctx context.Context, uid string, custom []models.Category) error {
	err := s.meta.MergeMeta(ctx, uid, docstore.Document{
		models.MetaCustomCategories: models.CategoriesWire(custom),
	})
	if err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	return nil
}
