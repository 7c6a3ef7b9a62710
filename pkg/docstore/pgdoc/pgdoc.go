// Package pgdoc stores documents in PostgreSQL through GORM. Each note is
// a row with its uid and creation time as columns and every other field
// in a jsonb body.
//
// Postgres has no change feed the store listens to, so watches only see
// writes made through the same Store value.
package pgdoc

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftnote/driftnote/internal/rand"
	"github.com/driftnote/driftnote/pkg/docstore"
)

// KeyLength is the length of generated note ids.
const KeyLength = 20

// JSONMap is a jsonb column.
type JSONMap map[string]any

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = make(map[string]any)
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("pgdoc: cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(data, j)
}

type noteRow struct {
	ID        string    `gorm:"primaryKey;size:32"`
	UID       string    `gorm:"index;not null"`
	Body      JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null"`
}

func (noteRow) TableName() string { return "notes" }

type metaRow struct {
	UID       string  `gorm:"primaryKey"`
	Body      JSONMap `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (metaRow) TableName() string { return "user_meta" }

func (r noteRow) document() docstore.Document {
	doc := docstore.Clone(r.Body)
	if doc == nil {
		doc = docstore.Document{}
	}
	doc["id"] = r.ID
	doc["uid"] = r.UID
	doc["created_at"] = r.CreatedAt.UTC()
	return doc
}

type Store struct {
	db  *gorm.DB
	hub *docstore.Hub
	// writeMu is held from a write until its change is published, so
	// watches see this process's writes in commit order.
	writeMu sync.Mutex

	// Now stamps created_at; it defaults to time.Now.
	Now func() time.Time
}

var (
	_ docstore.Store     = (*Store)(nil)
	_ docstore.MetaStore = (*Store)(nil)
	_ docstore.Migrator  = (*Store)(nil)
)

// Open connects to the database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("pgdoc: failed to connect to database: %w", err)
	}
	return New(db), nil
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, hub: docstore.NewHub(), Now: time.Now}
}

// Migrate creates the notes and user_meta tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&noteRow{}, &metaRow{})
}

func (s *Store) List(ctx context.Context, uid string) ([]docstore.Document, error) {
	var rows []noteRow
	if err := s.db.WithContext(ctx).Where("uid = ?", uid).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("pgdoc: list: %w", err)
	}
	out := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.document())
	}
	return out, nil
}

func (s *Store) Watch(_ context.Context, uid string) (docstore.Watch, error) {
	return s.hub.Subscribe(uid)
}

func (s *Store) Insert(ctx context.Context, doc docstore.Document) error {
	uid, _ := doc["uid"].(string)
	if uid == "" {
		return docstore.ErrNoUID
	}
	row := noteRow{
		ID:        rand.String(KeyLength),
		UID:       uid,
		Body:      JSONMap(docstore.Writable(doc)),
		CreatedAt: s.Now().UTC().Truncate(time.Microsecond),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("pgdoc: insert: %w", err)
	}
	s.hub.Publish(uid, docstore.Change{Action: docstore.ActionCreate, ID: row.ID, Doc: row.document()})
	return nil
}

// Merge applies fields with a single jsonb concatenation, so concurrent
// merges of different fields never overwrite each other.
func (s *Store) Merge(ctx context.Context, uid, id string, fields docstore.Document) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var row noteRow
	res := s.db.WithContext(ctx).Model(&row).
		Clauses(clause.Returning{}).
		Where("id = ? AND uid = ?", id, uid).
		Update("body", gorm.Expr("COALESCE(body, '{}'::jsonb) || ?::jsonb", JSONMap(docstore.Writable(fields))))
	if res.Error != nil {
		return fmt.Errorf("pgdoc: merge %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pgdoc: merge %s: %w", id, docstore.ErrNotFound)
	}
	s.hub.Publish(uid, docstore.Change{Action: docstore.ActionUpdate, ID: id, Doc: row.document()})
	return nil
}

func (s *Store) Delete(ctx context.Context, uid, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("id = ? AND uid = ?", id, uid).Delete(&noteRow{})
	if res.Error != nil {
		return fmt.Errorf("pgdoc: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		s.hub.Publish(uid, docstore.Change{Action: docstore.ActionDelete, ID: id})
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, uid string) (docstore.Document, error) {
	var row metaRow
	err := s.db.WithContext(ctx).First(&row, "uid = ?", uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgdoc: get meta: %w", err)
	}
	return docstore.Clone(row.Body), nil
}

// MergeMeta upserts the metadata row, concatenating fields onto the
// stored body in the same statement.
func (s *Store) MergeMeta(ctx context.Context, uid string, fields docstore.Document) error {
	if uid == "" {
		return docstore.ErrNoUID
	}
	body := JSONMap(docstore.Clone(fields))
	if body == nil {
		body = JSONMap{}
	}
	row := metaRow{UID: uid, Body: body}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uid"}},
		DoUpdates: clause.Assignments(map[string]any{
			"body":       gorm.Expr("COALESCE(user_meta.body, '{}'::jsonb) || excluded.body"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("pgdoc: merge meta: %w", err)
	}
	return nil
}

// Close ends every watch and closes the database handle.
func (s *Store) Close(context.Context) error {
	s.hub.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
