// Package surreal implements the docstore over SurrealDB's CBOR RPC
// protocol. Watches are LIVE SELECT queries.
package surreal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/connection/gorillaws"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/models"
)

const (
	DefaultTable     = "note"
	DefaultMetaTable = "user_meta"
)

type Config struct {
	URL       string
	Namespace string
	Database  string
	User      string
	Pass      string

	// Table holds the notes and MetaTable the per-user metadata.
	Table     string
	MetaTable string

	Logger logger.Logger
	// Retryer paces dial attempts; nil uses exponential backoff.
	Retryer connection.Retryer
	// Now stamps created_at on insert; nil uses time.Now.
	Now func() time.Time
}

type Store struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	conn   connection.Connection
	closed bool
}

var (
	_ docstore.Store     = (*Store)(nil)
	_ docstore.MetaStore = (*Store)(nil)
	_ docstore.Migrator  = (*Store)(nil)
)

// Open dials the server, retrying with cfg.Retryer until ctx ends, and
// selects the namespace and database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.MetaTable == "" {
		cfg.MetaTable = DefaultMetaTable
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Retryer == nil {
		cfg.Retryer = connection.NewExponentialBackoffRetryer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Namespace == "" || cfg.Database == "" {
		return nil, errors.New("surreal: namespace and database are required")
	}

	s := &Store{cfg: cfg, log: cfg.Logger}
	if _, err := s.connection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// connection returns the live connection, redialing when it was lost.
func (s *Store) connection(ctx context.Context) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}

	var conn connection.Connection
	err := connection.Retry(ctx, s.cfg.Retryer, s.log, func(ctx context.Context) error {
		c, err := s.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("surreal: connect %s: %w", s.cfg.URL, err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Store) dial(ctx context.Context) (connection.Connection, error) {
	cfg, err := connection.NewConfig(s.cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.Logger = s.log

	conn := gorillaws.New(cfg)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if err := connection.Use(ctx, conn, s.cfg.Namespace, s.cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	if s.cfg.User != "" {
		if _, err := connection.SignIn(ctx, conn, s.cfg.User, s.cfg.Pass); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}
	s.log.Info("connected to document store", "url", s.cfg.URL, "namespace", s.cfg.Namespace, "database", s.cfg.Database)
	return conn, nil
}

// query runs a single statement and returns its normalized documents.
func (s *Store) query(ctx context.Context, sql string, vars map[string]any) ([]docstore.Document, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	res, err := connection.Query[[]map[string]any](ctx, conn, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	docs := make([]docstore.Document, 0, len(res[0].Result))
	for _, raw := range res[0].Result {
		docs = append(docs, fromWire(raw))
	}
	return docs, nil
}

// fromWire lifts tagged values and flattens the record id to its key.
func fromWire(raw map[string]any) docstore.Document {
	doc, _ := models.Normalize(raw).(map[string]any)
	if id, ok := doc["id"].(models.RecordID); ok {
		doc["id"] = id.Key()
	}
	return doc
}

func (s *Store) List(ctx context.Context, uid string) ([]docstore.Document, error) {
	docs, err := s.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE uid = $uid", s.cfg.Table), map[string]any{
		"uid": uid,
	})
	if err != nil {
		return nil, fmt.Errorf("surreal: list: %w", err)
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return docs, nil
}

func (s *Store) Insert(ctx context.Context, doc docstore.Document) error {
	uid, _ := doc["uid"].(string)
	if uid == "" {
		return docstore.ErrNoUID
	}
	content := docstore.Writable(doc)
	content["uid"] = uid
	// The table default for created_at exists only after Migrate.
	content["created_at"] = models.NewDateTime(s.cfg.Now().UTC())

	_, err := s.query(ctx, fmt.Sprintf("CREATE %s CONTENT $doc", s.cfg.Table), map[string]any{
		"doc": content,
	})
	if err != nil {
		return fmt.Errorf("surreal: insert: %w", err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, uid, id string, fields docstore.Document) error {
	docs, err := s.query(ctx, "UPDATE $id MERGE $doc WHERE uid = $uid", map[string]any{
		"id":  models.NewRecordID(s.cfg.Table, id),
		"doc": docstore.Writable(fields),
		"uid": uid,
	})
	if err != nil {
		return fmt.Errorf("surreal: merge %s: %w", id, err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("surreal: merge %s: %w", id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, uid, id string) error {
	_, err := s.query(ctx, "DELETE $id WHERE uid = $uid", map[string]any{
		"id":  models.NewRecordID(s.cfg.Table, id),
		"uid": uid,
	})
	if err != nil {
		return fmt.Errorf("surreal: delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetMeta(ctx context.Context, uid string) (docstore.Document, error) {
	docs, err := s.query(ctx, "SELECT * FROM $id", map[string]any{
		"id": models.NewRecordID(s.cfg.MetaTable, uid),
	})
	if err != nil {
		return nil, fmt.Errorf("surreal: get meta: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc := docs[0]
	delete(doc, "id")
	return doc, nil
}

func (s *Store) MergeMeta(ctx context.Context, uid string, fields docstore.Document) error {
	if uid == "" {
		return docstore.ErrNoUID
	}
	_, err := s.query(ctx, "UPSERT $id MERGE $doc", map[string]any{
		"id":  models.NewRecordID(s.cfg.MetaTable, uid),
		"doc": fields,
	})
	if err != nil {
		return fmt.Errorf("surreal: merge meta: %w", err)
	}
	return nil
}

// Migrate defines the note and metadata tables.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", s.cfg.Table),
		fmt.Sprintf("DEFINE FIELD IF NOT EXISTS uid ON %s TYPE string", s.cfg.Table),
		fmt.Sprintf("DEFINE FIELD IF NOT EXISTS created_at ON %s TYPE datetime DEFAULT time::now() READONLY", s.cfg.Table),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s_uid ON %s FIELDS uid", s.cfg.Table, s.cfg.Table),
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", s.cfg.MetaTable),
	}

	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	if _, err := connection.Query[any](ctx, conn, strings.Join(stmts, ";\n"), nil); err != nil {
		return fmt.Errorf("surreal: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.closed = true
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(ctx)
}
