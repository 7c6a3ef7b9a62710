// Package driftnote wires the stores, services and HTTP API into the
// driftnote server and its CLI commands.
package driftnote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/driftnote/driftnote/pkg/assist"
	"github.com/driftnote/driftnote/pkg/auth"
	"github.com/driftnote/driftnote/pkg/backup"
	"github.com/driftnote/driftnote/pkg/backup/gdrive"
	"github.com/driftnote/driftnote/pkg/categories"
	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/docstore/memdoc"
	"github.com/driftnote/driftnote/pkg/docstore/pgdoc"
	"github.com/driftnote/driftnote/pkg/docstore/surreal"
	"github.com/driftnote/driftnote/pkg/logger"
	"github.com/driftnote/driftnote/pkg/metrics"
	"github.com/driftnote/driftnote/pkg/notesync"
)

// NoteStore is what the app needs from a document store.
type NoteStore interface {
	docstore.Store
	docstore.MetaStore
}

// App holds the application state shared by the commands.
type App struct {
	config *Config
	log    logger.Logger
	out    io.Writer

	store      NoteStore
	metrics    *metrics.Collector
	issuer     *auth.Issuer
	syncer     *notesync.Synchronizer
	categories *categories.Service
	backups    *backup.Resolver
	// assistant is nil when no API key is configured.
	assistant *assist.Assistant

	drives   backup.DriveConnector
	closeLog func() error
}

type Option func(*App)

// WithStore uses store instead of opening the configured one.
func WithStore(store NoteStore) Option {
	return func(a *App) { a.store = store }
}

func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithDriveConnector replaces the Google Drive connector.
func WithDriveConnector(d backup.DriveConnector) Option {
	return func(a *App) { a.drives = d }
}

func WithAssistant(as *assist.Assistant) Option {
	return func(a *App) { a.assistant = as }
}

// WithOutput redirects command output such as printed tokens.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New opens the configured store and builds the services on top of it.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	policy, err := notesync.ParseErrorPolicy(config.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	a := &App{config: config, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		if err := a.openLogger(); err != nil {
			return nil, err
		}
	}

	if a.store == nil {
		if a.store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}

	if a.drives == nil {
		a.drives = gdrive.Connector{Endpoint: config.DriveEndpoint}
	}
	if a.assistant == nil && config.OpenAIKey != "" {
		a.assistant = assist.NewOpenAI(config.OpenAIKey, config.OpenAIBaseURL, config.OpenAIModel)
	}

	a.metrics = metrics.New()
	a.issuer = auth.NewIssuer(config.JWTSecret)
	a.syncer = notesync.New(a.store,
		notesync.WithErrorPolicy(policy),
		notesync.WithLogger(a.log),
		notesync.WithMetrics(a.metrics),
	)
	a.categories = categories.New(a.store)
	a.backups = backup.NewResolver(a.store, a.drives,
		backup.WithLogger(a.log),
		backup.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *App) openLogger() error {
	if a.config.LogFormat == "console" {
		zl, err := logger.NewBuild().Console(true).Level(a.config.LogLevel).Make()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		a.log = zl
		a.closeLog = zl.Close
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(first(a.config.LogLevel, "info"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.log = logger.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *App) openStore(ctx context.Context) (NoteStore, error) {
	switch a.config.Store {
	case StoreSurreal:
		s, err := surreal.Open(ctx, surreal.Config{
			URL:       a.config.SurrealURL,
			Namespace: a.config.SurrealNS,
			Database:  a.config.SurrealDB,
			User:      a.config.SurrealUser,
			Pass:      a.config.SurrealPass,
			Logger:    a.log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
		}
		a.log.Info("connected to SurrealDB", "url", a.config.SurrealURL)
		return s, nil
	case StorePostgres:
		s, err := pgdoc.Open(a.config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.log.Info("connected to PostgreSQL")
		return s, nil
	case StoreMemory:
		a.log.Warn("using the in-memory store, notes are lost on exit")
		return memdoc.New(), nil
	}
	return nil, fmt.Errorf("unknown store %q", a.config.Store)
}

// Close releases the store and the log file.
func (a *App) Close(ctx context.Context) error {
	err := a.store.Close(ctx)
	if a.closeLog != nil {
		if cerr := a.closeLog(); err == nil {
			err = cerr
		}
	}
	return err
}

// Store returns the underlying store (useful for testing)
func (a *App) Store() NoteStore {
	return a.store
}

// Migrate applies the store schema.
func (a *App) Migrate(ctx context.Context, _ *MigrateCommand) error {
	m, ok := a.store.(docstore.Migrator)
	if !ok {
		a.log.Info("store has no schema to migrate", "store", a.config.Store)
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info("migration complete", "store", a.config.Store)
	return nil
}

// Backup uploads one backup of the command's user.
func (a *App) Backup(ctx context.Context, cmd *BackupCommand) error {
	sess := auth.Session{UID: cmd.UID, StorageToken: cmd.StorageToken}
	notes, err := a.syncer.Notes(ctx, sess)
	if err != nil {
		return err
	}
	record, err := a.backups.Run(ctx, sess, notes)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s\t%s\t%d notes\n", record.FileID, record.FileName, record.NotesCount)
	return err
}

// Token prints a signed token for the command's uid.
func (a *App) Token(cmd *TokenCommand) error {
	if a.config.JWTSecret == "" {
		return ErrNoSecret
	}
	token, err := a.issuer.Issue(cmd.UID, cmd.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, token)
	return err
}
