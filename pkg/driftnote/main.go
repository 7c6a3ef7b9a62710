package driftnote

import (
	"context"
	"fmt"
	"time"
)

// Main parses args, builds the App and executes the command. It can be
// called from tests without building the binary; ctx cancellation stops
// a running server gracefully.
//
// Environment:
//
//	DRIFTNOTE_STORE           surreal (default), postgres or memory
//	SURREALDB_URL             default ws://localhost:8000/rpc
//	SURREALDB_NS, SURREALDB_DB, SURREALDB_USER, SURREALDB_PASS
//	POSTGRES_DSN
//	DRIFTNOTE_JWT_SECRET      required by run and token
//	OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
//	DRIFTNOTE_ERROR_POLICY    log (default) or propagate
//	DRIFTNOTE_DRIVE_ENDPOINT  Drive API base path override
func Main(ctx context.Context, args []string, opts ...Option) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	app, err := New(ctx, config, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	switch c := cmd.(type) {
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *BackupCommand:
		if err := app.Backup(ctx, c); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
	case *TokenCommand:
		if err := app.Token(c); err != nil {
			return fmt.Errorf("token failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
	return nil
}
