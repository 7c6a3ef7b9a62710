package driftnote

import "time"

// Command is one CLI operation, routed by Name to a method of App.
type Command interface {
	Name() string
}

// RunCommand serves the HTTP API until the context ends.
type RunCommand struct{}

func (c *RunCommand) Name() string { return "run" }

// MigrateCommand applies the store schema. Stores without a schema
// accept it as a no-op.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }

// BackupCommand uploads one backup of UID's notes using StorageToken as
// the drive credential.
type BackupCommand struct {
	UID          string
	StorageToken string
}

func (c *BackupCommand) Name() string { return "backup" }

// TokenCommand prints a signed API token for UID, for development.
type TokenCommand struct {
	UID string
	TTL time.Duration
}

func (c *TokenCommand) Name() string { return "token" }
