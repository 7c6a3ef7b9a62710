package driftnote

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommands(t *testing.T) {
	t.Setenv("DRIFTNOTE_STORE", "memory")

	cmd, cfg, err := Parse([]string{"run"})
	require.NoError(t, err)
	assert.IsType(t, &RunCommand{}, cmd)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "log", cfg.ErrorPolicy)

	cmd, _, err = Parse([]string{"migrate"})
	require.NoError(t, err)
	assert.Equal(t, "migrate", cmd.Name())

	cmd, _, err = Parse([]string{"backup", "-uid", "alice", "-storage-token", "tok"})
	require.NoError(t, err)
	assert.Equal(t, &BackupCommand{UID: "alice", StorageToken: "tok"}, cmd)

	cmd, _, err = Parse([]string{"token", "-uid", "alice", "-ttl", "1h"})
	require.NoError(t, err)
	assert.Equal(t, &TokenCommand{UID: "alice", TTL: time.Hour}, cmd)
}

func TestParseFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DRIFTNOTE_STORE", "postgres")
	t.Setenv("DRIFTNOTE_ADDR", ":9000")

	_, cfg, err := Parse([]string{"-store", "memory", "-addr", ":9100", "-log-format", "console", "run"})
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestParseErrors(t *testing.T) {
	t.Setenv("DRIFTNOTE_STORE", "memory")

	for name, args := range map[string][]string{
		"no command":       {},
		"unknown command":  {"serve"},
		"backup no token":  {"backup", "-uid", "alice"},
		"token no uid":     {"token"},
		"token bad ttl":    {"token", "-uid", "a", "-ttl", "-1h"},
		"unknown store":    {"-store", "mongo", "run"},
		"unknown flag":     {"-nope", "run"},
		"bad log level":    {"-log-level", "loud", "run"},
		"bad error policy": nil,
	} {
		t.Run(name, func(t *testing.T) {
			if args == nil {
				t.Setenv("DRIFTNOTE_ERROR_POLICY", "ignore")
				args = []string{"run"}
			}
			_, _, err := Parse(args)
			assert.Error(t, err)
		})
	}
}

func TestParseShortSecret(t *testing.T) {
	t.Setenv("DRIFTNOTE_STORE", "memory")
	t.Setenv("DRIFTNOTE_JWT_SECRET", "short")

	_, _, err := Parse([]string{"run"})
	assert.ErrorContains(t, err, "JWTSecret")
}

func TestParseEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DRIFTNOTE_STORE=memory\nOPENAI_MODEL=gpt-test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DRIFTNOTE_STORE")
		os.Unsetenv("OPENAI_MODEL")
	})

	_, cfg, err := Parse([]string{"-env-file", path, "run"})
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "gpt-test", cfg.OpenAIModel)

	_, _, err = Parse([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env"), "run"})
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("DRIFTNOTE_TEST_VALUE", "")
	assert.Equal(t, "fallback", getEnv("DRIFTNOTE_TEST_VALUE", "fallback"))
	t.Setenv("DRIFTNOTE_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnv("DRIFTNOTE_TEST_VALUE", "fallback"))
}
