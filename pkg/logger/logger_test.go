package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftnote/driftnote/pkg/logger"
)

func TestZerologFromBuffer(t *testing.T) {
	buff := &bytes.Buffer{}
	zl, err := logger.NewBuild().FromBuffer(buff).Level("debug").Make()
	require.NoError(t, err)

	var log logger.Logger = zl
	require.Equal(t, 0, buff.Len())

	log.Warn("backup failed", "uid", "u1", "error", errors.New("boom"), "attempt", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "backup failed", line["message"])
	require.Equal(t, "u1", line["uid"])
	require.Equal(t, "boom", line["error"])
	require.EqualValues(t, 2, line["attempt"])
}

func TestZerologLevelFilter(t *testing.T) {
	buff := &bytes.Buffer{}
	zl, err := logger.NewBuild().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	zl.Info("dropped")
	require.Equal(t, 0, buff.Len())
	zl.Error("kept")
	require.Contains(t, buff.String(), "kept")
}

func TestZerologFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftnote.log")
	zl, err := logger.NewBuild().FromPath(path).Make()
	require.NoError(t, err)

	zl.Info("hello")
	require.NoError(t, zl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestDiscard(t *testing.T) {
	require.NotPanics(t, func() {
		logger.Discard().Error("nothing", "k", "v")
	})
}
