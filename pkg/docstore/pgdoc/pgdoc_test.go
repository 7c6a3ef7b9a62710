package pgdoc

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/driftnote/driftnote/pkg/docstore"
	"github.com/driftnote/driftnote/pkg/docstore/docstoretest"
)

// dsnEnv names a disposable database; the tests truncate its tables.
const dsnEnv = "DRIFTNOTE_TEST_POSTGRES_DSN"

func TestStoreContract(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	suite.Run(t, &docstoretest.StoreSuite{
		Open: func() (docstore.Store, docstore.MetaStore, func()) {
			s, err := Open(dsn)
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			require.NoError(t, s.db.Exec("TRUNCATE notes, user_meta").Error)
			return s, s, func() { _ = s.Close(context.Background()) }
		},
	})
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"title":"x","tags":["a"]}`)))
	assert.Equal(t, "x", m["title"])
	assert.Equal(t, []any{"a"}, m["tags"])

	require.NoError(t, m.Scan(`{"n":1}`))
	assert.Equal(t, float64(1), m["n"])

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))
}

func TestJSONMapValue(t *testing.T) {
	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = JSONMap{"is_favorite": true}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_favorite":true}`, string(v.([]byte)))
}

func TestRowDocument(t *testing.T) {
	row := noteRow{ID: "n1", UID: "u1", Body: JSONMap{"title": "T", "uid": "spoofed"}}
	doc := row.document()
	assert.Equal(t, "n1", doc["id"])
	assert.Equal(t, "u1", doc["uid"])
	assert.Equal(t, "T", doc["title"])
}
