package testutils

import (
	"database/sql"
	"os"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/require"

	"github.com/fluxlock/tideline/checkpoint"
	"github.com/fluxlock/tideline/checkpointstore"
)

// PostgresDSNEnv names the environment variable holding the DSN for the
// postgres-backed store tests. When unset, the postgres store is left out
// of the matrix.
const PostgresDSNEnv = "TIDELINE_POSTGRES_DSN"

type CheckpointStore struct {
	Name  string
	Store checkpoint.Store
}

// SetupCheckpointStores builds one instance of every checkpoint store
// implementation, so conformance tests run against the full matrix.
func SetupCheckpointStores(t *testing.T) ([]CheckpointStore, func()) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "sqlite-*.db")
	require.NoError(t, err)

	sqliteDB, err := sql.Open("sqlite3", f.Name())
	require.NoError(t, err)

	sqliteStore, err := checkpointstore.NewSqlite(sqliteDB)
	require.NoError(t, err)

	pebbleDB, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)

	stores := []CheckpointStore{
		{
			Name:  "memory store",
			Store: checkpointstore.NewMemory(),
		},
		{
			Name:  "sqlite store",
			Store: sqliteStore,
		},
		{
			Name:  "pebble store",
			Store: checkpointstore.NewPebble(pebbleDB),
		},
	}

	var pgDB *sql.DB
	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		pgDB, err = sql.Open("pgx", dsn)
		require.NoError(t, err)

		pgStore, err := checkpointstore.NewPostgres(pgDB)
		require.NoError(t, err)

		stores = append(stores, CheckpointStore{
			Name:  "postgres store",
			Store: pgStore,
		})
	}

	return stores, func() {
		require.NoError(t, sqliteDB.Close())
		require.NoError(t, pebbleDB.Close())
		if pgDB != nil {
			require.NoError(t, pgDB.Close())
		}
	}
}
