package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dbsync/pkg/errors"
)

func TestPostgresUpsert(t *testing.T) {
	pg, _ := Lookup("postgresql")
	up, err := pg.NewUpsert(UpsertSpec{Table: "public.users", Columns: []string{"id", "name"}, ConflictKey: " id "})
	require.NoError(t, err)

	rows := []string{up.Row([]string{"1", "'Alice'"}), up.Row([]string{"2", "'Bob'"})}
	assert.Equal(t,
		"INSERT INTO public.users (id,name) VALUES (1,'Alice'),(2,'Bob') ON CONFLICT (id) DO UPDATE SET id=EXCLUDED.id, name=EXCLUDED.name",
		up.Statement(rows))
}

func TestPostgresUpsertNeedsConflictKey(t *testing.T) {
	pg, _ := Lookup("postgres")
	_, err := pg.NewUpsert(UpsertSpec{Table: "users", Columns: []string{"id"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPostgresConfig(t *testing.T) {
	t.Run("jdbc url", func(t *testing.T) {
		cfg, err := PostgresConfig(Endpoint{
			URL:      "jdbc:postgresql://db.local:5433/app?currentSchema=sales&ssl=false&prepareThreshold=0",
			User:     "sync",
			Password: "pw",
		})
		require.NoError(t, err)
		assert.Equal(t, "db.local", cfg.Host)
		assert.Equal(t, uint16(5433), cfg.Port)
		assert.Equal(t, "app", cfg.Database)
		assert.Equal(t, "sync", cfg.User)
		assert.Equal(t, "pw", cfg.Password)
		assert.Equal(t, "sales", cfg.RuntimeParams["search_path"])
		assert.NotContains(t, cfg.RuntimeParams, "prepareThreshold")
		assert.Nil(t, cfg.TLSConfig)
	})

	t.Run("keyword dsn", func(t *testing.T) {
		cfg, err := PostgresConfig(Endpoint{URL: "host=db.local dbname=app sslmode=disable", User: "u", Password: "p"})
		require.NoError(t, err)
		assert.Equal(t, "app", cfg.Database)
		assert.Equal(t, "u", cfg.User)
		assert.Equal(t, "on", cfg.RuntimeParams["standard_conforming_strings"])
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := PostgresConfig(Endpoint{URL: "postgres://db.local:notaport/app"})
		require.Error(t, err)
	})
}
