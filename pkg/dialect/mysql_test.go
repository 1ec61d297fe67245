package dialect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dbsync/pkg/errors"
)

func TestMySQLUpsert(t *testing.T) {
	my, _ := Lookup("mysqlCJ")
	up, err := my.NewUpsert(UpsertSpec{Table: "shop.orders", Columns: []string{"id", "name"}})
	require.NoError(t, err)
	assert.False(t, up.RowForm())

	rows := []string{up.Row([]string{"1", "'Alice'"}), up.Row([]string{"2", "NULL"})}
	assert.Equal(t, "(1,'Alice')", rows[0])
	assert.Equal(t,
		"INSERT INTO shop.orders (id,name) VALUES (1,'Alice'),(2,NULL) ON DUPLICATE KEY UPDATE id=VALUES(id), name=VALUES(name)",
		up.Statement(rows))
}

func TestMySQLUpsertNeedsColumns(t *testing.T) {
	my, _ := Lookup("mysql")
	_, err := my.NewUpsert(UpsertSpec{Table: "t"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMySQLConfig(t *testing.T) {
	t.Run("jdbc url", func(t *testing.T) {
		cfg, err := MySQLConfig(Endpoint{
			URL:      "jdbc:mysql://db.local/shop?useSSL=false&connectTimeout=5000&serverTimezone=UTC",
			User:     "sync",
			Password: "s3cret",
		})
		require.NoError(t, err)
		assert.Equal(t, "tcp", cfg.Net)
		assert.Equal(t, "db.local:3306", cfg.Addr)
		assert.Equal(t, "shop", cfg.DBName)
		assert.Equal(t, "sync", cfg.User)
		assert.Equal(t, "s3cret", cfg.Passwd)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
		assert.True(t, cfg.ParseTime)
		assert.NotContains(t, cfg.Params, "serverTimezone")
		assert.Equal(t, "CONCAT(@@sql_mode, ',NO_BACKSLASH_ESCAPES')", cfg.Params["sql_mode"])
	})

	t.Run("sql_mode from dsn gains NO_BACKSLASH_ESCAPES", func(t *testing.T) {
		cfg, err := MySQLConfig(Endpoint{URL: "app:pw@tcp(10.0.0.1:3307)/crm?sql_mode=%27ANSI_QUOTES%27"})
		require.NoError(t, err)
		assert.Equal(t, "CONCAT('ANSI_QUOTES', ',NO_BACKSLASH_ESCAPES')", cfg.Params["sql_mode"])

		cfg, err = MySQLConfig(Endpoint{URL: "app:pw@tcp(10.0.0.1:3307)/crm?sql_mode=%27NO_BACKSLASH_ESCAPES%27"})
		require.NoError(t, err)
		assert.Equal(t, "'NO_BACKSLASH_ESCAPES'", cfg.Params["sql_mode"])
	})

	t.Run("native dsn keeps its own user", func(t *testing.T) {
		cfg, err := MySQLConfig(Endpoint{URL: "app:pw@tcp(10.0.0.1:3307)/crm"})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1:3307", cfg.Addr)
		assert.Equal(t, "app", cfg.User)
		assert.Equal(t, "pw", cfg.Passwd)
	})

	t.Run("url without database", func(t *testing.T) {
		cfg, err := MySQLConfig(Endpoint{URL: "mysql://db.local:3310", User: "u"})
		require.NoError(t, err)
		assert.Equal(t, "db.local:3310", cfg.Addr)
		assert.Empty(t, cfg.DBName)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := MySQLConfig(Endpoint{URL: "not a dsn"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})
}
