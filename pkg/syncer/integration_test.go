package syncer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/dbsync/pkg/config"
	"github.com/ajitpratap0/dbsync/pkg/dbconn"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/testutil"
)

// Run against live databases with e.g.
//
//	DBSYNC_IT_MYSQL_URL=jdbc:mysql://localhost:3306/test DBSYNC_IT_MYSQL_USER=root go test ./pkg/syncer -run Live
type liveSuite struct {
	testutil.IntegrationSuite
}

func TestLiveDatabases(t *testing.T) {
	suite.Run(t, new(liveSuite))
}

type liveSchema struct {
	drop   []string
	create string
	// since wraps the bound watermark so it compares as a date-time
	since string
}

var liveSchemas = map[dialect.Name]liveSchema{
	dialect.MySQL: {
		drop:   []string{"DROP TABLE IF EXISTS %s"},
		create: "CREATE TABLE %s (id BIGINT PRIMARY KEY, name VARCHAR(64), amount DECIMAL(10,2), blob_col VARBINARY(16), updated_at DATETIME)",
		since:  "?",
	},
	dialect.PostgreSQL: {
		drop:   []string{"DROP TABLE IF EXISTS %s"},
		create: "CREATE TABLE %s (id BIGINT PRIMARY KEY, name VARCHAR(64), amount NUMERIC(10,2), blob_col BYTEA, updated_at TIMESTAMP)",
		since:  "CAST(? AS TIMESTAMP)",
	},
	dialect.Oracle: {
		drop:   []string{"BEGIN EXECUTE IMMEDIATE 'DROP TABLE %s'; EXCEPTION WHEN OTHERS THEN NULL; END;"},
		create: "CREATE TABLE %s (id NUMBER(19) PRIMARY KEY, name VARCHAR2(64), amount NUMBER(10,2), blob_col RAW(16), updated_at DATE)",
		since:  "TO_DATE(?, 'YYYY-MM-DD HH24:MI:SS')",
	},
}

func (s *liveSuite) TestMySQLRoundTrip()      { s.roundTrip("mysql") }
func (s *liveSuite) TestPostgreSQLRoundTrip() { s.roundTrip("postgresql") }
func (s *liveSuite) TestOracleRoundTrip()     { s.roundTrip("oracle") }

// roundTrip syncs a table into a sibling table on the same database twice
// and checks the second run only carries the changed row.
func (s *liveSuite) roundTrip(driver string) {
	conn, ep := s.Connect(driver)
	d := conn.Dialect
	schema := liveSchemas[d.Name()]
	const src, dst = "dbsync_it_src", "dbsync_it_dst"

	for _, table := range []string{src, dst} {
		for _, stmt := range schema.drop {
			s.Exec(conn, fmt.Sprintf(stmt, table))
		}
		s.Exec(conn, fmt.Sprintf(schema.create, table))
	}
	ts := func(v string) string { return d.TemporalLiteral(dialect.TemporalDateTime, v) }
	s.Exec(conn,
		fmt.Sprintf("INSERT INTO %s VALUES (1, 'Alice', 10.50, %s, %s)", src, d.BinaryLiteral([]byte{0xca, 0xfe}), ts("2024-01-01 10:00:00")),
		fmt.Sprintf("INSERT INTO %s VALUES (2, 'O''Brien', NULL, NULL, %s)", src, ts("2024-01-02 10:00:00")),
	)

	cfg := config.NewSyncJobConfig("live_" + driver)
	cfg.SourceDriver, cfg.SourceURL, cfg.SourceUser, cfg.SourcePass = ep.Driver, ep.URL, ep.User, ep.Password
	cfg.TargetDriver, cfg.TargetURL, cfg.TargetUser, cfg.TargetPass = ep.Driver, ep.URL, ep.User, ep.Password
	cfg.TargetTable = dst
	cfg.FieldUniqueKey = "id"
	cfg.SQLSelect = fmt.Sprintf("SELECT id, name, amount, blob_col, updated_at FROM %s WHERE updated_at > %s ORDER BY id", src, schema.since)
	cfg.SQLLastSyncTime = fmt.Sprintf("SELECT MAX(updated_at) AS last_sync FROM %s", dst)
	cfg.FieldLastSyncTime = "last_sync"
	cfg.BatchSize = 1
	cfg.FetchSize = 1

	h := NewHandler(cfg, WithLogger(testutil.TestLogger(s.T())))
	res, err := h.Run(s.Context())
	s.Require().NoError(err)
	s.Equal(2, res.RowsApplied)
	s.Equal(2, res.Statements)
	s.Equal(map[int64]string{1: "Alice", 2: "O'Brien"}, s.names(conn, dst))

	s.Exec(conn, fmt.Sprintf("UPDATE %s SET name = 'Bob', updated_at = %s WHERE id = 2", src, ts("2024-01-03 10:00:00")))
	res, err = h.Run(s.Context())
	s.Require().NoError(err)
	s.Equal("2024-01-02 10:00:00", res.Watermark)
	s.Equal(1, res.RowsApplied)
	s.Equal(map[int64]string{1: "Alice", 2: "Bob"}, s.names(conn, dst))
}

func (s *liveSuite) names(conn *dbconn.Conn, table string) map[int64]string {
	rows, err := conn.QueryContext(s.Context(), fmt.Sprintf("SELECT id, name FROM %s", table))
	s.Require().NoError(err)
	defer rows.Close()
	out := map[int64]string{}
	for rows.Next() {
		var id int64
		var name string
		s.Require().NoError(rows.Scan(&id, &name))
		out[id] = name
	}
	s.Require().NoError(rows.Err())
	return out
}
