// Package testutil provides testing utilities for dbsync
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/dbsync/pkg/dbconn"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext returns a context with a 30-second timeout that is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SQLiteDB opens a file-backed SQLite database in the test's temp dir and
// runs the given statements on it.
func SQLiteDB(t *testing.T, name string, stmts ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

// PoolOpener hands out sessions from existing pools keyed by endpoint URL,
// speaking the dialect named by the endpoint's driver. It records every
// endpoint it is asked to open.
type PoolOpener struct {
	Pools map[string]*sql.DB

	mu        sync.Mutex
	endpoints []dialect.Endpoint
}

// NewPoolOpener creates an opener over pools.
func NewPoolOpener(pools map[string]*sql.DB) *PoolOpener {
	return &PoolOpener{Pools: pools}
}

// Open pins a session from the pool registered for ep.URL.
func (o *PoolOpener) Open(ctx context.Context, ep dialect.Endpoint) (*dbconn.Conn, error) {
	o.mu.Lock()
	o.endpoints = append(o.endpoints, ep)
	db, ok := o.Pools[ep.URL]
	o.mu.Unlock()

	d, err := dialect.Lookup(ep.Driver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConnection, "no pool registered for %s", ep.URL)
	}
	return dbconn.FromDB(ctx, db, d)
}

// Endpoints returns the endpoints opened so far.
func (o *PoolOpener) Endpoints() []dialect.Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dialect.Endpoint(nil), o.endpoints...)
}
