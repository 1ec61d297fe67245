package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ajitpratap0/dbsync/pkg/config"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
)

// Session is the pinned database session a cursor runs on. *dbconn.Conn,
// *sql.Conn and *sql.DB all satisfy it.
type Session interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Column is the metadata of one result column.
type Column struct {
	Label    string
	TypeName string
}

// RowStream iterates over source rows without materializing the result.
type RowStream interface {
	Columns() []Column
	Next() bool
	// Values returns the current row. The slice is reused by Next.
	Values() []any
	Err() error
	Close() error
}

// ResolveFetchSize returns the job's fetch size override or the dialect default.
func ResolveFetchSize(d dialect.Dialect, cfg *config.SyncJobConfig) int {
	if n := cfg.FetchSizeOverride(); n > 0 {
		return n
	}
	return d.DefaultFetchSize()
}

// OpenCursor runs the job's select on the source, bound to watermark.
func OpenCursor(ctx context.Context, s Session, d dialect.Dialect, cfg *config.SyncJobConfig, watermark string) (RowStream, error) {
	if n := dialect.CountPlaceholders(cfg.SQLSelect); n != 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "sql_select must contain exactly one placeholder, found %d", n)
	}

	if schema := strings.TrimSpace(cfg.SourceSchema); schema != "" {
		stmt := d.SchemaStatement(schema)
		if _, err := s.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to switch source schema").
				WithDetail("sql", stmt)
		}
	}

	query := dialect.Rebind(d, cfg.SQLSelect)
	if d.Cursor() == dialect.CursorServerSide {
		return openServerCursor(ctx, s, query, watermark, ResolveFetchSize(d, cfg))
	}

	rows, err := s.QueryContext(ctx, query, watermark)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute source query").
			WithDetail("sql", query)
	}
	stream, err := newRowsStream(rows)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return stream, nil
}

type rowsStream struct {
	rows   *sql.Rows
	cols   []Column
	values []any
	ptrs   []any
	err    error
}

func newRowsStream(rows *sql.Rows) (*rowsStream, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read source column metadata")
	}
	s := &rowsStream{
		rows:   rows,
		cols:   make([]Column, len(types)),
		values: make([]any, len(types)),
		ptrs:   make([]any, len(types)),
	}
	for i, t := range types {
		s.cols[i] = Column{Label: t.Name(), TypeName: strings.ToUpper(t.DatabaseTypeName())}
		s.ptrs[i] = &s.values[i]
	}
	return s, nil
}

func (s *rowsStream) Columns() []Column { return s.cols }
func (s *rowsStream) Values() []any     { return s.values }

func (s *rowsStream) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	for i := range s.values {
		s.values[i] = nil
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		s.err = errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan source row")
		return false
	}
	return true
}

func (s *rowsStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to read source rows")
	}
	return nil
}

func (s *rowsStream) Close() error {
	return s.rows.Close()
}

var cursorSeq atomic.Uint64

// serverCursor pulls rows from a NO SCROLL server-side cursor declared in a
// read-only transaction, fetchSize rows per round trip.
type serverCursor struct {
	ctx       context.Context
	tx        *sql.Tx
	name      string
	fetchSize int
	chunk     *rowsStream
	inChunk   int
	cols      []Column
	err       error
	closed    bool
}

func openServerCursor(ctx context.Context, s Session, query, watermark string, fetchSize int) (*serverCursor, error) {
	if fetchSize <= 0 {
		fetchSize = dialect.PostgresDefaultFetchSize
	}
	tx, err := s.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to begin read-only transaction")
	}

	c := &serverCursor{
		ctx:       ctx,
		tx:        tx,
		name:      fmt.Sprintf("dbsync_cursor_%d", cursorSeq.Add(1)),
		fetchSize: fetchSize,
	}
	declare := "DECLARE " + c.name + " NO SCROLL CURSOR FOR " + query
	if _, err := tx.ExecContext(ctx, declare, watermark); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to declare source cursor").
			WithDetail("sql", declare)
	}
	if err := c.fetch(); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.cols = c.chunk.Columns()
	return c, nil
}

func (c *serverCursor) fetch() error {
	if c.chunk != nil {
		if err := c.chunk.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to release cursor chunk")
		}
		c.chunk = nil
	}
	rows, err := c.tx.QueryContext(c.ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", c.fetchSize, c.name))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to fetch from source cursor")
	}
	chunk, err := newRowsStream(rows)
	if err != nil {
		rows.Close()
		return err
	}
	c.chunk = chunk
	c.inChunk = 0
	return nil
}

func (c *serverCursor) Columns() []Column { return c.cols }
func (c *serverCursor) Values() []any     { return c.chunk.Values() }

func (c *serverCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	for {
		if c.chunk.Next() {
			c.inChunk++
			return true
		}
		if err := c.chunk.Err(); err != nil {
			c.err = err
			return false
		}
		// a short chunk means the cursor is exhausted
		if c.inChunk < c.fetchSize {
			return false
		}
		if err := c.fetch(); err != nil {
			c.err = err
			return false
		}
	}
}

func (c *serverCursor) Err() error { return c.err }

func (c *serverCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.chunk != nil {
		_ = c.chunk.Close()
	}
	// the transaction only read; rolling back also drops the cursor
	if err := c.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to end read-only transaction")
	}
	return nil
}
