package syncer

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/metrics"
	"github.com/ajitpratap0/dbsync/pkg/observability"
)

// Execer executes statements on the target session.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BatchUpserter buffers serialized rows and writes them as one upsert
// statement per batch. Each statement commits on its own.
type BatchUpserter struct {
	exec     Execer
	upsert   dialect.Upsert
	capacity int
	rows     []string
	logger   *zap.Logger
	recorder *metrics.Recorder

	statements int
	applied    int
}

// NewBatchUpserter creates an upserter holding at most capacity rows. rec may be nil.
func NewBatchUpserter(exec Execer, up dialect.Upsert, capacity int, log *zap.Logger, rec *metrics.Recorder) *BatchUpserter {
	if capacity <= 0 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchUpserter{
		exec:     exec,
		upsert:   up,
		capacity: capacity,
		rows:     make([]string, 0, capacity),
		logger:   log,
		recorder: rec,
	}
}

// Add buffers one row of serialized values.
func (b *BatchUpserter) Add(values []string) {
	b.rows = append(b.rows, b.upsert.Row(values))
}

// Full reports whether the buffer reached capacity.
func (b *BatchUpserter) Full() bool { return len(b.rows) >= b.capacity }

// Pending returns the number of buffered rows.
func (b *BatchUpserter) Pending() int { return len(b.rows) }

// Statements returns the number of statements executed successfully.
func (b *BatchUpserter) Statements() int { return b.statements }

// Applied returns the number of rows written by successful statements.
func (b *BatchUpserter) Applied() int { return b.applied }

// Flush writes the buffered rows. An empty buffer executes nothing. The
// buffer is cleared whether or not the statement succeeds.
func (b *BatchUpserter) Flush(ctx context.Context) (err error) {
	n := len(b.rows)
	if n == 0 {
		return nil
	}
	stmt := b.upsert.Statement(b.rows)
	b.rows = b.rows[:0]

	ctx, span := observability.StartSpan(ctx, "sync.flush", attribute.Int("rows", n))
	defer func() { observability.EndSpan(span, err) }()

	timer := metrics.NewTimer()
	b.logger.Debug("executing upsert", zap.Int("rows", n), zap.String("sql", stmt))
	if _, execErr := b.exec.ExecContext(ctx, stmt); execErr != nil {
		if b.recorder != nil {
			b.recorder.FlushFailed(timer.Elapsed())
		}
		b.logger.Error("upsert failed",
			zap.Int("rows", n),
			zap.String("sql", stmt),
			zap.Error(execErr))
		return errors.Wrap(execErr, errors.ErrorTypeQuery, "batch upsert failed").
			WithDetail("rows", n)
	}

	b.statements++
	b.applied += n
	if b.recorder != nil {
		b.recorder.Flushed(n, timer.Elapsed())
	}
	b.logger.Info("batch applied",
		zap.Int("rows", n),
		zap.Int("total_rows", b.applied),
		zap.Duration("duration", timer.Elapsed()))
	return nil
}
