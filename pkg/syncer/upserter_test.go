package syncer

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/metrics"
)

func mysqlUpsert(t *testing.T) dialect.Upsert {
	t.Helper()
	up, err := mustDialect(t, "mysql").NewUpsert(dialect.UpsertSpec{Table: "people", Columns: []string{"id", "name"}})
	require.NoError(t, err)
	return up
}

func TestBatchUpserterBoundaries(t *testing.T) {
	tests := []struct {
		rows, batch, statements int
	}{
		{rows: 0, batch: 3, statements: 0},
		{rows: 1, batch: 3, statements: 1},
		{rows: 3, batch: 3, statements: 1},
		{rows: 7, batch: 3, statements: 3},
		{rows: 5, batch: 1, statements: 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows by %d", tt.rows, tt.batch), func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			for i := 0; i < tt.statements; i++ {
				mock.ExpectExec("INSERT INTO people").WillReturnResult(sqlmock.NewResult(0, 1))
			}

			b := NewBatchUpserter(db, mysqlUpsert(t), tt.batch, zaptest.NewLogger(t), nil)
			ctx := context.Background()
			for i := 0; i < tt.rows; i++ {
				b.Add([]string{strconv.Itoa(i), "'n'"})
				if b.Full() {
					require.NoError(t, b.Flush(ctx))
				}
			}
			require.NoError(t, b.Flush(ctx))
			require.NoError(t, b.Flush(ctx), "flushing an empty buffer is a no-op")

			assert.Equal(t, tt.statements, b.Statements())
			assert.Equal(t, tt.rows, b.Applied())
			assert.Zero(t, b.Pending())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBatchUpserterStatementText(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO people (id,name) VALUES (1,'Alice'),(2,'O''Brien') ON DUPLICATE KEY UPDATE id=VALUES(id), name=VALUES(name)").
		WillReturnResult(sqlmock.NewResult(0, 2))

	b := NewBatchUpserter(db, mysqlUpsert(t), 10, zaptest.NewLogger(t), metrics.NewRecorder("upserter_test", "mysql"))
	b.Add([]string{"1", "'Alice'"})
	b.Add([]string{"2", "'O''Brien'"})
	assert.False(t, b.Full())
	require.NoError(t, b.Flush(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchUpserterFailureLogsSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cause := stderrors.New("duplicate column")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO people")).WillReturnError(cause)

	core, logs := observer.New(zapcore.ErrorLevel)
	b := NewBatchUpserter(db, mysqlUpsert(t), 10, zap.New(core), metrics.NewRecorder("upserter_test", "mysql"))
	b.Add([]string{"1", "'Alice'"})

	err = b.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, b.Statements())
	assert.Zero(t, b.Pending())

	entries := logs.FilterMessage("upsert failed").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["sql"], "ON DUPLICATE KEY UPDATE")
}
