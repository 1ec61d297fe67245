package syncer

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/testutil"
)

func mustDialect(t *testing.T, name string) dialect.Dialect {
	t.Helper()
	d, err := dialect.Lookup(name)
	require.NoError(t, err)
	return d
}

func TestSerializerLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 11, 12, 345678000, time.UTC)
	midnight := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	cest := time.FixedZone("CEST", 2*60*60)

	tests := []struct {
		name    string
		dialect string
		cell    Cell
		want    string
	}{
		{"nil", "mysql", Cell{Value: nil}, "NULL"},
		{"empty string", "postgresql", Cell{Value: ""}, "NULL"},
		{"empty bytes", "oracle", Cell{Value: []byte{}}, "NULL"},
		{"text", "mysql", Cell{TypeName: "VARCHAR", Value: "Alice"}, "'Alice'"},
		{"quote doubling", "oracle", Cell{TypeName: "VARCHAR2", Value: "O'Brien"}, "'O''Brien'"},
		{"text bytes", "postgresql", Cell{TypeName: "TEXT", Value: []byte("it's")}, "'it''s'"},
		{"injection stays inside literal", "mysql", Cell{Value: "x'); DROP TABLE t; --"}, "'x''); DROP TABLE t; --'"},
		{"int64", "mysql", Cell{TypeName: "BIGINT", Value: int64(-42)}, "-42"},
		{"int32", "postgresql", Cell{TypeName: "INT4", Value: int32(7)}, "7"},
		{"uint64", "mysql", Cell{TypeName: "UNSIGNED BIGINT", Value: uint64(18446744073709551615)}, "18446744073709551615"},
		{"float64", "postgresql", Cell{TypeName: "FLOAT8", Value: 1.5}, "1.5"},
		{"float32", "mysql", Cell{TypeName: "FLOAT", Value: float32(0.25)}, "0.25"},
		{"decimal value", "oracle", Cell{TypeName: "NUMBER", Value: decimal.RequireFromString("12.340")}, "12.34"},
		{"decimal text", "mysql", Cell{TypeName: "DECIMAL(10,2)", Value: []byte("12.50")}, "12.5"},
		{"number text", "oracle", Cell{TypeName: "NUMBER", Value: "  100 "}, "100"},
		{"bool oracle", "oracle", Cell{Value: true}, "1"},
		{"bool mysql", "mysql", Cell{Value: false}, "0"},
		{"bool postgresql", "postgresql", Cell{Value: true}, "TRUE"},
		{"binary oracle", "oracle", Cell{TypeName: "RAW", Value: []byte{0xde, 0xad}}, "HEXTORAW('DEAD')"},
		{"binary mysql", "mysql", Cell{TypeName: "BLOB", Value: []byte{0x01, 0xff}}, "X'01FF'"},
		{"binary postgresql", "postgresql", Cell{TypeName: "BYTEA", Value: []byte{0xca, 0xfe}}, `'\xCAFE'`},
		{"date oracle", "oracle", Cell{TypeName: "DATE", Value: midnight}, "TO_DATE('2024-03-05 00:00:00','yyyy-MM-dd HH24:mi:ss')"},
		{"date with fraction oracle", "oracle", Cell{TypeName: "DATE", Value: ts}, "TO_DATE('2024-03-05 10:11:12','yyyy-MM-dd HH24:mi:ss')"},
		{"timestamp oracle", "oracle", Cell{TypeName: "TIMESTAMP", Value: ts}, "TO_TIMESTAMP('2024-03-05 10:11:12.345678','yyyy-MM-dd HH24:mi:ss.FF6')"},
		{"datetime mysql", "mysql", Cell{TypeName: "DATETIME", Value: midnight}, "'2024-03-05 00:00:00'"},
		{"datetime fraction mysql", "mysql", Cell{TypeName: "DATETIME", Value: ts}, "'2024-03-05 10:11:12.345678'"},
		{"timestamptz postgresql", "postgresql", Cell{TypeName: "TIMESTAMPTZ", Value: midnight}, "'2024-03-05 00:00:00.000000'"},
		{"datetime text oracle", "oracle", Cell{TypeName: "DATETIME", Value: "2024-03-05T10:11:12Z"}, "TO_DATE('2024-03-05 10:11:12','yyyy-MM-dd HH24:mi:ss')"},
		{"datetime text kept when unparseable", "mysql", Cell{TypeName: "DATETIME", Value: "0000-00-00 00:00:00"}, "'0000-00-00 00:00:00'"},
		{"zero datetime mysql", "mysql", Cell{TypeName: "DATETIME", Value: time.Time{}}, "NULL"},
		{"zero date oracle", "oracle", Cell{TypeName: "DATE", Value: time.Time{}}, "NULL"},
		{"timestamptz in utc", "postgresql", Cell{TypeName: "TIMESTAMPTZ", Value: time.Date(2024, 3, 5, 12, 0, 0, 0, cest)}, "'2024-03-05 10:00:00.000000'"},
		{"timestamp with time zone oracle", "oracle", Cell{TypeName: "TIMESTAMP WITH TIME ZONE", Value: time.Date(2024, 3, 5, 1, 0, 0, 0, cest)},
			"TO_TIMESTAMP('2024-03-04 23:00:00.000000','yyyy-MM-dd HH24:mi:ss.FF6')"},
		{"timestamptz text in utc", "mysql", Cell{TypeName: "TIMESTAMPTZ", Value: "2024-03-05 12:00:00+02:00"}, "'2024-03-05 10:00:00.000000'"},
		{"naive datetime keeps wall clock", "mysql", Cell{TypeName: "DATETIME", Value: time.Date(2024, 3, 5, 12, 0, 0, 0, cest)}, "'2024-03-05 12:00:00'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSerializer(mustDialect(t, tt.dialect), false, zaptest.NewLogger(t), nil)
			got, err := s.Literal(tt.cell)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, s.Fallbacks())
		})
	}
}

func TestSerializerKeepsBackslashesInsideLiteral(t *testing.T) {
	values := []struct {
		name  string
		value string
		want  string
	}{
		{"windows path", `C:\temp`, `'C:\temp'`},
		{"trailing backslash", `x\`, `'x\'`},
		{"escaped quote breakout", `\'),(99,'pwned`, `'\''),(99,''pwned'`},
		{"backslash then quote", `a\'b`, `'a\''b'`},
	}
	db := testutil.SQLiteDB(t, "literals.db")

	for _, name := range []string{"oracle", "mysql", "postgresql"} {
		s := NewSerializer(mustDialect(t, name), false, zaptest.NewLogger(t), nil)
		for _, v := range values {
			t.Run(name+"/"+v.name, func(t *testing.T) {
				got, err := s.Literal(Cell{TypeName: "VARCHAR", Value: v.value})
				require.NoError(t, err)
				assert.Equal(t, v.want, got)

				// sqlite reads literals the way the configured target sessions do
				var back string
				require.NoError(t, db.QueryRow("SELECT "+got).Scan(&back))
				assert.Equal(t, v.value, back)
			})
		}
	}

	// backslash is only ordinary on MySQL with NO_BACKSLASH_ESCAPES
	cfg, err := dialect.MySQLConfig(dialect.Endpoint{URL: "mysql://db.local/shop"})
	require.NoError(t, err)
	assert.Contains(t, cfg.Params["sql_mode"], "NO_BACKSLASH_ESCAPES")

	pg, err := dialect.PostgresConfig(dialect.Endpoint{URL: "postgres://db.local/app"})
	require.NoError(t, err)
	assert.Equal(t, "on", pg.RuntimeParams["standard_conforming_strings"])
}

func TestSerializerColumn(t *testing.T) {
	s := NewSerializer(mustDialect(t, "oracle"), false, zaptest.NewLogger(t), nil)

	got, err := s.Column(Cell{Label: "NAME", TypeName: "VARCHAR2", Value: "O'Brien"})
	require.NoError(t, err)
	assert.Equal(t, "'O''Brien' AS NAME", got)

	got, err = s.Column(Cell{Label: "UPDATED_AT", TypeName: "DATE"})
	require.NoError(t, err)
	assert.Equal(t, "NULL AS UPDATED_AT", got)
}

func TestSerializerFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewSerializer(mustDialect(t, "postgresql"), false, zap.New(core), nil)

	for _, v := range []any{[]int{1}, math.NaN(), struct{}{}} {
		got, err := s.Literal(Cell{Label: "payload", Value: v})
		require.NoError(t, err)
		assert.Equal(t, "NULL", got)
	}
	got, err := s.Literal(Cell{Label: "amount", TypeName: "NUMERIC", Value: "NaN"})
	require.NoError(t, err)
	assert.Equal(t, "NULL", got)

	assert.Equal(t, 4, s.Fallbacks())
	entries := logs.FilterMessage("writing NULL for unserializable value").All()
	require.Len(t, entries, 4)
	assert.Equal(t, "[]int", entries[0].ContextMap()["value_type"])
}

func TestSerializerStrict(t *testing.T) {
	s := NewSerializer(mustDialect(t, "mysql"), true, zaptest.NewLogger(t), nil)

	_, err := s.Literal(Cell{Label: "payload", TypeName: "JSON", Value: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "payload")
	assert.Zero(t, s.Fallbacks())
}

func TestBaseType(t *testing.T) {
	assert.Equal(t, "DECIMAL", baseType("decimal(10,2)"))
	assert.Equal(t, "BIGINT", baseType("UNSIGNED BIGINT"))
	assert.Equal(t, "INT", baseType("int unsigned"))
	assert.True(t, isTemporalType("TIMESTAMP WITH TIME ZONE"))
	assert.Equal(t, dialect.TemporalTimestamp, temporalKindOf("timestamp(6)"))
	assert.Equal(t, dialect.TemporalDateTime, temporalKindOf("DATE"))
	assert.True(t, isBinaryType("LONG RAW"))
	assert.False(t, isNumericType("VARCHAR"))
}
