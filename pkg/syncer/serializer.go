package syncer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/metrics"
	stringpool "github.com/ajitpratap0/dbsync/pkg/strings"
)

// Cell is one value of a fetched row with the metadata reported for its column.
type Cell struct {
	Label    string
	TypeName string
	Value    any
}

const nullLiteral = "NULL"

// Serializer turns cells into SQL literals for one target dialect. Values are
// inlined into statement text; quote doubling is what keeps text values from
// escaping their literal, so target sessions must treat backslash as an
// ordinary character (see dialect.MySQLConfig and dialect.PostgresConfig).
//
// Times from zone-aware columns (TIMESTAMPTZ, TIMESTAMP WITH [LOCAL] TIME
// ZONE) are written in UTC without an offset; the target session is expected
// to run in UTC for such columns. Other times keep the wall clock the driver
// returned.
type Serializer struct {
	dialect   dialect.Dialect
	strict    bool
	logger    *zap.Logger
	recorder  *metrics.Recorder
	fallbacks int
}

// NewSerializer creates a serializer. rec may be nil.
func NewSerializer(d dialect.Dialect, strict bool, log *zap.Logger, rec *metrics.Recorder) *Serializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Serializer{dialect: d, strict: strict, logger: log, recorder: rec}
}

// Fallbacks returns how many cells were written as NULL because their value
// type is not supported.
func (s *Serializer) Fallbacks() int {
	return s.fallbacks
}

// Column returns the row-form literal `<literal> AS <label>`.
func (s *Serializer) Column(c Cell) (string, error) {
	lit, err := s.Literal(c)
	if err != nil {
		return "", err
	}
	return lit + " AS " + c.Label, nil
}

// Literal returns the SQL literal for c.
func (s *Serializer) Literal(c Cell) (string, error) {
	switch v := c.Value.(type) {
	case nil:
		return nullLiteral, nil
	case string:
		if v == "" {
			return nullLiteral, nil
		}
		return s.text(c, v)
	case []byte:
		if len(v) == 0 {
			return nullLiteral, nil
		}
		if isBinaryType(c.TypeName) {
			return s.dialect.BinaryLiteral(v), nil
		}
		return s.text(c, string(v))
	case time.Time:
		if v.IsZero() {
			return nullLiteral, nil
		}
		if isZoneAwareType(c.TypeName) {
			v = v.UTC()
		}
		kind := temporalKindOf(c.TypeName)
		return s.dialect.TemporalLiteral(kind, formatTime(v, kind)), nil
	case bool:
		return s.dialect.BoolLiteral(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int:
		return strconv.Itoa(v), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case float64:
		return s.float(c, v, 64)
	case float32:
		return s.float(c, float64(v), 32)
	case decimal.Decimal:
		return v.String(), nil
	}
	return s.fallback(c, "unsupported value type")
}

func (s *Serializer) text(c Cell, v string) (string, error) {
	switch {
	case isTemporalType(c.TypeName):
		kind := temporalKindOf(c.TypeName)
		if t, ok := parseDateTime(v); ok {
			if isZoneAwareType(c.TypeName) {
				t = t.UTC()
			}
			v = formatTime(t, kind)
		}
		return s.dialect.TemporalLiteral(kind, v), nil
	case isNumericType(c.TypeName):
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return s.fallback(c, "numeric column holds non-numeric text")
		}
		return d.String(), nil
	default:
		return stringpool.QuoteLiteral(v), nil
	}
}

func (s *Serializer) float(c Cell, v float64, bits int) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return s.fallback(c, "non-finite float")
	}
	return strconv.FormatFloat(v, 'f', -1, bits), nil
}

func (s *Serializer) fallback(c Cell, reason string) (string, error) {
	goType := fmt.Sprintf("%T", c.Value)
	if s.strict {
		return "", errors.Newf(errors.ErrorTypeData, "cannot serialize column %s: %s", c.Label, reason).
			WithDetail("column", c.Label).
			WithDetail("sql_type", c.TypeName).
			WithDetail("value_type", goType)
	}
	s.fallbacks++
	if s.recorder != nil {
		s.recorder.SerializationFallback(goType)
	}
	s.logger.Warn("writing NULL for unserializable value",
		zap.String("column", c.Label),
		zap.String("sql_type", c.TypeName),
		zap.String("value_type", goType),
		zap.String("reason", reason))
	return nullLiteral, nil
}

func formatTime(t time.Time, kind dialect.TemporalKind) string {
	if kind == dialect.TemporalTimestamp {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	return t.Format(WatermarkLayout)
}

// baseType upper-cases a reported type and drops length, precision and
// signedness decorations.
func baseType(typeName string) string {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")
	return strings.TrimSuffix(t, " UNSIGNED")
}

var (
	dateTimeTypes = map[string]bool{
		"DATE": true, "DATETIME": true, "DATETIME2": true, "SMALLDATETIME": true,
	}
	numericTypes = map[string]bool{
		"NUMBER": true, "NUMERIC": true, "DECIMAL": true, "DEC": true,
		"INT": true, "INTEGER": true, "BIGINT": true, "SMALLINT": true, "TINYINT": true, "MEDIUMINT": true,
		"INT2": true, "INT4": true, "INT8": true, "SERIAL": true, "BIGSERIAL": true,
		"FLOAT": true, "FLOAT4": true, "FLOAT8": true, "DOUBLE": true, "DOUBLE PRECISION": true, "REAL": true,
		"BINARY_FLOAT": true, "BINARY_DOUBLE": true, "IBFLOAT": true, "IBDOUBLE": true,
	}
	binaryTypes = map[string]bool{
		"BLOB": true, "TINYBLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
		"BINARY": true, "VARBINARY": true, "BYTEA": true, "RAW": true, "LONG RAW": true, "LONGRAW": true, "BIT": true,
	}
)

func isTemporalType(typeName string) bool {
	t := baseType(typeName)
	return dateTimeTypes[t] || strings.Contains(t, "TIMESTAMP")
}

func temporalKindOf(typeName string) dialect.TemporalKind {
	if strings.Contains(baseType(typeName), "TIMESTAMP") {
		return dialect.TemporalTimestamp
	}
	return dialect.TemporalDateTime
}

func isZoneAwareType(typeName string) bool {
	t := baseType(typeName)
	return strings.Contains(t, "TIME ZONE") || strings.HasSuffix(t, "TZ")
}

func isNumericType(typeName string) bool {
	return numericTypes[baseType(typeName)]
}

func isBinaryType(typeName string) bool {
	return binaryTypes[baseType(typeName)]
}
