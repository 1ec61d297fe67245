package dialect

import (
	"context"
	"database/sql"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/ajitpratap0/dbsync/pkg/errors"
	stringpool "github.com/ajitpratap0/dbsync/pkg/strings"
)

const (
	oracleDriverName  = "oracle"
	oracleDefaultPort = 1521
	oracleDateFormat  = "yyyy-MM-dd HH24:mi:ss"
	oracleTSFormat    = "yyyy-MM-dd HH24:mi:ss.FF6"
)

type oracleDialect struct{}

func init() {
	Register(oracleDialect{})
}

func (oracleDialect) Name() Name { return Oracle }

func (oracleDialect) Open(ep Endpoint) (*sql.DB, error) {
	dsn, err := oracleURL(ep)
	if err != nil {
		return nil, err
	}
	return sql.Open(oracleDriverName, dsn)
}

func (oracleDialect) Placeholder(n int) string { return ":" + strconv.Itoa(n) }

func (oracleDialect) Cursor() CursorKind { return CursorForward }

// DefaultFetchSize of zero leaves prefetching to the driver.
func (oracleDialect) DefaultFetchSize() int { return 0 }

func (oracleDialect) SchemaStatement(schema string) string {
	return "ALTER SESSION SET CURRENT_SCHEMA = " + schema
}

func (oracleDialect) PrefetchOptions(fetchSize int) map[string]string {
	if fetchSize <= 0 {
		return nil
	}
	return map[string]string{"PREFETCH_ROWS": strconv.Itoa(fetchSize)}
}

func (oracleDialect) TemporalLiteral(kind TemporalKind, value string) string {
	if kind == TemporalTimestamp {
		return "TO_TIMESTAMP(" + stringpool.QuoteLiteral(value) + ",'" + oracleTSFormat + "')"
	}
	// TO_DATE rejects fractional seconds
	if len(value) > 19 && value[19] == '.' {
		value = value[:19]
	}
	return "TO_DATE(" + stringpool.QuoteLiteral(value) + ",'" + oracleDateFormat + "')"
}

func (oracleDialect) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (oracleDialect) BinaryLiteral(v []byte) string {
	return "HEXTORAW('" + hexDigits(v) + "')"
}

const oraclePrimaryKeySQL = `SELECT cols.column_name
FROM all_constraints cons
JOIN all_cons_columns cols
  ON cons.owner = cols.owner AND cons.constraint_name = cols.constraint_name
WHERE cons.constraint_type = 'P' AND cols.table_name = :1 AND cons.owner = `

// PrimaryKey reads the ordered primary key columns of table, which may be
// qualified as OWNER.TABLE. Unqualified tables resolve in the current schema.
func (oracleDialect) PrimaryKey(ctx context.Context, q Querier, table string) ([]string, error) {
	owner, name, err := SplitOracleTable(table)
	if err != nil {
		return nil, err
	}

	query := oraclePrimaryKeySQL + "SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA') ORDER BY cols.position"
	args := []any{name}
	if owner != "" {
		query = oraclePrimaryKeySQL + ":2 ORDER BY cols.position"
		args = append(args, owner)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read primary key").
			WithDetail("table", table)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan primary key column")
		}
		keys = append(keys, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read primary key").
			WithDetail("table", table)
	}
	return keys, nil
}

var oracleIdentPattern = regexp.MustCompile(`^("[A-Za-z][A-Za-z0-9_$#]*"|[A-Za-z][A-Za-z0-9_$#]*)$`)

// SplitOracleTable splits OWNER.TABLE into its catalog spellings: unquoted
// parts are upper-cased, quoted parts keep their case without the quotes.
func SplitOracleTable(table string) (owner, name string, err error) {
	parts := strings.Split(strings.TrimSpace(table), ".")
	if len(parts) > 2 {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "invalid table name %q", table)
	}
	for i, p := range parts {
		if !oracleIdentPattern.MatchString(p) {
			return "", "", errors.Newf(errors.ErrorTypeConfig, "invalid table name %q", table)
		}
		if strings.HasPrefix(p, `"`) {
			parts[i] = strings.Trim(p, `"`)
		} else {
			parts[i] = strings.ToUpper(p)
		}
	}
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return "", parts[0], nil
}

func (oracleDialect) NewUpsert(spec UpsertSpec) (Upsert, error) {
	if len(spec.KeyColumns) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "target table %s has no primary key", spec.Table).
			WithDetail("table", spec.Table)
	}
	for _, k := range spec.KeyColumns {
		if !containsFold(spec.Columns, k) {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"primary key column %s of %s is missing from the source select", k, spec.Table).
				WithDetail("table", spec.Table)
		}
	}

	m := &oracleMerge{table: spec.Table, columns: spec.Columns, keys: spec.KeyColumns}
	for _, c := range spec.Columns {
		if !containsFold(spec.KeyColumns, c) {
			m.update = append(m.update, c)
		}
	}
	m.tail = m.buildTail()
	return m, nil
}

// oracleMerge builds MERGE statements over a UNION ALL of DUAL selects.
type oracleMerge struct {
	table   string
	columns []string
	keys    []string
	update  []string
	tail    string
}

func (m *oracleMerge) RowForm() bool { return true }

func (m *oracleMerge) Row(values []string) string {
	return "SELECT " + stringpool.JoinPooled(values, ", ") + " FROM DUAL"
}

func (m *oracleMerge) Statement(rows []string) string {
	size := len(m.table) + len(m.tail) + 32
	for _, r := range rows {
		size += len(r) + 11
	}
	sb := stringpool.NewSQLBuilder(size)
	defer sb.Close()

	sb.WriteQuery("MERGE INTO ").WriteQuery(m.table).WriteQuery(" T USING (").
		WriteJoined(rows, " UNION ALL ").
		WriteQuery(") S").
		WriteQuery(m.tail)
	return sb.String()
}

// buildTail renders everything after the USING clause, which only depends
// on the column layout.
func (m *oracleMerge) buildTail() string {
	sb := stringpool.NewSQLBuilder(256)
	defer sb.Close()

	sb.WriteQuery(" ON (").
		WriteEach(m.keys, " AND ", func(sb *stringpool.SQLBuilder, k string) {
			sb.WriteQuery("T.").WriteQuery(k).WriteQuery("=S.").WriteQuery(k)
		}).
		WriteQuery(")")

	if len(m.update) > 0 {
		sb.WriteQuery(" WHEN MATCHED THEN UPDATE SET ").
			WriteEach(m.update, ", ", func(sb *stringpool.SQLBuilder, c string) {
				sb.WriteQuery("T.").WriteQuery(c).WriteQuery("=S.").WriteQuery(c)
			})
	}

	sb.WriteQuery(" WHEN NOT MATCHED THEN INSERT (").
		WriteEach(m.columns, ", ", func(sb *stringpool.SQLBuilder, c string) {
			sb.WriteQuery("T.").WriteQuery(c)
		}).
		WriteQuery(") VALUES (").
		WriteEach(m.columns, ", ", func(sb *stringpool.SQLBuilder, c string) {
			sb.WriteQuery("S.").WriteQuery(c)
		}).
		WriteQuery(")")
	return sb.String()
}

// oracleURL converts the accepted URL spellings into a go-ora URL:
//
//	oracle://host:1521/service?OPTION=value
//	jdbc:oracle:thin:@host:1521/service
//	jdbc:oracle:thin:@//host:1521/service
//	jdbc:oracle:thin:@host:1521:SID
//	host:1521/service
func oracleURL(ep Endpoint) (string, error) {
	raw := strings.TrimSpace(ep.URL)
	options := map[string]string{}

	var host, service, port string
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "oracle://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid oracle url").
				WithDetail("url", RedactURL(raw))
		}
		host, port = u.Hostname(), u.Port()
		service = strings.TrimPrefix(u.Path, "/")
		for k, v := range u.Query() {
			if len(v) > 0 {
				options[k] = v[0]
			}
		}
		if ep.User == "" && u.User != nil {
			ep.User = u.User.Username()
			ep.Password, _ = u.User.Password()
		}
	default:
		rest := raw
		if strings.HasPrefix(lower, "jdbc:oracle:thin:") {
			rest = raw[len("jdbc:oracle:thin:"):]
			if i := strings.LastIndex(rest, "@"); i >= 0 {
				if user, pass, ok := strings.Cut(rest[:i], "/"); ok && ep.User == "" {
					ep.User, ep.Password = user, pass
				}
				rest = rest[i+1:]
			}
		}
		if strings.HasPrefix(rest, "(") {
			return "", errors.New(errors.ErrorTypeCapability, "TNS descriptors are not supported, use host:port/service").
				WithDetail("url", RedactURL(raw))
		}
		rest = strings.TrimPrefix(rest, "//")
		if q := strings.Index(rest, "?"); q >= 0 {
			values, err := url.ParseQuery(rest[q+1:])
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid oracle url options")
			}
			for k, v := range values {
				options[k] = v[0]
			}
			rest = rest[:q]
		}
		hostPort, svc, hasService := strings.Cut(rest, "/")
		if hasService {
			service = svc
			host, port, _ = strings.Cut(hostPort, ":")
		} else {
			// host:port:SID
			parts := strings.Split(rest, ":")
			if len(parts) != 3 {
				return "", errors.Newf(errors.ErrorTypeConfig, "invalid oracle url %q", RedactURL(raw))
			}
			host, port = parts[0], parts[1]
			options["SID"] = parts[2]
		}
	}

	if host == "" {
		return "", errors.Newf(errors.ErrorTypeConfig, "oracle url %q has no host", RedactURL(raw))
	}
	portNum := oracleDefaultPort
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return "", errors.Newf(errors.ErrorTypeConfig, "invalid oracle port %q", port)
		}
		portNum = p
	}
	for k, v := range ep.Options {
		options[k] = v
	}
	if len(options) == 0 {
		options = nil
	}

	return go_ora.BuildUrl(host, portNum, service, ep.User, ep.Password, options), nil
}
