package dialect

import (
	"database/sql"
	"math"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/dbsync/pkg/errors"
	stringpool "github.com/ajitpratap0/dbsync/pkg/strings"
)

// MySQLStreamingFetchSize is the fetch size that asks a MySQL driver to
// stream rows one at a time instead of buffering the result set.
const MySQLStreamingFetchSize = math.MinInt32

const mysqlDefaultPort = "3306"

// noBackslashEscapes is appended to the session sql_mode. Literals are
// escaped by quote doubling only, which is not enough when the server treats
// backslash as an escape character inside strings.
const noBackslashEscapes = "NO_BACKSLASH_ESCAPES"

type mysqlDialect struct{}

func init() {
	Register(mysqlDialect{}, "mysqlCJ")
}

func (mysqlDialect) Name() Name { return MySQL }

func (mysqlDialect) Open(ep Endpoint) (*sql.DB, error) {
	cfg, err := MySQLConfig(ep)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql configuration")
	}
	return sql.OpenDB(connector), nil
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) Cursor() CursorKind { return CursorStreaming }

func (mysqlDialect) DefaultFetchSize() int { return MySQLStreamingFetchSize }

func (mysqlDialect) SchemaStatement(schema string) string { return "USE " + schema }

func (mysqlDialect) TemporalLiteral(_ TemporalKind, value string) string {
	return stringpool.QuoteLiteral(value)
}

func (mysqlDialect) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (mysqlDialect) BinaryLiteral(v []byte) string {
	return "X'" + hexDigits(v) + "'"
}

func (mysqlDialect) NewUpsert(spec UpsertSpec) (Upsert, error) {
	if len(spec.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "upsert needs at least one column")
	}
	sb := stringpool.NewSQLBuilder(64)
	defer sb.Close()
	sb.WriteQuery(" ON DUPLICATE KEY UPDATE ").
		WriteEach(spec.Columns, ", ", func(sb *stringpool.SQLBuilder, c string) {
			sb.WriteQuery(c).WriteQuery("=VALUES(").WriteQuery(c).WriteQuery(")")
		})
	return newInsertUpsert(spec, sb.String()), nil
}

// jdbcToMySQL maps Connector/J URL options onto go-sql-driver DSN parameters.
// Options neither driver shares are dropped; go-sql-driver would send them to
// the server as system variables.
var jdbcToMySQL = map[string]func(v string) (string, string){
	"charset":        func(v string) (string, string) { return "charset", v },
	"collation":      func(v string) (string, string) { return "collation", v },
	"loc":            func(v string) (string, string) { return "loc", v },
	"timeout":        func(v string) (string, string) { return "timeout", v },
	"readTimeout":    func(v string) (string, string) { return "readTimeout", v },
	"writeTimeout":   func(v string) (string, string) { return "writeTimeout", v },
	"tls":            func(v string) (string, string) { return "tls", v },
	"connectTimeout": func(v string) (string, string) { return "timeout", v + "ms" },
	"socketTimeout":  func(v string) (string, string) { return "readTimeout", v + "ms" },
	"useSSL": func(v string) (string, string) {
		if strings.EqualFold(v, "true") {
			return "tls", "preferred"
		}
		return "tls", "false"
	},
	"characterEncoding": func(v string) (string, string) {
		if strings.EqualFold(strings.ReplaceAll(v, "-", ""), "utf8") {
			return "charset", "utf8mb4"
		}
		return "charset", v
	},
}

// MySQLConfig parses a mysql:// URL, a jdbc:mysql:// URL or a native
// go-sql-driver DSN and injects the endpoint's credentials.
func MySQLConfig(ep Endpoint) (*mysql.Config, error) {
	raw := trimJDBC(ep.URL)

	dsn := raw
	if strings.HasPrefix(strings.ToLower(raw), "mysql://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql url").
				WithDetail("url", RedactURL(raw))
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), mysqlDefaultPort)
		}
		params := url.Values{}
		for k, v := range u.Query() {
			if mapParam, ok := jdbcToMySQL[k]; ok && len(v) > 0 {
				key, value := mapParam(v[0])
				params.Set(key, value)
			}
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		dsn = "tcp(" + host + ")" + path
		if len(params) > 0 {
			dsn += "?" + params.Encode()
		}
		if ep.User == "" && u.User != nil {
			ep.User = u.User.Username()
			ep.Password, _ = u.User.Password()
		}
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql dsn").
			WithDetail("url", RedactURL(raw))
	}
	if ep.User != "" {
		cfg.User = ep.User
		cfg.Passwd = ep.Password
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["sql_mode"] = withNoBackslashEscapes(cfg.Params["sql_mode"])
	return cfg, nil
}

// withNoBackslashEscapes returns a sql_mode expression that adds
// NO_BACKSLASH_ESCAPES to mode, or to the server's mode when mode is empty.
func withNoBackslashEscapes(mode string) string {
	if mode == "" {
		return "CONCAT(@@sql_mode, '," + noBackslashEscapes + "')"
	}
	if strings.Contains(strings.ToUpper(mode), noBackslashEscapes) {
		return mode
	}
	return "CONCAT(" + mode + ", '," + noBackslashEscapes + "')"
}

// newInsertUpsert builds multi-row INSERT statements with a fixed conflict suffix.
func newInsertUpsert(spec UpsertSpec, suffix string) *insertUpsert {
	sb := stringpool.NewSQLBuilder(64)
	defer sb.Close()
	sb.WriteQuery("INSERT INTO ").WriteQuery(spec.Table).
		WriteQuery(" (").WriteJoined(spec.Columns, ",").WriteQuery(") VALUES ")
	return &insertUpsert{prefix: sb.String(), suffix: suffix}
}

// insertUpsert is shared by the INSERT ... VALUES dialects.
type insertUpsert struct {
	prefix string
	suffix string
}

func (u *insertUpsert) RowForm() bool { return false }

func (u *insertUpsert) Row(values []string) string {
	return "(" + stringpool.JoinPooled(values, ",") + ")"
}

func (u *insertUpsert) Statement(rows []string) string {
	size := len(u.prefix) + len(u.suffix)
	for _, r := range rows {
		size += len(r) + 1
	}
	sb := stringpool.NewSQLBuilder(size)
	defer sb.Close()
	sb.WriteQuery(u.prefix).WriteJoined(rows, ",").WriteQuery(u.suffix)
	return sb.String()
}
