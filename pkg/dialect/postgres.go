package dialect

import (
	"database/sql"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ajitpratap0/dbsync/pkg/errors"
	stringpool "github.com/ajitpratap0/dbsync/pkg/strings"
)

// PostgresDefaultFetchSize is the number of rows pulled per FETCH.
const PostgresDefaultFetchSize = 1000

type postgresDialect struct{}

func init() {
	Register(postgresDialect{}, "postgres", "pgx")
}

func (postgresDialect) Name() Name { return PostgreSQL }

func (postgresDialect) Open(ep Endpoint) (*sql.DB, error) {
	cfg, err := PostgresConfig(ep)
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*cfg), nil
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) Cursor() CursorKind { return CursorServerSide }

func (postgresDialect) DefaultFetchSize() int { return PostgresDefaultFetchSize }

func (postgresDialect) SchemaStatement(schema string) string {
	return "SET search_path TO " + schema
}

func (postgresDialect) TemporalLiteral(_ TemporalKind, value string) string {
	return stringpool.QuoteLiteral(value)
}

func (postgresDialect) BoolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (postgresDialect) BinaryLiteral(v []byte) string {
	return `'\x` + hexDigits(v) + "'"
}

func (postgresDialect) NewUpsert(spec UpsertSpec) (Upsert, error) {
	if len(spec.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "upsert needs at least one column")
	}
	key := strings.TrimSpace(spec.ConflictKey)
	if key == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "postgresql target %s needs a unique key for ON CONFLICT", spec.Table).
			WithDetail("table", spec.Table)
	}
	sb := stringpool.NewSQLBuilder(64)
	defer sb.Close()
	sb.WriteQuery(" ON CONFLICT (").WriteQuery(key).WriteQuery(") DO UPDATE SET ").
		WriteEach(spec.Columns, ", ", func(sb *stringpool.SQLBuilder, c string) {
			sb.WriteQuery(c).WriteQuery("=EXCLUDED.").WriteQuery(c)
		})
	return newInsertUpsert(spec, sb.String()), nil
}

// jdbcToPostgres maps pgJDBC URL options onto libpq connection parameters.
// Unknown options are dropped; pgx would send them as startup parameters
// and the server rejects unrecognized ones.
var jdbcToPostgres = map[string]func(v string) (string, string){
	"sslmode":         func(v string) (string, string) { return "sslmode", v },
	"connect_timeout": func(v string) (string, string) { return "connect_timeout", v },
	"connectTimeout":  func(v string) (string, string) { return "connect_timeout", v },
	"currentSchema":   func(v string) (string, string) { return "search_path", v },
	"ApplicationName": func(v string) (string, string) { return "application_name", v },
	"ssl": func(v string) (string, string) {
		if strings.EqualFold(v, "true") {
			return "sslmode", "require"
		}
		return "sslmode", "disable"
	},
}

// PostgresConfig parses a postgres URL, a jdbc:postgresql:// URL or a
// keyword/value DSN and injects the endpoint's credentials.
func PostgresConfig(ep Endpoint) (*pgx.ConnConfig, error) {
	raw := strings.TrimSpace(ep.URL)
	dsn := trimJDBC(raw)

	if dsn != raw {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgresql url").
				WithDetail("url", RedactURL(raw))
		}
		params := url.Values{}
		for k, v := range u.Query() {
			if mapParam, ok := jdbcToPostgres[k]; ok && len(v) > 0 {
				key, value := mapParam(v[0])
				params.Set(key, value)
			}
		}
		u.RawQuery = params.Encode()
		dsn = u.String()
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgresql dsn").
			WithDetail("url", RedactURL(raw))
	}
	if ep.User != "" {
		cfg.User = ep.User
		cfg.Password = ep.Password
	}
	// Inlined literals rely on backslash being an ordinary character.
	cfg.RuntimeParams["standard_conforming_strings"] = "on"
	return cfg, nil
}
