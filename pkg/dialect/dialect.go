// Package dialect holds the per-engine strategies the sync engine needs:
// how to open a session, how to bind parameters, how to stream a result set,
// how to spell literals and how to upsert a batch of rows.
package dialect

import (
	"context"
	"database/sql"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/dbsync/pkg/errors"
)

// Name identifies a supported engine.
type Name string

const (
	Oracle     Name = "oracle"
	MySQL      Name = "mysql"
	PostgreSQL Name = "postgresql"
)

// Endpoint describes one side of a sync job.
type Endpoint struct {
	Driver   string
	URL      string
	User     string
	Password string
	// Options are merged into the driver URL where the driver supports it.
	Options map[string]string
}

// CursorKind tells the source cursor how a dialect streams a result set.
type CursorKind int

const (
	// CursorForward runs a plain forward-only query.
	CursorForward CursorKind = iota
	// CursorStreaming relies on the driver reading rows off the wire lazily.
	CursorStreaming
	// CursorServerSide declares a NO SCROLL cursor in a read-only transaction
	// and fetches it in chunks.
	CursorServerSide
)

func (k CursorKind) String() string {
	switch k {
	case CursorStreaming:
		return "streaming"
	case CursorServerSide:
		return "server_side"
	default:
		return "forward"
	}
}

// TemporalKind separates date-time values from fractional timestamps.
type TemporalKind int

const (
	TemporalDateTime TemporalKind = iota
	TemporalTimestamp
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Dialect is the strategy for one database engine.
type Dialect interface {
	Name() Name
	// Open returns a pool for ep with credentials injected.
	Open(ep Endpoint) (*sql.DB, error)
	// Placeholder returns the n-th (1-based) positional parameter marker.
	Placeholder(n int) string
	Cursor() CursorKind
	// DefaultFetchSize is the fetch size used when a job does not override it.
	DefaultFetchSize() int
	// SchemaStatement switches the session's default schema.
	SchemaStatement(schema string) string

	TemporalLiteral(kind TemporalKind, value string) string
	BoolLiteral(v bool) string
	BinaryLiteral(v []byte) string

	NewUpsert(spec UpsertSpec) (Upsert, error)
}

// KeyIntrospector is implemented by dialects whose upsert needs the target's
// primary key read from the catalog.
type KeyIntrospector interface {
	PrimaryKey(ctx context.Context, q Querier, table string) ([]string, error)
}

// PrefetchConfigurer is implemented by dialects whose fetch size is a
// connection option rather than a statement setting.
type PrefetchConfigurer interface {
	PrefetchOptions(fetchSize int) map[string]string
}

// UpsertSpec is everything a dialect needs to build upsert statements for one run.
type UpsertSpec struct {
	Table   string
	Columns []string
	// KeyColumns is the introspected primary key (Oracle).
	KeyColumns []string
	// ConflictKey is the ON CONFLICT target (PostgreSQL).
	ConflictKey string
}

// Upsert turns serialized rows into one idempotent write statement.
type Upsert interface {
	// RowForm reports whether each value must carry its column alias.
	RowForm() bool
	// Row joins the serialized values of one row into a row fragment.
	Row(values []string) string
	// Statement builds the statement applying every fragment in rows.
	Statement(rows []string) string
}

var (
	registryMu sync.RWMutex
	dialects   = make(map[Name]Dialect)
	aliases    = make(map[string]Name)
)

// Register adds d under its name and the given aliases. Lookups are case-insensitive.
func Register(d Dialect, alias ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	dialects[d.Name()] = d
	aliases[strings.ToLower(string(d.Name()))] = d.Name()
	for _, a := range alias {
		aliases[strings.ToLower(a)] = d.Name()
	}
}

// Lookup resolves a driver identifier such as "mysqlCJ" or "postgres".
func Lookup(driver string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	name, ok := aliases[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeCapability, "unsupported driver %q", driver).
			WithDetail("driver", driver)
	}
	return dialects[name], nil
}

// Info describes a registered dialect for listings.
type Info struct {
	Name    Name
	Aliases []string
	Cursor  CursorKind
}

// List returns every registered dialect sorted by name.
func List() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()

	byName := make(map[Name][]string, len(dialects))
	for alias, name := range aliases {
		if alias != string(name) {
			byName[name] = append(byName[name], alias)
		}
	}

	infos := make([]Info, 0, len(dialects))
	for name, d := range dialects {
		a := byName[name]
		sort.Strings(a)
		infos = append(infos, Info{Name: name, Aliases: a, Cursor: d.Cursor()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RedactURL hides the password in a connection URL, a JDBC URL or a
// go-sql-driver DSN.
func RedactURL(raw string) string {
	prefix := ""
	rest := raw
	if trimmed := trimJDBC(raw); trimmed != strings.TrimSpace(raw) {
		prefix, rest = "jdbc:", trimmed
	}

	if strings.Contains(rest, "://") {
		u, err := url.Parse(rest)
		if err != nil {
			return "<unparseable url>"
		}
		return prefix + u.Redacted()
	}

	// user:pass@tcp(host)/db or oracle:thin:user/pass@host:port/svc
	if strings.HasPrefix(strings.ToLower(rest), "oracle:thin:") {
		prefix += rest[:len("oracle:thin:")]
		rest = rest[len("oracle:thin:"):]
	}
	at := strings.LastIndex(rest, "@")
	if at <= 0 {
		return prefix + rest
	}
	creds := rest[:at]
	if sep := strings.IndexAny(creds, ":/"); sep >= 0 {
		return prefix + creds[:sep+1] + "xxxxx" + rest[at:]
	}
	return prefix + rest
}

func trimJDBC(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 5 && strings.EqualFold(raw[:5], "jdbc:") {
		return raw[5:]
	}
	return raw
}

func hexDigits(v []byte) string {
	return strings.ToUpper(hex.EncodeToString(v))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
