// Package dbconn opens pinned database sessions for sync jobs.
package dbconn

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/logger"
	"github.com/ajitpratap0/dbsync/pkg/retry"
)

// Conn is one pinned session plus the pool it came from. Session state such
// as the current schema survives between statements.
type Conn struct {
	Dialect dialect.Dialect
	Session *sql.Conn

	db     *sql.DB
	ownsDB bool

	closeOnce sync.Once
	closeErr  error
}

// QueryContext runs a query on the pinned session.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.Session.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement on the pinned session.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.Session.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction on the pinned session.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.Session.BeginTx(ctx, opts)
}

// Close releases the session and, when the pool was opened here, the pool.
// It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.Session != nil {
			if err := c.Session.Close(); err != nil && !stderrors.Is(err, sql.ErrConnDone) {
				errs = append(errs, err)
			}
		}
		if c.ownsDB && c.db != nil {
			if err := c.db.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			c.closeErr = errors.Wrap(stderrors.Join(errs...), errors.ErrorTypeConnection, "failed to close connection")
		}
	})
	return c.closeErr
}

// FromDB pins a session from an existing pool. Close leaves the pool open.
func FromDB(ctx context.Context, db *sql.DB, d dialect.Dialect) (*Conn, error) {
	session, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire session")
	}
	return &Conn{Dialect: d, Session: session, db: db}, nil
}

// Provider opens connections with retries.
type Provider struct {
	logger *zap.Logger
	policy *retry.Policy
}

// NewProvider creates a provider. A nil policy means a single attempt.
func NewProvider(log *zap.Logger, policy *retry.Policy) *Provider {
	if log == nil {
		log = logger.Get()
	}
	if policy == nil {
		policy = retry.None()
	}
	return &Provider{
		logger: log.With(zap.String("component", "connection_provider")),
		policy: policy,
	}
}

// Open resolves the endpoint's dialect, opens a pool with the credentials
// injected, pins one session and pings it.
func (p *Provider) Open(ctx context.Context, ep dialect.Endpoint) (*Conn, error) {
	d, err := dialect.Lookup(ep.Driver)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("driver", ep.Driver),
		zap.String("url", dialect.RedactURL(ep.URL)),
		zap.String("user", ep.User),
	}

	db, err := d.Open(ep)
	if err != nil {
		p.logger.Error("invalid connection settings", append(fields, zap.Error(err))...)
		if _, typed := err.(*errors.Error); typed {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to configure connection").
			WithDetail("driver", ep.Driver)
	}
	// one session per side of a job
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	policy := *p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.logger.Warn("connection attempt failed, retrying",
			append(fields, zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))...)
	}

	start := time.Now()
	var session *sql.Conn
	err = policy.ExecuteWithCondition(ctx, func() error {
		s, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		if err := s.PingContext(ctx); err != nil {
			_ = s.Close()
			return err
		}
		session = s
		return nil
	}, func(err error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		_ = db.Close()
		p.logger.Error("failed to connect", append(fields, zap.Error(err))...)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect").
			WithDetail("driver", ep.Driver).
			WithDetail("url", dialect.RedactURL(ep.URL)).
			WithDetail("user", ep.User)
	}

	p.logger.Info("connected",
		append(fields, zap.String("dialect", string(d.Name())), zap.Duration("elapsed", time.Since(start)))...)
	return &Conn{Dialect: d, Session: session, db: db, ownsDB: true}, nil
}

// Open opens a connection with the global logger and no retries.
func Open(ctx context.Context, driver, url, user, password string) (*Conn, error) {
	return NewProvider(nil, nil).Open(ctx, dialect.Endpoint{Driver: driver, URL: url, User: user, Password: password})
}
