package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/dbsync/pkg/dbconn"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/retry"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// LiveEndpoint returns the live database configured for driver through
// DBSYNC_IT_<DRIVER>_URL, _USER and _PASS, or false when none is set.
func LiveEndpoint(driver string) (dialect.Endpoint, bool) {
	prefix := "DBSYNC_IT_" + strings.ToUpper(driver) + "_"
	url := os.Getenv(prefix + "URL")
	if url == "" {
		return dialect.Endpoint{}, false
	}
	return dialect.Endpoint{
		Driver:   driver,
		URL:      url,
		User:     os.Getenv(prefix + "USER"),
		Password: os.Getenv(prefix + "PASS"),
	}, true
}

// IntegrationSuite provides base functionality for tests against live
// databases.
type IntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	conns     []*dbconn.Conn
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationSuite) SetupSuite() {
	IntegrationTest(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationSuite) TearDownSuite() {
	for _, c := range s.conns {
		_ = c.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.T().Logf("Integration suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationSuite) Context() context.Context {
	return s.ctx
}

// Connect opens the live endpoint for driver, skipping the current test
// when none is configured. The connection is closed with the suite.
func (s *IntegrationSuite) Connect(driver string) (*dbconn.Conn, dialect.Endpoint) {
	ep, ok := LiveEndpoint(driver)
	if !ok {
		s.T().Skipf("no live %s database configured", driver)
	}
	policy := &retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	conn, err := dbconn.NewProvider(TestLogger(s.T()), policy).Open(s.ctx, ep)
	require.NoError(s.T(), err)
	s.conns = append(s.conns, conn)
	return conn, ep
}

// Exec runs statements on conn, failing the test on the first error.
func (s *IntegrationSuite) Exec(conn *dbconn.Conn, stmts ...string) {
	for _, stmt := range stmts {
		_, err := conn.ExecContext(s.ctx, stmt)
		require.NoError(s.T(), err, stmt)
	}
}
