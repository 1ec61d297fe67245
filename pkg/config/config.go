// Package config defines sync job and engine configuration.
//
// A job describes one source table, one target table and the SQL that ties
// them together:
//
//	cfg := config.NewSyncJobConfig("orders")
//	cfg.SourceDriver = "mysql"
//	cfg.TargetDriver = "postgresql"
//	cfg.FieldUniqueKey = "id"
//	...
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
)

const (
	// DefaultBatchSize is the number of rows per upsert statement.
	DefaultBatchSize = 512
	// FetchSizeProperty is the property key that overrides the fetch size.
	FetchSizeProperty = "fetchSize"
)

// SyncJobConfig describes one incremental table synchronization.
type SyncJobConfig struct {
	Name string `yaml:"name" json:"name"`

	SourceDriver string `yaml:"source_driver" json:"source_driver"`
	SourceURL    string `yaml:"source_url" json:"source_url"`
	SourceUser   string `yaml:"source_user" json:"source_user"`
	SourcePass   string `yaml:"source_pass" json:"-"`
	// SourceSchema switches the source session's default schema.
	SourceSchema string `yaml:"source_schema,omitempty" json:"source_schema,omitempty"`
	// SourceTable is informational; the source query names its own tables.
	SourceTable string `yaml:"source_table,omitempty" json:"source_table,omitempty"`

	TargetDriver string `yaml:"target_driver" json:"target_driver"`
	TargetURL    string `yaml:"target_url" json:"target_url"`
	TargetUser   string `yaml:"target_user" json:"target_user"`
	TargetPass   string `yaml:"target_pass" json:"-"`
	TargetTable  string `yaml:"target_table" json:"target_table"`

	// SQLSelect reads changed rows; its single `?` receives the watermark.
	SQLSelect string `yaml:"sql_select" json:"sql_select"`
	// SQLLastSyncTime runs against the target to find the watermark.
	SQLLastSyncTime string `yaml:"sql_last_sync_time" json:"sql_last_sync_time"`
	// FieldLastSyncTime is the column of SQLLastSyncTime holding the watermark.
	FieldLastSyncTime string `yaml:"field_last_sync_time" json:"field_last_sync_time"`
	// FieldUniqueKey is the ON CONFLICT target; required for PostgreSQL targets.
	FieldUniqueKey string `yaml:"field_unique_key,omitempty" json:"field_unique_key,omitempty"`

	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// FetchSize of zero uses the source dialect's default.
	FetchSize int `yaml:"fetch_size" json:"fetch_size"`
	// StrictSerialization fails the run on values that cannot be written
	// instead of writing NULL.
	StrictSerialization bool `yaml:"strict_serialization" json:"strict_serialization"`
}

// NewSyncJobConfig returns a job with defaults applied.
func NewSyncJobConfig(name string) *SyncJobConfig {
	cfg := &SyncJobConfig{Name: name}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tuning fields.
func (c *SyncJobConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Properties == nil {
		c.Properties = make(map[string]string)
	}
}

// SourceEndpoint returns the source connection parameters.
func (c *SyncJobConfig) SourceEndpoint() dialect.Endpoint {
	return dialect.Endpoint{Driver: c.SourceDriver, URL: c.SourceURL, User: c.SourceUser, Password: c.SourcePass}
}

// TargetEndpoint returns the target connection parameters.
func (c *SyncJobConfig) TargetEndpoint() dialect.Endpoint {
	return dialect.Endpoint{Driver: c.TargetDriver, URL: c.TargetURL, User: c.TargetUser, Password: c.TargetPass}
}

// FetchSizeOverride returns the job's explicit fetch size: FetchSize if set,
// otherwise the fetchSize property, otherwise zero.
func (c *SyncJobConfig) FetchSizeOverride() int {
	if c.FetchSize > 0 {
		return c.FetchSize
	}
	if v, ok := c.Properties[FetchSizeProperty]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*$`)
	// schema.table, optionally double-quoted per part
	tablePattern = regexp.MustCompile(`^("[^"]+"|[A-Za-z_][A-Za-z0-9_$#]*)(\.("[^"]+"|[A-Za-z_][A-Za-z0-9_$#]*))?$`)
	keyPattern   = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_$#]*(\s*,\s*[A-Za-z_][A-Za-z0-9_$#]*)*\s*$`)
)

// Validate checks the job and reports every problem at once.
func (c *SyncJobConfig) Validate() error {
	var problems []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, field+" is required")
		}
	}

	require("name", c.Name)
	require("source_driver", c.SourceDriver)
	require("source_url", c.SourceURL)
	require("target_driver", c.TargetDriver)
	require("target_url", c.TargetURL)
	require("target_table", c.TargetTable)
	require("sql_select", c.SQLSelect)
	require("sql_last_sync_time", c.SQLLastSyncTime)
	require("field_last_sync_time", c.FieldLastSyncTime)

	if c.SourceDriver != "" {
		if _, err := dialect.Lookup(c.SourceDriver); err != nil {
			problems = append(problems, fmt.Sprintf("source_driver %q is not supported", c.SourceDriver))
		}
	}
	if c.TargetDriver != "" {
		d, err := dialect.Lookup(c.TargetDriver)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("target_driver %q is not supported", c.TargetDriver))
		case d.Name() == dialect.PostgreSQL && strings.TrimSpace(c.FieldUniqueKey) == "":
			problems = append(problems, "field_unique_key is required for a postgresql target")
		}
	}

	if c.SQLSelect != "" {
		if n := dialect.CountPlaceholders(c.SQLSelect); n != 1 {
			problems = append(problems, fmt.Sprintf("sql_select must have exactly one ? placeholder, found %d", n))
		}
	}
	if c.SourceSchema != "" && !identPattern.MatchString(c.SourceSchema) {
		problems = append(problems, fmt.Sprintf("source_schema %q is not a valid identifier", c.SourceSchema))
	}
	if c.TargetTable != "" && !tablePattern.MatchString(c.TargetTable) {
		problems = append(problems, fmt.Sprintf("target_table %q is not a valid table name", c.TargetTable))
	}
	if c.FieldUniqueKey != "" && !keyPattern.MatchString(c.FieldUniqueKey) {
		problems = append(problems, fmt.Sprintf("field_unique_key %q is not a column list", c.FieldUniqueKey))
	}

	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if c.FetchSize < 0 {
		problems = append(problems, "fetch_size cannot be negative")
	}
	if v, ok := c.Properties[FetchSizeProperty]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err != nil || n <= 0 {
			problems = append(problems, fmt.Sprintf("properties.%s %q must be a positive integer", FetchSizeProperty, v))
		}
	}

	if len(problems) > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "job %q is invalid:\n- %s", c.Name, strings.Join(problems, "\n- ")).
			WithDetail("problems", problems)
	}
	return nil
}

// Redacted returns a copy safe to log or print. It shares no maps with c.
func (c *SyncJobConfig) Redacted() SyncJobConfig {
	out := *c
	out.Properties = maps.Clone(c.Properties)
	if out.SourcePass != "" {
		out.SourcePass = "xxxxx"
	}
	if out.TargetPass != "" {
		out.TargetPass = "xxxxx"
	}
	out.SourceURL = dialect.RedactURL(out.SourceURL)
	out.TargetURL = dialect.RedactURL(out.TargetURL)
	return out
}
