package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
)

const (
	// WatermarkLayout is the text form of every watermark.
	WatermarkLayout = "2006-01-02 15:04:05"
	// DefaultWatermark is used when the target holds no qualifying row.
	DefaultWatermark = "1970-01-01 00:00:00"
)

// date-time layouts accepted from drivers that return temporal values as text
var dateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ResolveWatermark runs query against the target and returns the first row
// whose field holds a date-time, formatted with WatermarkLayout. Ordering is
// the query's business (MAX, ORDER BY ... LIMIT 1). Without a qualifying row
// the result is DefaultWatermark.
func ResolveWatermark(ctx context.Context, q dialect.Querier, query, field string) (string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to query last sync time").
			WithDetail("sql", query)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to read last sync time columns")
	}
	idx := -1
	for i, c := range cols {
		if strings.EqualFold(c, field) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", errors.Newf(errors.ErrorTypeQuery, "field %q is not in the last sync time result", field).
			WithDetail("columns", cols)
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan last sync time")
		}
		if ts, ok := asDateTime(values[idx]); ok {
			return ts.Format(WatermarkLayout), nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to read last sync time")
	}
	return DefaultWatermark, nil
}

// asDateTime accepts time values and text carrying both a date and a time.
func asDateTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case []byte:
		return parseDateTime(string(x))
	case string:
		return parseDateTime(x)
	}
	return time.Time{}, false
}

func parseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	// date-only and time-only text do not qualify
	if len(s) < len(WatermarkLayout) {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
