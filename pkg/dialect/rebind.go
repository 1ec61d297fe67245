package dialect

import (
	"strings"
)

// Rebind rewrites every `?` placeholder outside quoted text and comments into
// the dialect's own marker.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	scanPlaceholders(query, func(chunk string, isPlaceholder bool) {
		if isPlaceholder {
			n++
			b.WriteString(d.Placeholder(n))
			return
		}
		b.WriteString(chunk)
	})
	return b.String()
}

// CountPlaceholders returns the number of `?` placeholders outside quoted
// text and comments.
func CountPlaceholders(query string) int {
	n := 0
	scanPlaceholders(query, func(_ string, isPlaceholder bool) {
		if isPlaceholder {
			n++
		}
	})
	return n
}

// scanPlaceholders splits query into literal chunks and `?` markers.
// Quotes ('...', "...", `...`), -- line comments and /* */ block comments
// are passed through untouched.
func scanPlaceholders(query string, emit func(chunk string, isPlaceholder bool)) {
	start := 0
	i := 0
	for i < len(query) {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(query, i, c)
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			if end := strings.IndexByte(query[i:], '\n'); end >= 0 {
				i += end + 1
			} else {
				i = len(query)
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			if end := strings.Index(query[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = len(query)
			}
		case c == '?':
			if i > start {
				emit(query[start:i], false)
			}
			emit("?", true)
			i++
			start = i
		default:
			i++
		}
	}
	if start < len(query) {
		emit(query[start:], false)
	}
}

// skipQuoted returns the index just past the quoted run starting at i.
// A doubled quote character is an escaped quote.
func skipQuoted(query string, i int, quote byte) int {
	i++
	for i < len(query) {
		if query[i] == quote {
			if i+1 < len(query) && query[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}
