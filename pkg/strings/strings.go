// Package strings provides pooled builders for assembling SQL text.
package strings

import (
	"strconv"
	"sync"
)

// Builder is an append-only byte buffer that can be recycled through a pool.
type Builder struct {
	buf []byte
}

// NewBuilder creates a new string builder
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// WriteString appends a string to the builder
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte to the builder
func (b *Builder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// String returns a copy of the accumulated text
func (b *Builder) String() string {
	return string(b.buf)
}

// Len returns the current length
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset clears the builder but keeps its capacity
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// BuilderSize selects one of the builder pools.
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB - 64KB
	Large                     // 64KB+, multi-row upsert statements
)

var pools = [...]*sync.Pool{
	Small:  {New: func() interface{} { return NewBuilder(1024) }},
	Medium: {New: func() interface{} { return NewBuilder(64 * 1024) }},
	Large:  {New: func() interface{} { return NewBuilder(512 * 1024) }},
}

// maxPooledCap keeps one oversized statement from pinning memory forever.
const maxPooledCap = 8 << 20

func poolFor(size BuilderSize) *sync.Pool {
	if size < Small || size > Large {
		return pools[Small]
	}
	return pools[size]
}

// GetBuilder retrieves a pooled builder of the specified size
func GetBuilder(size BuilderSize) *Builder {
	b := poolFor(size).Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns a builder to the appropriate pool
func PutBuilder(b *Builder, size BuilderSize) {
	if b == nil || cap(b.buf) > maxPooledCap {
		return
	}
	b.Reset()
	poolFor(size).Put(b)
}

// SizeFor picks the pool for an estimated output length.
func SizeFor(estimatedLength int) BuilderSize {
	switch {
	case estimatedLength > 64*1024:
		return Large
	case estimatedLength > 1024:
		return Medium
	default:
		return Small
	}
}

// SQLBuilder assembles a SQL statement on a pooled buffer.
type SQLBuilder struct {
	builder *Builder
	size    BuilderSize
}

// NewSQLBuilder creates a new SQL builder
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := SizeFor(estimatedLength)
	return &SQLBuilder{builder: GetBuilder(size), size: size}
}

// WriteQuery writes raw SQL text
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

// WriteStringLiteral writes value as a single-quoted literal, doubling
// embedded quotes.
func (sb *SQLBuilder) WriteStringLiteral(value string) *SQLBuilder {
	sb.builder.WriteByte('\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' {
			sb.builder.WriteString("''")
		} else {
			sb.builder.WriteByte(value[i])
		}
	}
	sb.builder.WriteByte('\'')
	return sb
}

// WriteInt writes an integer value
func (sb *SQLBuilder) WriteInt(value int64) *SQLBuilder {
	sb.builder.WriteString(strconv.FormatInt(value, 10))
	return sb
}

// WriteJoined writes parts separated by sep.
func (sb *SQLBuilder) WriteJoined(parts []string, sep string) *SQLBuilder {
	for i, p := range parts {
		if i > 0 {
			sb.builder.WriteString(sep)
		}
		sb.builder.WriteString(p)
	}
	return sb
}

// WriteEach writes fn(part) for every part, separated by sep.
func (sb *SQLBuilder) WriteEach(parts []string, sep string, fn func(sb *SQLBuilder, part string)) *SQLBuilder {
	for i, p := range parts {
		if i > 0 {
			sb.builder.WriteString(sep)
		}
		fn(sb, p)
	}
	return sb
}

// Len returns the number of bytes written so far.
func (sb *SQLBuilder) Len() int {
	return sb.builder.Len()
}

// String returns the built SQL text
func (sb *SQLBuilder) String() string {
	return sb.builder.String()
}

// Close releases the builder back to the pool
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, sb.size)
		sb.builder = nil
	}
}

// QuoteLiteral returns value as a single-quoted SQL literal.
func QuoteLiteral(value string) string {
	sb := NewSQLBuilder(len(value) + 2)
	defer sb.Close()
	return sb.WriteStringLiteral(value).String()
}

// JoinPooled joins parts using a pooled builder sized for the result.
func JoinPooled(parts []string, sep string) string {
	total := len(sep) * len(parts)
	for _, p := range parts {
		total += len(p)
	}
	sb := NewSQLBuilder(total)
	defer sb.Close()
	return sb.WriteJoined(parts, sep).String()
}
