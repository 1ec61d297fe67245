package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	ora, _ := Lookup("oracle")
	my, _ := Lookup("mysql")
	pg, _ := Lookup("postgresql")

	query := "SELECT id, 'a?b' AS q, \"we?ird\" FROM t /* ? */ WHERE updated_at > ? -- ?\nAND x = ?"

	assert.Equal(t, query, Rebind(my, query))
	assert.Equal(t,
		"SELECT id, 'a?b' AS q, \"we?ird\" FROM t /* ? */ WHERE updated_at > $1 -- ?\nAND x = $2",
		Rebind(pg, query))
	assert.Equal(t,
		"SELECT id, 'a?b' AS q, \"we?ird\" FROM t /* ? */ WHERE updated_at > :1 -- ?\nAND x = :2",
		Rebind(ora, query))
}

func TestCountPlaceholders(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"SELECT * FROM t WHERE ts > ?", 1},
		{"SELECT * FROM t", 0},
		{"SELECT 'it''s ?' FROM t WHERE a = ? AND b = ?", 2},
		{"SELECT `col?` FROM t WHERE a > ?", 1},
		{"SELECT * FROM t WHERE a > ? /* unterminated ?", 1},
		{"SELECT '?", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, CountPlaceholders(tt.query))
		})
	}
}
