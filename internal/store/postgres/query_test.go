package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterBuild(t *testing.T) {
	var f filter
	f.add("seq > ?", int64(4))
	f.add("kind = ?", "pool_created")
	query, args := f.build("SELECT payload FROM market_events", "seq", 10, 20)

	assert.Equal(t, "SELECT payload FROM market_events WHERE seq > $1 AND kind = $2 ORDER BY seq LIMIT $3 OFFSET $4", query)
	assert.Equal(t, []any{int64(4), "pool_created", 10, 20}, args)

	var empty filter
	query, args = empty.build("SELECT id FROM audit_log", "id DESC", 0, 0)
	assert.Equal(t, "SELECT id FROM audit_log ORDER BY id DESC", query)
	assert.Empty(t, args)
}
