package postgres

import (
	"strconv"
	"strings"
)

// filter accumulates AND-ed conditions with positional arguments.
type filter struct {
	where []string
	args  []any
}

// add appends cond, where "?" stands for the next positional argument.
func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.where = append(f.where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(f.args)), 1))
}

// build renders base plus the WHERE clause, order and pagination.
func (f *filter) build(base, orderBy string, limit, offset int) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(f.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if limit > 0 {
		f.args = append(f.args, limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(f.args)))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(f.args)))
	}
	return b.String(), f.args
}
