package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// listQuery builds a filtered, paged SELECT. The base statement must already
// contain a WHERE clause.
type listQuery struct {
	b    strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.b.WriteString(base)
	return q
}

// bind adds v as the next positional argument and returns its placeholder.
func (q *listQuery) bind(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window restricts col to [opts.Since, opts.Until].
func (q *listQuery) window(col string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.b.WriteString(" AND " + col + " >= " + q.bind(*opts.Since))
	}
	if opts.Until != nil {
		q.b.WriteString(" AND " + col + " <= " + q.bind(*opts.Until))
	}
	return q
}

// page orders newest first by col and applies limit and offset.
func (q *listQuery) page(col string, opts domain.ListOpts) *listQuery {
	q.b.WriteString(" ORDER BY " + col + " DESC")
	if opts.Limit > 0 {
		q.b.WriteString(" LIMIT " + q.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		q.b.WriteString(" OFFSET " + q.bind(opts.Offset))
	}
	return q
}

func (q *listQuery) String() string { return q.b.String() }
