package bunx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/uptrace/bun"
)

// ErrNoFilters guards Update and Delete against touching every row.
var ErrNoFilters = errors.New("at least one filter is required")

// Filters selects rows by column equality. A slice value becomes an IN clause.
type Filters map[string]any

// Fields maps column names to new values for Update.
type Fields map[string]any

type clause struct {
	query string
	args  []any
}

// clauses renders filters in key order so generated SQL is stable.
func (f Filters) clauses() []clause {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]clause, 0, len(keys))
	for _, k := range keys {
		v := f[k]
		rv := reflect.ValueOf(v)
		if v != nil && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			out = append(out, clause{query: "? IN (?)", args: []any{bun.Ident(k), bun.In(v)}})
			continue
		}
		if v == nil {
			out = append(out, clause{query: "? IS NULL", args: []any{bun.Ident(k)}})
			continue
		}
		out = append(out, clause{query: "? = ?", args: []any{bun.Ident(k), v}})
	}
	return out
}

// Collection is a table-bound CRUD handle over any bun.IDB (a *bun.DB or a
// bun.Tx). T is the bun model struct.
type Collection[T any] struct {
	db bun.IDB
}

// NewCollection binds a collection of T to db.
func NewCollection[T any](db bun.IDB) *Collection[T] {
	return &Collection[T]{db: db}
}

// Query returns every row matching filters, ordered by the given expressions.
func (c *Collection[T]) Query(ctx context.Context, filters Filters, order ...string) ([]T, error) {
	var rows []T
	q := c.db.NewSelect().Model(&rows)
	for _, cl := range filters.clauses() {
		q = q.Where(cl.query, cl.args...)
	}
	for _, o := range order {
		q = q.OrderExpr(o)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("query %T: %w", *new(T), err)
	}
	return rows, nil
}

// Get returns the single row matching filters, or sql.ErrNoRows.
func (c *Collection[T]) Get(ctx context.Context, filters Filters) (*T, error) {
	row := new(T)
	q := c.db.NewSelect().Model(row)
	for _, cl := range filters.clauses() {
		q = q.Where(cl.query, cl.args...)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get %T: %w", row, err)
	}
	return row, nil
}

// Count returns the number of rows matching filters.
func (c *Collection[T]) Count(ctx context.Context, filters Filters) (int, error) {
	q := c.db.NewSelect().Model((*T)(nil))
	for _, cl := range filters.clauses() {
		q = q.Where(cl.query, cl.args...)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %T: %w", *new(T), err)
	}
	return n, nil
}

// Create inserts one row. Auto-increment keys are written back into row.
func (c *Collection[T]) Create(ctx context.Context, row *T) error {
	if _, err := c.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("create %T: %w", row, err)
	}
	return nil
}

// BulkCreate inserts rows in one statement. An empty slice is a no-op.
func (c *Collection[T]) BulkCreate(ctx context.Context, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := c.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("bulk create %T: %w", *new(T), err)
	}
	return nil
}

// Update sets fields on every row matching filters and returns the number of
// rows affected.
func (c *Collection[T]) Update(ctx context.Context, filters Filters, fields Fields) (int64, error) {
	if len(filters) == 0 {
		return 0, ErrNoFilters
	}
	if len(fields) == 0 {
		return 0, nil
	}

	q := c.db.NewUpdate().Model((*T)(nil))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.Set("? = ?", bun.Ident(k), fields[k])
	}
	for _, cl := range filters.clauses() {
		q = q.Where(cl.query, cl.args...)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update %T: %w", *new(T), err)
	}
	return res.RowsAffected()
}

// Delete removes every row matching filters and returns the number removed.
func (c *Collection[T]) Delete(ctx context.Context, filters Filters) (int64, error) {
	if len(filters) == 0 {
		return 0, ErrNoFilters
	}

	q := c.db.NewDelete().Model((*T)(nil))
	for _, cl := range filters.clauses() {
		q = q.Where(cl.query, cl.args...)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete %T: %w", *new(T), err)
	}
	return res.RowsAffected()
}
