// Package query translates MongoDB-style filter objects into parameterized
// SQL predicates over the uniform entity row shape
// (id, data jsonb, created_date, updated_date, created_by).
package query

import "strconv"

// Builder accumulates bound parameters and hands out their placeholders.
// All caller-supplied values go through Bind; only validated field names are
// ever interpolated into query text.
type Builder struct {
	args []any
}

// NewBuilder returns an empty parameter builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bind registers a value and returns its positional placeholder ($1, $2, ...).
func (b *Builder) Bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// Args returns the bound parameters in placeholder order.
func (b *Builder) Args() []any {
	return b.args
}
