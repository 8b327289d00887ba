package query

import (
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
)

// OrderBy is a list of resolved sort expressions, ready to be joined into ORDER BY clause
type OrderBy []string

// Ordering resolves signed field tokens ("-field", "+field") into sort expressions.
// Built once per entity and read-only afterwards.
type Ordering struct {
	entity string
	fields []string
	def    []string
	signed map[string]string
}

// NewOrdering builds resolver over orderable fields (declaration order matters).
// Empty defaultOrder means descending by the first orderable field.
func NewOrdering(entity string, fields []string, defaultOrder []string) *Ordering {
	signed := make(map[string]string, len(fields)*3)
	for _, f := range fields {
		col := pgx.Identifier{f}.Sanitize()
		signed["-"+f] = col + " DESC"
		signed["+"+f] = col + " ASC"
		signed[f] = col + " ASC"
	}

	def := defaultOrder
	if len(def) == 0 && len(fields) > 0 {
		def = []string{"-" + fields[0]}
	}

	return &Ordering{
		entity: entity,
		fields: fields,
		def:    def,
		signed: signed,
	}
}

// Fields returns orderable fields in declaration order
func (o *Ordering) Fields() []string {
	return o.fields
}

// Default returns default order tokens
func (o *Ordering) Default() []string {
	return o.def
}

// Allowed reports whether token may be requested by a client
func (o *Ordering) Allowed(token string) bool {
	_, ok := o.signed[token]
	return ok
}

// Resolve maps tokens to sort expressions keeping requested order.
// No tokens means default order. Tokens must be validated with Allowed beforehand,
// unknown token fails with bad ordering error.
func (o *Ordering) Resolve(tokens []string) (OrderBy, error) {
	if len(tokens) == 0 {
		tokens = o.def
	}

	out := make(OrderBy, 0, len(tokens))
	for _, t := range tokens {
		expr, ok := o.signed[t]
		if !ok {
			return nil, apperrors.BadOrdering(o.entity, t)
		}
		out = append(out, expr)
	}

	return out, nil
}
