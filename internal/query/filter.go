package query

import (
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
)

// Compiler kind for postgres predicates
// Filter overrides are looked up by this kind
const KindPostgres = "pg"

// Filter is a request filter schema.
// FilterValues returns 'field__operator' keys mapped to values; unset values must be omitted.
type Filter interface {
	FilterValues() map[string]any
}

// Overrider is implemented by filter schemas that handle some fields with their own operators
// (json columns for example). Returned map is keyed by field name.
type Overrider interface {
	FilterOverrides(kind string) map[string]Operators
}

// Context accumulates predicates compiled against one entity
type Context struct {
	Entity  string
	Where   Where
	columns map[string]struct{}
}

func NewContext(entity string, columns []string) *Context {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return &Context{Entity: entity, columns: set}
}

// Column returns quoted column for the key field or bad filter error if entity has no such column
func (c *Context) Column(k Key) (string, error) {
	if _, ok := c.columns[k.Field]; !ok {
		return "", apperrors.BadFilter(c.Entity, k.Raw, "unknown field")
	}
	return pgx.Identifier{k.Field}.Sanitize(), nil
}

func (c *Context) Add(preds ...Predicate) {
	c.Where = append(c.Where, preds...)
}

// Compiler turns filter values into predicates
// Safe for concurrent use: operator table is never modified after construction
type Compiler struct {
	kind string
	ops  Operators
}

func NewCompiler() *Compiler {
	return &Compiler{
		kind: KindPostgres,
		ops:  DefaultOperators(),
	}
}

func (c *Compiler) Kind() string {
	return c.kind
}

// Known reports whether operator is in the default table
func (c *Compiler) Known(op string) bool {
	_, ok := c.ops[op]
	return ok
}

// Compile appends predicates for every filter value to ctx and returns accumulated predicates.
// Keys are processed in sorted order so equal filters produce equal sql.
func (c *Compiler) Compile(ctx *Context, f Filter) (Where, error) {
	var overrides map[string]Operators
	if o, ok := f.(Overrider); ok {
		overrides = o.FilterOverrides(c.kind)
	}

	values := f.FilterValues()
	for _, raw := range slices.Sorted(maps.Keys(values)) {
		key, ops, err := c.parse(raw, overrides)
		if err != nil {
			return nil, apperrors.BadFilter(ctx.Entity, raw, err.Error())
		}

		fn, ok := ops[key.Operator]
		if !ok {
			return nil, apperrors.BadFilter(ctx.Entity, raw, "unknown operator")
		}

		pred, err := fn(ctx, key, values[raw])
		if err != nil {
			return nil, err
		}
		ctx.Add(pred)
	}

	return ctx.Where, nil
}

// Pick operator set for the raw key: override for the field if any, default table otherwise
func (c *Compiler) parse(raw string, overrides map[string]Operators) (Key, Operators, error) {
	for field, ops := range overrides {
		if raw == field {
			return Key{Raw: raw, Field: field}, ops, nil
		}
		prefix := field + KeySeparator
		if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
			op := raw[len(prefix):]
			if _, ok := ops[op]; ok {
				return Key{Raw: raw, Field: field, Operator: op}, ops, nil
			}
		}
	}

	key, err := ParseKey(raw, c.Known)
	return key, c.ops, err
}
