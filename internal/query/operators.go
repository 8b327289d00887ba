package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
)

// OpFunc builds predicate for the key and value
type OpFunc func(c *Context, k Key, value any) (Predicate, error)

// Operators maps operator name to predicate builder. Empty name is equality.
type Operators map[string]OpFunc

// Target resolves left side of a predicate: sql expression and its own arguments
type Target func(c *Context, k Key) (string, []any, error)

// ColumnTarget compares against the entity column named by the key field
func ColumnTarget(c *Context, k Key) (string, []any, error) {
	col, err := c.Column(k)
	return col, nil, err
}

// JSONTextTarget compares against text value stored by the key field name in jsonb column
func JSONTextTarget(column string) Target {
	col := pgx.Identifier{column}.Sanitize()
	return func(_ *Context, k Key) (string, []any, error) {
		return "(" + col + "->>?)", []any{k.Field}, nil
	}
}

// DefaultOperators is the operator table used for plain columns
func DefaultOperators() Operators {
	return NewOperators(ColumnTarget)
}

// JSONTextOperators is an override set for fields stored inside jsonb column
func JSONTextOperators(column string) Operators {
	return NewOperators(JSONTextTarget(column))
}

// NewOperators builds the full operator table against the target
func NewOperators(t Target) Operators {
	return Operators{
		"":          compare(t, "="),
		"eq":        compare(t, "="),
		"neq":       compare(t, "<>"),
		"lt":        compare(t, "<"),
		"le":        compare(t, "<="),
		"gt":        compare(t, ">"),
		"ge":        compare(t, ">="),
		"from":      compare(t, ">="),
		"till":      compare(t, "<="),
		"null":      isNull(t),
		"like":      like(t, "LIKE"),
		"not_like":  like(t, "NOT LIKE"),
		"ilike":     like(t, "ILIKE"),
		"not_ilike": like(t, "NOT ILIKE"),
		"in":        in(t, false),
		"not_in":    in(t, true),
	}
}

func compare(t Target, op string) OpFunc {
	return func(c *Context, k Key, value any) (Predicate, error) {
		expr, args, err := t(c, k)
		if err != nil {
			return Predicate{}, err
		}
		return Expr(expr+" "+op+" ?", append(args, value)...), nil
	}
}

func isNull(t Target) OpFunc {
	return func(c *Context, k Key, value any) (Predicate, error) {
		expr, args, err := t(c, k)
		if err != nil {
			return Predicate{}, err
		}

		isNull, ok := value.(bool)
		if !ok {
			return Predicate{}, apperrors.BadFilter(c.Entity, k.Raw, "null operator expects boolean")
		}

		if isNull {
			return Expr(expr+" IS NULL", args...), nil
		}
		return Expr(expr+" IS NOT NULL", args...), nil
	}
}

// Wrap value with '%' on both sides unless it already has one
func WrapLike(value string) string {
	if strings.Contains(value, "%") {
		return value
	}
	return "%" + value + "%"
}

func like(t Target, op string) OpFunc {
	return func(c *Context, k Key, value any) (Predicate, error) {
		expr, args, err := t(c, k)
		if err != nil {
			return Predicate{}, err
		}

		s, ok := value.(string)
		if !ok {
			return Predicate{}, apperrors.BadFilter(c.Entity, k.Raw, fmt.Sprintf("%s expects string", strings.ToLower(op)))
		}

		return Expr(expr+" "+op+" ?", append(args, WrapLike(s))...), nil
	}
}

// Membership over a set. Empty set: 'in' is always false, 'not_in' is always true.
func in(t Target, negate bool) OpFunc {
	return func(c *Context, k Key, value any) (Predicate, error) {
		expr, args, err := t(c, k)
		if err != nil {
			return Predicate{}, err
		}

		v := reflect.ValueOf(value)
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return Predicate{}, apperrors.BadFilter(c.Entity, k.Raw, "set operator expects list of values")
		}

		switch {
		case v.Len() == 0 && negate:
			return Expr("TRUE"), nil
		case v.Len() == 0:
			return Expr("FALSE"), nil
		case negate:
			return Expr("NOT ("+expr+" = ANY(?))", append(args, value)...), nil
		default:
			return Expr(expr+" = ANY(?)", append(args, value)...), nil
		}
	}
}
