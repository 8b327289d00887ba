package query

import (
	"strconv"
	"strings"
)

// Predicate is a single SQL condition.
// Placeholders are written as '?' and numbered when the condition is rendered;
// a literal question mark (jsonb '?' operator for example) must be written as '??'.
type Predicate struct {
	SQL  string
	Args []any
}

// Expr creates predicate from raw sql
func Expr(sql string, args ...any) Predicate {
	return Predicate{SQL: sql, Args: args}
}

// Where is a conjunction of predicates
type Where []Predicate

// And returns new Where with predicates appended, original stays untouched
func (w Where) And(preds ...Predicate) Where {
	out := make(Where, 0, len(w)+len(preds))
	out = append(out, w...)
	return append(out, preds...)
}

// Build renders predicates joined with AND.
// Placeholders are numbered starting from 'start'+1, so the clause may follow other arguments.
// Empty Where renders to empty string.
func (w Where) Build(start int) (string, []any) {
	if len(w) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(w))
	var args []any
	n := start

	for _, p := range w {
		var sql string
		sql, n = Rebind(p.SQL, n)
		parts = append(parts, sql)
		args = append(args, p.Args...)
	}

	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, ") AND (") + ")", args
}

// Rebind replaces '?' with postgres positional placeholders: $start+1, $start+2...
// Returns rewritten sql and the last used placeholder number.
func Rebind(sql string, start int) (string, int) {
	if !strings.Contains(sql, "?") {
		return sql, start
	}

	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := start

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c != '?' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '?' {
			b.WriteByte('?')
			i++
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String(), n
}
