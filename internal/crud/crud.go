// Package crud implements generic data access over an entity table.
//
// Repo is built once per entity at process start and shared between requests; every call takes
// the request's own Session. Mutating calls take 'commit' flag: false keeps the transaction open
// (changes are visible inside it), true commits.
package crud

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

// Entity describes table the entity is stored in.
// Methods are called once on the zero value when Repo is created.
type Entity interface {
	TableName() string
	Columns() []string
	PrimaryKeyFields() []string
	OrderableFields() []string

	// Empty default order means descending by the first orderable field
	DefaultOrder() []string
}

// DateBounded is implemented by entities that support DateBounds
type DateBounded interface {
	DateColumn() string
}

// Record is a create payload of an entity
type Record interface {
	ToDB() map[string]any
}

// Session is a unit of work, see db.Session
type Session interface {
	db.DBTX
	Commit(ctx context.Context) error
}

// Bounds of entity date column, nil if nothing matched
type DateBounds struct {
	Min *time.Time
	Max *time.Time
}

type Repo[E Entity, C Record] struct {
	table      string
	ident      string
	columns    []string
	colset     map[string]struct{}
	pk         []string
	dateColumn string
	selectList string

	compiler *query.Compiler
	ordering *query.Ordering
}

func New[E Entity, C Record](compiler *query.Compiler) *Repo[E, C] {
	var e E

	columns := slices.Clone(e.Columns())
	colset := make(map[string]struct{}, len(columns))
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		colset[c] = struct{}{}
		quoted = append(quoted, quote(c))
	}

	pk := slices.Clone(e.PrimaryKeyFields())
	if len(pk) == 0 {
		pk = []string{"id"}
	}

	var dateColumn string
	if d, ok := any(e).(DateBounded); ok {
		dateColumn = d.DateColumn()
	}

	return &Repo[E, C]{
		table:      e.TableName(),
		ident:      quote(e.TableName()),
		columns:    columns,
		colset:     colset,
		pk:         pk,
		dateColumn: dateColumn,
		selectList: strings.Join(quoted, ", "),
		compiler:   compiler,
		ordering:   query.NewOrdering(e.TableName(), slices.Clone(e.OrderableFields()), slices.Clone(e.DefaultOrder())),
	}
}

func (r *Repo[E, C]) Table() string {
	return r.table
}

func (r *Repo[E, C]) PrimaryKeyFields() []string {
	return slices.Clone(r.pk)
}

func (r *Repo[E, C]) Ordering() *query.Ordering {
	return r.ordering
}

// Where compiles filter against the entity columns
func (r *Repo[E, C]) Where(f query.Filter) (query.Where, error) {
	return r.compiler.Compile(query.NewContext(r.table, r.columns), f)
}

// OrderBy resolves signed order tokens, default order if none
func (r *Repo[E, C]) OrderBy(tokens []string) (query.OrderBy, error) {
	return r.ordering.Resolve(tokens)
}

// Eq is equality predicate on entity column
func (r *Repo[E, C]) Eq(column string, value any) query.Predicate {
	return query.Expr(quote(column)+" = ?", value)
}

// Create inserts payload and returns entity with server side defaults.
// Payload is the entity create payload (C or *C) or raw column mapping.
func (r *Repo[E, C]) Create(ctx context.Context, s Session, payload any, commit bool) (E, error) {
	var zero E

	data, err := r.normalize(payload)
	if err != nil {
		return zero, err
	}

	cols := sortedKeys(data)
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s RETURNING %s",
		r.ident, columnList(cols), placeholders(1, len(cols), 0), r.selectList,
	)

	rows, err := s.Query(ctx, sql, rowValues(data, cols)...)
	if err != nil {
		return zero, r.wrap(err)
	}
	entity, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[E])
	if err != nil {
		return zero, r.wrap(err)
	}

	return entity, r.commit(ctx, s, commit)
}

// GetOne returns the only entity matching predicates.
// Fails with not found or not unique error.
func (r *Repo[E, C]) GetOne(ctx context.Context, s Session, where query.Where) (E, error) {
	var zero E

	e, err := r.GetOneOrNone(ctx, s, where)
	switch {
	case err != nil:
		return zero, err
	case e == nil:
		return zero, apperrors.NotFound(r.table)
	default:
		return *e, nil
	}
}

// GetOneOrNone returns nil if nothing matched; more than one match is not unique error
func (r *Repo[E, C]) GetOneOrNone(ctx context.Context, s Session, where query.Where) (*E, error) {
	entities, err := r.GetMulti(ctx, s, query.Select{Where: where, Limit: 2})
	if err != nil {
		return nil, err
	}

	switch len(entities) {
	case 0:
		return nil, nil
	case 1:
		return &entities[0], nil
	default:
		return nil, apperrors.NotUnique(r.table)
	}
}

// GetMulti is the read path for compiled filters, resolved ordering and pages
func (r *Repo[E, C]) GetMulti(ctx context.Context, s Session, sel query.Select) ([]E, error) {
	sql, args := r.buildSelect(r.selectList, sel)

	rows, err := s.Query(ctx, sql, args...)
	if err != nil {
		return nil, r.wrap(err)
	}

	entities, err := pgx.CollectRows(rows, pgx.RowToStructByName[E])
	if err != nil {
		return nil, r.wrap(err)
	}
	return entities, nil
}

func (r *Repo[E, C]) Count(ctx context.Context, s Session, where query.Where) (int64, error) {
	sql, args := r.buildSelect("COUNT(*)", query.Select{Where: where})

	var count int64
	err := s.QueryRow(ctx, sql, args...).Scan(&count)
	if err != nil {
		return 0, r.wrap(err)
	}
	return count, nil
}

// DateBounds returns min and max of the entity date column among matched rows
func (r *Repo[E, C]) DateBounds(ctx context.Context, s Session, where query.Where) (DateBounds, error) {
	var bounds DateBounds
	if r.dateColumn == "" {
		return bounds, apperrors.BadSchema(r.table, "entity has no date column")
	}

	col := quote(r.dateColumn)
	sql, args := r.buildSelect(fmt.Sprintf("MIN(%s), MAX(%s)", col, col), query.Select{Where: where})

	err := s.QueryRow(ctx, sql, args...).Scan(&bounds.Min, &bounds.Max)
	if err != nil {
		return bounds, r.wrap(err)
	}
	return bounds, nil
}

// Patch updates matched rows with non nil fields and returns affected rows count
func (r *Repo[E, C]) Patch(ctx context.Context, s Session, where query.Where, fields map[string]any, commit bool) (int64, error) {
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if isNil(v) {
			continue
		}
		if _, ok := r.colset[k]; !ok {
			return 0, apperrors.BadSchema(r.table, "unknown column "+k)
		}
		data[k] = v
	}

	if len(data) == 0 {
		return 0, r.commit(ctx, s, commit)
	}

	cols := sortedKeys(data)
	sql, args := r.buildUpdate(data, cols, where)

	tag, err := s.Exec(ctx, sql, args...)
	if err != nil {
		return 0, r.wrap(err)
	}

	return tag.RowsAffected(), r.commit(ctx, s, commit)
}

// Delete removes matched rows. Empty predicates are refused, use DeleteAll to clear the table.
func (r *Repo[E, C]) Delete(ctx context.Context, s Session, where query.Where, commit bool) (int64, error) {
	if len(where) == 0 {
		return 0, apperrors.BadFilter(r.table, "", "delete without predicates")
	}
	return r.delete(ctx, s, where, commit)
}

// DeleteAll removes every row of the entity table
func (r *Repo[E, C]) DeleteAll(ctx context.Context, s Session, commit bool) (int64, error) {
	return r.delete(ctx, s, nil, commit)
}

func (r *Repo[E, C]) delete(ctx context.Context, s Session, where query.Where, commit bool) (int64, error) {
	sql := "DELETE FROM " + r.ident
	clause, args := where.Build(0)
	if clause != "" {
		sql += " WHERE " + clause
	}

	tag, err := s.Exec(ctx, sql, args...)
	if err != nil {
		return 0, r.wrap(err)
	}

	return tag.RowsAffected(), r.commit(ctx, s, commit)
}

// Upsert looks the row up by identifyBy fields of the payload.
// Missing row is created, existing one gets all payload fields.
func (r *Repo[E, C]) Upsert(ctx context.Context, s Session, payload any, identifyBy []string, commit bool) (E, error) {
	var zero E

	data, err := r.normalize(payload)
	if err != nil {
		return zero, err
	}
	if len(identifyBy) == 0 {
		return zero, apperrors.BadSchema(r.table, "no fields to identify row by")
	}

	where := make(query.Where, 0, len(identifyBy))
	for _, f := range identifyBy {
		v, ok := data[f]
		if !ok {
			return zero, apperrors.BadSchema(r.table, "payload has no identify field "+f)
		}
		where = append(where, r.Eq(f, v))
	}

	existing, err := r.GetOneOrNone(ctx, s, where)
	if err != nil {
		return zero, err
	}
	if existing == nil {
		return r.Create(ctx, s, data, commit)
	}

	cols := sortedKeys(data)
	sql, args := r.buildUpdate(data, cols, where)
	sql += " RETURNING " + r.selectList

	rows, err := s.Query(ctx, sql, args...)
	if err != nil {
		return zero, r.wrap(err)
	}
	entity, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[E])
	if err != nil {
		return zero, r.wrap(err)
	}

	return entity, r.commit(ctx, s, commit)
}

// Normalize payload into column mapping
func (r *Repo[E, C]) normalize(payload any) (map[string]any, error) {
	var data map[string]any

	switch p := payload.(type) {
	case C:
		data = p.ToDB()
	case *C:
		if p == nil {
			return nil, apperrors.BadSchema(r.table, "nil payload")
		}
		data = (*p).ToDB()
	case map[string]any:
		data = maps.Clone(p)
	default:
		return nil, apperrors.BadSchema(r.table, fmt.Sprintf("unexpected payload type %T", payload))
	}

	if len(data) == 0 {
		return nil, apperrors.BadSchema(r.table, "empty payload")
	}
	for k := range data {
		if _, ok := r.colset[k]; !ok {
			return nil, apperrors.BadSchema(r.table, "unknown column "+k)
		}
	}

	return data, nil
}

func (r *Repo[E, C]) buildSelect(list string, sel query.Select) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(list)
	b.WriteString(" FROM ")
	b.WriteString(r.ident)

	clause, args := sel.Where.Build(0)
	if clause != "" {
		b.WriteString(" WHERE ")
		b.WriteString(clause)
	}
	if len(sel.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(sel.OrderBy, ", "))
	}
	if sel.Limit > 0 {
		args = append(args, sel.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if sel.Offset > 0 {
		args = append(args, sel.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return b.String(), args
}

func (r *Repo[E, C]) buildUpdate(data map[string]any, cols []string, where query.Where) (string, []any) {
	set := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		set = append(set, fmt.Sprintf("%s = $%d", quote(c), i+1))
		args = append(args, data[c])
	}

	sql := "UPDATE " + r.ident + " SET " + strings.Join(set, ", ")
	clause, whereArgs := where.Build(len(args))
	if clause != "" {
		sql += " WHERE " + clause
		args = append(args, whereArgs...)
	}

	return sql, args
}

func (r *Repo[E, C]) commit(ctx context.Context, s Session, commit bool) error {
	if !commit {
		return nil
	}
	return r.wrap(s.Commit(ctx))
}

// Application errors pass through; storage errors are wrapped so callers never see driver internals
func (r *Repo[E, C]) wrap(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return apperrors.Conflict(r.table, pgErr.ConstraintName, err)
	}

	return apperrors.DataAccess(r.table, err)
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedKeys(data map[string]any) []string {
	return slices.Sorted(maps.Keys(data))
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

// placeholders renders '($1, $2), ($3, $4)' for 'rows' rows of 'width' values numbered after 'start'
func placeholders(rows int, width int, start int) string {
	var b strings.Builder
	n := start
	for i := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range width {
			if j > 0 {
				b.WriteString(", ")
			}
			n++
			fmt.Fprintf(&b, "$%d", n)
		}
		b.WriteByte(')')
	}
	return b.String()
}

func rowValues(data map[string]any, cols []string) []any {
	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = data[c]
	}
	return values
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
