package crud

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

// Postgres limits bind parameters per statement
const maxParams = 65535

// BulkCreate inserts payloads and returns inserted rows count
func (r *Repo[E, C]) BulkCreate(ctx context.Context, s Session, payloads []any, commit bool) (int64, error) {
	rows, cols, err := r.normalizeBatch(payloads)
	if err != nil || len(rows) == 0 {
		return 0, err
	}

	var affected int64
	for chunk := range slices.Chunk(rows, chunkSize(cols)) {
		sql, args := r.buildInsert(chunk, cols)
		tag, err := s.Exec(ctx, sql, args...)
		if err != nil {
			return 0, r.wrap(err)
		}
		affected += tag.RowsAffected()
	}

	return affected, r.commit(ctx, s, commit)
}

// BulkCreateWithReturn inserts payloads and returns created entities in payload order
func (r *Repo[E, C]) BulkCreateWithReturn(ctx context.Context, s Session, payloads []any, commit bool) ([]E, error) {
	rows, cols, err := r.normalizeBatch(payloads)
	if err != nil {
		return nil, err
	}

	entities := make([]E, 0, len(rows))
	for chunk := range slices.Chunk(rows, chunkSize(cols)) {
		sql, args := r.buildInsert(chunk, cols)
		sql += " RETURNING " + r.selectList

		result, err := s.Query(ctx, sql, args...)
		if err != nil {
			return nil, r.wrap(err)
		}
		entities, err = pgx.AppendRows(entities, result, pgx.RowToStructByName[E])
		if err != nil {
			return nil, r.wrap(err)
		}
	}

	return entities, r.commit(ctx, s, commit)
}

// BulkUpdate updates rows by primary key; every payload has to contain its primary key values
func (r *Repo[E, C]) BulkUpdate(ctx context.Context, s Session, payloads []any, commit bool) (int64, error) {
	batch := &pgx.Batch{}

	for i, p := range payloads {
		data, err := r.normalize(p)
		if err != nil {
			return 0, apperrors.BadCreateData(r.table, i, err.Error())
		}
		if !r.hasPrimaryKey(data) {
			return 0, apperrors.BadCreateData(r.table, i, "missing primary key")
		}

		set := make(map[string]any, len(data))
		where := r.pkWhere(data)
		for k, v := range data {
			if !slices.Contains(r.pk, k) {
				set[k] = v
			}
		}
		if len(set) == 0 {
			return 0, apperrors.BadCreateData(r.table, i, "nothing to update")
		}

		sql, args := r.buildUpdate(set, sortedKeys(set), where)
		batch.Queue(sql, args...)
	}

	if batch.Len() == 0 {
		return 0, nil
	}

	var affected int64
	results := s.SendBatch(ctx, batch)
	for range batch.Len() {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, r.wrap(err)
		}
		affected += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, r.wrap(err)
	}

	return affected, r.commit(ctx, s, commit)
}

// BulkUpsert inserts payloads; on primary key conflict every non key field is overwritten
func (r *Repo[E, C]) BulkUpsert(ctx context.Context, s Session, payloads []any, commit bool) (int64, error) {
	rows, cols, err := r.normalizeBatch(payloads)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	for i, row := range rows {
		if !r.hasPrimaryKey(row) {
			return 0, apperrors.BadCreateData(r.table, i, "missing primary key")
		}
	}

	set := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(r.pk, c) {
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", quote(c), quote(c)))
		}
	}

	conflict := " ON CONFLICT (" + columnList(r.pk) + ") DO NOTHING"
	if len(set) > 0 {
		conflict = " ON CONFLICT (" + columnList(r.pk) + ") DO UPDATE SET " + strings.Join(set, ", ")
	}

	var affected int64
	for chunk := range slices.Chunk(rows, chunkSize(cols)) {
		sql, args := r.buildInsert(chunk, cols)
		tag, err := s.Exec(ctx, sql+conflict, args...)
		if err != nil {
			return 0, r.wrap(err)
		}
		affected += tag.RowsAffected()
	}

	return affected, r.commit(ctx, s, commit)
}

// Normalize every payload; all of them must have the same columns as the first one
func (r *Repo[E, C]) normalizeBatch(payloads []any) ([]map[string]any, []string, error) {
	rows := make([]map[string]any, 0, len(payloads))
	var cols []string

	for i, p := range payloads {
		data, err := r.normalize(p)
		if err != nil {
			return nil, nil, apperrors.BadCreateData(r.table, i, err.Error())
		}

		keys := sortedKeys(data)
		if cols == nil {
			cols = keys
		} else if !slices.Equal(cols, keys) {
			return nil, nil, apperrors.BadCreateData(r.table, i, "columns differ from the first element")
		}

		rows = append(rows, data)
	}

	return rows, cols, nil
}

func (r *Repo[E, C]) buildInsert(rows []map[string]any, cols []string) (string, []any) {
	args := make([]any, 0, len(rows)*len(cols))
	for _, row := range rows {
		args = append(args, rowValues(row, cols)...)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		r.ident, columnList(cols), placeholders(len(rows), len(cols), 0),
	)
	return sql, args
}

func (r *Repo[E, C]) hasPrimaryKey(data map[string]any) bool {
	for _, k := range r.pk {
		if v, ok := data[k]; !ok || isNil(v) {
			return false
		}
	}
	return true
}

func (r *Repo[E, C]) pkWhere(data map[string]any) query.Where {
	where := make(query.Where, 0, len(r.pk))
	for _, k := range r.pk {
		where = append(where, r.Eq(k, data[k]))
	}
	return where
}

func chunkSize(cols []string) int {
	return max(maxParams/max(len(cols), 1), 1)
}
