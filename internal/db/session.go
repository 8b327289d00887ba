package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by pgxpool.Pool, pgx.Conn, pgx.Tx and Session
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Beginner starts transactions: pgxpool.Pool or pgx.Tx (nested tx is a savepoint)
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Session is a unit of work.
// Transaction is started lazily by the first statement and lives until Commit or Rollback;
// statements after Commit run in a new transaction. Not safe for concurrent use:
// every request has to take its own session.
type Session struct {
	db Beginner
	tx pgx.Tx
}

func NewSession(db Beginner) *Session {
	return &Session{db: db}
}

// WithSession runs fn with a new session and releases it on every exit path.
// Work not committed by fn is rolled back.
func WithSession(ctx context.Context, db Beginner, fn func(s *Session) error) error {
	s := NewSession(db)
	defer func() {
		_ = s.Rollback(context.WithoutCancel(ctx))
	}()

	return fn(s)
}

func (s *Session) begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("db tx error: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// InTx reports whether session has open transaction
func (s *Session) InTx() bool {
	return s.tx != nil
}

// Commit ends current transaction. No-op if nothing was executed.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil
	return tx.Commit(ctx)
}

// Rollback discards current transaction. No-op if nothing was executed.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil
	return tx.Rollback(ctx)
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	tx, err := s.begin(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return tx.QueryRow(ctx, sql, args...)
}

func (s *Session) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	tx, err := s.begin(ctx)
	if err != nil {
		return errBatch{err: err}
	}
	return tx.SendBatch(ctx, b)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

type errBatch struct {
	err error
}

func (b errBatch) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, b.err }
func (b errBatch) Query() (pgx.Rows, error)         { return nil, b.err }
func (b errBatch) QueryRow() pgx.Row                { return errRow(b) }
func (b errBatch) Close() error                     { return b.err }
