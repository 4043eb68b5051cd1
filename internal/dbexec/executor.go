// Package dbexec executes sealed batches against a database and returns the
// result sets they produce.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"dmlbatch/internal/batch"
)

// Transport executes a closed batch and returns its result sets in order.
type Transport interface {
	Execute(ctx context.Context, b *batch.Batch) ([]batch.ResultSet, error)
}

// Rows abstracts sql.Rows including multiple result sets.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier runs a query that may return several result sets.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// SQLHandle is the query method shared by *sql.DB, *sql.Conn and *sql.Tx.
type SQLHandle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlQuerier struct {
	q SQLHandle
}

// SQLQuerier adapts a database/sql handle to Querier.
func SQLQuerier(q SQLHandle) Querier {
	return sqlQuerier{q: q}
}

func (s sqlQuerier) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if s.q == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SQLExecutor runs a batch's whole text as one multi-statement query. The
// MySQL driver needs multiStatements=true for this.
type SQLExecutor struct {
	db Querier
}

// NewSQLExecutor creates an executor over a database/sql handle.
func NewSQLExecutor(db SQLHandle) *SQLExecutor {
	return &SQLExecutor{db: SQLQuerier(db)}
}

// NewSQLExecutorWithQuerier creates an executor over a custom Querier.
func NewSQLExecutorWithQuerier(q Querier) *SQLExecutor {
	return &SQLExecutor{db: q}
}

func (e *SQLExecutor) Execute(ctx context.Context, b *batch.Batch) ([]batch.ResultSet, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	if !b.Closed() {
		return nil, batch.ErrBatchOpen
	}
	if b.Len() == 0 {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, b.Text(), b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute batch %s: %w", b.ID(), err)
	}
	defer rows.Close()

	var sets []batch.ResultSet
	for {
		cols, err := rows.Columns()
		if err != nil {
			return sets, fmt.Errorf("failed to read columns of result set %d: %w", len(sets)+1, err)
		}
		if len(cols) > 0 {
			set, err := scanResultSet(rows, cols)
			if err != nil {
				return sets, fmt.Errorf("failed to read result set %d: %w", len(sets)+1, err)
			}
			sets = append(sets, set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return sets, fmt.Errorf("batch %s failed: %w", b.ID(), err)
	}
	return sets, nil
}

func scanResultSet(rows Rows, cols []string) (batch.ResultSet, error) {
	set := batch.ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return set, err
		}
		set.Rows = append(set.Rows, values)
	}
	return set, rows.Err()
}
