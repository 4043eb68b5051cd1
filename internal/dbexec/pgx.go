package dbexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dmlbatch/internal/batch"
)

// BatchSender is implemented by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgxExecutor queues each statement of a batch in one pgx.Batch, so the
// whole batch is a single network round trip.
type PgxExecutor struct {
	conn BatchSender
}

// NewPgxExecutor creates an executor over a pgx connection, pool or transaction.
func NewPgxExecutor(conn BatchSender) *PgxExecutor {
	return &PgxExecutor{conn: conn}
}

func (e *PgxExecutor) Execute(ctx context.Context, b *batch.Batch) (sets []batch.ResultSet, err error) {
	if e.conn == nil {
		return nil, errors.New("pgx executor has no connection")
	}
	if !b.Closed() {
		return nil, batch.ErrBatchOpen
	}
	stmts := b.Statements()
	if len(stmts) == 0 {
		return nil, nil
	}

	pb := &pgx.Batch{}
	for _, stmt := range stmts {
		pb.Queue(stmt.SQL, stmt.Args...)
	}

	results := e.conn.SendBatch(ctx, pb)
	defer func() {
		if cerr := results.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("batch %s failed: %w", b.ID(), cerr)
		}
	}()

	for i, stmt := range stmts {
		if !stmt.ProducesResultSet() {
			if _, err := results.Exec(); err != nil {
				return sets, fmt.Errorf("statement %d of batch %s failed: %w", i+1, b.ID(), err)
			}
			continue
		}

		rows, err := results.Query()
		if err != nil {
			return sets, fmt.Errorf("statement %d of batch %s failed: %w", i+1, b.ID(), err)
		}
		set, err := collectPgxRows(rows)
		if err != nil {
			return sets, fmt.Errorf("failed to read result of statement %d: %w", i+1, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func collectPgxRows(rows pgx.Rows) (batch.ResultSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	set := batch.ResultSet{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		set.Columns[i] = fd.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return set, err
		}
		set.Rows = append(set.Rows, values)
	}
	return set, rows.Err()
}
