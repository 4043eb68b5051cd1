package sqlgen

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlutil"
)

// PostgresRenderer renders commands for PostgreSQL. Placeholders are numbered
// per statement ($1..$n); transports send each statement separately.
type PostgresRenderer struct {
	opts Options
}

// NewPostgresRenderer creates a PostgreSQL renderer.
func NewPostgresRenderer(opts Options) *PostgresRenderer {
	return &PostgresRenderer{opts: opts}
}

func (r *PostgresRenderer) Dialect() Dialect {
	return DialectPostgres
}

// RenderSingle renders one command, using RETURNING for generated values.
func (r *PostgresRenderer) RenderSingle(cmd *modification.Command) (Statement, error) {
	switch cmd.Kind {
	case modification.Insert:
		return r.renderInsert([]*modification.Command{cmd})
	case modification.Update:
		ub, err := applySet(sq.Update(qualifiedTable(cmd, sqlutil.QuoteANSIIdentifier)), cmd, sqlutil.QuoteANSIIdentifier, postgresLiteral)
		if err != nil {
			return Statement{}, err
		}
		for _, pred := range conditions(cmd, sqlutil.QuoteANSIIdentifier, "IS NOT DISTINCT FROM") {
			ub = ub.Where(pred)
		}
		query, args, err := ub.ToSql()
		if err != nil {
			return Statement{}, err
		}
		return r.finish(cmd, query, args)
	case modification.Delete:
		db := sq.Delete(qualifiedTable(cmd, sqlutil.QuoteANSIIdentifier))
		for _, pred := range conditions(cmd, sqlutil.QuoteANSIIdentifier, "IS NOT DISTINCT FROM") {
			db = db.Where(pred)
		}
		query, args, err := db.ToSql()
		if err != nil {
			return Statement{}, err
		}
		return r.finish(cmd, query, args)
	default:
		return Statement{}, fmt.Errorf("%w: %s", errUnsupportedKind, cmd.Kind)
	}
}

// RenderBulkInsert renders a run of compatible inserts as one multi-row INSERT.
func (r *PostgresRenderer) RenderBulkInsert(cmds []*modification.Command) (Statement, error) {
	if err := checkBulkGroup(cmds); err != nil {
		return Statement{}, err
	}
	return r.renderInsert(cmds)
}

func (r *PostgresRenderer) renderInsert(cmds []*modification.Command) (Statement, error) {
	first := cmds[0]
	table := qualifiedTable(first, sqlutil.QuoteANSIIdentifier)
	writes := first.WriteColumns()
	reads := first.ReadColumns()

	var query string
	var args []any
	switch {
	case len(writes) > 0:
		builder := sq.Insert(table).Columns(quotedNames(writes, sqlutil.QuoteANSIIdentifier)...)
		for _, cmd := range cmds {
			values, err := rowValues(cmd, postgresLiteral)
			if err != nil {
				return Statement{}, err
			}
			builder = builder.Values(values...)
		}
		q, qargs, err := builder.ToSql()
		if err != nil {
			return Statement{}, err
		}
		query, args = q, qargs
	case len(cmds) == 1:
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	case len(first.Columns) > 0:
		rows := make([]string, len(cmds))
		for i := range rows {
			rows[i] = "(DEFAULT)"
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, sqlutil.QuoteANSIIdentifier(first.Columns[0].Name), strings.Join(rows, ","))
	default:
		return Statement{}, fmt.Errorf("%w: multi-row insert into %s without columns", ErrUnsupported, first.Table)
	}

	stmt := Statement{Args: args, Rows: len(cmds)}
	if len(reads) > 0 {
		query += " RETURNING " + strings.Join(quotedNames(reads, sqlutil.QuoteANSIIdentifier), ", ")
		stmt.Result = ResultGeneratedValues
	}
	sql, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return Statement{}, err
	}
	stmt.SQL = sql + ";\n"
	return stmt, nil
}

func (r *PostgresRenderer) finish(cmd *modification.Command, query string, args []any) (Statement, error) {
	stmt := Statement{Args: args, Rows: 1}
	if reads := cmd.ReadColumns(); len(reads) > 0 {
		query += " RETURNING " + strings.Join(quotedNames(reads, sqlutil.QuoteANSIIdentifier), ", ")
		stmt.Result = ResultGeneratedValues
	} else if r.opts.CheckAffectedRows {
		query = fmt.Sprintf("WITH affected AS (%s RETURNING 1) SELECT count(*) FROM affected", query)
		stmt.Result = ResultAffectedCount
	}
	sql, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return Statement{}, err
	}
	stmt.SQL = sql + ";\n"
	return stmt, nil
}

// postgresLiteral escapes '?' so placeholder numbering leaves literals intact.
func postgresLiteral(v any) (string, error) {
	lit, err := sqlutil.FormatLiteral(v)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(lit, "?", "??"), nil
}
