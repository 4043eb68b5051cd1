package sqlgen

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlutil"
)

// MySQLRenderer renders commands for MySQL and TiDB. Statements are separated
// with ";\n" and use ? placeholders, so a batch runs as one multi-statement query.
type MySQLRenderer struct {
	opts Options
}

// NewMySQLRenderer creates a MySQL/TiDB renderer.
func NewMySQLRenderer(opts Options) *MySQLRenderer {
	return &MySQLRenderer{opts: opts}
}

func (r *MySQLRenderer) Dialect() Dialect {
	return DialectMySQL
}

// RenderSingle renders one command followed by its read-back or affected-row probe.
func (r *MySQLRenderer) RenderSingle(cmd *modification.Command) (Statement, error) {
	switch cmd.Kind {
	case modification.Insert:
		return r.renderInsert([]*modification.Command{cmd})
	case modification.Update:
		ub, err := applySet(sq.Update(qualifiedTable(cmd, sqlutil.QuoteIdentifier)), cmd, sqlutil.QuoteIdentifier, mysqlLiteral)
		if err != nil {
			return Statement{}, err
		}
		for _, pred := range conditions(cmd, sqlutil.QuoteIdentifier, "<=>") {
			ub = ub.Where(pred)
		}
		query, args, err := ub.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return Statement{}, err
		}
		return r.withProbe(cmd, query, args)
	case modification.Delete:
		db := sq.Delete(qualifiedTable(cmd, sqlutil.QuoteIdentifier))
		for _, pred := range conditions(cmd, sqlutil.QuoteIdentifier, "<=>") {
			db = db.Where(pred)
		}
		query, args, err := db.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return Statement{}, err
		}
		return r.withProbe(cmd, query, args)
	default:
		return Statement{}, fmt.Errorf("%w: %s", errUnsupportedKind, cmd.Kind)
	}
}

// RenderBulkInsert renders a run of compatible inserts as one multi-row INSERT.
func (r *MySQLRenderer) RenderBulkInsert(cmds []*modification.Command) (Statement, error) {
	if err := checkBulkGroup(cmds); err != nil {
		return Statement{}, err
	}
	return r.renderInsert(cmds)
}

func (r *MySQLRenderer) renderInsert(cmds []*modification.Command) (Statement, error) {
	first := cmds[0]
	table := qualifiedTable(first, sqlutil.QuoteIdentifier)
	writes := first.WriteColumns()

	var b strings.Builder
	var args []any
	if len(writes) == 0 {
		rows := make([]string, len(cmds))
		for i := range rows {
			rows[i] = "()"
		}
		fmt.Fprintf(&b, "INSERT INTO %s () VALUES %s;\n", table, strings.Join(rows, ","))
	} else {
		builder := sq.Insert(table).
			Columns(quotedNames(writes, sqlutil.QuoteIdentifier)...).
			PlaceholderFormat(sq.Question)
		for _, cmd := range cmds {
			values, err := rowValues(cmd, mysqlLiteral)
			if err != nil {
				return Statement{}, err
			}
			builder = builder.Values(values...)
		}
		query, qargs, err := builder.ToSql()
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(query)
		b.WriteString(";\n")
		args = qargs
	}

	stmt := Statement{Args: args, Rows: len(cmds)}
	reads := first.ReadColumns()
	if len(reads) == 0 {
		stmt.SQL = b.String()
		return stmt, nil
	}

	readNames := quotedNames(reads, sqlutil.QuoteIdentifier)
	switch identity, ok := r.bulkIdentity(first); {
	case len(cmds) == 1:
		preds, err := insertedRowFilter(first)
		if err != nil {
			return Statement{}, err
		}
		sel := sq.Select(readNames...).From(table).Where("ROW_COUNT() = 1")
		for _, pred := range preds {
			sel = sel.Where(pred)
		}
		query, _, err := sel.ToSql()
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(query)
		b.WriteString(";\n")
		stmt.Result = ResultGeneratedValues
	case ok:
		n := len(cmds)
		id := sqlutil.QuoteIdentifier(identity.Name)
		query, _, err := sq.Select(readNames...).
			From(table).
			Where(fmt.Sprintf("ROW_COUNT() = %d", n)).
			Where(fmt.Sprintf("%s >= LAST_INSERT_ID()", id)).
			Where(fmt.Sprintf("%s < LAST_INSERT_ID() + %d", id, n)).
			OrderBy(id).
			ToSql()
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(query)
		b.WriteString(";\n")
		stmt.Result = ResultGeneratedValues
	default:
		// Per-row values cannot be located; report the row count only.
		b.WriteString("SELECT ROW_COUNT();\n")
		stmt.Result = ResultAffectedCount
	}

	stmt.SQL = b.String()
	return stmt, nil
}

// bulkIdentity returns the single identity key when consecutive allocation is assumed.
func (r *MySQLRenderer) bulkIdentity(cmd *modification.Command) (modification.ColumnModification, bool) {
	if !r.opts.BulkIdentityConsecutive {
		return modification.ColumnModification{}, false
	}
	keys := cmd.KeyColumns()
	if len(keys) != 1 || !keys[0].IsRead {
		return modification.ColumnModification{}, false
	}
	return keys[0], true
}

func (r *MySQLRenderer) withProbe(cmd *modification.Command, query string, args []any) (Statement, error) {
	stmt := Statement{Args: args, Rows: 1}
	var b strings.Builder
	b.WriteString(query)
	b.WriteString(";\n")

	if reads := cmd.ReadColumns(); len(reads) > 0 {
		preds, err := keyLiteralFilter(cmd, sqlutil.QuoteIdentifier, mysqlLiteral)
		if err != nil {
			return Statement{}, err
		}
		sel := sq.Select(quotedNames(reads, sqlutil.QuoteIdentifier)...).
			From(qualifiedTable(cmd, sqlutil.QuoteIdentifier)).
			Where("ROW_COUNT() = 1")
		for _, pred := range preds {
			sel = sel.Where(pred)
		}
		selSQL, _, err := sel.ToSql()
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(selSQL)
		b.WriteString(";\n")
		stmt.Result = ResultGeneratedValues
	} else if r.opts.CheckAffectedRows {
		b.WriteString("SELECT ROW_COUNT();\n")
		stmt.Result = ResultAffectedCount
	}

	stmt.SQL = b.String()
	return stmt, nil
}

// insertedRowFilter locates a freshly inserted row: the identity column
// through LAST_INSERT_ID(), any other key through its inserted value.
func insertedRowFilter(cmd *modification.Command) ([]string, error) {
	keys := cmd.KeyColumns()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoReadKey, cmd)
	}
	preds := make([]string, 0, len(keys))
	identities := 0
	for _, col := range keys {
		name := sqlutil.QuoteIdentifier(col.Name)
		if col.IsRead {
			identities++
			if identities > 1 {
				return nil, fmt.Errorf("%w: multiple generated key columns on %s", ErrUnsupported, cmd.Table)
			}
			preds = append(preds, name+" = LAST_INSERT_ID()")
			continue
		}
		lit, err := mysqlLiteral(col.Value)
		if err != nil {
			return nil, fmt.Errorf("key column %s: %w", col.Name, err)
		}
		preds = append(preds, fmt.Sprintf("%s = %s", name, lit))
	}
	return preds, nil
}

// mysqlLiteral refuses literals holding '?', which the driver's client-side
// interpolation would mistake for a placeholder.
func mysqlLiteral(v any) (string, error) {
	lit, err := sqlutil.FormatLiteral(v)
	if err != nil {
		return "", err
	}
	if strings.Contains(lit, "?") {
		return "", fmt.Errorf("%w: literal containing '?'", ErrUnsupported)
	}
	return lit, nil
}
