// Package sqlgen renders modification commands into dialect-specific statement text.
package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"dmlbatch/internal/modification"
)

// Dialect names a SQL dialect family.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ResultShape describes the result set a rendered statement yields.
type ResultShape int

const (
	// ResultNone means the statement yields no result set.
	ResultNone ResultShape = iota
	// ResultGeneratedValues yields one row per covered command, holding its read columns.
	ResultGeneratedValues
	// ResultAffectedCount yields a single row whose first column is the affected row count.
	ResultAffectedCount
)

func (s ResultShape) String() string {
	switch s {
	case ResultNone:
		return "none"
	case ResultGeneratedValues:
		return "generated_values"
	case ResultAffectedCount:
		return "affected_count"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

var (
	ErrEmptyGroup      = errors.New("bulk insert group is empty")
	ErrIncompatible    = errors.New("bulk insert group mixes incompatible commands")
	ErrNoReadKey       = errors.New("generated values cannot be located without a key")
	ErrUnsupported     = errors.New("operation is not supported by the dialect")
	ErrUnknownDialect  = errors.New("unknown SQL dialect")
	errUnsupportedKind = errors.New("unsupported command kind")
)

// Statement is the rendered text and bound parameters for one or more commands.
type Statement struct {
	SQL    string
	Args   []any
	Result ResultShape
	// Rows is the number of commands the statement covers.
	Rows int
}

// ParamCount returns the number of bound parameters the statement consumes.
func (s Statement) ParamCount() int {
	return len(s.Args)
}

// ProducesResultSet reports whether executing the statement yields a result set.
func (s Statement) ProducesResultSet() bool {
	return s.Result != ResultNone
}

// Renderer turns commands into executable statement text.
type Renderer interface {
	Dialect() Dialect
	RenderSingle(cmd *modification.Command) (Statement, error)
	RenderBulkInsert(cmds []*modification.Command) (Statement, error)
}

// Options tunes what renderers append after the data-modifying statement.
type Options struct {
	// CheckAffectedRows appends an affected-row probe to updates and deletes
	// that read nothing back, so lost updates surface as concurrency errors.
	CheckAffectedRows bool
	// BulkIdentityConsecutive assumes a multi-row insert receives consecutive
	// identity values, which lets MySQL read generated values back per row.
	BulkIdentityConsecutive bool
}

// New returns the renderer for a dialect.
func New(dialect Dialect, opts Options) (Renderer, error) {
	switch dialect {
	case DialectMySQL:
		return NewMySQLRenderer(opts), nil
	case DialectPostgres:
		return NewPostgresRenderer(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
}

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

func checkBulkGroup(cmds []*modification.Command) error {
	if len(cmds) == 0 {
		return ErrEmptyGroup
	}
	first := cmds[0]
	if first.Kind != modification.Insert {
		return fmt.Errorf("%w: %s", ErrIncompatible, first)
	}
	for _, cmd := range cmds[1:] {
		if !first.BulkCompatible(cmd) {
			return fmt.Errorf("%w: %s after %s", ErrIncompatible, cmd, first)
		}
	}
	return nil
}

func quotedNames(cols []modification.ColumnModification, quote func(string) string) []string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quote(col.Name)
	}
	return names
}

func qualifiedTable(cmd *modification.Command, quote func(string) string) string {
	if cmd.Schema != "" {
		return quote(cmd.Schema) + "." + quote(cmd.Table)
	}
	return quote(cmd.Table)
}

// rowValues returns the VALUES entries for one insert row; literal columns
// are inlined as expressions so they consume no parameter.
func rowValues(cmd *modification.Command, literal func(any) (string, error)) ([]any, error) {
	writes := cmd.WriteColumns()
	values := make([]any, len(writes))
	for i, col := range writes {
		if !col.Literal {
			values[i] = col.Value
			continue
		}
		lit, err := literal(col.Value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values[i] = sq.Expr(lit)
	}
	return values, nil
}

func applySet(ub sq.UpdateBuilder, cmd *modification.Command, quote func(string) string, literal func(any) (string, error)) (sq.UpdateBuilder, error) {
	for _, col := range cmd.WriteColumns() {
		if !col.Literal {
			ub = ub.Set(quote(col.Name), col.Value)
			continue
		}
		lit, err := literal(col.Value)
		if err != nil {
			return ub, fmt.Errorf("column %s: %w", col.Name, err)
		}
		ub = ub.Set(quote(col.Name), sq.Expr(lit))
	}
	return ub, nil
}

// conditions renders one predicate per condition column. A nil original value
// uses the dialect's null-safe comparison so the parameter is still bound.
func conditions(cmd *modification.Command, quote func(string) string, nullSafeOp string) []sq.Sqlizer {
	conds := cmd.ConditionColumns()
	preds := make([]sq.Sqlizer, 0, len(conds))
	for _, col := range conds {
		op := "="
		if col.OriginalValue == nil {
			op = nullSafeOp
		}
		preds = append(preds, sq.Expr(fmt.Sprintf("%s %s ?", quote(col.Name), op), col.OriginalValue))
	}
	return preds
}

// keyLiteralFilter locates an updated row by its key values rendered inline.
func keyLiteralFilter(cmd *modification.Command, quote func(string) string, literal func(any) (string, error)) ([]string, error) {
	keys := cmd.KeyColumns()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoReadKey, cmd)
	}
	preds := make([]string, 0, len(keys))
	for _, col := range keys {
		value := col.OriginalValue
		if col.IsWrite {
			value = col.Value
		}
		lit, err := literal(value)
		if err != nil {
			return nil, fmt.Errorf("key column %s: %w", col.Name, err)
		}
		preds = append(preds, fmt.Sprintf("%s = %s", quote(col.Name), lit))
	}
	return preds, nil
}
