// Package modification describes pending row mutations handed to the batching engine.
package modification

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the row operation a command performs.
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a lowercase kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return Insert, nil
	case "update":
		return Update, nil
	case "delete":
		return Delete, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", s)
	}
}

// ErrInvalidCommand is returned by Validate for commands that cannot be rendered.
var ErrInvalidCommand = errors.New("invalid modification command")

// ColumnModification is one column's part in a command.
type ColumnModification struct {
	Name string
	// Value is the current value. It is bound as a parameter when IsWrite is set
	// and Literal is not.
	Value any
	// OriginalValue is compared in the WHERE clause when IsCondition is set.
	OriginalValue any

	IsKey       bool
	IsWrite     bool
	IsCondition bool
	// IsRead marks a server-generated column whose final value is read back.
	IsRead bool
	// Literal renders Value inline instead of binding it.
	Literal bool
}

// UsesParameter reports whether the current value consumes a parameter slot.
func (c ColumnModification) UsesParameter() bool {
	return c.IsWrite && !c.Literal
}

// UsesOriginalParameter reports whether the original value consumes a parameter slot.
func (c ColumnModification) UsesOriginalParameter() bool {
	return c.IsCondition
}

// Command is a single row-level insert, update, or delete awaiting execution.
// It is read-only during batching; only result propagation writes to it.
type Command struct {
	Table   string
	Schema  string
	Kind    Kind
	Columns []ColumnModification

	generated map[string]any
}

// ParameterCount returns the number of bound parameters the command consumes.
func (c *Command) ParameterCount() int {
	count := 0
	for _, col := range c.Columns {
		if col.UsesParameter() {
			count++
		}
		if col.UsesOriginalParameter() {
			count++
		}
	}
	return count
}

// WriteColumns returns the columns whose values are written.
func (c *Command) WriteColumns() []ColumnModification {
	return c.filter(func(col ColumnModification) bool { return col.IsWrite })
}

// ConditionColumns returns the columns compared in the WHERE clause.
func (c *Command) ConditionColumns() []ColumnModification {
	return c.filter(func(col ColumnModification) bool { return col.IsCondition })
}

// ReadColumns returns the server-generated columns to read back.
func (c *Command) ReadColumns() []ColumnModification {
	return c.filter(func(col ColumnModification) bool { return col.IsRead })
}

// KeyColumns returns the key columns in declaration order.
func (c *Command) KeyColumns() []ColumnModification {
	return c.filter(func(col ColumnModification) bool { return col.IsKey })
}

// RequiresResultPropagation reports whether generated values must be read back.
func (c *Command) RequiresResultPropagation() bool {
	for _, col := range c.Columns {
		if col.IsRead {
			return true
		}
	}
	return false
}

func (c *Command) filter(keep func(ColumnModification) bool) []ColumnModification {
	var out []ColumnModification
	for _, col := range c.Columns {
		if keep(col) {
			out = append(out, col)
		}
	}
	return out
}

// Validate checks that the command can be rendered.
func (c *Command) Validate() error {
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidCommand)
	}
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("%w: %s on %s has an unnamed column", ErrInvalidCommand, c.Kind, c.Table)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: column %q appears twice on %s", ErrInvalidCommand, col.Name, c.Table)
		}
		seen[col.Name] = struct{}{}
	}

	switch c.Kind {
	case Insert:
		if len(c.ConditionColumns()) > 0 {
			return fmt.Errorf("%w: insert into %s cannot carry condition columns", ErrInvalidCommand, c.Table)
		}
	case Update:
		if len(c.WriteColumns()) == 0 {
			return fmt.Errorf("%w: update of %s writes no columns", ErrInvalidCommand, c.Table)
		}
		if len(c.ConditionColumns()) == 0 {
			return fmt.Errorf("%w: update of %s has no condition columns", ErrInvalidCommand, c.Table)
		}
	case Delete:
		if len(c.ConditionColumns()) == 0 {
			return fmt.Errorf("%w: delete from %s has no condition columns", ErrInvalidCommand, c.Table)
		}
		if len(c.WriteColumns()) > 0 || len(c.ReadColumns()) > 0 {
			return fmt.Errorf("%w: delete from %s cannot write or read columns", ErrInvalidCommand, c.Table)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// BulkCompatible reports whether other can share a multi-row insert with c.
func (c *Command) BulkCompatible(other *Command) bool {
	if c.Kind != Insert || other.Kind != Insert {
		return false
	}
	if c.Table != other.Table || c.Schema != other.Schema {
		return false
	}
	if len(c.Columns) != len(other.Columns) {
		return false
	}
	for i := range c.Columns {
		a, b := c.Columns[i], other.Columns[i]
		if a.Name != b.Name || a.IsWrite != b.IsWrite || a.IsRead != b.IsRead || a.IsKey != b.IsKey || a.Literal != b.Literal {
			return false
		}
	}
	return true
}

// SetGeneratedValue records a value read back from the server.
func (c *Command) SetGeneratedValue(column string, value any) {
	if c.generated == nil {
		c.generated = make(map[string]any)
	}
	c.generated[column] = value
}

// GeneratedValue returns the value read back for column, if any.
func (c *Command) GeneratedValue(column string) (any, bool) {
	v, ok := c.generated[column]
	return v, ok
}

// GeneratedValues returns a copy of all values read back for the command.
func (c *Command) GeneratedValues() map[string]any {
	out := make(map[string]any, len(c.generated))
	for k, v := range c.generated {
		out[k] = v
	}
	return out
}

func (c *Command) String() string {
	if c.Schema != "" {
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Schema, c.Table)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Table)
}
