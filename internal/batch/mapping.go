package batch

import (
	"fmt"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

// ResultSetMapping tells the mapper whether a command's execution yields a
// result set it must consume.
type ResultSetMapping int

const (
	// NoResultSet means the command yields nothing to consume.
	NoResultSet ResultSetMapping = iota
	// HasResultSet means the command yields its own result set.
	HasResultSet
	// NotLastInResultSet marks the last command of a bulk group whose single
	// result set covers the whole group.
	NotLastInResultSet
)

func (m ResultSetMapping) String() string {
	switch m {
	case NoResultSet:
		return "no_result_set"
	case HasResultSet:
		return "has_result_set"
	case NotLastInResultSet:
		return "not_last_in_result_set"
	default:
		return fmt.Sprintf("mapping(%d)", int(m))
	}
}

// initialMapping is the tag a command carries before it is rendered.
func initialMapping(cmd *modification.Command) ResultSetMapping {
	if cmd.RequiresResultPropagation() {
		return HasResultSet
	}
	return NoResultSet
}

func singleMapping(stmt sqlgen.Statement) ResultSetMapping {
	if stmt.ProducesResultSet() {
		return HasResultSet
	}
	return NoResultSet
}
