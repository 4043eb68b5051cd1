package batch

import (
	"errors"
	"fmt"
	"strconv"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

var (
	// ErrResultSetMismatch is returned when the server returns more or fewer
	// result sets, rows or columns than the batch predicts.
	ErrResultSetMismatch = errors.New("result sets do not match the batch")
	// ErrGeneratedValuesUnavailable is returned when a bulk insert could only
	// report a row count and the policy requires per-row generated values.
	ErrGeneratedValuesUnavailable = errors.New("generated values cannot be read back for a bulk insert")
	// ErrBatchOpen is returned when mapping results onto a batch that was never closed.
	ErrBatchOpen = errors.New("batch is not closed")
)

// ConcurrencyError reports a command that affected fewer rows than expected,
// usually because the row was changed or removed since it was read.
type ConcurrencyError struct {
	Command  *modification.Command
	Expected int64
	Actual   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s affected %d rows, expected %d; the row may have been modified or deleted",
		e.Command, e.Actual, e.Expected)
}

// ResultSet is one result set returned by executing a batch.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// BulkReadbackPolicy decides what happens when a bulk insert cannot return
// per-row generated values.
type BulkReadbackPolicy int

const (
	// PolicyFail fails the batch with ErrGeneratedValuesUnavailable.
	PolicyFail BulkReadbackPolicy = iota
	// PolicySkip verifies the row count and reports the commands as unpropagated.
	PolicySkip
)

// ParseBulkReadbackPolicy maps a config value to a policy.
func ParseBulkReadbackPolicy(s string) (BulkReadbackPolicy, error) {
	switch s {
	case "", "fail":
		return PolicyFail, nil
	case "skip":
		return PolicySkip, nil
	default:
		return PolicyFail, fmt.Errorf("unknown bulk generated values policy %q", s)
	}
}

// Report summarizes what the mapper applied.
type Report struct {
	// Propagated counts commands that received generated values.
	Propagated int
	// Verified counts commands whose affected row count was checked.
	Verified int
	// Unpropagated lists commands whose generated values were not read back.
	Unpropagated []*modification.Command
}

// Mapper applies result sets to the commands of a closed batch.
type Mapper struct {
	Policy BulkReadbackPolicy
}

// Apply walks the batch's commands in order, consuming one result set for
// each command tagged HasResultSet or NotLastInResultSet.
func (m Mapper) Apply(b *Batch, sets []ResultSet) (Report, error) {
	var report Report
	if !b.closed {
		return report, ErrBatchOpen
	}

	next := 0
	for i, tag := range b.mapping {
		if tag == NoResultSet {
			continue
		}
		if next >= len(sets) {
			return report, fmt.Errorf("%w: command %d (%s) expects result set %d, got %d",
				ErrResultSetMismatch, i, b.commands[i], next+1, len(sets))
		}

		seg := b.segments[b.segmentOf[i]]
		group := b.commands[i : i+1]
		if tag == NotLastInResultSet {
			group = b.commands[seg.first : i+1]
		}
		if err := m.consume(group, seg.stmt.Result, sets[next], &report); err != nil {
			return report, err
		}
		next++
	}

	if next != len(sets) {
		return report, fmt.Errorf("%w: consumed %d result sets, server returned %d", ErrResultSetMismatch, next, len(sets))
	}
	return report, nil
}

// Check reports, before a closed batch is sent, whether applying its results
// would fail under the policy: a bulk insert that can only return a row count
// while one of its commands expects generated values.
func (m Mapper) Check(b *Batch) error {
	if !b.closed {
		return ErrBatchOpen
	}
	if m.Policy != PolicyFail {
		return nil
	}
	for _, seg := range b.segments {
		if seg.stmt.Result != sqlgen.ResultAffectedCount || seg.last == seg.first {
			continue
		}
		for _, cmd := range b.commands[seg.first : seg.last+1] {
			if cmd.RequiresResultPropagation() {
				return fmt.Errorf("%w: %s in a group of %d", ErrGeneratedValuesUnavailable, cmd, seg.last-seg.first+1)
			}
		}
	}
	return nil
}

func (m Mapper) consume(group []*modification.Command, shape sqlgen.ResultShape, set ResultSet, report *Report) error {
	switch shape {
	case sqlgen.ResultGeneratedValues:
		return applyGeneratedValues(group, set, report)
	case sqlgen.ResultAffectedCount:
		return m.applyAffectedCount(group, set, report)
	default:
		return fmt.Errorf("%w: %s has no result set to consume", ErrResultSetMismatch, group[0])
	}
}

func applyGeneratedValues(group []*modification.Command, set ResultSet, report *Report) error {
	if len(set.Rows) < len(group) {
		return &ConcurrencyError{
			Command:  group[len(set.Rows)],
			Expected: int64(len(group)),
			Actual:   int64(len(set.Rows)),
		}
	}
	if len(set.Rows) > len(group) {
		return fmt.Errorf("%w: %s returned %d rows for %d commands",
			ErrResultSetMismatch, group[0], len(set.Rows), len(group))
	}

	for r, cmd := range group {
		reads := cmd.ReadColumns()
		row := set.Rows[r]
		if len(row) != len(reads) {
			return fmt.Errorf("%w: %s expects %d generated columns, got %d",
				ErrResultSetMismatch, cmd, len(reads), len(row))
		}
		for c, col := range reads {
			cmd.SetGeneratedValue(col.Name, row[c])
		}
		report.Propagated++
	}
	return nil
}

func (m Mapper) applyAffectedCount(group []*modification.Command, set ResultSet, report *Report) error {
	if len(set.Rows) != 1 || len(set.Rows[0]) == 0 {
		return fmt.Errorf("%w: %s expects a single row count, got %d rows",
			ErrResultSetMismatch, group[0], len(set.Rows))
	}
	count, err := toInt64(set.Rows[0][0])
	if err != nil {
		return fmt.Errorf("%w: %s row count: %v", ErrResultSetMismatch, group[0], err)
	}
	if count != int64(len(group)) {
		return &ConcurrencyError{Command: group[0], Expected: int64(len(group)), Actual: count}
	}
	report.Verified += len(group)

	for _, cmd := range group {
		if !cmd.RequiresResultPropagation() {
			continue
		}
		if m.Policy == PolicyFail {
			// Check rejects this shape before execution.
			return fmt.Errorf("%w: %s in a group of %d", ErrGeneratedValuesUnavailable, cmd, len(group))
		}
		report.Unpropagated = append(report.Unpropagated, cmd)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected row count type %T", v)
	}
}
