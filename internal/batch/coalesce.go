package batch

import (
	"errors"
	"fmt"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

var errUnknownKind = errors.New("unknown command kind")

// materialize renders every admitted command not yet reflected in the cached
// text. Inserts are held in the pending group until something breaks the run.
func (b *Batch) materialize() error {
	for i := b.lastCachedCommandIndex + 1; i < len(b.commands); i++ {
		if err := b.updateCachedCommandText(i); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) updateCachedCommandText(i int) error {
	cmd := b.commands[i]
	switch cmd.Kind {
	case modification.Insert:
		if len(b.pending) > 0 && !b.commands[b.pending[0]].BulkCompatible(cmd) {
			if err := b.flushPending(); err != nil {
				return err
			}
		}
		b.pending = append(b.pending, i)
	case modification.Update, modification.Delete:
		if err := b.flushPending(); err != nil {
			return err
		}
		stmt, err := b.renderer.RenderSingle(cmd)
		if err != nil {
			return fmt.Errorf("render %s: %w", cmd, err)
		}
		b.appendSegment(i, i, stmt)
		b.mapping[i] = singleMapping(stmt)
	default:
		return fmt.Errorf("%w: %s", errUnknownKind, cmd.Kind)
	}
	b.lastCachedCommandIndex = i
	return nil
}

// flushPending renders the pending insert group into the cached text.
func (b *Batch) flushPending() error {
	if len(b.pending) == 0 {
		return nil
	}
	stmt, err := b.renderPending()
	if err != nil {
		return err
	}

	first, last := b.pending[0], b.pending[len(b.pending)-1]
	b.appendSegment(first, last, stmt)
	if first == last {
		b.mapping[first] = singleMapping(stmt)
	} else {
		for i := first; i <= last; i++ {
			b.mapping[i] = NoResultSet
		}
		if stmt.ProducesResultSet() {
			b.mapping[last] = NotLastInResultSet
		}
	}
	b.pending = nil
	return nil
}

// renderPending renders the pending group without committing it to the text.
func (b *Batch) renderPending() (sqlgen.Statement, error) {
	switch len(b.pending) {
	case 0:
		return sqlgen.Statement{}, nil
	case 1:
		cmd := b.commands[b.pending[0]]
		stmt, err := b.renderer.RenderSingle(cmd)
		if err != nil {
			return sqlgen.Statement{}, fmt.Errorf("render %s: %w", cmd, err)
		}
		return stmt, nil
	}

	cmds := make([]*modification.Command, len(b.pending))
	for i, idx := range b.pending {
		cmds[i] = b.commands[idx]
	}
	stmt, err := b.renderer.RenderBulkInsert(cmds)
	if err != nil {
		return sqlgen.Statement{}, fmt.Errorf("render bulk %s x%d: %w", cmds[0], len(cmds), err)
	}
	return stmt, nil
}

func (b *Batch) appendSegment(first, last int, stmt sqlgen.Statement) {
	b.segments = append(b.segments, segment{
		first:     first,
		last:      last,
		stmt:      stmt,
		textStart: b.cachedText.Len(),
	})
	b.cachedText.WriteString(stmt.SQL)
}
