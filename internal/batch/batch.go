// Package batch packs modification commands into executable batches under
// row, parameter and script-length limits, and maps the returned result sets
// back onto the commands.
package batch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
)

var (
	// ErrBatchClosed is returned when a command is offered to a sealed batch.
	ErrBatchClosed = errors.New("batch is closed")
	// ErrCommandTooLarge is returned for a command that cannot fit even an empty batch.
	ErrCommandTooLarge = errors.New("command exceeds batch limits on its own")
	// ErrInconsistentBatch is returned when rendered parameters disagree with admitted ones.
	ErrInconsistentBatch = errors.New("rendered batch disagrees with admitted commands")
)

// segment is one rendered statement covering commands[first..last].
type segment struct {
	first, last int
	stmt        sqlgen.Statement
	textStart   int
}

// Batch accumulates commands until a limit is hit. It is owned by a single
// goroutine and becomes immutable after Close.
type Batch struct {
	id       uuid.UUID
	limits   limits
	renderer sqlgen.Renderer

	commands   []*modification.Command
	mapping    []ResultSetMapping
	cachedText bytes.Buffer
	segments   []segment
	segmentOf  []int
	pending    []int

	lastCachedCommandIndex    int
	parameterCount            int
	commandsLeftToLengthCheck int
	lengthChecks              int

	spilled []*modification.Command
	closed  bool
}

// TryAdmit offers cmd to the batch. A false result with a nil error means the
// batch is full and cmd should start the next one. After a length overflow,
// Spilled lists commands that were moved out to make the text fit; they must
// be executed before cmd.
func (b *Batch) TryAdmit(cmd *modification.Command) (bool, error) {
	if b.closed {
		return false, ErrBatchClosed
	}
	b.spilled = nil

	if len(b.commands) >= b.limits.maxRows {
		return false, nil
	}

	additional := cmd.ParameterCount()
	if b.parameterCount+additional >= b.limits.maxParameters {
		if len(b.commands) == 0 {
			return false, fmt.Errorf("%w: %s needs %d parameters, limit is %d",
				ErrCommandTooLarge, cmd, additional, b.limits.maxParameters)
		}
		return false, nil
	}

	b.parameterCount += additional
	b.commands = append(b.commands, cmd)
	b.mapping = append(b.mapping, initialMapping(cmd))

	ok, err := b.isCommandTextValid()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Close materializes any unrendered commands and seals the batch. If the
// final text exceeds the script length limit, trailing commands are moved to
// Spilled. Close is idempotent.
func (b *Batch) Close() error {
	if b.closed {
		return nil
	}
	b.spilled = nil
	if err := b.materialize(); err != nil {
		return err
	}
	if err := b.flushPending(); err != nil {
		return err
	}
	if b.cachedText.Len() >= b.limits.maxScriptLength {
		if err := b.shrinkToFit(); err != nil {
			return err
		}
		if err := b.flushPending(); err != nil {
			return err
		}
	}

	args := 0
	for _, seg := range b.segments {
		args += seg.stmt.ParamCount()
	}
	if args != b.parameterCount-1 {
		return fmt.Errorf("%w: rendered %d parameters, admitted %d", ErrInconsistentBatch, args, b.parameterCount-1)
	}

	b.segmentOf = make([]int, len(b.commands))
	for i, seg := range b.segments {
		for j := seg.first; j <= seg.last; j++ {
			b.segmentOf[j] = i
		}
	}
	b.closed = true
	return nil
}

// truncate rolls the batch back to its first n commands. A bulk segment that
// straddles n is dropped from the text and its surviving commands re-pended.
func (b *Batch) truncate(n int) {
	if n >= len(b.commands) {
		return
	}

	var repend []int
	for len(b.segments) > 0 {
		seg := b.segments[len(b.segments)-1]
		if seg.last < n {
			break
		}
		b.cachedText.Truncate(seg.textStart)
		b.segments = b.segments[:len(b.segments)-1]
		for i := seg.first; i < n; i++ {
			repend = append(repend, i)
		}
	}

	kept := b.pending[:0:0]
	for _, i := range b.pending {
		if i < n {
			kept = append(kept, i)
		}
	}
	b.pending = append(repend, kept...)
	for _, i := range b.pending {
		b.mapping[i] = initialMapping(b.commands[i])
	}

	for i := n; i < len(b.commands); i++ {
		b.parameterCount -= b.commands[i].ParameterCount()
	}
	clear(b.commands[n:])
	b.commands = b.commands[:n]
	b.mapping = b.mapping[:n]
	if b.lastCachedCommandIndex >= n {
		b.lastCachedCommandIndex = n - 1
	}
}

// ID identifies the batch in logs and spans.
func (b *Batch) ID() uuid.UUID { return b.id }

// Len returns the number of admitted commands.
func (b *Batch) Len() int { return len(b.commands) }

// Closed reports whether the batch is sealed.
func (b *Batch) Closed() bool { return b.closed }

// ParameterCount returns the parameter count including the implicit command-text parameter.
func (b *Batch) ParameterCount() int { return b.parameterCount }

// LengthChecks returns the number of script length measurements taken.
func (b *Batch) LengthChecks() int { return b.lengthChecks }

// Dialect returns the dialect the batch is rendered in.
func (b *Batch) Dialect() sqlgen.Dialect { return b.renderer.Dialect() }

// Commands returns the admitted commands in order.
func (b *Batch) Commands() []*modification.Command {
	return append([]*modification.Command(nil), b.commands...)
}

// Mapping returns the result-set tag of each command.
func (b *Batch) Mapping() []ResultSetMapping {
	return append([]ResultSetMapping(nil), b.mapping...)
}

// Spilled returns the commands moved out of the batch by the last length overflow.
func (b *Batch) Spilled() []*modification.Command {
	return append([]*modification.Command(nil), b.spilled...)
}

// Text returns the rendered command text.
func (b *Batch) Text() string { return b.cachedText.String() }

// TextLength returns the length of the rendered command text in bytes.
func (b *Batch) TextLength() int { return b.cachedText.Len() }

// Fingerprint hashes the rendered text so identical batches can be correlated in logs.
func (b *Batch) Fingerprint() uint64 { return xxhash.Sum64(b.cachedText.Bytes()) }

// Args returns the bound parameters of the whole batch in text order.
func (b *Batch) Args() []any {
	args := make([]any, 0, b.parameterCount-1)
	for _, seg := range b.segments {
		args = append(args, seg.stmt.Args...)
	}
	return args
}

// Statements returns the rendered statements in order.
func (b *Batch) Statements() []sqlgen.Statement {
	out := make([]sqlgen.Statement, len(b.segments))
	for i, seg := range b.segments {
		out[i] = seg.stmt
	}
	return out
}
