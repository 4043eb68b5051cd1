// Package unitofwork drives a list of modification commands through batch
// assembly, execution and result mapping.
package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dmlbatch/internal/batch"
	"dmlbatch/internal/dbexec"
	"dmlbatch/internal/logging"
	"dmlbatch/internal/modification"
	"dmlbatch/internal/observability"
)

// SealReason says why a batch stopped accepting commands.
type SealReason string

const (
	SealRowLimit       SealReason = "row_limit"
	SealParameterLimit SealReason = "parameter_limit"
	SealScriptLength   SealReason = "script_length"
	SealEnd            SealReason = "end"
)

// Stage names the part of a run that failed.
type Stage string

const (
	// StageAssemble covers admission, sealing and pre-send checks. Nothing
	// of the failing batch reached the server.
	StageAssemble Stage = "assemble"
	// StageExecute covers sending a batch and mapping its results.
	StageExecute Stage = "execute"
)

// ExecutionError reports the batch that failed, the stage it failed in and
// how many batches completed before it.
type ExecutionError struct {
	Batch     int
	Completed int
	Stage     Stage
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Stage == StageAssemble {
		return fmt.Sprintf("assembling batch %d failed after %d completed batches: %v", e.Batch+1, e.Completed, e.Err)
	}
	return fmt.Sprintf("batch %d failed after %d completed batches: %v", e.Batch+1, e.Completed, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrNoTransport is returned by Execute when the executor has no transport.
var ErrNoTransport = errors.New("unit of work has no transport")

// BatchSummary describes one sealed batch.
type BatchSummary struct {
	ID           uuid.UUID
	Index        int
	Commands     int
	Parameters   int
	Statements   int
	TextLength   int
	LengthChecks int
	Fingerprint  uint64
	Reason       SealReason
	Report       batch.Report
	Duration     time.Duration
}

// Result summarizes a completed run.
type Result struct {
	RunID        string
	Batches      []BatchSummary
	Commands     int
	Unpropagated []*modification.Command
	Duration     time.Duration
}

// Outcome is delivered by ExecuteAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// Executor assembles commands into batches and executes them in order.
// It does not open or commit transactions; callers wrap a run in one if needed.
type Executor struct {
	Factory    *batch.Factory
	Transport  dbexec.Transport
	Mapper     batch.Mapper
	Logger     *logging.Logger
	Metrics    *observability.BatchMetrics
	RunMetrics *observability.RunMetrics
}

// Plan assembles and seals every batch without executing anything.
func (e *Executor) Plan(cmds []*modification.Command) ([]*batch.Batch, error) {
	if err := validate(cmds); err != nil {
		return nil, err
	}
	var batches []*batch.Batch
	err := e.assemble(context.Background(), cmds, func(b *batch.Batch, _ SealReason) error {
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Execute runs the commands to completion. Cancellation is checked before each
// batch starts; a batch already sent to the server is allowed to finish.
func (e *Executor) Execute(ctx context.Context, cmds []*modification.Command) (*Result, error) {
	if e.Transport == nil {
		return nil, ErrNoTransport
	}
	if err := validate(cmds); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunIDContext(ctx, runID)
	logger := e.logger().WithRunID(runID)
	start := time.Now()
	result := &Result{RunID: runID}

	stage := StageAssemble
	ctx, span := startSpan(ctx, "dmlbatch.unit_of_work", unitAttributes(len(cmds))...)
	err := e.assemble(ctx, cmds, func(b *batch.Batch, reason SealReason) error {
		stage = StageExecute
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := e.executeBatch(ctx, logger, len(result.Batches), b, reason)
		if err != nil {
			return err
		}
		stage = StageAssemble
		result.Batches = append(result.Batches, summary)
		result.Commands += summary.Commands
		result.Unpropagated = append(result.Unpropagated, summary.Report.Unpropagated...)
		return nil
	})
	result.Duration = time.Since(start)
	finishSpan(span, err)
	e.RunMetrics.RecordRun(ctx, result.Duration, len(result.Batches), err == nil, "execute")

	if err != nil {
		execErr := &ExecutionError{Batch: len(result.Batches), Completed: len(result.Batches), Stage: stage, Err: err}
		logger.Error("unit of work failed",
			slog.String("stage", string(stage)),
			slog.Int("completed_batches", len(result.Batches)),
			slog.String("error", err.Error()),
		)
		return result, execErr
	}

	logger.Info("unit of work completed",
		slog.Int("commands", result.Commands),
		slog.Int("batches", len(result.Batches)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// ExecuteAsync runs Execute in a goroutine and delivers exactly one Outcome.
func (e *Executor) ExecuteAsync(ctx context.Context, cmds []*modification.Command) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		result, err := e.Execute(ctx, cmds)
		out <- Outcome{Result: result, Err: err}
	}()
	return out
}

// Preview plans the commands and summarizes each sealed batch, including why
// it was sealed.
func (e *Executor) Preview(cmds []*modification.Command) ([]BatchSummary, error) {
	if err := validate(cmds); err != nil {
		return nil, err
	}
	var summaries []BatchSummary
	err := e.assemble(context.Background(), cmds, func(b *batch.Batch, reason SealReason) error {
		summaries = append(summaries, summarize(len(summaries), b, reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func summarize(index int, b *batch.Batch, reason SealReason) BatchSummary {
	return BatchSummary{
		ID:           b.ID(),
		Index:        index,
		Commands:     b.Len(),
		Parameters:   b.ParameterCount(),
		Statements:   len(b.Statements()),
		TextLength:   b.TextLength(),
		LengthChecks: b.LengthChecks(),
		Fingerprint:  b.Fingerprint(),
		Reason:       reason,
	}
}

func (e *Executor) executeBatch(ctx context.Context, logger *logging.Logger, index int, b *batch.Batch, reason SealReason) (BatchSummary, error) {
	summary := summarize(index, b, reason)

	ctx, span := startSpan(ctx, "dmlbatch.batch.execute", observability.BatchSpanAttributes(b, index)...)
	logger.Debug("executing batch", append(observability.BatchLogFields(ctx, b), slog.String("reason", string(reason)))...)

	e.Metrics.IncrementActiveBatches(ctx)
	start := time.Now()
	sets, err := e.Transport.Execute(context.WithoutCancel(ctx), b)
	if err == nil {
		summary.Report, err = e.Mapper.Apply(b, sets)
	}
	summary.Duration = time.Since(start)
	e.Metrics.DecrementActiveBatches(ctx)

	var concurrency *batch.ConcurrencyError
	if errors.As(err, &concurrency) {
		e.Metrics.RecordConcurrencyError(ctx, concurrency.Command.Table)
	}
	e.Metrics.RecordBatch(ctx, observability.BatchObservation{
		Dialect:      string(b.Dialect()),
		SealReason:   string(reason),
		Commands:     summary.Commands,
		Parameters:   summary.Parameters,
		TextLength:   summary.TextLength,
		LengthChecks: summary.LengthChecks,
		Duration:     summary.Duration,
		Err:          err,
	})
	e.Metrics.RecordUnpropagated(ctx, len(summary.Report.Unpropagated))
	setReportAttributes(span, summary.Report)
	finishSpan(span, err)

	if err != nil {
		return summary, err
	}
	logger.Debug("batch executed",
		slog.String("batch_id", summary.ID.String()),
		slog.Int("result_sets", len(sets)),
		slog.Int("propagated", summary.Report.Propagated),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// assemble admits commands in order, sealing a batch whenever one is rejected
// and handing each sealed batch to sink. Spilled commands are re-admitted
// ahead of the command that caused the spill.
func (e *Executor) assemble(ctx context.Context, cmds []*modification.Command, sink func(*batch.Batch, SealReason) error) error {
	queue := newCommandQueue(cmds)
	current := e.Factory.New()

	for {
		cmd, ok := queue.pop()
		if !ok {
			break
		}

		admitted, err := current.TryAdmit(cmd)
		if err != nil {
			return fmt.Errorf("admit %s: %w", cmd, err)
		}
		if admitted {
			continue
		}
		if current.Len() == 0 {
			return fmt.Errorf("admit %s: %w", cmd, batch.ErrCommandTooLarge)
		}

		spilled := current.Spilled()
		reason := e.rejectionReason(current, cmd, len(spilled) > 0)
		closeSpill, err := e.seal(ctx, current)
		if err != nil {
			return err
		}
		queue.pushFront(cmd)
		queue.pushFront(spilled...)
		queue.pushFront(closeSpill...)
		if err := sink(current, reason); err != nil {
			return err
		}
		current = e.Factory.New()
	}

	if current.Len() == 0 {
		return nil
	}
	closeSpill, err := e.seal(ctx, current)
	if err != nil {
		return err
	}
	if len(closeSpill) > 0 {
		if err := sink(current, SealScriptLength); err != nil {
			return err
		}
		return e.assemble(ctx, closeSpill, sink)
	}
	return sink(current, SealEnd)
}

func (e *Executor) seal(ctx context.Context, b *batch.Batch) ([]*modification.Command, error) {
	if err := b.Close(); err != nil {
		return nil, fmt.Errorf("seal batch %s: %w", b.ID(), err)
	}
	if err := e.Mapper.Check(b); err != nil {
		return nil, fmt.Errorf("seal batch %s: %w", b.ID(), err)
	}
	spilled := b.Spilled()
	if len(spilled) > 0 {
		e.Metrics.RecordSpilled(ctx, len(spilled))
	}
	return spilled, nil
}

func (e *Executor) rejectionReason(b *batch.Batch, cmd *modification.Command, spilled bool) SealReason {
	switch {
	case spilled:
		return SealScriptLength
	case b.Len() >= e.Factory.MaxRows():
		return SealRowLimit
	case b.ParameterCount()+cmd.ParameterCount() >= e.Factory.MaxParameters():
		return SealParameterLimit
	default:
		return SealScriptLength
	}
}

func (e *Executor) logger() *logging.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.FromContext(context.Background())
}

func validate(cmds []*modification.Command) error {
	for i, cmd := range cmds {
		if cmd == nil {
			return fmt.Errorf("%w: operation %d is nil", modification.ErrInvalidCommand, i+1)
		}
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i+1, err)
		}
	}
	return nil
}

// commandQueue yields the input in order, with pushed-back commands first.
type commandQueue struct {
	front []*modification.Command
	rest  []*modification.Command
}

func newCommandQueue(cmds []*modification.Command) *commandQueue {
	return &commandQueue{rest: cmds}
}

func (q *commandQueue) pop() (*modification.Command, bool) {
	if n := len(q.front); n > 0 {
		cmd := q.front[n-1]
		q.front = q.front[:n-1]
		return cmd, true
	}
	if len(q.rest) == 0 {
		return nil, false
	}
	cmd := q.rest[0]
	q.rest = q.rest[1:]
	return cmd, true
}

// pushFront puts cmds back so that cmds[0] is popped next.
func (q *commandQueue) pushFront(cmds ...*modification.Command) {
	for i := len(cmds) - 1; i >= 0; i-- {
		q.front = append(q.front, cmds[i])
	}
}
