package batch

import (
	"fmt"

	"dmlbatch/internal/modification"
)

// isCommandTextValid runs the amortized script length check for the command
// just admitted. The check fires when the countdown reaches zero. On overflow
// the triggering command is rolled back and false is returned.
func (b *Batch) isCommandTextValid() (bool, error) {
	b.commandsLeftToLengthCheck--
	if b.commandsLeftToLengthCheck > 0 {
		return true, nil
	}

	b.lengthChecks++
	length, err := b.measure()
	if err != nil {
		b.truncate(len(b.commands) - 1)
		return false, err
	}
	if length < b.limits.maxScriptLength {
		b.rearm(length)
		return true, nil
	}

	trigger := b.commands[len(b.commands)-1]
	if len(b.commands) == 1 {
		b.truncate(0)
		return false, fmt.Errorf("%w: %s renders to %d bytes, limit is %d",
			ErrCommandTooLarge, trigger, length, b.limits.maxScriptLength)
	}
	b.truncate(len(b.commands) - 1)
	if err := b.shrinkToFit(); err != nil {
		return false, err
	}
	return false, nil
}

// measure returns the script length with every admitted command rendered.
func (b *Batch) measure() (int, error) {
	if err := b.materialize(); err != nil {
		return 0, err
	}
	pending, err := b.renderPending()
	if err != nil {
		return 0, err
	}
	return b.cachedText.Len() + len(pending.SQL), nil
}

// shrinkToFit moves trailing commands into the spill list until the text is
// under the limit. Spilled commands keep their relative order.
func (b *Batch) shrinkToFit() error {
	var spilled []*modification.Command
	for {
		length, err := b.measure()
		if err != nil {
			return err
		}
		if length < b.limits.maxScriptLength {
			b.spilled = spilled
			if len(b.commands) > 0 {
				b.rearm(length)
			}
			return nil
		}
		if len(b.commands) <= 1 {
			return fmt.Errorf("%w: %s renders to %d bytes, limit is %d",
				ErrCommandTooLarge, b.commands[0], length, b.limits.maxScriptLength)
		}
		last := len(b.commands) - 1
		spilled = append([]*modification.Command{b.commands[last]}, spilled...)
		b.truncate(last)
	}
}

// rearm schedules the next check from the average command length, keeping
// headroom so the limit is not overshot between checks.
func (b *Batch) rearm(length int) {
	avg := length / len(b.commands)
	if avg < 1 {
		avg = 1
	}
	capacity := (b.limits.maxScriptLength - length) / avg
	b.commandsLeftToLengthCheck = max(1, capacity/b.limits.headroomDivisor)
}
