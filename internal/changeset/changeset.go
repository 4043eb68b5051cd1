// Package changeset loads an ordered list of modification commands from YAML.
package changeset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/setutil"
	"dmlbatch/internal/uuidutil"
)

// ErrInvalidChangeset is returned for documents that cannot be turned into commands.
var ErrInvalidChangeset = errors.New("invalid changeset")

// File is the document root.
type File struct {
	Operations []Operation `yaml:"operations"`
}

// Operation describes one row-level command.
type Operation struct {
	Kind    string   `yaml:"kind"`
	Table   string   `yaml:"table"`
	Schema  string   `yaml:"schema,omitempty"`
	Columns []Column `yaml:"columns"`
}

// Column describes one column of an operation. Write and Condition are
// inferred from the operation kind when omitted.
type Column struct {
	Name      string    `yaml:"name"`
	Value     yaml.Node `yaml:"value,omitempty"`
	Original  yaml.Node `yaml:"original,omitempty"`
	Key       bool      `yaml:"key,omitempty"`
	Read      bool      `yaml:"read,omitempty"`
	Literal   bool      `yaml:"literal,omitempty"`
	Write     *bool     `yaml:"write,omitempty"`
	Condition *bool     `yaml:"condition,omitempty"`
	// UUID names the storage type of a UUID column (char, binary, ...).
	// Values are normalized, and sent as 16 bytes for binary storage.
	UUID string `yaml:"uuid,omitempty"`
	// Set lists the members of a SET column in declaration order. Values may
	// then be sequences and are sent as the canonical comma separated list.
	Set []string `yaml:"set,omitempty"`
}

// Load reads a changeset from path; "-" reads standard input.
func Load(path string) ([]*modification.Command, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open changeset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a changeset document and validates every command.
func Parse(r io.Reader) ([]*modification.Command, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidChangeset, err)
	}

	cmds := make([]*modification.Command, 0, len(doc.Operations))
	for i, op := range doc.Operations {
		cmd, err := op.Command()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Command converts the operation into a validated command.
func (op Operation) Command() (*modification.Command, error) {
	kind, err := modification.ParseKind(op.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChangeset, err)
	}

	cmd := &modification.Command{
		Table:   strings.TrimSpace(op.Table),
		Schema:  strings.TrimSpace(op.Schema),
		Kind:    kind,
		Columns: make([]modification.ColumnModification, 0, len(op.Columns)),
	}
	for _, col := range op.Columns {
		mod, err := col.modification(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %v", ErrInvalidChangeset, col.Name, err)
		}
		cmd.Columns = append(cmd.Columns, mod)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (c Column) modification(kind modification.Kind) (modification.ColumnModification, error) {
	decode := scalar
	if len(c.Set) > 0 {
		decode = c.setMembers
	}
	value, err := decode(c.Value)
	if err != nil {
		return modification.ColumnModification{}, fmt.Errorf("value: %w", err)
	}
	original, err := decode(c.Original)
	if err != nil {
		return modification.ColumnModification{}, fmt.Errorf("original: %w", err)
	}
	if c.UUID != "" {
		if value, err = uuidutil.Encode(value, c.UUID); err != nil {
			return modification.ColumnModification{}, fmt.Errorf("value: %w", err)
		}
		if original, err = uuidutil.Encode(original, c.UUID); err != nil {
			return modification.ColumnModification{}, fmt.Errorf("original: %w", err)
		}
	}

	hasValue := present(c.Value)
	hasOriginal := present(c.Original)

	var write, condition bool
	switch kind {
	case modification.Insert:
		write = !c.Read
	case modification.Update:
		write = hasValue
		condition = c.Key || hasOriginal
	case modification.Delete:
		condition = c.Key || hasOriginal
	}
	if c.Write != nil {
		write = *c.Write
	}
	if c.Condition != nil {
		condition = *c.Condition
	}
	if condition && !hasOriginal && kind != modification.Insert {
		return modification.ColumnModification{}, errors.New("condition column needs an original value")
	}

	return modification.ColumnModification{
		Name:          strings.TrimSpace(c.Name),
		Value:         value,
		OriginalValue: original,
		IsKey:         c.Key,
		IsWrite:       write,
		IsCondition:   condition,
		IsRead:        c.Read,
		Literal:       c.Literal,
	}, nil
}

// setMembers decodes a SET column value given as a sequence or a scalar.
func (c Column) setMembers(n yaml.Node) (any, error) {
	if !present(n) {
		return nil, nil
	}
	var raw any
	switch n.Kind {
	case yaml.SequenceNode:
		var members []any
		if err := n.Decode(&members); err != nil {
			return nil, err
		}
		raw = members
	case yaml.ScalarNode:
		v, err := scalar(n)
		if err != nil || v == nil {
			return v, err
		}
		raw = v
	default:
		return nil, fmt.Errorf("line %d: set values must be a sequence or a string", n.Line)
	}
	return setutil.CanonicalizeAny(raw, c.Set)
}

func present(n yaml.Node) bool {
	return n.Kind != 0
}

// scalar decodes a scalar node. Integers become int64 so drivers bind them
// without conversion.
func scalar(n yaml.Node) (any, error) {
	if !present(n) {
		return nil, nil
	}
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: only scalar values are supported", n.Line)
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	if i, ok := v.(int); ok {
		return int64(i), nil
	}
	return v, nil
}
