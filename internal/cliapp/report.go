package cliapp

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"dmlbatch/internal/modification"
	"dmlbatch/internal/sqlgen"
	"dmlbatch/internal/unitofwork"
)

// Report is the document printed at the end of a run.
type Report struct {
	RunID        string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Dialect      string            `json:"dialect" yaml:"dialect"`
	DryRun       bool              `json:"dry_run" yaml:"dry_run"`
	Commands     int               `json:"commands" yaml:"commands"`
	Executed     int               `json:"executed" yaml:"executed"`
	Batches      []BatchReport     `json:"batches" yaml:"batches"`
	Generated    []GeneratedValues `json:"generated,omitempty" yaml:"generated,omitempty"`
	Unpropagated []int             `json:"unpropagated,omitempty" yaml:"unpropagated,omitempty"`
	Duration     string            `json:"duration,omitempty" yaml:"duration,omitempty"`
	RolledBack   bool              `json:"rolled_back,omitempty" yaml:"rolled_back,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchReport describes one batch.
type BatchReport struct {
	ID           string `json:"id" yaml:"id"`
	Commands     int    `json:"commands" yaml:"commands"`
	Parameters   int    `json:"parameters" yaml:"parameters"`
	Statements   int    `json:"statements" yaml:"statements"`
	TextLength   int    `json:"text_length" yaml:"text_length"`
	LengthChecks int    `json:"length_checks" yaml:"length_checks"`
	Fingerprint  string `json:"fingerprint" yaml:"fingerprint"`
	Reason       string `json:"sealed_by" yaml:"sealed_by"`
	Propagated   int    `json:"propagated,omitempty" yaml:"propagated,omitempty"`
	Verified     int    `json:"verified,omitempty" yaml:"verified,omitempty"`
	Duration     string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// GeneratedValues lists what the server returned for one operation.
// Operation is the zero-based index in the changeset.
type GeneratedValues struct {
	Operation int            `json:"operation" yaml:"operation"`
	Target    string         `json:"target" yaml:"target"`
	Values    map[string]any `json:"values" yaml:"values"`
}

func newPlanReport(dialect sqlgen.Dialect, commands int, summaries []unitofwork.BatchSummary) *Report {
	report := &Report{
		Dialect:  string(dialect),
		DryRun:   true,
		Commands: commands,
		Batches:  make([]BatchReport, 0, len(summaries)),
	}
	for _, s := range summaries {
		report.Batches = append(report.Batches, batchReport(s))
	}
	return report
}

func newRunReport(dialect sqlgen.Dialect, cmds []*modification.Command, result *unitofwork.Result, runErr error) *Report {
	report := &Report{
		Dialect:  string(dialect),
		Commands: len(cmds),
		Batches:  []BatchReport{},
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	if result == nil {
		return report
	}

	report.RunID = result.RunID
	report.Executed = result.Commands
	report.Duration = result.Duration.Round(time.Microsecond).String()
	for _, s := range result.Batches {
		report.Batches = append(report.Batches, batchReport(s))
	}

	index := make(map[*modification.Command]int, len(cmds))
	for i, cmd := range cmds {
		index[cmd] = i
		values := cmd.GeneratedValues()
		if len(values) == 0 {
			continue
		}
		for k, v := range values {
			if b, ok := v.([]byte); ok {
				values[k] = string(b)
			}
		}
		report.Generated = append(report.Generated, GeneratedValues{
			Operation: i,
			Target:    cmd.String(),
			Values:    values,
		})
	}
	for _, cmd := range result.Unpropagated {
		report.Unpropagated = append(report.Unpropagated, index[cmd])
	}
	return report
}

func batchReport(s unitofwork.BatchSummary) BatchReport {
	br := BatchReport{
		ID:           s.ID.String(),
		Commands:     s.Commands,
		Parameters:   s.Parameters,
		Statements:   s.Statements,
		TextLength:   s.TextLength,
		LengthChecks: s.LengthChecks,
		Fingerprint:  fmt.Sprintf("%016x", s.Fingerprint),
		Reason:       string(s.Reason),
		Propagated:   s.Report.Propagated,
		Verified:     s.Report.Verified,
	}
	if s.Duration > 0 {
		br.Duration = s.Duration.Round(time.Microsecond).String()
	}
	return br
}

// WriteReport encodes report as yaml or json.
func WriteReport(w io.Writer, format string, report *Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
