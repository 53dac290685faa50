package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Suraj520/automl/internal/harness"
	"github.com/Suraj520/automl/internal/parity"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a comparison found a mismatch
	ExitCommandError = 2 // bad flags, unreadable files, builders that fail to build
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps an error returned by the root command to a process exit
// code. Errors without a code, such as flag parse errors, are command errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// failures turns results into an exit error when any of them failed.
func failures(results []*harness.Result) error {
	var failed []string
	for _, r := range results {
		if !r.Pass {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(results), strings.Join(failed, ", ")))
}

type summary struct {
	Results []*harness.Result `json:"results"`
	Passed  int               `json:"passed"`
	Failed  int               `json:"failed"`
}

func writeResults(w io.Writer, format string, results []*harness.Result) error {
	if format == "json" {
		s := summary{Results: results}
		for _, r := range results {
			if r.Pass {
				s.Passed++
			} else {
				s.Failed++
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	for _, r := range results {
		status := "PASS"
		if !r.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %-32s %-16s %-15s %s\n", status, r.Name, r.Kind, r.Builder, r.Duration)
		if r.Combinations > 0 {
			fmt.Fprintf(w, "      combinations: %d\n", r.Combinations)
		}
		writeDetail(w, r)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
	}
	return nil
}

func writeDetail(w io.Writer, r *harness.Result) {
	if n := r.Names; n != nil {
		fmt.Fprintf(w, "      %s variables: %d %s, %d %s\n", n.Collection, len(n.NamesA), n.VariantA, len(n.NamesB), n.VariantB)
	}
	if o := r.Outputs; o != nil {
		writeOutputs(w, o)
	}
}

func writeOutputs(w io.Writer, o *parity.OutputsReport) {
	for _, d := range o.Outputs {
		mark := "ok"
		if !d.Pass {
			mark = "DIFF"
		}
		fmt.Fprintf(w, "      output %d %v max_abs=%.3g max_rel=%.3g mismatches=%d %s\n",
			d.Index, d.Shape, d.MaxAbsErr, d.MaxRelErr, d.Mismatches, mark)
	}
}
