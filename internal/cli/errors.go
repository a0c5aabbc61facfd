package cli

import (
	"fmt"
	"io"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
)

// PrintError prints an error to w. In verbose mode structured errors also
// print their code and cause.
func PrintError(w io.Writer, err error, verbose bool) {
	fmt.Fprintf(w, "Error: %v\n", err)

	te := tkerrors.AsTaskError(err)
	if te == nil || !verbose {
		return
	}
	fmt.Fprintf(w, "\nCode: %s\n", te.Code)
	if te.Retryable {
		fmt.Fprintln(w, "Retryable: yes")
	}
	if te.Cause != nil {
		fmt.Fprintf(w, "Cause: %v\n", te.Cause)
	}
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	te := tkerrors.AsTaskError(err)
	if te == nil {
		return 1
	}
	switch te.Category() {
	case tkerrors.CategoryBadRequest:
		return 2
	case tkerrors.CategoryNotFound:
		return 3
	case tkerrors.CategoryConflict:
		return 4
	case tkerrors.CategoryTimeout, tkerrors.CategoryUnavailable:
		return 5
	default:
		return 1
	}
}
