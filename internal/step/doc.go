// Package step defines the contract a step type implements and the Worker
// that runs one copy of it.
//
// A Worker owns the copy's goroutine. It calls Init once, then ProcessRow
// until the step reports completion, the transformation is stopped or a
// fatal error occurs, and finally Dispose. The step talks to the rest of the
// graph only through its *Context: GetRow, PutRow, PutRowTo and PutError.
//
// # Row errors
//
// When a step is configured with error handling, a row-level error returned
// from ProcessRow (or passed to PutError) sends the offending row, extended
// with the configured error fields, to the error hop and processing goes on.
// Without error handling the same error fails the copy and stops every other
// copy of the transformation.
package step
