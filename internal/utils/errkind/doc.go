// Package errkind defines the error kinds surfaced by retros operations.
//
// Callers classify failures with errors.Is against the sentinel values. A
// failed subprocess is reported as a *ToolError, which matches ErrToolFailed
// and keeps the captured stdout and stderr of the command.
package errkind
