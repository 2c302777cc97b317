package errkind

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrToolMissing       = errors.New("external tool not installed")
	ErrToolFailed        = errors.New("external tool failed")
	ErrMalformedMetadata = errors.New("malformed package metadata")
	ErrResourceBusy      = errors.New("resource busy")
)

// Process exit codes, one per error kind.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitUsage             = 2
	ExitNotFound          = 3
	ExitToolMissing       = 4
	ExitToolFailed        = 5
	ExitMalformedMetadata = 6
	ExitResourceBusy      = 7
)

// ToolError describes an external command that ran and exited non-zero.
// The captured streams are kept verbatim for debugging.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if diag := e.Diagnostic(); diag != "" {
		msg += ": " + diag
	}
	return msg
}

// Is makes every ToolError match ErrToolFailed.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailed
}

// Diagnostic returns the last non-empty line of stderr, falling back to stdout.
func (e *ToolError) Diagnostic() string {
	for _, stream := range []string{e.Stderr, e.Stdout} {
		lines := strings.Split(strings.TrimSpace(stream), "\n")
		if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
			return last
		}
	}
	return ""
}

// Missing wraps ErrToolMissing for the named tool.
func Missing(tool string) error {
	return fmt.Errorf("%s: %w", tool, ErrToolMissing)
}

// ExitCode maps an error to the process exit code of its kind.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrToolMissing):
		return ExitToolMissing
	case errors.Is(err, ErrMalformedMetadata):
		return ExitMalformedMetadata
	case errors.Is(err, ErrResourceBusy):
		return ExitResourceBusy
	case errors.Is(err, ErrToolFailed):
		return ExitToolFailed
	default:
		return ExitFailure
	}
}
