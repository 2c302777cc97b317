package shell

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/open-edge-platform/retros/internal/utils/errkind"
)

// MockCommand is one canned response of a MockExecutor.
//
// Pattern is a regular expression matched against the rendered command
// line ("name arg1 arg2"). A non-zero ExitCode produces a *errkind.ToolError;
// Error, when set, is returned as is. Effect runs before the response is
// returned and may create files the real tool would have produced.
type MockCommand struct {
	Pattern  string
	Output   string
	Stderr   string
	ExitCode int
	Error    error
	Effect   func(args []string) error
}

// MockExecutor answers commands from a fixed table and records every call.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	missing  map[string]bool
	calls    [][]string
}

// NewMockExecutor returns an executor answering from commands, first match wins.
func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{commands: commands, missing: map[string]bool{}}
}

// SetMissing makes LookPath and Run report name as not installed.
func (m *MockExecutor) SetMissing(names ...string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.missing[n] = true
	}
	return m
}

// Calls returns the argv of every Run invocation so far.
func (m *MockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockExecutor) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[name] {
		return "", errkind.Missing(name)
	}
	return "/usr/bin/" + name, nil
}

func (m *MockExecutor) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if _, err := m.LookPath(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, append([]string{name}, args...))
	m.mu.Unlock()

	line := CmdString(name, args...)
	for _, c := range m.commands {
		matched, err := regexp.MatchString(c.Pattern, line)
		if err != nil {
			return nil, fmt.Errorf("bad mock pattern %q: %w", c.Pattern, err)
		}
		if !matched {
			continue
		}
		if c.Effect != nil {
			if err := c.Effect(args); err != nil {
				return nil, err
			}
		}
		res := &Result{ExitCode: c.ExitCode, Stdout: c.Output, Stderr: c.Stderr}
		if c.Error != nil {
			return res, c.Error
		}
		if c.ExitCode != 0 {
			return res, &errkind.ToolError{Tool: name, Args: args, ExitCode: c.ExitCode, Stdout: c.Output, Stderr: c.Stderr}
		}
		return res, nil
	}
	return nil, fmt.Errorf("unexpected command for mock: %s", line)
}
