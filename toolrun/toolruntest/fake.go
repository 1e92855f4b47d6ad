// Package toolruntest provides a scripted toolrun.Runner for tests. It records
// every invocation and lets each tool be given a canned behaviour, including
// writing the output file the real tool would produce.
package toolruntest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/authortools/toolrun"
)

// Handler scripts the behaviour of one tool.
type Handler func(inv toolrun.Invocation) (*toolrun.Result, error)

// Fake is a recording toolrun.Runner.
type Fake struct {
	mu       sync.Mutex
	calls    []toolrun.Invocation
	handlers map[toolrun.Tool]Handler
}

// New returns a Fake where every tool succeeds with empty output.
func New() *Fake {
	return &Fake{handlers: make(map[toolrun.Tool]Handler)}
}

// On sets the handler of tool.
func (f *Fake) On(tool toolrun.Tool, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[tool] = h
	return f
}

// Run implements toolrun.Runner.
func (f *Fake) Run(_ context.Context, inv toolrun.Invocation) (*toolrun.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	h := f.handlers[inv.Tool]
	f.mu.Unlock()
	if h == nil {
		return &toolrun.Result{}, nil
	}
	return h(inv)
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []toolrun.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolrun.Invocation(nil), f.calls...)
}

// Tools returns the tool of each recorded invocation, in order.
func (f *Fake) Tools() []toolrun.Tool {
	calls := f.Calls()
	out := make([]toolrun.Tool, len(calls))
	for i, c := range calls {
		out[i] = c.Tool
	}
	return out
}

// Reset forgets recorded invocations.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Stdout succeeds and prints s.
func Stdout(s string) Handler {
	return func(toolrun.Invocation) (*toolrun.Result, error) {
		return &toolrun.Result{Stdout: []byte(s)}, nil
	}
}

// Output succeeds with the given stdout and stderr.
func Output(stdout, stderr string) Handler {
	return func(toolrun.Invocation) (*toolrun.Result, error) {
		return &toolrun.Result{Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil
	}
}

// Fail exits with code and prints stderr.
func Fail(code int, stderr string) Handler {
	return func(toolrun.Invocation) (*toolrun.Result, error) {
		return &toolrun.Result{ExitCode: code, Stderr: []byte(stderr)}, nil
	}
}

// Missing simulates a binary that cannot be started.
func Missing() Handler {
	return func(inv toolrun.Invocation) (*toolrun.Result, error) {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", inv.Tool)
	}
}

// WriteOut writes content to the path following flag in the arguments,
// relative to the invocation directory, then succeeds with stderr.
func WriteOut(flag string, content []byte, stderr string) Handler {
	return func(inv toolrun.Invocation) (*toolrun.Result, error) {
		path := ArgAfter(inv.Args, flag)
		if path == "" {
			return &toolrun.Result{ExitCode: 2, Stderr: []byte("missing " + flag)}, nil
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(inv.Dir, path)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, err
		}
		return &toolrun.Result{Stderr: []byte(stderr)}, nil
	}
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// HasArg reports whether args contains a.
func HasArg(args []string, a string) bool {
	for _, x := range args {
		if x == a {
			return true
		}
	}
	return false
}
