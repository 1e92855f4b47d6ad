// Package toolrun runs the external author tools (xml2rfc, kramdown-rfc,
// idnits, ...) as black-box processes and captures their outcome.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/kit"
)

// Tool names an external program. The value is also its default binary.
type Tool string

const (
	Kramdown   Tool = "kramdown-rfc"
	Mmark      Tool = "mmark"
	ID2XML     Tool = "id2xml"
	XML2RFC    Tool = "xml2rfc"
	Idnits     Tool = "idnits"
	Iddiff     Tool = "iddiff"
	SVGCheck   Tool = "svgcheck"
	Aex        Tool = "aex"
	Bap        Tool = "bap"
	WeasyPrint Tool = "weasyprint"
	Aasvg      Tool = "aasvg"
)

// Tools lists every known tool, in the order versions are reported.
var Tools = []Tool{XML2RFC, Kramdown, Mmark, ID2XML, WeasyPrint, Idnits, Iddiff, Aasvg, SVGCheck, Bap, Aex}

// Invocation describes one process run.
type Invocation struct {
	Tool Tool
	Args []string
	Dir  string // working directory, usually the staging directory
}

func (inv Invocation) String() string {
	return fmt.Sprintf("%s %v", inv.Tool, inv.Args)
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Code implements apierr.Outcome.
func (r *Result) Code() int { return r.ExitCode }

// ErrorOutput implements apierr.Outcome: stderr, or stdout when the tool
// reports its failure there.
func (r *Result) ErrorOutput() string {
	if len(bytes.TrimSpace(r.Stderr)) > 0 {
		return string(r.Stderr)
	}
	return string(r.Stdout)
}

// Runner executes invocations. Run returns an error only when the process
// could not be started; a non-zero exit is reported in Result.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (*Result, error) { return f(ctx, inv) }

// Config configures an ExecRunner.
type Config struct {
	// Paths overrides the binary of a tool. Missing tools use their name.
	Paths map[Tool]string

	// Timeout bounds a single process. 0 means no limit.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	cfg Config
}

// NewExec creates an ExecRunner.
func NewExec(cfg Config) *ExecRunner {
	cfg.defaults()
	return &ExecRunner{cfg: cfg}
}

// Binary returns the executable used for tool.
func (e *ExecRunner) Binary(tool Tool) string {
	if p, ok := e.cfg.Paths[tool]; ok && p != "" {
		return p
	}
	return string(tool)
}

// Run starts the process and waits for it. The request context only
// carries values: a client going away does not kill a running tool.
func (e *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.Binary(inv.Tool), inv.Args...)
	cmd.Dir = inv.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.cfg.Logger.Error("tool start failed",
				"tool", inv.Tool, "trace_id", kit.GetTraceID(ctx), "error", err)
			return nil, fmt.Errorf("toolrun: start %s: %w", inv.Tool, err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			res.ExitCode = status.ExitStatus()
		} else {
			res.ExitCode = -1
		}
	}

	e.cfg.Logger.Debug("tool finished",
		"tool", inv.Tool,
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
		"trace_id", kit.GetTraceID(ctx),
	)
	return res, nil
}

// Checked runs inv and converts both a start failure and a non-zero exit
// into an apierr.Error of kind.
func Checked(ctx context.Context, r Runner, kind apierr.Kind, inv Invocation) (*Result, error) {
	res, err := r.Run(ctx, inv)
	if err != nil {
		return nil, &apierr.Error{Kind: kind, Message: fmt.Sprintf("%s could not be started", inv.Tool), Cause: err}
	}
	if aerr := apierr.FromResult(kind, res); aerr != nil {
		return res, aerr
	}
	return res, nil
}

// Observer is notified after every invocation. res is nil when err is set.
type Observer func(ctx context.Context, inv Invocation, res *Result, err error)

// Observe decorates r so that every invocation is reported to obs.
func Observe(r Runner, obs ...Observer) Runner {
	return RunnerFunc(func(ctx context.Context, inv Invocation) (*Result, error) {
		res, err := r.Run(ctx, inv)
		for _, o := range obs {
			o(ctx, inv, res, err)
		}
		return res, err
	})
}
