// Package diagnostics wraps the single-tool checks of authortools: idnits,
// svgcheck, ABNF extraction (aex) and parsing (bap), and draft diffs
// (iddiff). Each adapter runs one process over staged files and never lets
// a staging path reach its output.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolrun"
)

// Config configures a Checker.
type Config struct {
	Runner toolrun.Runner
	Store  *staging.Store
	Logger *slog.Logger
}

// Checker runs the diagnostic tools.
type Checker struct {
	runner toolrun.Runner
	store  *staging.Store
	logger *slog.Logger
}

// New creates a Checker.
func New(cfg Config) *Checker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checker{runner: cfg.Runner, store: cfg.Store, logger: cfg.Logger}
}

// stripDirs removes "<dir>/" for each staging directory in dirs.
func stripDirs(out string, dirs ...string) string {
	for _, d := range dirs {
		if d != "" {
			out = strings.ReplaceAll(out, d+"/", "")
		}
	}
	return out
}

// --- idnits ---

// IdnitsOptions are the idnits switches exposed to clients.
type IdnitsOptions struct {
	Verbosity   int    // 0, 1 or 2
	ShowText    bool   // echo the draft text in the report
	Year        string // expected boilerplate year, empty for the current one
	SubmitCheck bool   // only report what blocks submission
}

var yearRe = regexp.MustCompile(`^\d{4}$`)

// Validate rejects malformed options.
func (o IdnitsOptions) Validate() error {
	if o.Year != "" && !yearRe.MatchString(o.Year) {
		return apierr.New(apierr.InvalidOption, "Invalid year")
	}
	return nil
}

// Args returns the idnits command line for file.
func (o IdnitsOptions) Args(file string) ([]string, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var args []string
	for i := 0; i < o.Verbosity && i < 2; i++ {
		args = append(args, "--verbose")
	}
	if !o.ShowText {
		args = append(args, "--hidetext")
	}
	if o.Year != "" {
		args = append(args, "--year", o.Year)
	}
	if o.SubmitCheck {
		args = append(args, "--submitcheck")
	}
	return append(args, file), nil
}

// ParseVerbosity maps the "verbose" parameter: "1" and "2" raise the level,
// anything else is 0.
func ParseVerbosity(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 2 {
		return 0
	}
	return n
}

// Idnits runs idnits over a text-form draft and returns its report.
func (c *Checker) Idnits(ctx context.Context, f *staging.StagedFile, opts IdnitsOptions) (string, error) {
	args, err := opts.Args(f.Name)
	if err != nil {
		return "", err
	}
	res, err := c.runner.Run(ctx, toolrun.Invocation{Tool: toolrun.Idnits, Args: args, Dir: f.Dir})
	if err != nil {
		return "", &apierr.Error{Kind: apierr.Idnits, Message: "idnits could not be started", Cause: err}
	}
	// The report is returned whatever the exit status; only an empty one fails.
	if res.ExitCode != 0 && len(strings.TrimSpace(string(res.Stdout))) == 0 {
		return "", apierr.FromResult(apierr.Idnits, res)
	}
	return stripDirs(string(res.Stdout), f.Dir), nil
}

// --- svgcheck ---

// SVGReport is the svgcheck outcome.
type SVGReport struct {
	Result string `json:"svgcheck"`
	SVG    string `json:"svg"`
}

// SVGCheck validates an SVG against the RFC SVG profile and returns the
// report with the repaired image.
func (c *Checker) SVGCheck(ctx context.Context, f *staging.StagedFile) (*SVGReport, error) {
	out := c.store.Artifact(f, "repaired", ".svg", format.SVG)
	res, err := c.runner.Run(ctx, toolrun.Invocation{
		Tool: toolrun.SVGCheck,
		Args: []string{"--repair", "--always-emit", "--out", out.Name, f.Name},
		Dir:  f.Dir,
	})
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.SVGCheck, Message: "svgcheck could not be started", Cause: err}
	}
	report := strings.TrimSpace(stripDirs(string(res.Stderr)+string(res.Stdout), f.Dir))
	svg, err := os.ReadFile(out.Path())
	if err != nil {
		c.logger.Info("svgcheck produced no output", "exit_code", res.ExitCode)
		msg := apierr.Summarize(report)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return nil, apierr.New(apierr.SVGCheck, msg)
	}
	return &SVGReport{Result: report, SVG: string(svg)}, nil
}

// --- ABNF ---

// ExtractABNF returns the ABNF blocks aex finds in a text-form draft.
func (c *Checker) ExtractABNF(ctx context.Context, f *staging.StagedFile) (string, error) {
	res, err := c.runner.Run(ctx, toolrun.Invocation{Tool: toolrun.Aex, Args: []string{f.Name}, Dir: f.Dir})
	if err != nil {
		return "", &apierr.Error{Kind: apierr.TextProcessing, Message: "aex could not be started", Cause: err}
	}
	if len(strings.TrimSpace(string(res.Stdout))) == 0 {
		if res.ExitCode != 0 {
			return "", apierr.FromResult(apierr.TextProcessing, res)
		}
		return "No ABNF found", nil
	}
	return stripDirs(string(res.Stdout), f.Dir), nil
}

// ABNFResult is the bap outcome. Syntax errors are data, not failures.
type ABNFResult struct {
	Errors []string `json:"errors"`
	ABNF   string   `json:"abnf"`
}

// ParseABNF parses raw ABNF staged with SaveText.
func (c *Checker) ParseABNF(ctx context.Context, f *staging.StagedFile) (*ABNFResult, error) {
	res, err := c.runner.Run(ctx, toolrun.Invocation{Tool: toolrun.Bap, Args: []string{f.Name}, Dir: f.Dir})
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.TextProcessing, Message: "bap could not be started", Cause: err}
	}
	out := &ABNFResult{Errors: []string{}, ABNF: stripDirs(string(res.Stdout), f.Dir)}
	for _, line := range strings.Split(stripDirs(string(res.Stderr), f.Dir), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out.Errors = append(out.Errors, line)
		}
	}
	return out, nil
}

// --- iddiff ---

// DiffOptions select the iddiff rendering.
type DiffOptions struct {
	Table bool // HTML table only, no surrounding page
	Wdiff bool // word-level diff
}

// Diff compares two text-form drafts. Paths of both staging directories
// are removed from the output.
func (c *Checker) Diff(ctx context.Context, older, newer *staging.StagedFile, opts DiffOptions) (string, error) {
	var args []string
	if opts.Table {
		args = append(args, "-t")
	}
	if opts.Wdiff {
		args = append(args, "-w")
	}
	args = append(args, older.Path(), newer.Path())

	res, err := toolrun.Checked(ctx, c.runner, apierr.Iddiff, toolrun.Invocation{Tool: toolrun.Iddiff, Args: args, Dir: older.Dir})
	if err != nil {
		var aerr *apierr.Error
		if errors.As(err, &aerr) {
			aerr.Message = stripDirs(aerr.Message, older.Dir, newer.Dir)
		}
		return "", err
	}
	return stripDirs(string(res.Stdout), older.Dir, newer.Dir), nil
}
