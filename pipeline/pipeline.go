// Package pipeline converts staged Internet-Drafts through the external
// converters: kramdown-rfc, mmark or id2xml to RFCXML, then xml2rfc to the
// requested output.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolrun"
)

// Config configures a Pipeline.
type Config struct {
	Runner toolrun.Runner
	Store  *staging.Store
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs conversion chains. Steps run strictly in sequence and
// nothing is cached between calls.
type Pipeline struct {
	runner toolrun.Runner
	store  *staging.Store
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{runner: cfg.Runner, store: cfg.Store, logger: cfg.Logger}
}

// Convert renders f into target and returns the final artifact. An xml
// source asked for xml is returned as is.
func (p *Pipeline) Convert(ctx context.Context, f *staging.StagedFile, target Target) (*staging.StagedFile, error) {
	steps, err := Plan(f.Format, target)
	if err != nil {
		return nil, err
	}
	cur := f
	for _, step := range steps {
		next, err := p.run(ctx, cur, step)
		if err != nil {
			p.logger.Info("conversion failed",
				"tool", step.Tool, "from", cur.Format, "target", target, "error", err)
			return nil, err
		}
		cur = next
	}
	if cur.Format == format.PDF {
		pages, err := VerifyPDF(cur.Path())
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.XML2RFC, Message: "rendered PDF is invalid", Cause: err}
		}
		cur.Pages = pages
	}
	return cur, nil
}

// ToXML runs the source stage only.
func (p *Pipeline) ToXML(ctx context.Context, f *staging.StagedFile) (*staging.StagedFile, error) {
	return p.Convert(ctx, f, XML)
}

// ToText brings f to plain-text Internet-Draft form. Text input is used
// as is. Failures are reported as text processing errors.
func (p *Pipeline) ToText(ctx context.Context, f *staging.StagedFile) (*staging.StagedFile, error) {
	if f.Format == format.TextID {
		return f, nil
	}
	out, err := p.Convert(ctx, f, Text)
	if err != nil {
		return nil, apierr.Wrap(apierr.TextProcessing, "", err)
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, in *staging.StagedFile, step Step) (*staging.StagedFile, error) {
	hint := strings.TrimPrefix(step.Mode, "--")
	if hint == "" {
		hint = string(step.To)
	}
	out := p.store.Artifact(in, hint, step.Ext, step.To)

	inv := toolrun.Invocation{Tool: step.Tool, Dir: in.Dir}
	writesStdout := false
	switch step.Tool {
	case toolrun.Kramdown, toolrun.Mmark:
		inv.Args = []string{in.Name}
		writesStdout = true
	case toolrun.ID2XML:
		inv.Args = []string{"--v3", "-o", out.Name, in.Name}
	case toolrun.XML2RFC:
		inv.Args = []string{step.Mode, "--out", out.Name, in.Name}
	default:
		return nil, fmt.Errorf("pipeline: no invocation for %s", step.Tool)
	}

	res, err := toolrun.Checked(ctx, p.runner, step.Kind, inv)
	if err != nil {
		return nil, err
	}
	if writesStdout {
		if len(res.Stdout) == 0 {
			return nil, apierr.New(step.Kind, "no output produced")
		}
		if err := os.WriteFile(out.Path(), res.Stdout, 0o640); err != nil {
			return nil, &apierr.Error{Kind: apierr.Internal, Message: "Error staging file", Cause: err}
		}
	} else if _, err := os.Stat(out.Path()); err != nil {
		return nil, apierr.New(step.Kind, "no output produced")
	}
	return out, nil
}
