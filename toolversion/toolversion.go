// Package toolversion reports the versions of the external tools behind the
// API, as served by /api/version.
package toolversion

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/authortools/toolrun"
)

// BapVersion is reported as is: bap has no version switch.
const BapVersion = "1.4"

// Config configures a Reporter.
type Config struct {
	Runner  toolrun.Runner
	Version string // version of this service, reported as author_tools_api
	Logger  *slog.Logger
}

// Reporter queries each tool with --version.
type Reporter struct {
	runner  toolrun.Runner
	version string
	logger  *slog.Logger
}

// New creates a Reporter.
func New(cfg Config) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{runner: cfg.Runner, version: cfg.Version, logger: cfg.Logger}
}

// queried lists the tools asked for a version, in report order.
var queried = []toolrun.Tool{
	toolrun.XML2RFC,
	toolrun.Kramdown,
	toolrun.Mmark,
	toolrun.ID2XML,
	toolrun.WeasyPrint,
	toolrun.Idnits,
	toolrun.Iddiff,
	toolrun.Aasvg,
	toolrun.SVGCheck,
}

// Versions returns the version of every tool keyed by tool name. A tool
// that cannot report one maps to nil and is serialized as null.
func (r *Reporter) Versions(ctx context.Context) map[string]*string {
	out := map[string]*string{
		"author_tools_api": strPtr(r.version),
		string(toolrun.Bap): strPtr(BapVersion),
	}
	for _, tool := range queried {
		out[string(tool)] = r.query(ctx, tool)
	}
	return out
}

func (r *Reporter) query(ctx context.Context, tool toolrun.Tool) *string {
	res, err := r.runner.Run(ctx, toolrun.Invocation{Tool: tool, Args: []string{"--version"}})
	if err != nil {
		r.logger.Info("version query failed", "tool", string(tool), "error", err)
		return nil
	}
	if res.ExitCode != 0 {
		r.logger.Info("version query failed", "tool", string(tool), "exit_code", res.ExitCode, "stderr", strings.TrimSpace(string(res.Stderr)))
		return nil
	}
	v := Clean(tool, string(res.Stdout))
	if v == "" {
		return nil
	}
	return &v
}

var versionWord = regexp.MustCompile(`(?i)^version\b[:\s]*`)

// Clean strips the tool name and a leading "version" word from a
// --version banner: "WeasyPrint version 62.3" gives "62.3".
func Clean(tool toolrun.Tool, banner string) string {
	line := strings.TrimSpace(banner)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	name := string(tool)
	if len(line) >= len(name) && strings.EqualFold(line[:len(name)], name) {
		line = strings.TrimSpace(line[len(name):])
	}
	return strings.TrimSpace(versionWord.ReplaceAllString(line, ""))
}

func strPtr(s string) *string { return &s }
