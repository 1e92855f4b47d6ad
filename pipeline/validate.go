package pipeline

import (
	"context"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolrun"
)

// ValidationLog is the xml2rfc diagnostic output, split by severity.
type ValidationLog struct {
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// Validate brings f to RFCXML, renders it to text with xml2rfc and returns
// the diagnostics xml2rfc printed. A failing render is an XML2RFC error.
func (p *Pipeline) Validate(ctx context.Context, f *staging.StagedFile) (*ValidationLog, error) {
	xml, err := p.ToXML(ctx, f)
	if err != nil {
		return nil, err
	}
	out := p.store.Artifact(xml, "validation", ".txt", format.TextID)
	res, err := toolrun.Checked(ctx, p.runner, apierr.XML2RFC, toolrun.Invocation{
		Tool: toolrun.XML2RFC,
		Args: []string{"--text", "--out", out.Name, xml.Name},
		Dir:  xml.Dir,
	})
	if err != nil {
		return nil, err
	}
	return ParseLog(string(res.Stderr), xml.Dir), nil
}

// ParseLog classifies xml2rfc output lines. Occurrences of dir are removed
// so staging paths do not leak.
func ParseLog(out, dir string) *ValidationLog {
	log := &ValidationLog{Errors: []string{}, Warnings: []string{}, Informational: []string{}}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if dir != "" {
			line = strings.ReplaceAll(line, dir+"/", "")
		}
		switch {
		case strings.Contains(line, "Error:") || strings.HasPrefix(line, "ERROR"):
			log.Errors = append(log.Errors, line)
		case strings.Contains(line, "Warning:") || strings.HasPrefix(line, "WARNING"):
			log.Warnings = append(log.Warnings, line)
		default:
			log.Informational = append(log.Informational, line)
		}
	}
	return log
}
