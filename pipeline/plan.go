package pipeline

import (
	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/toolrun"
)

// Target is a render output.
type Target string

const (
	XML  Target = "xml"
	HTML Target = "html"
	Text Target = "text"
	PDF  Target = "pdf"
)

// Targets lists the supported render outputs.
var Targets = []Target{XML, HTML, Text, PDF}

// ParseTarget validates a render format name.
func ParseTarget(s string) (Target, error) {
	for _, t := range Targets {
		if string(t) == s {
			return t, nil
		}
	}
	return "", apierr.New(apierr.UnsupportedRender, "Render format not supported")
}

// Step is one edge of the conversion graph.
type Step struct {
	Tool toolrun.Tool
	From format.Tag
	To   format.Tag
	Kind apierr.Kind // error kind when the tool fails
	Mode string      // output-mode flag, xml2rfc only
	Ext  string      // extension of the produced artifact
}

// sourceSteps bring a source format to RFCXML.
var sourceSteps = map[format.Tag]Step{
	format.Kramdown: {Tool: toolrun.Kramdown, From: format.Kramdown, To: format.XMLv3, Kind: apierr.Kramdown, Ext: ".xml"},
	format.Mmark:    {Tool: toolrun.Mmark, From: format.Mmark, To: format.XMLv3, Kind: apierr.Mmark, Ext: ".xml"},
	format.TextID:   {Tool: toolrun.ID2XML, From: format.TextID, To: format.XMLv3, Kind: apierr.Text, Ext: ".xml"},
}

// renderSteps turn RFCXML into a target. xml2rfc upgrades v2 input itself.
var renderSteps = map[Target]Step{
	HTML: {Tool: toolrun.XML2RFC, To: format.HTML, Kind: apierr.XML2RFC, Mode: "--html", Ext: ".html"},
	Text: {Tool: toolrun.XML2RFC, To: format.TextID, Kind: apierr.XML2RFC, Mode: "--text", Ext: ".txt"},
	PDF:  {Tool: toolrun.XML2RFC, To: format.PDF, Kind: apierr.XML2RFC, Mode: "--pdf", Ext: ".pdf"},
}

// Plan returns the fixed chain of steps from src to target. XML sources
// skip the source stage; the xml target stops after it.
func Plan(src format.Tag, target Target) ([]Step, error) {
	if _, err := ParseTarget(string(target)); err != nil {
		return nil, err
	}
	var steps []Step
	xmlTag := src
	if !src.IsXML() {
		s, ok := sourceSteps[src]
		if !ok {
			return nil, apierr.New(apierr.UnsupportedInput, format.ErrUnsupported)
		}
		steps = append(steps, s)
		xmlTag = s.To
	}
	if target == XML {
		return steps, nil
	}
	r := renderSteps[target]
	r.From = xmlTag
	return append(steps, r), nil
}

// Tools returns the tool of each step.
func Tools(steps []Step) []toolrun.Tool {
	out := make([]toolrun.Tool, len(steps))
	for i, s := range steps {
		out[i] = s.Tool
	}
	return out
}
