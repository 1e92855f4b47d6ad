// Package format classifies staged documents by extension into the source
// formats the conversion pipeline understands.
package format

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
)

// Tag identifies a document format.
type Tag string

const (
	Kramdown    Tag = "kramdown"
	Mmark       Tag = "mmark"
	TextID      Tag = "text-id"
	XMLv2       Tag = "xml-v2"
	XMLv3       Tag = "xml-v3"
	SVG         Tag = "svg"
	Unsupported Tag = "unsupported"

	// Output-only tags for rendered artifacts.
	HTML Tag = "html"
	PDF  Tag = "pdf"
)

// IsXML reports whether t is RFCXML of either vocabulary.
func (t Tag) IsXML() bool { return t == XMLv2 || t == XMLv3 }

// AllowList maps lower-case extensions (with dot) to tags.
type AllowList map[string]Tag

var (
	// General accepts the draft source formats.
	General = AllowList{
		".xml": XMLv3,
		".md":  Kramdown,
		".mkd": Mmark,
		".txt": TextID,
	}

	// SVGOnly accepts SVG images for svgcheck.
	SVGOnly = AllowList{
		".svg": SVG,
	}
)

// ErrUnsupported is the message for filenames outside the allow-list.
const ErrUnsupported = "Input file format not supported"

// Classify returns the tag for filename under allow. Matching is
// case-insensitive on the final extension. Unknown extensions yield
// Unsupported and an apierr.UnsupportedInput error.
func Classify(filename string, allow AllowList) (Tag, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if tag, ok := allow[ext]; ok && ext != "" {
		return tag, nil
	}
	return Unsupported, apierr.New(apierr.UnsupportedInput, ErrUnsupported)
}

// Extensions lists the extensions of allow, for diagnostics and MCP.
func (a AllowList) Extensions() []string {
	out := make([]string, 0, len(a))
	for ext := range a {
		out = append(out, ext)
	}
	return out
}

var rfcRoot = regexp.MustCompile(`<rfc\b[^>]*>`)
var v3Attr = regexp.MustCompile(`\bversion\s*=\s*["']3["']`)

// sniffLimit bounds how much of the file Sniff reads to find the root element.
const sniffLimit = 64 * 1024

// Sniff refines an XML tag by looking at the <rfc> root: without
// version="3" the document is treated as v2. Non-XML tags are returned as is.
func Sniff(path string, tag Tag) Tag {
	if !tag.IsXML() {
		return tag
	}
	f, err := os.Open(path)
	if err != nil {
		return tag
	}
	defer f.Close()
	head, err := io.ReadAll(io.LimitReader(f, sniffLimit))
	if err != nil {
		return tag
	}
	root := rfcRoot.Find(head)
	if root == nil {
		return tag
	}
	if v3Attr.Match(root) {
		return XMLv3
	}
	return XMLv2
}
