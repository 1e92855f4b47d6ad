// Package apierr is the single error taxonomy of authortools. Every fault
// raised by classification, staging, draft resolution or an external tool is
// converted into an *Error close to where it happens, so the HTTP and MCP
// boundaries only ever deal with one shape.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an Error with its taxonomy entry.
type Kind string

const (
	MissingFile       Kind = "missing_file"
	MissingFilename   Kind = "missing_filename"
	MissingInput      Kind = "missing_input"
	UnsupportedInput  Kind = "unsupported_input"
	UnsupportedRender Kind = "unsupported_render"
	TooLarge          Kind = "too_large"
	InvalidOption     Kind = "invalid_option"

	// Tool failures. Their public message carries the tool label.
	Kramdown Kind = "kramdown"
	Mmark    Kind = "mmark"
	Text     Kind = "id2xml"
	XML2RFC  Kind = "xml2rfc"
	Iddiff   Kind = "iddiff"
	Idnits   Kind = "idnits"
	SVGCheck Kind = "svgcheck"

	Download       Kind = "download"
	InvalidURL     Kind = "invalid_url"
	DraftNotFound  Kind = "draft_not_found"
	DraftName      Kind = "draft_name"
	TextProcessing Kind = "text_processing"
	Internal       Kind = "internal"
)

// toolLabels maps tool kinds to the prefix used in public messages.
var toolLabels = map[Kind]string{
	Kramdown: "kramdown-rfc",
	Mmark:    "mmark",
	Text:     "id2xml",
	XML2RFC:  "xml2rfc",
	Iddiff:   "iddiff",
	Idnits:   "idnits",
	SVGCheck: "svgcheck",
}

// MaxSummary caps the tool output kept in a message.
const MaxSummary = 2000

// Error is a terminal, client-facing failure. It is never retried.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if label, ok := toolLabels[e.Kind]; ok {
		return label + " error: " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTool reports whether the kind denotes an external tool failure.
func (k Kind) IsTool() bool {
	_, ok := toolLabels[k]
	return ok
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags a cause with kind. When cause is already an *Error its public
// message is reused, prefixed with prefix.
func Wrap(kind Kind, prefix string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: prefix + Public(cause), Cause: cause}
}

// KindOf returns the kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Public returns the message shown to clients. Errors outside the taxonomy
// are not leaked.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "Internal error"
}

// Outcome is the part of a finished process the mapper inspects.
type Outcome interface {
	Code() int
	ErrorOutput() string
}

// FromResult returns nil when the process succeeded, otherwise an Error of
// the given kind carrying a summary of the tool diagnostics.
func FromResult(kind Kind, res Outcome) *Error {
	if res == nil || res.Code() == 0 {
		return nil
	}
	msg := Summarize(res.ErrorOutput())
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", res.Code())
	}
	return &Error{Kind: kind, Message: msg}
}

// Summarize trims tool output and keeps its tail when it exceeds MaxSummary.
func Summarize(out string) string {
	out = strings.TrimSpace(out)
	if len(out) <= MaxSummary {
		return out
	}
	tail := out[len(out)-MaxSummary:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return "..." + tail
}
