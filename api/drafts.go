package api

import (
	"context"
	"net/http"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/diagnostics"
	"github.com/hazyhaar/authortools/drafts"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/shield"
	"github.com/hazyhaar/authortools/staging"
)

// textFrom stages ref and brings it to text form.
func (s *Server) textFrom(ctx context.Context, sc *scratch, ref drafts.Reference) (*staging.StagedFile, error) {
	f, err := s.resolve(ctx, sc, ref)
	if err != nil {
		return nil, err
	}
	return s.cfg.Pipeline.ToText(ctx, f)
}

// handleIdnits runs idnits over the draft at "url".
func (s *Server) handleIdnits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := param(r, "url")
	if u == "" {
		writeError(w, ctx, apierr.New(apierr.MissingInput, "URL is missing"))
		return
	}
	opts := diagnostics.IdnitsOptions{
		Verbosity:   diagnostics.ParseVerbosity(r.FormValue("verbose")),
		ShowText:    !flag(r, "hidetext"),
		Year:        param(r, "year"),
		SubmitCheck: flag(r, "submitcheck"),
	}
	if err := opts.Validate(); err != nil {
		writeError(w, ctx, err)
		return
	}

	sc := s.scratch(ctx)
	defer sc.release()
	txt, err := s.textFrom(ctx, sc, drafts.FromURL(u))
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	out, err := s.cfg.Checker.Idnits(ctx, txt, opts)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	writeText(w, out)
}

// handleABNFExtract extracts the ABNF of the draft at "url", or of the
// latest revision of "doc".
func (s *Server) handleABNFExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var ref drafts.Reference
	if u := param(r, "url"); u != "" {
		ref = drafts.FromURL(u)
	} else if doc := param(r, "doc"); doc != "" {
		ref = drafts.FromName(doc)
	}

	sc := s.scratch(ctx)
	defer sc.release()
	txt, err := s.textFrom(ctx, sc, ref)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	out, err := s.cfg.Checker.ExtractABNF(ctx, txt)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	writeText(w, out)
}

// diffSide is one draft of a diff request.
type diffSide struct {
	doc, url string
	field    string // upload field
	ordinal  string // "first" or "second", for messages
}

func (d diffSide) empty(r *http.Request) bool {
	return d.doc == "" && d.url == "" && !hasUpload(r, d.field)
}

func (d diffSide) messages() uploadMessages {
	return uploadMessages{
		missing:     "No documents to compare",
		noName:      "Filename of " + d.ordinal + " draft missing",
		unsupported: capitalize(d.ordinal) + " file format not supported",
	}
}

// diffText stages one side and converts it to text. Conversion failures of
// uploads name the side.
func (s *Server) diffText(ctx context.Context, r *http.Request, sc *scratch, d diffSide) (*staging.StagedFile, error) {
	switch {
	case d.doc != "":
		return s.textFrom(ctx, sc, drafts.FromName(d.doc))
	case d.url != "":
		return s.textFrom(ctx, sc, drafts.FromURL(d.url))
	}
	fh, err := checkUpload(r, d.field, format.General, d.messages())
	if err != nil {
		return nil, err
	}
	f, err := s.resolveUpload(ctx, sc, fh)
	if err != nil {
		return nil, err
	}
	txt, err := s.cfg.Pipeline.ToText(ctx, f)
	if err != nil {
		return nil, apierr.Wrap(apierr.TextProcessing, "Error converting "+d.ordinal+" draft to text: ", err)
	}
	return txt, nil
}

// handleIddiff compares two drafts given as uploads, names or URLs. With a
// single draft, it is compared against its latest revision, or the one
// before when it is the latest itself; that counterpart is the older side.
func (s *Server) handleIddiff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	first := diffSide{doc: param(r, "doc_1"), url: param(r, "url_1"), field: "file_1", ordinal: "first"}
	second := diffSide{doc: param(r, "doc_2"), url: param(r, "url_2"), field: "file_2", ordinal: "second"}

	// A lone second draft name or URL stands for the first.
	if first.empty(r) {
		switch {
		case second.doc != "":
			first.doc, second.doc = second.doc, ""
		case second.url != "":
			first.url, second.url = second.url, ""
		}
	}
	opts := diagnostics.DiffOptions{Table: flag(r, "table"), Wdiff: flag(r, "wdiff")}

	sc := s.scratch(ctx)
	defer sc.release()
	newer, err := s.diffText(ctx, r, sc, first)
	if err != nil {
		writeError(w, ctx, err)
		return
	}

	var older *staging.StagedFile
	if second.empty(r) {
		prev, err := s.cfg.Resolver.Previous(ctx, newer)
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		sc.add(prev)
		if older, err = s.cfg.Pipeline.ToText(ctx, prev); err != nil {
			writeError(w, ctx, err)
			return
		}
		shield.GetLogger(ctx).Info("single draft diff", "draft", newer.Original, "against", prev.Original)
	} else {
		cur, err := s.diffText(ctx, r, sc, second)
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		older, newer = newer, cur
	}

	out, err := s.cfg.Checker.Diff(ctx, older, newer, opts)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
