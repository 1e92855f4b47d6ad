package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/pipeline"
	"github.com/hazyhaar/authortools/shield"
	"github.com/hazyhaar/authortools/staging"
)

// handleRender converts the uploaded draft and returns the artifact as an
// attachment. The render format is checked before anything is staged.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fh, err := checkUpload(r, "file", format.General, fileMessages)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	target, err := pipeline.ParseTarget(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, ctx, err)
		return
	}

	sc := s.scratch(ctx)
	defer sc.release()
	src, err := s.resolveUpload(ctx, sc, fh)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	out, err := s.cfg.Pipeline.Convert(ctx, src, target)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	shield.GetLogger(ctx).Info("rendered", "source", src.Format, "target", target, "artifact", out.Name)
	s.serveArtifact(w, r, out)
}

// serveArtifact streams a staged file as an attachment.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, f *staging.StagedFile) {
	path, err := s.cfg.Store.Locate(f.Logical())
	if err != nil {
		writeError(w, r.Context(), &apierr.Error{Kind: apierr.Internal, Message: "Rendered file is missing", Cause: err})
		return
	}
	file, err := os.Open(path)
	if err != nil {
		writeError(w, r.Context(), &apierr.Error{Kind: apierr.Internal, Message: "Rendered file is missing", Cause: err})
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		writeError(w, r.Context(), &apierr.Error{Kind: apierr.Internal, Message: "Rendered file is missing", Cause: err})
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	if f.Pages > 0 {
		w.Header().Set("X-Page-Count", strconv.Itoa(f.Pages))
	}
	http.ServeContent(w, r, f.Name, info.ModTime(), file)
}

// handleValidate returns the xml2rfc diagnostics for the uploaded draft.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fh, err := checkUpload(r, "file", format.General, fileMessages)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	sc := s.scratch(ctx)
	defer sc.release()
	src, err := s.resolveUpload(ctx, sc, fh)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	log, err := s.cfg.Pipeline.Validate(ctx, src)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// handleSVGCheck checks the uploaded SVG and returns the report and the
// repaired image.
func (s *Server) handleSVGCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fh, err := checkUpload(r, "file", format.SVGOnly, fileMessages)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	sc := s.scratch(ctx)
	defer sc.release()
	src, err := s.resolveUpload(ctx, sc, fh)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	report, err := s.cfg.Checker.SVGCheck(ctx, src)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleABNFParse parses the "input" parameter with bap. Grammar errors are
// part of a successful response.
func (s *Server) handleABNFParse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc := s.scratch(ctx)
	defer sc.release()
	src, err := s.cfg.Store.SaveText(r.FormValue("input"))
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	sc.add(src)
	res, err := s.cfg.Checker.ParseABNF(ctx, src)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	shield.GetLogger(r.Context()).Debug("version information request")
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.cfg.Versions.Versions(r.Context())})
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Audit.Recent(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": entries})
}
