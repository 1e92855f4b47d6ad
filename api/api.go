// Package api is the HTTP boundary of authortools. Handlers parse the
// request, hand the document to the resolver, pipeline or diagnostics
// adapters, and serialize either the result or a {"error": ...} body.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/audit"
	"github.com/hazyhaar/authortools/diagnostics"
	"github.com/hazyhaar/authortools/drafts"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/horosafe"
	"github.com/hazyhaar/authortools/pipeline"
	"github.com/hazyhaar/authortools/shield"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolversion"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// Config wires the components behind the API.
type Config struct {
	Store      *staging.Store
	Resolver   *drafts.Resolver
	Pipeline   *pipeline.Pipeline
	Checker    *diagnostics.Checker
	Versions   *toolversion.Reporter
	Keys       *shield.APIKeys
	Audit      *audit.SQLiteLogger // nil disables /api/invocations and MCP call auditing
	MaxBody    int64
	KeepStaged bool
	MCP        bool
	Version    string
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Keys == nil {
		c.Keys = shield.NewAPIKeys()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server serves the API.
type Server struct {
	cfg Config
	mcp *mcp.Server
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	s := &Server{cfg: cfg}
	if cfg.MCP {
		s.mcp = mcp.NewServer(&mcp.Implementation{Name: "authortools", Version: cfg.Version}, nil)
		s.registerMCP(s.mcp)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(parseForm)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.cfg.Keys.Middleware)
			r.Post("/render/{format}", s.handleRender)
			r.Post("/validate", s.handleValidate)
			r.Get("/idnits", s.handleIdnits)
			r.Get("/iddiff", s.handleIddiff)
			r.Post("/iddiff", s.handleIddiff)
			r.Get("/abnf/extract", s.handleABNFExtract)
			r.Post("/abnf/parse", s.handleABNFParse)
			r.Post("/svgcheck", s.handleSVGCheck)
			if s.cfg.Audit != nil {
				r.Get("/invocations", s.handleInvocations)
			}
		})
	})

	if s.mcp != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
		r.With(s.cfg.Keys.Middleware).Handle("/mcp", h)
	}
	return r
}

// parseForm parses query and body parameters up front so that key checks
// and handlers read the same values. An oversized body is rejected here.
func parseForm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			err = r.ParseMultipartForm(multipartMemory)
		} else {
			err = r.ParseForm()
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r.Context(), apierr.Newf(apierr.TooLarge, "Request exceeds the %d MB limit", mbe.Limit>>20))
			return
		}
		if err != nil {
			shield.GetLogger(r.Context()).Debug("form parse failed", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError answers 400 with the public message of err. Errors outside
// the taxonomy are logged in full.
func writeError(w http.ResponseWriter, ctx context.Context, err error) {
	logger := shield.GetLogger(ctx)
	if apierr.KindOf(err) == apierr.Internal {
		logger.Error("request failed", "error", err)
	} else {
		logger.Info("request rejected", "kind", apierr.KindOf(err), "error", err)
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": apierr.Public(err)})
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// param returns the trimmed value of a query or form parameter.
func param(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}

// flag is true when the parameter is present and non-empty.
func flag(r *http.Request, key string) bool {
	return r.FormValue(key) != ""
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

// uploadMessages are the errors reported for one upload field.
type uploadMessages struct {
	missing     string
	noName      string
	unsupported string
}

var fileMessages = uploadMessages{
	missing:     "No file",
	noName:      "Filename is missing",
	unsupported: format.ErrUnsupported,
}

// formFile returns the upload in field, or nil when the field is absent.
func formFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	if fhs := r.MultipartForm.File[field]; len(fhs) > 0 {
		return fhs[0]
	}
	return nil
}

// hasUpload reports whether field was sent as a file part, named or not.
func hasUpload(r *http.Request, field string) bool {
	return formFile(r, field) != nil || (r.MultipartForm != nil && len(r.MultipartForm.Value[field]) > 0)
}

// checkUpload validates presence, name and format of an upload. Nothing is
// staged.
func checkUpload(r *http.Request, field string, allow format.AllowList, msg uploadMessages) (*multipart.FileHeader, error) {
	fh := formFile(r, field)
	if fh == nil {
		// A file part sent without a filename is parsed as a plain value.
		if r.MultipartForm != nil && len(r.MultipartForm.Value[field]) > 0 {
			return nil, apierr.New(apierr.MissingFilename, msg.noName)
		}
		return nil, apierr.New(apierr.MissingFile, msg.missing)
	}
	if horosafe.SanitizeFilename(fh.Filename) == "" {
		return nil, apierr.New(apierr.MissingFilename, msg.noName)
	}
	if _, err := format.Classify(fh.Filename, allow); err != nil {
		shield.GetLogger(r.Context()).Info("file format not supported", "filename", fh.Filename)
		return nil, apierr.New(apierr.UnsupportedInput, msg.unsupported)
	}
	return fh, nil
}

// scratch collects the staged documents of one request and removes them
// when the request is done.
type scratch struct {
	store  *staging.Store
	keep   bool
	logger *slog.Logger
	files  []*staging.StagedFile
}

func (s *Server) scratch(ctx context.Context) *scratch {
	return &scratch{store: s.cfg.Store, keep: s.cfg.KeepStaged, logger: shield.GetLogger(ctx)}
}

func (sc *scratch) add(f *staging.StagedFile) *staging.StagedFile {
	if f != nil {
		sc.files = append(sc.files, f)
	}
	return f
}

func (sc *scratch) release() {
	if sc.keep {
		return
	}
	for _, f := range sc.files {
		if err := sc.store.Remove(f); err != nil {
			sc.logger.Warn("staging cleanup failed", "id", f.ID, "error", err)
		}
	}
}

// resolve stages ref and records it for cleanup.
func (s *Server) resolve(ctx context.Context, sc *scratch, ref drafts.Reference) (*staging.StagedFile, error) {
	f, err := s.cfg.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return sc.add(f), nil
}

// resolveUpload stages a checked upload.
func (s *Server) resolveUpload(ctx context.Context, sc *scratch, fh *multipart.FileHeader) (*staging.StagedFile, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.Internal, Message: "Error reading upload", Cause: err}
	}
	defer file.Close()
	return s.resolve(ctx, sc, drafts.FromUpload(fh.Filename, file))
}
