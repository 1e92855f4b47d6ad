package api

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/audit"
	"github.com/hazyhaar/authortools/drafts"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/kit"
	"github.com/hazyhaar/authortools/pipeline"
	"github.com/hazyhaar/authortools/shield"
)

// registerMCP exposes the read-only API operations as MCP tools.
func (s *Server) registerMCP(srv *mcp.Server) {
	s.registerRenderTool(srv)
	s.registerABNFParseTool(srv)
	s.registerFormatsTool(srv)
	s.registerVersionTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// addTool registers endpoint with call logging, audited when an audit log is
// configured.
func (s *Server) addTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mws := []kit.Middleware{s.logCalls(tool.Name)}
	if s.cfg.Audit != nil {
		mws = append(mws, audit.Middleware(s.cfg.Audit, "mcp:"+tool.Name))
	}
	kit.RegisterMCPTool(srv, tool, kit.Chain(mws...)(endpoint), decode, apierr.Public)
}

func (s *Server) logCalls(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := s.cfg.Logger.With("tool", name, "duration_ms", time.Since(start).Milliseconds())
			if err != nil {
				log.Warn("mcp tool failed", "error", err, "kind", apierr.KindOf(err))
			} else {
				log.Debug("mcp tool done")
			}
			return resp, err
		}
	}
}

func decodeInto[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- render ---

type renderReq struct {
	Doc    string `json:"doc"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

func (s *Server) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "authortools_render",
		Description: "Render an Internet-Draft, given by name or allow-listed URL, to xml, html or text.",
		InputSchema: inputSchema(map[string]any{
			"doc":    map[string]any{"type": "string", "description": "Draft or RFC name, e.g. draft-ietf-quic-transport"},
			"url":    map[string]any{"type": "string", "description": "URL of a draft source (.xml, .md, .mkd, .txt)"},
			"format": map[string]any{"type": "string", "enum": []string{"xml", "html", "text"}},
		}, []string{"format"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*renderReq)
		target, err := pipeline.ParseTarget(r.Format)
		if err != nil {
			return nil, err
		}
		if target == pipeline.PDF {
			return nil, apierr.New(apierr.UnsupportedRender, "Render format not supported")
		}
		ref := drafts.FromURL(r.URL)
		if r.URL == "" {
			ref = drafts.FromName(r.Doc)
		}

		sc := s.scratch(ctx)
		defer sc.release()
		src, err := s.resolve(ctx, sc, ref)
		if err != nil {
			return nil, err
		}
		out, err := s.cfg.Pipeline.Convert(ctx, src, target)
		if err != nil {
			return nil, err
		}
		body, err := os.ReadFile(out.Path())
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.Internal, Message: "Rendered file is missing", Cause: err}
		}
		shield.GetLogger(ctx).Info("rendered over mcp", "source", src.Format, "target", target)
		return string(body), nil
	}

	s.addTool(srv, tool, endpoint, decodeInto[renderReq])
}

// --- abnf parse ---

type abnfParseReq struct {
	Input string `json:"input"`
}

func (s *Server) registerABNFParseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "authortools_abnf_parse",
		Description: "Parse ABNF with bap. Returns the grammar errors and the normalized ABNF.",
		InputSchema: inputSchema(map[string]any{
			"input": map[string]any{"type": "string", "description": "ABNF rules"},
		}, []string{"input"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*abnfParseReq)
		sc := s.scratch(ctx)
		defer sc.release()
		src, err := s.cfg.Store.SaveText(r.Input)
		if err != nil {
			return nil, err
		}
		sc.add(src)
		return s.cfg.Checker.ParseABNF(ctx, src)
	}

	s.addTool(srv, tool, endpoint, decodeInto[abnfParseReq])
}

// --- formats ---

type emptyReq struct{}

func (s *Server) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "authortools_formats",
		Description: "List the accepted input extensions and the render formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{
			"inputs":  format.General.Extensions(),
			"svg":     format.SVGOnly.Extensions(),
			"renders": pipeline.Targets,
		}, nil
	}

	s.addTool(srv, tool, endpoint, decodeInto[emptyReq])
}

// --- version ---

func (s *Server) registerVersionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "authortools_version",
		Description: "Report the versions of the external tools.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return map[string]any{"versions": s.cfg.Versions.Versions(ctx)}, nil
	}

	s.addTool(srv, tool, endpoint, decodeInto[emptyReq])
}
