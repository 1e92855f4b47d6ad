package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order: got %v, want %v", order, expected)
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }
	noop := func(next Endpoint) Endpoint { return next }

	if _, err := Chain(noop)(base)(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" {
		t.Fatal("default transport must be http")
	}
	if GetTraceID(ctx) != "" || GetRequestID(ctx) != "" || GetClient(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("empty context must yield empty values")
	}

	ctx = WithTraceID(ctx, "trc_1")
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithClient(ctx, "ci")
	ctx = WithRemoteAddr(ctx, "10.0.0.1:1234")
	ctx = WithTransport(ctx, "mcp")
	if GetTraceID(ctx) != "trc_1" || GetRequestID(ctx) != "req_1" || GetClient(ctx) != "ci" ||
		GetRemoteAddr(ctx) != "10.0.0.1:1234" || GetTransport(ctx) != "mcp" {
		t.Fatal("values not round-tripped through context")
	}
}

var testImpl = &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}

type echoReq struct {
	Text string `json:"text"`
}

func mcpSession(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPTool(t *testing.T) {
	// WHAT: Endpoints become MCP tools; errors surface as tool errors rendered by public.
	// WHY: Internal error text must not reach MCP clients either.
	srv := mcp.NewServer(testImpl, nil)
	tool := &mcp.Tool{
		Name:        "echo",
		Description: "Echo text.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}},
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		if r.Text == "" {
			return nil, errors.New("secret internal detail")
		}
		return map[string]string{"text": r.Text, "transport": GetTransport(ctx)}, nil
	}
	decode := func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var r echoReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &MCPDecodeResult{Request: &r}, nil
	}
	RegisterMCPTool(srv, tool, endpoint, decode, func(error) string { return "Internal error" })

	session := mcpSession(t, srv)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if out["text"] != "hi" || out["transport"] != "mcp" {
		t.Fatalf("got %v", out)
	}

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if strings.Contains(text, "secret") || !strings.Contains(text, "Internal error") {
		t.Fatalf("error text leaked or missing: %q", text)
	}
}
