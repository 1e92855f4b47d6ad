package toolversion

import (
	"context"
	"testing"

	"github.com/hazyhaar/authortools/toolrun"
	"github.com/hazyhaar/authortools/toolrun/toolruntest"
)

func TestClean(t *testing.T) {
	tests := []struct {
		tool   toolrun.Tool
		banner string
		want   string
	}{
		{toolrun.Kramdown, "kramdown-rfc 1.7.14\n", "1.7.14"},
		{toolrun.WeasyPrint, "WeasyPrint version 62.3\n", "62.3"},
		{toolrun.Mmark, "2.2.46\n", "2.2.46"},
		{toolrun.Idnits, "idnits 2.17.1\nextra line\n", "2.17.1"},
		{toolrun.SVGCheck, "svgcheck = 0.7.1", "= 0.7.1"},
		{toolrun.Aasvg, "", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.tool, tt.banner); got != tt.want {
			t.Errorf("Clean(%s, %q) = %q, want %q", tt.tool, tt.banner, got, tt.want)
		}
	}
}

func TestVersions(t *testing.T) {
	// WHAT: every tool is asked --version; failures become nil, bap is fixed.
	// WHY: /version must answer even when some binaries are missing.
	fake := toolruntest.New().
		On(toolrun.XML2RFC, toolruntest.Stdout("xml2rfc 3.21.0\n")).
		On(toolrun.Mmark, toolruntest.Fail(1, "unknown flag")).
		On(toolrun.Aasvg, toolruntest.Missing())
	r := New(Config{Runner: fake, Version: "0.9.0"})

	got := r.Versions(context.Background())

	if len(got) != len(queried)+2 {
		t.Fatalf("keys: %d, want %d", len(got), len(queried)+2)
	}
	if v := got["xml2rfc"]; v == nil || *v != "3.21.0" {
		t.Fatalf("xml2rfc: %v", v)
	}
	if got["mmark"] != nil || got["aasvg"] != nil {
		t.Fatal("failed tools must report nil")
	}
	// Empty stdout counts as unknown.
	if got["idnits"] != nil {
		t.Fatal("empty banner must report nil")
	}
	if v := got["bap"]; v == nil || *v != BapVersion {
		t.Fatalf("bap: %v", v)
	}
	if v := got["author_tools_api"]; v == nil || *v != "0.9.0" {
		t.Fatalf("author_tools_api: %v", v)
	}
	for _, inv := range fake.Calls() {
		if len(inv.Args) != 1 || inv.Args[0] != "--version" {
			t.Fatalf("args: %v", inv.Args)
		}
		if inv.Tool == toolrun.Bap {
			t.Fatal("bap must not be queried")
		}
	}
}
