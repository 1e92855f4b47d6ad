package diagnostics

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/staging"
	"github.com/hazyhaar/authortools/toolrun"
	"github.com/hazyhaar/authortools/toolrun/toolruntest"
)

func setup(t *testing.T) (*Checker, *toolruntest.Fake, *staging.Store) {
	t.Helper()
	store, err := staging.New(staging.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	fake := toolruntest.New()
	return New(Config{Runner: fake, Store: store}), fake, store
}

func stage(t *testing.T, store *staging.Store, name, body string) *staging.StagedFile {
	t.Helper()
	f, err := store.Save(strings.NewReader(body), name)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestIdnitsOptions_Args(t *testing.T) {
	tests := []struct {
		opts IdnitsOptions
		want []string
	}{
		{IdnitsOptions{ShowText: true}, []string{"d.txt"}},
		{IdnitsOptions{}, []string{"--hidetext", "d.txt"}},
		{IdnitsOptions{Verbosity: 1, ShowText: true}, []string{"--verbose", "d.txt"}},
		{IdnitsOptions{Verbosity: 2, ShowText: true}, []string{"--verbose", "--verbose", "d.txt"}},
		{IdnitsOptions{ShowText: true, Year: "2021", SubmitCheck: true}, []string{"--year", "2021", "--submitcheck", "d.txt"}},
	}
	for _, tt := range tests {
		got, err := tt.opts.Args("d.txt")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%+v: got %v, want %v", tt.opts, got, tt.want)
		}
	}
	if _, err := (IdnitsOptions{Year: "20x1"}).Args("d.txt"); apierr.KindOf(err) != apierr.InvalidOption {
		t.Fatalf("bad year: got %v", err)
	}
}

func TestParseVerbosity(t *testing.T) {
	for in, want := range map[string]int{"0": 0, "1": 1, "2": 2, " 2 ": 2, "3": 0, "": 0, "yes": 0} {
		if got := ParseVerbosity(in); got != want {
			t.Errorf("ParseVerbosity(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestIdnits(t *testing.T) {
	c, fake, store := setup(t)
	f := stage(t, store, "draft-foo-01.txt", "text")
	fake.On(toolrun.Idnits, func(inv toolrun.Invocation) (*toolrun.Result, error) {
		return &toolrun.Result{ExitCode: 1, Stdout: []byte("idnits 2.17\n" + inv.Dir + "/draft-foo-01.txt:\n  Checking boilerplate\n")}, nil
	})
	out, err := c.Idnits(context.Background(), f, IdnitsOptions{ShowText: true})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, f.Dir) || !strings.Contains(out, "Checking boilerplate") {
		t.Fatalf("report: %q", out)
	}

	fake.On(toolrun.Idnits, toolruntest.Fail(2, "awk: not found"))
	if _, err := c.Idnits(context.Background(), f, IdnitsOptions{}); apierr.Public(err) != "idnits error: awk: not found" {
		t.Fatalf("got %v", err)
	}
}

func TestSVGCheck(t *testing.T) {
	c, fake, store := setup(t)
	f := stage(t, store, "figure.svg", "<svg/>")
	fake.On(toolrun.SVGCheck, func(inv toolrun.Invocation) (*toolrun.Result, error) {
		res, err := toolruntest.WriteOut("--out", []byte("<svg fixed=\"1\"/>"), "")(inv)
		res.ExitCode = 1
		res.Stderr = []byte(inv.Dir + "/figure.svg:1: The attribute 'onclick' is not allowed")
		return res, err
	})
	rep, err := c.SVGCheck(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	if rep.SVG != `<svg fixed="1"/>` {
		t.Fatalf("svg: %q", rep.SVG)
	}
	if rep.Result != "figure.svg:1: The attribute 'onclick' is not allowed" {
		t.Fatalf("result: %q", rep.Result)
	}
	args := fake.Calls()[0].Args
	if toolruntest.ArgAfter(args, "--out") != "figure.repaired.svg" || args[len(args)-1] != "figure.svg" {
		t.Fatalf("args: %v", args)
	}
}

func TestSVGCheck_NoOutput(t *testing.T) {
	c, fake, store := setup(t)
	f := stage(t, store, "figure.svg", "not svg")
	fake.On(toolrun.SVGCheck, toolruntest.Fail(1, "ERROR: Unable to parse the SVG"))
	_, err := c.SVGCheck(context.Background(), f)
	if apierr.KindOf(err) != apierr.SVGCheck || !strings.Contains(apierr.Public(err), "Unable to parse") {
		t.Fatalf("got %v", err)
	}
}

func TestExtractABNF(t *testing.T) {
	c, fake, store := setup(t)
	f := stage(t, store, "draft-foo-01.txt", "text")

	fake.On(toolrun.Aex, toolruntest.Stdout("rule = \"a\"\n"))
	out, err := c.ExtractABNF(context.Background(), f)
	if err != nil || out != "rule = \"a\"\n" {
		t.Fatalf("got %q, %v", out, err)
	}

	fake.On(toolrun.Aex, toolruntest.Stdout(""))
	if out, _ := c.ExtractABNF(context.Background(), f); out != "No ABNF found" {
		t.Fatalf("got %q", out)
	}

	fake.On(toolrun.Aex, toolruntest.Fail(1, "cannot read"))
	if _, err := c.ExtractABNF(context.Background(), f); apierr.KindOf(err) != apierr.TextProcessing {
		t.Fatalf("got %v", err)
	}
}

func TestParseABNF(t *testing.T) {
	// WHAT: bap syntax errors come back as data next to the normalized grammar.
	// WHY: Parse errors are the normal payload of /abnf/parse, not failures.
	c, fake, store := setup(t)
	f, err := store.SaveText("a = b\nc = \n")
	if err != nil {
		t.Fatal(err)
	}
	fake.On(toolrun.Bap, func(inv toolrun.Invocation) (*toolrun.Result, error) {
		return &toolrun.Result{
			ExitCode: 1,
			Stdout:   []byte("a = b\n"),
			Stderr:   []byte(inv.Dir + "/input.txt(2:4): error: syntax error\n\ninput.txt(1:5): warning: Rule b was not defined\n"),
		}, nil
	})
	res, err := c.ParseABNF(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"input.txt(2:4): error: syntax error", "input.txt(1:5): warning: Rule b was not defined"}
	if !reflect.DeepEqual(res.Errors, want) || res.ABNF != "a = b\n" {
		t.Fatalf("got %+v", res)
	}

	fake.On(toolrun.Bap, toolruntest.Stdout("a = b\n"))
	res, _ = c.ParseABNF(context.Background(), f)
	if res.Errors == nil || len(res.Errors) != 0 {
		t.Fatalf("clean grammar must give an empty, non-nil error list: %#v", res.Errors)
	}
}

func TestDiff(t *testing.T) {
	c, fake, store := setup(t)
	older := stage(t, store, "draft-foo-01.txt", "one")
	newer := stage(t, store, "draft-foo-02.txt", "two")

	fake.On(toolrun.Iddiff, func(inv toolrun.Invocation) (*toolrun.Result, error) {
		out := "<th>" + inv.Args[len(inv.Args)-2] + "</th><th>" + inv.Args[len(inv.Args)-1] + "</th>"
		return &toolrun.Result{Stdout: []byte(out)}, nil
	})
	out, err := c.Diff(context.Background(), older, newer, DiffOptions{Table: true, Wdiff: true})
	if err != nil {
		t.Fatal(err)
	}
	if out != "<th>draft-foo-01.txt</th><th>draft-foo-02.txt</th>" {
		t.Fatalf("staging paths leaked: %q", out)
	}
	args := fake.Calls()[0].Args
	if args[0] != "-t" || args[1] != "-w" {
		t.Fatalf("args: %v", args)
	}

	fake.On(toolrun.Iddiff, toolruntest.Fail(1, "cannot open "+older.Path()))
	_, err = c.Diff(context.Background(), older, newer, DiffOptions{})
	if got := apierr.Public(err); got != "iddiff error: cannot open draft-foo-01.txt" {
		t.Fatalf("got %q", got)
	}
}
