package staging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/idgen"
)

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSave(t *testing.T) {
	s := newStore(t, Config{IDGen: idgen.Sequence("t")})
	f, err := s.Save(strings.NewReader("# Title\n"), "draft-ietf-foo-bar-03.md")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if f.ID != "t1" || f.Name != "draft-ietf-foo-bar-03.md" || f.Format != format.Kramdown {
		t.Fatalf("staged: %+v", f)
	}
	if f.Dir != filepath.Join(s.Root(), "t1") {
		t.Fatalf("dir: %s", f.Dir)
	}
	data, err := os.ReadFile(f.Path())
	if err != nil || string(data) != "# Title\n" {
		t.Fatalf("content: %q, %v", data, err)
	}
}

func TestSave_Sanitizes(t *testing.T) {
	s := newStore(t, Config{})
	f, err := s.Save(strings.NewReader("x"), "../../etc/draft.txt")
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "draft.txt" || !strings.HasPrefix(f.Path(), s.Root()+string(filepath.Separator)) {
		t.Fatalf("escaped staging root: %s", f.Path())
	}
	if _, err := s.Save(strings.NewReader("x"), "///"); apierr.KindOf(err) != apierr.MissingFilename {
		t.Fatalf("unusable name: got %v", err)
	}
}

func TestSave_TooLarge(t *testing.T) {
	s := newStore(t, Config{MaxBytes: 4})
	if _, err := s.Save(strings.NewReader("12345"), "a.txt"); apierr.KindOf(err) != apierr.TooLarge {
		t.Fatalf("got %v", err)
	}
}

func TestSave_ConcurrentUnique(t *testing.T) {
	// WHAT: Concurrent saves of the same filename never share a path.
	// WHY: Uniqueness of staged names is the only isolation between requests.
	s := newStore(t, Config{})
	var (
		mu    sync.Mutex
		paths = map[string]bool{}
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Save(strings.NewReader("x"), "draft.xml")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if paths[f.Path()] {
				t.Errorf("duplicate path %s", f.Path())
			}
			paths[f.Path()] = true
		}()
	}
	wg.Wait()
}

func TestSave_IDCollision(t *testing.T) {
	s := newStore(t, Config{IDGen: func() string { return "same" }})
	if _, err := s.Save(strings.NewReader("a"), "a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(strings.NewReader("b"), "a.txt"); err == nil {
		t.Fatal("colliding IDs must fail instead of sharing a directory")
	}
}

func TestSaveText(t *testing.T) {
	s := newStore(t, Config{})
	f, err := s.SaveText("rule = %x41\n")
	if err != nil {
		t.Fatal(err)
	}
	if f.Format != format.TextID || f.Name != "input.txt" {
		t.Fatalf("staged: %+v", f)
	}
}

func TestSave_SniffsXMLVersion(t *testing.T) {
	s := newStore(t, Config{})
	f, err := s.Save(strings.NewReader(`<rfc docName="draft-x-00"></rfc>`), "draft-x-00.xml")
	if err != nil {
		t.Fatal(err)
	}
	if f.Format != format.XMLv2 {
		t.Fatalf("format: %s", f.Format)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive/id/draft-foo-02.txt":
			if r.Header.Get("User-Agent") == "" {
				t.Error("missing user agent")
			}
			w.Write([]byte("Internet-Draft text"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newStore(t, Config{})
	f, err := s.Fetch(context.Background(), srv.URL+"/archive/id/draft-foo-02.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if f.Name != "draft-foo-02.txt" || f.Original != "draft-foo-02.txt" || f.Format != format.TextID {
		t.Fatalf("staged: %+v", f)
	}

	_, err = s.Fetch(context.Background(), srv.URL+"/missing.txt")
	if apierr.KindOf(err) != apierr.Download || !strings.Contains(apierr.Public(err), "HTTP 404") {
		t.Fatalf("404: got %v", err)
	}
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := newStore(t, Config{})
	if _, err := s.Fetch(context.Background(), url+"/x.txt"); apierr.KindOf(err) != apierr.Download {
		t.Fatalf("got %v", err)
	}
}

func TestFetch_SizeBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	s := newStore(t, Config{Fetch: FetchConfig{MaxBytes: 10}})
	if _, err := s.Fetch(context.Background(), srv.URL+"/big.txt"); apierr.KindOf(err) != apierr.Download {
		t.Fatalf("got %v", err)
	}
}

func TestFetch_RedirectValidated(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer target.Close()
	redir := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/x.txt", http.StatusFound)
	}))
	defer redir.Close()

	s := newStore(t, Config{Fetch: FetchConfig{RedirectValidator: func(u string) error {
		if strings.HasPrefix(u, target.URL) {
			return errors.New("not allowed")
		}
		return nil
	}}})
	if _, err := s.Fetch(context.Background(), redir.URL+"/start.txt"); apierr.KindOf(err) != apierr.Download {
		t.Fatalf("redirect should be refused, got %v", err)
	}
}

func TestNameFromURL(t *testing.T) {
	tests := map[string]string{
		"https://www.ietf.org/archive/id/draft-a-01.txt": "draft-a-01.txt",
		"https://www.ietf.org/":                          "download.txt",
		"https://www.ietf.org":                           "download.txt",
		"https://x.org/a%20b.md?raw=1":                   "a_b.md",
	}
	for in, want := range tests {
		if got := nameFromURL(in); got != want {
			t.Errorf("nameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArtifactAndLocate(t *testing.T) {
	s := newStore(t, Config{})
	src, err := s.Save(strings.NewReader("x"), "draft-a-00.txt")
	if err != nil {
		t.Fatal(err)
	}

	xml := s.Artifact(src, "v3", ".xml", format.XMLv3)
	if xml.Name != "draft-a-00.xml" || xml.Dir != src.Dir {
		t.Fatalf("artifact: %+v", xml)
	}
	txt := s.Artifact(src, "text", ".txt", format.TextID)
	if txt.Name != "draft-a-00.text.txt" {
		t.Fatalf("collision not avoided: %s", txt.Name)
	}

	if _, err := s.Locate(xml.Logical()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unwritten artifact: got %v", err)
	}
	if err := os.WriteFile(xml.Path(), []byte("<rfc/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := s.Locate(xml.Logical())
	if err != nil || p != xml.Path() {
		t.Fatalf("locate: %s, %v", p, err)
	}
	for _, bad := range []string{"../x", src.ID + "/../../etc/passwd", src.ID, src.ID + "/", "a/b/c"} {
		if _, err := s.Locate(bad); err == nil {
			t.Errorf("Locate(%q) must fail", bad)
		}
	}
}

func TestRemove(t *testing.T) {
	s := newStore(t, Config{})
	f, err := s.Save(strings.NewReader("x"), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(f); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.Dir); !os.IsNotExist(err) {
		t.Fatalf("directory still present: %v", err)
	}
	if _, err := os.Stat(s.Root()); err != nil {
		t.Fatal("root must survive")
	}
}
