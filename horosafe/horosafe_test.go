package horosafe

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/srv/staging", "stg_1/draft.xml", false},
		{"/srv/staging", "../etc/passwd", true},
		{"/srv/staging", "stg_1/../stg_2", true},
		{"/srv/staging", "stg_1/../../outside", true},
		{"/srv/staging", "draft-foo-00.txt", false},
	}
	for _, tt := range tests {
		_, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateURL(t *testing.T) {
	// WHAT: Only http(s) URLs whose host is exactly in the allow-list pass.
	// WHY: The service fetches client URLs; everything else is an SSRF vector.
	allowed := []string{"www.ietf.org", "datatracker.ietf.org", "Raw.GitHubUserContent.com."}
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.ietf.org/archive/id/draft-foo-00.txt", false},
		{"http://datatracker.ietf.org/doc/draft-foo/", false},
		{"https://WWW.IETF.ORG/x.txt", false},
		{"https://raw.githubusercontent.com/a/b/draft.md", false},
		{"https://ietf.org/x.txt", true},
		{"https://evil.www.ietf.org/x.txt", true},
		{"https://www.ietf.org.evil.com/x.txt", true},
		{"ftp://www.ietf.org/x.txt", true},
		{"javascript:alert(1)", true},
		{"http://127.0.0.1/admin", true},
		{"not a url", true},
		{"https:///nohost", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url, allowed)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestAllowList_IDN(t *testing.T) {
	a := NewAllowList([]string{"bücher.example"})
	if !a.Allows("xn--bcher-kva.example") {
		t.Fatal("punycode form must match the unicode entry")
	}
	if !a.Allows("BÜCHER.example") {
		t.Fatal("unicode host must match case-insensitively")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"draft-ietf-foo-03.xml", "draft-ietf-foo-03.xml"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\draft.md`, "draft.md"},
		{"my draft.md", "my_draft.md"},
		{".hidden.txt", "hidden.txt"},
		{"", ""},
		{"...", ""},
		{"???", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(bytes.NewReader([]byte("hello")), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	_, err = LimitedReadAll(strings.NewReader(strings.Repeat("x", 11)), 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	data, err = LimitedReadAll(strings.NewReader(strings.Repeat("x", 10)), 10)
	if err != nil || len(data) != 10 {
		t.Fatalf("exact limit: got %d bytes, %v", len(data), err)
	}
}
