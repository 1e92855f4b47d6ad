// Package horosafe holds the safety primitives of authortools: the domain
// allow-list applied to every client-supplied URL, path traversal guards for
// the staging area, filename sanitizing and bounded reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"
)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrHostNotAllowed is returned when a URL host is outside the allow-list.
var ErrHostNotAllowed = errors.New("horosafe: host is not in the allowed domains")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: content exceeds size limit")

// AllowList is a set of exact, normalized host names.
type AllowList map[string]struct{}

// NewAllowList normalizes domains (IDNA, lower case, no trailing dot).
// Entries that cannot be normalized are skipped.
func NewAllowList(domains []string) AllowList {
	a := make(AllowList, len(domains))
	for _, d := range domains {
		if h, err := normalizeHost(d); err == nil && h != "" {
			a[h] = struct{}{}
		}
	}
	return a
}

// Allows reports whether host is in the list. Subdomains are not implied.
func (a AllowList) Allows(host string) bool {
	h, err := normalizeHost(host)
	if err != nil {
		return false
	}
	_, ok := a[h]
	return ok
}

// ValidateURL checks that rawURL is well formed, uses http or https and
// targets a host of the list.
func (a AllowList) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if !a.Allows(host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// ValidateURL is shorthand for NewAllowList(allowed).ValidateURL(rawURL).
func ValidateURL(rawURL string, allowed []string) error {
	return NewAllowList(allowed).ValidateURL(rawURL)
}

func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// SafePath validates that joining base and userInput does not escape base.
// Returns the cleaned absolute path or ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// SanitizeFilename reduces a client filename to a safe base name made of
// [A-Za-z0-9._-]. Directory components are dropped; other characters become
// '_'. Returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if strings.Trim(out, "_") == "" {
		return ""
	}
	return out
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}
