package drafts

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	draftRe = regexp.MustCompile(`^(draft-[a-z0-9-]+?)-(\d{2})$`)
	rfcRe   = regexp.MustCompile(`^(rfc\d+)$`)
)

// ParseName extracts the document name from a filename such as
// "draft-ietf-foo-bar-03.xml" (name "draft-ietf-foo-bar", with revision
// "draft-ietf-foo-bar-03") or "rfc9000.txt" (both "rfc9000").
func ParseName(filename string) (name, withRevision string, ok bool) {
	base := strings.ToLower(filepath.Base(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if m := draftRe.FindStringSubmatch(base); m != nil {
		return m[1], base, true
	}
	if m := rfcRe.FindStringSubmatch(base); m != nil {
		return m[1], m[1], true
	}
	return "", "", false
}
