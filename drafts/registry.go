package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/staging"
)

const (
	msgLatestNotFound   = "Can not find url for the latest draft on datatracker"
	msgPreviousNotFound = "Can not find url for the previous draft on datatracker"
)

// Latest is the registry answer for a document.
type Latest struct {
	Name        string `json:"name"`
	Rev         string `json:"rev"`
	ContentURL  string `json:"content_url"`
	Previous    string `json:"previous"`
	PreviousURL string `json:"previous_url"`
}

// NameWithRevision returns "name-rev", or name when the registry has no rev.
func (l *Latest) NameWithRevision() string {
	if l.Rev == "" {
		return l.Name
	}
	return l.Name + "-" + l.Rev
}

// Registry looks up the latest published revision of a draft or RFC.
type Registry interface {
	Latest(ctx context.Context, doc string) (*Latest, error)
}

// HTTPRegistry queries a datatracker-style "latest draft" JSON endpoint at
// <base>/<doc>.
type HTTPRegistry struct {
	base    string
	fetcher *staging.Fetcher
	logger  *slog.Logger
}

// NewHTTPRegistry creates an HTTPRegistry rooted at base.
func NewHTTPRegistry(base string, fetcher *staging.Fetcher, logger *slog.Logger) *HTTPRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRegistry{base: strings.TrimRight(base, "/"), fetcher: fetcher, logger: logger}
}

// Latest implements Registry. An unknown document maps to DraftNotFound,
// other failures to Download.
func (r *HTTPRegistry) Latest(ctx context.Context, doc string) (*Latest, error) {
	endpoint := r.base + "/" + url.PathEscape(doc)
	body, err := r.fetcher.Get(context.WithoutCancel(ctx), endpoint)
	if err != nil {
		var se *staging.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, &apierr.Error{Kind: apierr.DraftNotFound, Message: msgLatestNotFound, Cause: err}
		}
		r.logger.Warn("registry lookup failed", "doc", doc, "error", err)
		return nil, &apierr.Error{Kind: apierr.Download, Message: "Error querying datatracker for " + doc, Cause: err}
	}
	var l Latest
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, &apierr.Error{Kind: apierr.DraftNotFound, Message: msgLatestNotFound, Cause: err}
	}
	return &l, nil
}
