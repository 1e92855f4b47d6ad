// Package drafts turns the ways a client can designate an Internet-Draft
// (an upload, a draft name, a URL) into a staged document.
package drafts

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/horosafe"
	"github.com/hazyhaar/authortools/staging"
)

// Kind discriminates a Reference.
type Kind int

const (
	KindUpload Kind = iota + 1
	KindName
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindName:
		return "name"
	case KindURL:
		return "url"
	}
	return "invalid"
}

// Upload is a client-supplied file.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Reference designates one document. Only the fields of Kind are read.
type Reference struct {
	Kind   Kind
	Name   string // draft or RFC name, optionally with revision
	URL    string
	Upload *Upload
}

// FromName, FromURL and FromUpload build references.
func FromName(name string) Reference { return Reference{Kind: KindName, Name: name} }
func FromURL(u string) Reference     { return Reference{Kind: KindURL, URL: u} }
func FromUpload(filename string, body io.Reader) Reference {
	return Reference{Kind: KindUpload, Upload: &Upload{Filename: filename, Body: body}}
}

// Validate rejects references that carry nothing to resolve.
func (r Reference) Validate() error {
	switch {
	case r.Kind == KindName && r.Name != "":
	case r.Kind == KindURL && r.URL != "":
	case r.Kind == KindUpload && r.Upload != nil && r.Upload.Body != nil:
	default:
		return apierr.New(apierr.MissingInput, "URL/document name must be provided")
	}
	return nil
}

// Config configures a Resolver.
type Config struct {
	AllowedDomains []string
	Registry       Registry
	Store          *staging.Store
	Logger         *slog.Logger
}

// Resolver resolves references against the allow-list, the registry and
// the staging store.
type Resolver struct {
	allow    horosafe.AllowList
	registry Registry
	store    *staging.Store
	logger   *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		allow:    horosafe.NewAllowList(cfg.AllowedDomains),
		registry: cfg.Registry,
		store:    cfg.Store,
		logger:   cfg.Logger,
	}
}

// CheckURL validates raw against the allow-list.
func (r *Resolver) CheckURL(raw string) error {
	if err := r.allow.ValidateURL(raw); err != nil {
		r.logger.Info("url rejected", "url", raw, "error", err)
		return &apierr.Error{Kind: apierr.InvalidURL, Message: "Invalid URL: " + raw, Cause: err}
	}
	return nil
}

// Resolve stages the document ref designates.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (*staging.StagedFile, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	switch ref.Kind {
	case KindURL:
		if err := r.CheckURL(ref.URL); err != nil {
			return nil, err
		}
		return r.store.Fetch(ctx, ref.URL)
	case KindName:
		u, err := r.LatestURL(ctx, ref.Name, "")
		if err != nil {
			return nil, err
		}
		return r.store.Fetch(ctx, u)
	case KindUpload:
		return r.store.Save(ref.Upload.Body, ref.Upload.Filename)
	}
	return nil, fmt.Errorf("drafts: unknown reference kind %d", ref.Kind)
}

// LatestURL asks the registry for the download URL of doc. When original
// (a name with revision) is the latest revision itself, the URL of the
// revision before it is returned instead.
func (r *Resolver) LatestURL(ctx context.Context, doc, original string) (string, error) {
	l, err := r.registry.Latest(ctx, doc)
	if err != nil {
		return "", err
	}
	if original != "" && original == l.NameWithRevision() {
		if l.PreviousURL == "" {
			return "", apierr.New(apierr.DraftNotFound, msgPreviousNotFound)
		}
		return l.PreviousURL, nil
	}
	if l.ContentURL == "" {
		return "", apierr.New(apierr.DraftNotFound, msgLatestNotFound)
	}
	return l.ContentURL, nil
}

// Previous stages the counterpart of f for a single-document diff: the
// latest revision of the same draft, or the one before it when f is the
// latest. The name comes from f's original filename only.
func (r *Resolver) Previous(ctx context.Context, f *staging.StagedFile) (*staging.StagedFile, error) {
	name, withRev, ok := ParseName(f.Original)
	if !ok {
		r.logger.Error("can not determine draft name", "filename", f.Original)
		return nil, apierr.New(apierr.DraftName, "Can not determine draft/rfc")
	}
	u, err := r.LatestURL(ctx, name, withRev)
	if err != nil {
		return nil, err
	}
	return r.store.Fetch(ctx, u)
}
