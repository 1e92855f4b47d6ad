// Package staging owns the on-disk area where uploaded, fetched and
// intermediate documents live. Every staged document gets its own directory
// named after a generated token, so concurrent requests never share a path.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/authortools/apierr"
	"github.com/hazyhaar/authortools/format"
	"github.com/hazyhaar/authortools/horosafe"
	"github.com/hazyhaar/authortools/idgen"
)

// ErrNotFound is returned by Locate for unknown artifacts.
var ErrNotFound = errors.New("staging: artifact not found")

// StagedFile is a document (source or artifact) inside the staging area.
type StagedFile struct {
	ID       string     // token naming the staging directory
	Dir      string     // absolute staging directory
	Name     string     // file name inside Dir
	Original string     // name the client knows the document by
	Format   format.Tag // classification of Name
	Pages    int        // page count, verified PDF artifacts only
}

// Path returns the absolute path of the file.
func (f *StagedFile) Path() string { return filepath.Join(f.Dir, f.Name) }

// Logical returns the "<id>/<name>" handle accepted by Store.Locate.
func (f *StagedFile) Logical() string { return f.ID + "/" + f.Name }

// Stem returns Name without its extension.
func (f *StagedFile) Stem() string { return strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) }

// Config configures a Store.
type Config struct {
	Root     string
	MaxBytes int64 // per document. Default: 20MB.
	IDGen    idgen.Generator
	Fetch    FetchConfig
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 * 1024 * 1024
	}
	if c.IDGen == nil {
		c.IDGen = idgen.Prefixed("stg_", idgen.Default)
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = c.MaxBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the staging area. It holds no per-request state.
type Store struct {
	cfg     Config
	root    string
	fetcher *Fetcher
}

// New creates the root directory if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Root == "" {
		return nil, fmt.Errorf("staging: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("staging: root: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("staging: mkdir root: %w", err)
	}
	return &Store{cfg: cfg, root: root, fetcher: NewFetcher(cfg.Fetch)}, nil
}

// Root returns the absolute staging root.
func (s *Store) Root() string { return s.root }

// Save stages the content of r under a fresh directory. filename is the
// client name; it is sanitized and kept as the staged file name.
func (s *Store) Save(r io.Reader, filename string) (*StagedFile, error) {
	name := horosafe.SanitizeFilename(filename)
	if name == "" {
		return nil, apierr.New(apierr.MissingFilename, "Filename is missing")
	}
	data, err := horosafe.LimitedReadAll(r, s.cfg.MaxBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, apierr.Newf(apierr.TooLarge, "File exceeds the %d MB limit", s.cfg.MaxBytes>>20)
		}
		return nil, &apierr.Error{Kind: apierr.Internal, Message: "Error reading upload", Cause: err}
	}
	return s.write(data, name, filename)
}

// SaveText stages a raw text payload.
func (s *Store) SaveText(text string) (*StagedFile, error) {
	if int64(len(text)) > s.cfg.MaxBytes {
		return nil, apierr.Newf(apierr.TooLarge, "Input exceeds the %d MB limit", s.cfg.MaxBytes>>20)
	}
	return s.write([]byte(text), "input.txt", "input.txt")
}

// Fetch downloads rawURL and stages the body under the URL's base name.
// The download is not cancelled when the request goes away.
func (s *Store) Fetch(ctx context.Context, rawURL string) (*StagedFile, error) {
	body, err := s.fetcher.Get(context.WithoutCancel(ctx), rawURL)
	if err != nil {
		s.cfg.Logger.Warn("download failed", "url", rawURL, "error", err)
		var se *StatusError
		if errors.As(err, &se) {
			return nil, &apierr.Error{
				Kind:    apierr.Download,
				Message: fmt.Sprintf("Error downloading %s: HTTP %d", rawURL, se.StatusCode),
				Cause:   err,
			}
		}
		return nil, &apierr.Error{Kind: apierr.Download, Message: "Error downloading " + rawURL, Cause: err}
	}
	name := nameFromURL(rawURL)
	return s.write(body, name, name)
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download.txt"
	}
	name := horosafe.SanitizeFilename(path.Base(u.Path))
	if name == "" {
		return "download.txt"
	}
	return name
}

func (s *Store) write(data []byte, name, original string) (*StagedFile, error) {
	id, dir, err := s.newDir()
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.Internal, Message: "Error staging file", Cause: err}
	}
	f := &StagedFile{ID: id, Dir: dir, Name: name, Original: filepath.Base(original)}
	if err := os.WriteFile(f.Path(), data, 0o640); err != nil {
		return nil, &apierr.Error{Kind: apierr.Internal, Message: "Error staging file", Cause: err}
	}
	f.Format = classify(f)
	return f, nil
}

// newDir creates a directory named by a fresh ID. os.Mkdir fails on an
// existing directory, which makes an ID collision visible instead of shared.
func (s *Store) newDir() (string, string, error) {
	var lastErr error
	for range 3 {
		id := s.cfg.IDGen()
		if err := idgen.Valid(id); err != nil {
			return "", "", err
		}
		dir := filepath.Join(s.root, id)
		if err := os.Mkdir(dir, 0o750); err != nil {
			lastErr = err
			continue
		}
		return id, dir, nil
	}
	return "", "", fmt.Errorf("staging: allocate directory: %w", lastErr)
}

var allFormats = func() format.AllowList {
	all := format.AllowList{}
	for ext, tag := range format.General {
		all[ext] = tag
	}
	for ext, tag := range format.SVGOnly {
		all[ext] = tag
	}
	return all
}()

func classify(f *StagedFile) format.Tag {
	tag, _ := format.Classify(f.Name, allFormats)
	return format.Sniff(f.Path(), tag)
}

// Artifact reserves the name of an output derived from f: "<stem><ext>", or
// "<stem>.<hint><ext>" when that name is already taken in the directory.
// Nothing is written.
func (s *Store) Artifact(f *StagedFile, hint, ext string, tag format.Tag) *StagedFile {
	name := f.Stem() + ext
	if _, err := os.Stat(filepath.Join(f.Dir, name)); err == nil {
		name = f.Stem() + "." + hint + ext
	}
	return &StagedFile{ID: f.ID, Dir: f.Dir, Name: name, Original: f.Original, Format: tag}
}

// Locate resolves a logical "<id>/<name>" handle to an absolute path.
func (s *Store) Locate(logical string) (string, error) {
	id, name, ok := strings.Cut(logical, "/")
	if !ok || idgen.Valid(id) != nil || name == "" || strings.ContainsAny(name, `/\`) {
		return "", ErrNotFound
	}
	p, err := horosafe.SafePath(s.root, id+"/"+name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// Remove deletes the staging directory of f and everything in it.
func (s *Store) Remove(f *StagedFile) error {
	if f == nil || idgen.Valid(f.ID) != nil {
		return nil
	}
	dir, err := horosafe.SafePath(s.root, f.ID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
