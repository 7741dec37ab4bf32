// Package githubstore is the remote content store: JSON documents in a GitHub
// repository, read and committed through the contents API with the editor's
// OAuth token. It also validates tokens for preview sessions and proxies
// editor API calls to GitHub.
package githubstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

const DefaultBaseURL = "https://api.github.com/"

type Options struct {
	Logger log.Logger
	// HTTPClient carries timeouts and tracing, shared by every call
	HTTPClient *http.Client
	BaseURL    string

	Owner  string
	Repo   string
	Branch string

	// Observe is called after every API call with the operation name
	Observe func(op string, d time.Duration, err error)
}

// Store implements content.RemoteStore and preview.Validator against one repository and branch
type Store struct {
	opts   Options
	client *github.Client
	logger log.Logger
}

func New(opts Options) (*Store, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, xerrors.New("githubstore: Owner and Repo are required")
	}
	if opts.Branch == "" {
		return nil, xerrors.New("githubstore: Branch is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, xerrors.Wrapf(err, "githubstore: parse base url %q", opts.BaseURL)
	}

	client := github.NewClient(opts.HTTPClient)
	client.BaseURL = base
	return &Store{opts: opts, client: client, logger: opts.Logger}, nil
}

// FullName returns owner/repo
func (s *Store) FullName() string { return s.opts.Owner + "/" + s.opts.Repo }

// Branch returns the branch documents are read from and committed to
func (s *Store) Branch() string { return s.opts.Branch }

// BaseURL returns the API base url, with trailing slash
func (s *Store) BaseURL() string { return s.opts.BaseURL }

func (s *Store) as(token string) *github.Client {
	return s.client.WithAuthToken(token)
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.opts.Observe != nil {
		s.opts.Observe(op, time.Since(start), err)
	}
}

// Get reads the document at path from the configured branch
func (s *Store) Get(ctx context.Context, token, path string) (doc *content.Document, err error) {
	if !content.ValidPath(path) {
		return nil, xerrors.WithStack(fmt.Errorf("%w: %q", content.ErrInvalidPath, path))
	}
	start := time.Now()
	defer func() { s.observe("get_contents", start, err) }()

	fc, _, _, err := s.as(token).Repositories.GetContents(ctx, s.opts.Owner, s.opts.Repo, path,
		&github.RepositoryContentGetOptions{Ref: s.opts.Branch})
	if err != nil {
		return nil, xerrors.Wrapf(mapError(err), "get %s@%s:%s", s.FullName(), s.opts.Branch, path)
	}
	if fc == nil {
		return nil, xerrors.WithStack(fmt.Errorf("%w: %s is a directory", content.ErrNotFound, path))
	}
	raw, err := fc.GetContent()
	if err != nil {
		return nil, xerrors.Wrapf(err, "decode %s", path)
	}
	doc, err = content.ParseDocument(path, []byte(raw), content.SourceGitHub)
	if err != nil {
		return nil, xerrors.WithStack(err)
	}
	doc.SHA = fc.GetSHA()
	return doc, nil
}

// Put commits doc to the configured branch. doc.SHA must be the blob sha the
// edit was based on; a stale sha fails with content.ErrConflict.
func (s *Store) Put(ctx context.Context, token string, doc *content.Document, message string) (out *content.Document, err error) {
	if doc == nil || !content.ValidPath(doc.Path) {
		return nil, xerrors.WithStack(content.ErrInvalidPath)
	}
	raw, err := doc.Encode()
	if err != nil {
		return nil, xerrors.WithStack(err)
	}
	if message == "" {
		message = "Update from editor: " + doc.Path
	}

	start := time.Now()
	defer func() { s.observe("update_file", start, err) }()

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: raw,
		Branch:  github.String(s.opts.Branch),
	}
	if doc.SHA != "" {
		opts.SHA = github.String(doc.SHA)
	}
	resp, _, err := s.as(token).Repositories.UpdateFile(ctx, s.opts.Owner, s.opts.Repo, doc.Path, opts)
	if err != nil {
		return nil, xerrors.Wrapf(mapError(err), "update %s@%s:%s", s.FullName(), s.opts.Branch, doc.Path)
	}

	out = doc.Clone()
	out.Source = content.SourceGitHub
	if resp != nil && resp.Content != nil {
		out.SHA = resp.Content.GetSHA()
	}
	s.logger.Info(ctx, "committed content document",
		"repo", s.FullName(),
		"branch", s.opts.Branch,
		"path", doc.Path,
		"sha", out.SHA,
	)
	return out, nil
}

// Validate checks that token belongs to a user who can see the repository.
// Rejections wrap preview.ErrInvalidToken, transport failures do not.
func (s *Store) Validate(ctx context.Context, token string) (err error) {
	start := time.Now()
	defer func() { s.observe("validate", start, err) }()

	gh := s.as(token)
	if _, _, err := gh.Users.Get(ctx, ""); err != nil {
		if errors.Is(mapError(err), content.ErrUnauthorized) {
			return fmt.Errorf("%w: %v", preview.ErrInvalidToken, err)
		}
		return xerrors.Wrap(err, "github user lookup")
	}
	if _, _, err := gh.Repositories.Get(ctx, s.opts.Owner, s.opts.Repo); err != nil {
		mapped := mapError(err)
		// private repos answer 404 to users without access
		if errors.Is(mapped, content.ErrUnauthorized) || errors.Is(mapped, content.ErrNotFound) {
			return fmt.Errorf("%w: no access to %s: %v", preview.ErrInvalidToken, s.FullName(), err)
		}
		return xerrors.Wrapf(err, "github repository lookup %s", s.FullName())
	}
	return nil
}

// mapError translates GitHub API errors into the content store errors
func mapError(err error) error {
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return err
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return err
	}
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil {
		return err
	}
	switch er.Response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", content.ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", content.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", content.ErrConflict, err)
	case http.StatusUnprocessableEntity:
		// sha mismatch comes back as 422 "does not match"
		if strings.Contains(strings.ToLower(er.Message), "does not match") || strings.Contains(strings.ToLower(er.Message), "sha") {
			return fmt.Errorf("%w: %v", content.ErrConflict, err)
		}
	}
	return err
}
