package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
)

// Ref binds a logical document to its local and remote paths
type Ref struct {
	LocalPath  string
	RemotePath string
}

// RemoteStore reads documents from the remote repository with the editor's token.
// Errors wrap ErrUnauthorized, ErrNotFound or ErrConflict where applicable.
type RemoteStore interface {
	Get(ctx context.Context, token, path string) (*Document, error)
	Put(ctx context.Context, token string, doc *Document, message string) (*Document, error)
}

// DocumentProvider is implemented by *Manager
type DocumentProvider interface {
	Document(path string) (*Document, bool)
}

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindFetch       ErrorKind = "fetch"
	KindUnavailable ErrorKind = "unavailable"
	KindMissing     ErrorKind = "missing"
)

// ResolveError is what the renderer shows instead of a document
type ResolveError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Message is safe to show to the editor
func (e *ResolveError) Message() string {
	switch e.Kind {
	case KindAuth:
		return "Github rejected your login, exit edit mode and sign in again"
	case KindNotFound:
		return fmt.Sprintf("%s was not found in the repository", e.Path)
	case KindUnavailable:
		return "Preview mode is not configured"
	case KindMissing:
		return "Content is not available"
	default:
		return fmt.Sprintf("Could not load %s from Github", e.Path)
	}
}

type ResolverOptions struct {
	Local DocumentProvider
	// Remote may be nil when preview is not configured
	Remote RemoteStore
	// OnResolve is called with the source and "ok" or the error kind
	OnResolve func(src Source, result string)
}

// Resolver produces documents for a request's preview session
type Resolver struct {
	opts ResolverOptions
}

func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Local == nil {
		return nil, errors.New("content: resolver needs a local document provider")
	}
	return &Resolver{opts: opts}, nil
}

// Remote returns the remote store, nil when preview is not configured
func (r *Resolver) Remote() RemoteStore { return r.opts.Remote }

// Resolve returns the local document when sess is not in preview, the remote one otherwise.
// Failures are returned as *ResolveError.
func (r *Resolver) Resolve(ctx context.Context, ref Ref, sess preview.Session) (*Document, error) {
	if !sess.Preview {
		doc, ok := r.opts.Local.Document(ref.LocalPath)
		if !ok {
			r.result(SourceUnknown, string(KindMissing))
			return nil, &ResolveError{Kind: KindMissing, Path: ref.LocalPath}
		}
		r.result(doc.Source, "ok")
		return doc, nil
	}

	if r.opts.Remote == nil {
		r.result(SourceGitHub, string(KindUnavailable))
		return nil, &ResolveError{Kind: KindUnavailable, Path: ref.RemotePath}
	}
	if sess.Token == "" {
		r.result(SourceGitHub, string(KindAuth))
		return nil, &ResolveError{Kind: KindAuth, Path: ref.RemotePath}
	}

	doc, err := r.opts.Remote.Get(ctx, sess.Token, ref.RemotePath)
	if err != nil {
		re := &ResolveError{Kind: KindFetch, Path: ref.RemotePath, Err: err}
		switch {
		case errors.Is(err, ErrUnauthorized):
			re.Kind = KindAuth
		case errors.Is(err, ErrNotFound):
			re.Kind = KindNotFound
		}
		r.result(SourceGitHub, string(re.Kind))
		log.FromContext(ctx).Warn(ctx, "remote content fetch failed",
			"path", ref.RemotePath,
			"kind", re.Kind,
			"error", err,
		)
		return nil, re
	}
	r.result(SourceGitHub, "ok")
	return doc, nil
}

func (r *Resolver) result(src Source, result string) {
	if r.opts.OnResolve != nil {
		r.opts.OnResolve(src, result)
	}
}
