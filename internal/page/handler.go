package page

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/preview"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

type Options struct {
	Logger   log.Logger
	Pages    *Registry
	Renderer *Renderer
	Resolver *content.Resolver
	// Sessions returns the preview session of a request
	Sessions func(r *http.Request) preview.Session
	// OnSave is called with "ok", "forbidden", "invalid", "conflict", "auth" or "error"
	OnSave func(result string)
}

// Handler serves the declared pages, the save action and the content API
type Handler struct {
	opts   Options
	logger log.Logger
}

func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Pages == nil:
		return nil, xerrors.New("page: Pages is required")
	case opts.Renderer == nil:
		return nil, xerrors.New("page: Renderer is required")
	case opts.Resolver == nil:
		return nil, xerrors.New("page: Resolver is required")
	case opts.Sessions == nil:
		return nil, xerrors.New("page: Sessions is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Handler{opts: opts, logger: opts.Logger}, nil
}

// RegisterRoutes attaches every page route plus the save and content endpoints
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, def := range h.opts.Pages.Defs() {
		r.Get(def.Route, func(w http.ResponseWriter, r *http.Request) {
			h.ServePage(w, r, def)
		})
	}
	r.Post("/api/save/{page}", h.HandleSave)
	r.Get("/api/content/{page}", h.HandleContent)
}

// ServePage renders def with the document resolved for the request's session
func (h *Handler) ServePage(w http.ResponseWriter, r *http.Request, def Def) {
	ctx := r.Context()
	sess := h.opts.Sessions(r)
	mode := ModeFor(sess)

	p := Props{
		Title: def.Title,
		Page:  def,
		Mode:  mode,
		Error: sess.Error,
	}
	if r.URL.Query().Get("saved") == "1" && mode.Editing() {
		p.Notice = "Changes saved"
	}

	doc, err := h.opts.Resolver.Resolve(ctx, def.Ref, sess)
	if err != nil && mode.Editing() && isKind(err, content.KindNotFound) {
		// an empty form, the first save creates the document
		p.Error = errorMessage(err) + ", saving creates it"
		p.Fields = def.Form.Views(nil, nil, nil)
		p.SaveAction = def.SaveAction()
		h.render(ctx, w, http.StatusOK, sess, p)
		return
	}
	if err != nil {
		p.Error = errorMessage(err)
		h.render(ctx, w, statusFor(err), sess, p)
		return
	}

	p.Doc = doc
	if mode.Editing() {
		p.Fields = def.Form.Views(doc, nil, nil)
		p.SHA = doc.SHA
		p.SaveAction = def.SaveAction()
	}
	h.render(ctx, w, http.StatusOK, sess, p)
}

// HandleSave commits the submitted form values of a page to the remote store.
// Only the page's declared fields are written. On failure the page is rendered
// again with the message next to the form and the submitted values kept.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	def, ok := h.opts.Pages.Lookup(chi.URLParam(r, "page"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	sess := h.opts.Sessions(r)
	if !sess.Preview {
		h.saveResult("forbidden")
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "Enter edit mode to save changes", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.saveResult("invalid")
		http.Error(w, "Could not read the submitted form", http.StatusBadRequest)
		return
	}
	remote := h.opts.Resolver.Remote()
	if remote == nil {
		h.saveResult("error")
		http.Error(w, "Preview mode is not configured", http.StatusServiceUnavailable)
		return
	}

	p := Props{
		Title:      def.Title,
		Page:       def,
		Mode:       Editing,
		SaveAction: def.SaveAction(),
		SHA:        r.PostForm.Get("sha"),
	}

	current, err := remote.Get(ctx, sess.Token, def.Ref.RemotePath)
	if errors.Is(err, content.ErrNotFound) {
		// first save creates the document
		current, err = &content.Document{Path: def.Ref.RemotePath, Data: map[string]any{}, Source: content.SourceGitHub}, nil
	}
	if err != nil {
		h.saveResult(saveKind(err))
		L.Warn(ctx, "save aborted, could not read current document", "page", def.Name, "error", err)
		p.Error = "Could not load the current version from Github, your changes were not saved"
		if errors.Is(err, content.ErrUnauthorized) {
			p.Error = "Github rejected your login, exit edit mode and sign in again"
		}
		p.Fields = def.Form.Views(nil, r.PostForm, nil)
		h.render(ctx, w, saveStatus(err), sess, p)
		return
	}
	p.Doc = current

	base := p.SHA
	if base == "" {
		base = current.SHA
	}
	if base != current.SHA {
		h.saveResult("conflict")
		p.Error = conflictMessage
		p.SHA = current.SHA
		p.Fields = def.Form.Views(current, r.PostForm, nil)
		h.render(ctx, w, http.StatusConflict, sess, p)
		return
	}

	updated, fieldErrs := def.Form.Apply(current, r.PostForm)
	if fieldErrs != nil {
		h.saveResult("invalid")
		p.Error = "Some fields are not valid, nothing was saved"
		p.Fields = def.Form.Views(current, r.PostForm, fieldErrs)
		h.render(ctx, w, http.StatusUnprocessableEntity, sess, p)
		return
	}
	updated.SHA = base

	if _, err := remote.Put(ctx, sess.Token, updated, ""); err != nil {
		h.saveResult(saveKind(err))
		p.Fields = def.Form.Views(current, r.PostForm, nil)
		switch {
		case errors.Is(err, content.ErrConflict):
			p.Error = conflictMessage
		case errors.Is(err, content.ErrUnauthorized):
			p.Error = "Github rejected your login, exit edit mode and sign in again"
		default:
			p.Error = "Could not save to Github, try again"
		}
		L.Error(ctx, err, "save failed", "page", def.Name, "path", def.Ref.RemotePath)
		h.render(ctx, w, saveStatus(err), sess, p)
		return
	}

	h.saveResult("ok")
	L.Info(ctx, "page saved", "page", def.Name, "path", def.Ref.RemotePath)
	http.Redirect(w, r, def.Route+"?saved=1", http.StatusSeeOther)
}

// HandleContent returns the document a page would render for this session as JSON
func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, ok := h.opts.Pages.Lookup(chi.URLParam(r, "page"))
	if !ok {
		h.writeJSON(ctx, w, http.StatusNotFound, map[string]string{"message": "Unknown page"})
		return
	}
	sess := h.opts.Sessions(r)
	doc, err := h.opts.Resolver.Resolve(ctx, def.Ref, sess)
	if err != nil {
		h.writeJSON(ctx, w, statusFor(err), map[string]string{"message": errorMessage(err)})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, doc)
}

const conflictMessage = "This page was changed on Github since you opened it. Your edits are kept below, save again to overwrite."

func (h *Handler) render(ctx context.Context, w http.ResponseWriter, status int, sess preview.Session, p Props) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Add("Vary", "Cookie")
	if sess.Preview || sess.Error != "" {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	var buf bytes.Buffer
	if err := h.opts.Renderer.Render(&buf, p); err != nil {
		log.FromContext(ctx).Error(ctx, err, "failed to render page", "page", p.Page.Name)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
		return
	}
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (h *Handler) saveResult(result string) {
	if h.opts.OnSave != nil {
		h.opts.OnSave(result)
	}
}

func errorMessage(err error) string {
	var re *content.ResolveError
	if errors.As(err, &re) {
		return re.Message()
	}
	return "Content is not available"
}

func isKind(err error, kind content.ErrorKind) bool {
	var re *content.ResolveError
	return errors.As(err, &re) && re.Kind == kind
}

// statusFor maps a resolve failure to the page status
func statusFor(err error) int {
	var re *content.ResolveError
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Kind {
	case content.KindAuth:
		return http.StatusUnauthorized
	case content.KindNotFound:
		return http.StatusNotFound
	case content.KindUnavailable, content.KindMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func saveStatus(err error) int {
	switch {
	case errors.Is(err, content.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, content.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func saveKind(err error) string {
	switch {
	case errors.Is(err, content.ErrConflict):
		return "conflict"
	case errors.Is(err, content.ErrUnauthorized):
		return "auth"
	default:
		return "error"
	}
}
