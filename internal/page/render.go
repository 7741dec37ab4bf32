package page

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
)

// Props is everything a page template sees. It is built per request from
// the resolved document and the request's session, nothing is shared.
type Props struct {
	Title string
	Page  Def
	Mode  EditMode
	// Doc is nil when resolving failed, Error explains why
	Doc *content.Document

	// edit form, only in Editing mode
	Fields     []FieldView
	SHA        string
	SaveAction string

	Error  string
	Notice string
}

// Renderer executes the embedded templates. Page templates are parsed
// together with layout.html, standalone templates on their own.
type Renderer struct {
	pages      map[string]*template.Template
	standalone map[string]*template.Template
}

// NewRenderer parses layout.html with each pages/<name> template, plus the standalone templates
func NewRenderer(fsys fs.FS, pages []string, standalone ...string) (*Renderer, error) {
	r := &Renderer{
		pages:      make(map[string]*template.Template, len(pages)),
		standalone: make(map[string]*template.Template, len(standalone)),
	}
	for _, p := range pages {
		t, err := template.New("layout.html").ParseFS(fsys, "layout.html", "pages/"+p)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", p, err)
		}
		if t.Lookup("content") == nil {
			return nil, fmt.Errorf("template %s does not define \"content\"", p)
		}
		r.pages[p] = t
	}
	for _, name := range standalone {
		t, err := template.New(name).ParseFS(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("parsing standalone template %s: %w", name, err)
		}
		r.standalone[name] = t
	}
	return r, nil
}

// Render executes the page's template into w. Output is buffered so a
// failing template never leaves a half written page.
func (r *Renderer) Render(w io.Writer, p Props) error {
	t, ok := r.pages[p.Page.Template]
	if !ok {
		return fmt.Errorf("template %q not found", p.Page.Template)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", p); err != nil {
		return fmt.Errorf("render %s: %w", p.Page.Template, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Standalone returns a template parsed without the layout, nil if unknown
func (r *Renderer) Standalone(name string) *template.Template {
	return r.standalone[name]
}
