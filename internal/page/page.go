// Package page renders content documents into HTML pages and handles the
// edit form. Each page is declared in Go as a Def binding a route, a
// template, a document reference and the fields an editor may change.
package page

import (
	"fmt"
	"sort"
	"strings"

	"github.com/keithlinneman/linnemanlabs-editor/internal/content"
)

// Def declares one page
type Def struct {
	// Name identifies the page in /api/save/{page} and /api/content/{page}
	Name  string
	Route string
	Title string
	// Template is the file under templates/pages/
	Template string
	Ref      content.Ref
	Form     Form
}

// SaveAction is where the edit form posts
func (d Def) SaveAction() string { return "/api/save/" + d.Name }

// Home is the homepage: data/home.json locally, content/home.json in the repository
func Home() Def {
	return Def{
		Name:     "home",
		Route:    "/",
		Title:    "Home",
		Template: "home.html",
		Ref: content.Ref{
			LocalPath:  "data/home.json",
			RemotePath: "content/home.json",
		},
		Form: Form{Fields: []Field{
			TextField{Name: "title", Label: "Title", Required: true, MaxLen: 200},
		}},
	}
}

// Registry is the fixed set of pages the server renders
type Registry struct {
	defs   []Def
	byName map[string]Def
}

func NewRegistry(defs ...Def) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("page: no pages declared")
	}
	r := &Registry{byName: make(map[string]Def, len(defs))}
	routes := map[string]string{}
	for _, d := range defs {
		switch {
		case d.Name == "" || strings.ContainsAny(d.Name, "/?#"):
			return nil, fmt.Errorf("page: invalid name %q", d.Name)
		case !strings.HasPrefix(d.Route, "/"):
			return nil, fmt.Errorf("page %s: route %q must start with /", d.Name, d.Route)
		case strings.HasPrefix(d.Route, "/api/") || strings.HasPrefix(d.Route, "/static/"):
			return nil, fmt.Errorf("page %s: route %q is reserved", d.Name, d.Route)
		case d.Template == "":
			return nil, fmt.Errorf("page %s: no template", d.Name)
		case !content.ValidPath(d.Ref.LocalPath) || !content.ValidPath(d.Ref.RemotePath):
			return nil, fmt.Errorf("page %s: invalid document paths %q, %q", d.Name, d.Ref.LocalPath, d.Ref.RemotePath)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("page: duplicate name %q", d.Name)
		}
		if other, dup := routes[d.Route]; dup {
			return nil, fmt.Errorf("page %s: route %q already used by %s", d.Name, d.Route, other)
		}
		seen := map[string]bool{}
		for _, f := range d.Form.Fields {
			if f.Key() == "" || seen[f.Key()] {
				return nil, fmt.Errorf("page %s: empty or duplicate field %q", d.Name, f.Key())
			}
			seen[f.Key()] = true
		}
		routes[d.Route] = d.Name
		r.byName[d.Name] = d
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Lookup returns the page by name
func (r *Registry) Lookup(name string) (Def, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Defs returns the pages in declaration order
func (r *Registry) Defs() []Def {
	out := make([]Def, len(r.defs))
	copy(out, r.defs)
	return out
}

// LocalPaths returns the local documents every page needs, sorted and deduplicated
func (r *Registry) LocalPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.defs {
		if !seen[d.Ref.LocalPath] {
			seen[d.Ref.LocalPath] = true
			out = append(out, d.Ref.LocalPath)
		}
	}
	sort.Strings(out)
	return out
}

// Templates returns the distinct page templates
func (r *Registry) Templates() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.defs {
		if !seen[d.Template] {
			seen[d.Template] = true
			out = append(out, d.Template)
		}
	}
	return out
}
