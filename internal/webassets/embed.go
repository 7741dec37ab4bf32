// Package webassets embeds everything the server ships in the binary: page
// templates, public static files, the fallback error pages and the seed
// content documents used when no content directory is configured.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed fallback seed templates public
var embedded embed.FS

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}

// FallbackFS holds maintenance.html and 404.html
func FallbackFS() fs.FS { return sub("fallback") }

// TemplatesFS holds layout.html, pages/*.html and the standalone templates
func TemplatesFS() fs.FS { return sub("templates") }

// PublicFS is served at the site root, static files live under static/
func PublicFS() fs.FS { return sub("public") }

// SeedFS returns the bundled content documents, rooted so document paths
// (data/home.json) resolve directly. ok is false when no seed documents are present.
func SeedFS() (fs.FS, bool) {
	s, err := fs.Sub(embedded, "seed")
	if err != nil {
		return nil, false
	}
	entries, err := fs.ReadDir(s, "data")
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	return s, true
}
