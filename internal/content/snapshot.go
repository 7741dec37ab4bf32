package content

import (
	"sort"
	"time"
)

// Snapshot is an immutable set of local documents keyed by relative path
type Snapshot struct {
	Docs     map[string]*Document
	Meta     Meta
	LoadedAt time.Time
}

// Document returns a copy of the document at path so callers can't mutate the snapshot
func (s *Snapshot) Document(path string) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.Docs[path]
	if !ok || d == nil {
		return nil, false
	}
	return d.Clone(), true
}

// Paths returns the document paths in the snapshot, sorted
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Docs))
	for p := range s.Docs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
