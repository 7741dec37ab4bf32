package content

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// Manager publishes the local snapshot. Reads never block.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set publishes a deep copy of s, stamping LoadedAt when it is zero.
func (m *Manager) Set(s Snapshot) {
	s.Docs = maps.Clone(s.Docs)
	for p, d := range s.Docs {
		s.Docs[p] = d.Clone()
	}
	if s.LoadedAt.IsZero() {
		s.LoadedAt = time.Now().UTC()
	}
	m.active.Store(&s)
}

// Get returns the published snapshot and whether it holds any documents.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && len(s.Docs) > 0
}

// Document returns a copy of the published document at path.
func (m *Manager) Document(path string) (*Document, bool) {
	return m.active.Load().Document(path)
}

// meta is the zero Meta before the first Set.
func (m *Manager) meta() Meta {
	if s := m.active.Load(); s != nil {
		return s.Meta
	}
	return Meta{Source: SourceUnknown}
}

// ContentVersion and ContentHash feed the X-Content-Version and
// X-Content-Hash response headers.
func (m *Manager) ContentVersion() string { return m.meta().Version }
func (m *Manager) ContentHash() string    { return m.meta().SHA256 }
func (m *Manager) Source() Source         { return m.meta().Source }

func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.LoadedAt
	}
	return time.Time{}
}

// ReadyErr fails readiness until a snapshot with documents is published.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return xerrors.New("content: no active snapshot")
	}
	return nil
}
