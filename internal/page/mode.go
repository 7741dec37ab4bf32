package page

import "github.com/keithlinneman/linnemanlabs-editor/internal/preview"

// EditMode is the state of the edit toggle, derived from the session on every render
type EditMode int

const (
	Viewing EditMode = iota
	Editing
)

// ModeFor returns Editing for preview sessions
func ModeFor(sess preview.Session) EditMode {
	if sess.Preview {
		return Editing
	}
	return Viewing
}

func (m EditMode) Editing() bool { return m == Editing }

// Label is the text of the toggle button, it names the action not the state
func (m EditMode) Label() string {
	if m == Editing {
		return "Exit Edit Mode"
	}
	return "Edit This Site"
}

// Next is the mode a toggle click leads to
func (m EditMode) Next() EditMode {
	if m == Editing {
		return Viewing
	}
	return Editing
}

func (m EditMode) String() string {
	if m == Editing {
		return "editing"
	}
	return "viewing"
}
