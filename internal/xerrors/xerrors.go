// Package xerrors records where errors were created or wrapped so the logger
// can report func/file:line for each link of a chain.
//
// New, Newf, WithStack and EnsureTrace keep a full stack. Wrap and Wrapf keep
// only the call site, a chain of wraps is cheap.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the stack of the call that created it
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped carries a message and the single call site that added it
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// callers returns the stack above the exported function that called it
func callers() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, callers, the exported function
	return pcs[:runtime.Callers(3, pcs)]
}

func callSite() uintptr {
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	return pcs[0]
}

func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: callers()}
}

func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: callers()}
}

// WithStack attaches the current stack to err, nil stays nil
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers()}
}

// EnsureTrace is WithStack unless something in the chain already has a stack
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: callers()}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callSite()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callSite()}
}
