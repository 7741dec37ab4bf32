package httpmw

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-editor/internal/log"
	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a 500.
// onPanic, when set, runs once per recovered panic.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				err, isErr := rec.(error)
				if isErr && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				if isErr {
					err = xerrors.Wrap(err, "panic")
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}
				logger.Error(r.Context(), err, "handler panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody caps request bodies, reads past the limit fail and the handler
// answers 413.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
