// Package errors provides the error handling primitives used throughout
// scan2blob. It wraps github.com/pkg/errors so that every error carries a
// stack trace, and adds a notion of "fatal" errors: errors that should abort
// startup rather than be handled per-connection.
package errors

import (
	"github.com/pkg/errors"
)

// Package errors.pkg/errors re-exports.
var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	As     = errors.As
	Is     = errors.Is
)

// fatalError marks an error as fatal: one that should cause the daemon to
// abort initialization rather than be handled per-connection or per-upload.
type fatalError struct {
	error
}

func (fatalError) Fatal() bool { return true }

// Fatal creates a new fatal error with the given message.
func Fatal(s string) error {
	return fatalError{errors.New(s)}
}

// Fatalf creates a new fatal error using a format string.
func Fatalf(s string, args ...interface{}) error {
	return fatalError{errors.Errorf(s, args...)}
}

type fataler interface {
	Fatal() bool
}

// IsFatal returns whether err was created via Fatal or Fatalf.
func IsFatal(err error) bool {
	var f fataler
	if As(err, &f) {
		return f.Fatal()
	}
	return false
}
